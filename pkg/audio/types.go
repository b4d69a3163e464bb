// Package audio turns recorded audio files into the 16-bit PCM clips that
// speech-to-text providers consume.
package audio

import "time"

// Format describes the sample rate and channel count of PCM audio.
type Format struct {
	SampleRate int
	Channels   int
}

// SpeechFormat is what every STT provider receives: 16 kHz mono.
var SpeechFormat = Format{SampleRate: 16000, Channels: 1}

// Clip is a fully decoded piece of 16-bit signed little-endian PCM audio.
// Multi-channel data is interleaved.
type Clip struct {
	PCM []byte
	Format
}

// Duration returns the playing time of the clip.
func (c Clip) Duration() time.Duration {
	if c.SampleRate <= 0 || c.Channels <= 0 {
		return 0
	}
	frames := len(c.PCM) / (2 * c.Channels)
	return time.Duration(frames) * time.Second / time.Duration(c.SampleRate)
}
