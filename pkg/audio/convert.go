package audio

import (
	"fmt"
	"log/slog"
)

// Normalize converts clip to target. Channels are mixed down before
// resampling so only one channel is interpolated. A clip already in the
// target format is returned unchanged.
func Normalize(clip Clip, target Format) (Clip, error) {
	if len(clip.PCM)%2 != 0 {
		return Clip{}, fmt.Errorf("audio: odd byte count %d in 16-bit PCM", len(clip.PCM))
	}
	if clip.Format == target {
		return clip, nil
	}
	if target.Channels != 1 {
		return Clip{}, fmt.Errorf("audio: unsupported target %s", formatString(target.SampleRate, target.Channels))
	}

	slog.Debug("audio: converting clip",
		"from", formatString(clip.SampleRate, clip.Channels),
		"to", formatString(target.SampleRate, target.Channels),
	)

	pcm := clip.PCM
	if clip.Channels > 1 {
		pcm = DownmixToMono(pcm, clip.Channels)
	}
	pcm = ResampleMono16(pcm, clip.SampleRate, target.SampleRate)
	return Clip{PCM: pcm, Format: target}, nil
}

// DownmixToMono averages interleaved channels per frame into mono. Uses int32
// arithmetic so the sum cannot overflow before division.
func DownmixToMono(pcm []byte, channels int) []byte {
	if channels <= 1 {
		return pcm
	}
	frameBytes := 2 * channels
	frames := len(pcm) / frameBytes
	out := make([]byte, frames*2)
	for i := range frames {
		var sum int32
		for ch := range channels {
			idx := i*frameBytes + ch*2
			sum += int32(int16(pcm[idx]) | int16(pcm[idx+1])<<8)
		}
		avg := int16(sum / int32(channels))
		out[i*2] = byte(avg)
		out[i*2+1] = byte(avg >> 8)
	}
	return out
}

// ResampleMono16 resamples 16-bit mono PCM from srcRate to dstRate using linear
// interpolation. If the rates match or either is invalid the input is
// returned unchanged.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(pcm) < 2 {
		return pcm
	}
	srcSamples := len(pcm) / 2
	dstSamples := int(int64(srcSamples) * int64(dstRate) / int64(srcRate))
	if dstSamples == 0 {
		return nil
	}

	out := make([]byte, dstSamples*2)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstSamples {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		s0 := int16(pcm[srcIdx*2]) | int16(pcm[srcIdx*2+1])<<8
		s1 := s0
		if srcIdx+1 < srcSamples {
			s1 = int16(pcm[(srcIdx+1)*2]) | int16(pcm[(srcIdx+1)*2+1])<<8
		}

		v := int16(float64(s0)*(1-frac) + float64(s1)*frac)
		out[i*2] = byte(v)
		out[i*2+1] = byte(v >> 8)
	}
	return out
}

// formatString renders a format like "48000Hz stereo".
func formatString(rate, channels int) string {
	switch {
	case channels == 1:
		return fmt.Sprintf("%dHz mono", rate)
	case channels == 2:
		return fmt.Sprintf("%dHz stereo", rate)
	default:
		return fmt.Sprintf("%dHz %dch", rate, channels)
	}
}
