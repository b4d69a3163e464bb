package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// ErrUnsupportedWAV is returned by DecodeWAV for WAV files that are not
// uncompressed 16-bit PCM.
var ErrUnsupportedWAV = errors.New("audio: unsupported WAV encoding")

// DecodeWAV reads a RIFF/WAVE stream holding 16-bit PCM. Unknown chunks
// (LIST, fact, ...) are skipped.
func DecodeWAV(r io.Reader) (Clip, error) {
	var riff [12]byte
	if _, err := io.ReadFull(r, riff[:]); err != nil {
		return Clip{}, fmt.Errorf("audio: read RIFF header: %w", err)
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return Clip{}, fmt.Errorf("audio: not a RIFF/WAVE stream")
	}

	var (
		clip   Clip
		haveFm bool
	)
	for {
		var hdr [8]byte
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			if errors.Is(err, io.EOF) && haveFm {
				return Clip{}, fmt.Errorf("audio: WAV has no data chunk")
			}
			return Clip{}, fmt.Errorf("audio: read chunk header: %w", err)
		}
		id := string(hdr[0:4])
		size := int64(binary.LittleEndian.Uint32(hdr[4:8]))

		switch id {
		case "fmt ":
			if size < 16 {
				return Clip{}, fmt.Errorf("audio: fmt chunk too short (%d bytes)", size)
			}
			buf := make([]byte, size)
			if _, err := io.ReadFull(r, buf); err != nil {
				return Clip{}, fmt.Errorf("audio: read fmt chunk: %w", err)
			}
			format := binary.LittleEndian.Uint16(buf[0:2])
			bits := binary.LittleEndian.Uint16(buf[14:16])
			// 0xFFFE is WAVE_FORMAT_EXTENSIBLE; ffmpeg writes it for >2 channels.
			if (format != 1 && format != 0xFFFE) || bits != 16 {
				return Clip{}, fmt.Errorf("%w: format tag %d, %d bits", ErrUnsupportedWAV, format, bits)
			}
			clip.Channels = int(binary.LittleEndian.Uint16(buf[2:4]))
			clip.SampleRate = int(binary.LittleEndian.Uint32(buf[4:8]))
			haveFm = true

		case "data":
			if !haveFm {
				return Clip{}, fmt.Errorf("audio: data chunk before fmt chunk")
			}
			pcm, err := io.ReadAll(io.LimitReader(r, size))
			if err != nil {
				return Clip{}, fmt.Errorf("audio: read data chunk: %w", err)
			}
			clip.PCM = pcm[:len(pcm)&^1]
			return clip, nil

		default:
			if _, err := io.CopyN(io.Discard, r, size+size%2); err != nil {
				return Clip{}, fmt.Errorf("audio: skip %q chunk: %w", id, err)
			}
		}
	}
}
