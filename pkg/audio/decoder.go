package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/MrWong99/doppelganger/pkg/executor"
)

// Decoder turns an audio file of any container ffmpeg understands into a
// Clip in the target format. Uncompressed 16-bit WAV files are decoded
// in-process and do not need ffmpeg.
type Decoder struct {
	exec   executor.Executor
	ffmpeg string
	target Format
}

// DecoderOption configures a Decoder.
type DecoderOption func(*Decoder)

// WithFFmpegPath sets the ffmpeg binary name or path. Defaults to "ffmpeg".
func WithFFmpegPath(path string) DecoderOption {
	return func(d *Decoder) { d.ffmpeg = path }
}

// WithTargetFormat overrides SpeechFormat as the output format.
func WithTargetFormat(f Format) DecoderOption {
	return func(d *Decoder) { d.target = f }
}

// NewDecoder returns a Decoder that runs ffmpeg through exec.
func NewDecoder(exec executor.Executor, opts ...DecoderOption) *Decoder {
	d := &Decoder{exec: exec, ffmpeg: "ffmpeg", target: SpeechFormat}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Decode reads path and returns its audio in the decoder's target format.
func (d *Decoder) Decode(ctx context.Context, path string) (Clip, error) {
	if path == "" {
		return Clip{}, fmt.Errorf("audio: empty path")
	}
	if _, err := os.Stat(path); err != nil {
		return Clip{}, fmt.Errorf("audio: %w", err)
	}

	if strings.EqualFold(filepath.Ext(path), ".wav") {
		clip, err := d.decodeWAVFile(path)
		if err == nil {
			return clip, nil
		}
		if !errors.Is(err, ErrUnsupportedWAV) {
			return Clip{}, err
		}
		slog.Debug("audio: WAV not plain PCM, falling back to ffmpeg", "path", path, "error", err)
	}
	return d.decodeFFmpeg(ctx, path)
}

func (d *Decoder) decodeWAVFile(path string) (Clip, error) {
	f, err := os.Open(path)
	if err != nil {
		return Clip{}, fmt.Errorf("audio: %w", err)
	}
	defer f.Close()

	clip, err := DecodeWAV(f)
	if err != nil {
		return Clip{}, err
	}
	return Normalize(clip, d.target)
}

// decodeFFmpeg pipes raw s16le samples from ffmpeg's stdout.
func (d *Decoder) decodeFFmpeg(ctx context.Context, path string) (Clip, error) {
	args := []string{
		"-nostdin", "-hide_banner", "-loglevel", "error",
		"-i", path,
		"-vn",
		"-ac", strconv.Itoa(d.target.Channels),
		"-ar", strconv.Itoa(d.target.SampleRate),
		"-c:a", "pcm_s16le",
		"-f", "s16le",
		"pipe:1",
	}
	out, err := d.exec.Execute(ctx, d.ffmpeg, args...)
	if err != nil {
		return Clip{}, fmt.Errorf("audio: ffmpeg decode %s: %w", filepath.Base(path), err)
	}
	return Clip{PCM: out[:len(out)&^1], Format: d.target}, nil
}
