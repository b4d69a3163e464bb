// Package media turns a directory of pre-split tutorial segments into an
// ordered sequence of [document.SegmentRecord] values.
//
// The expected layout is
//
//	<base>/segment_000/audio.mp3
//	<base>/segment_000/frame_0001.jpg
//	<base>/segment_000/frames/frame_0002.jpg
//	<base>/segment_001/...
//
// Segment directories are ordered lexicographically by name, so producers
// must zero-pad indices for the order to match playback order.
package media

import (
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/MrWong99/doppelganger/internal/document"
)

// ErrNotFound is returned (wrapped) when the base directory or a required
// media file does not exist.
var ErrNotFound = errors.New("media: not found")

// DefaultSegmentPrefix is the directory-name prefix that marks a segment.
const DefaultSegmentPrefix = "segment_"

// FramesSubdir is the optional per-segment subdirectory holding frames.
const FramesSubdir = "frames"

var (
	audioExts = []string{".mp3", ".wav", ".m4a", ".flac", ".ogg", ".aac"}
	imageExts = []string{".png", ".jpg", ".jpeg"}
)

// Option configures an [Indexer].
type Option func(*Indexer)

// WithSegmentPrefix overrides [DefaultSegmentPrefix].
func WithSegmentPrefix(prefix string) Option {
	return func(ix *Indexer) { ix.prefix = prefix }
}

// WithMaxSegments keeps only the first n segments in sorted order. n <= 0
// means no limit.
func WithMaxSegments(n int) Option {
	return func(ix *Indexer) { ix.maxSegments = n }
}

// Indexer lists segment directories. The zero value is not usable; create
// one with [NewIndexer].
type Indexer struct {
	prefix      string
	maxSegments int
}

// NewIndexer returns an Indexer with the given options applied.
func NewIndexer(opts ...Option) *Indexer {
	ix := &Indexer{prefix: DefaultSegmentPrefix}
	for _, o := range opts {
		o(ix)
	}
	return ix
}

// Segments returns a lazy sequence of segment records under baseDir.
//
// Only the base directory listing happens eagerly; a missing base directory
// is reported here, wrapping both [ErrNotFound] and [os.ErrNotExist]. The
// contents of each segment are read as the sequence is iterated. A segment
// without audio yields an error wrapping [ErrNotFound] and ends the sequence.
func (ix *Indexer) Segments(baseDir string) (iter.Seq2[document.SegmentRecord, error], error) {
	dirs, err := ix.segmentDirs(baseDir)
	if err != nil {
		return nil, err
	}

	return func(yield func(document.SegmentRecord, error) bool) {
		for i, name := range dirs {
			rec, err := readSegment(filepath.Join(baseDir, name), name, i)
			if !yield(rec, err) || err != nil {
				return
			}
		}
	}, nil
}

// Count returns how many segments [Indexer.Segments] would yield for baseDir
// without reading their contents.
func (ix *Indexer) Count(baseDir string) (int, error) {
	dirs, err := ix.segmentDirs(baseDir)
	return len(dirs), err
}

func (ix *Indexer) segmentDirs(baseDir string) ([]string, error) {
	entries, err := os.ReadDir(baseDir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("media: base directory %q: %w: %w", baseDir, ErrNotFound, err)
	}
	if err != nil {
		return nil, fmt.Errorf("media: read base directory %q: %w", baseDir, err)
	}

	var dirs []string
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), ix.prefix) {
			dirs = append(dirs, e.Name())
		}
	}
	slices.Sort(dirs)

	if ix.maxSegments > 0 && len(dirs) > ix.maxSegments {
		dirs = dirs[:ix.maxSegments]
	}
	return dirs, nil
}

// Collect drains seq into a slice, stopping at the first error.
func Collect(seq iter.Seq2[document.SegmentRecord, error]) ([]document.SegmentRecord, error) {
	var out []document.SegmentRecord
	for rec, err := range seq {
		if err != nil {
			return out, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func readSegment(dir, id string, index int) (document.SegmentRecord, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return document.SegmentRecord{}, fmt.Errorf("media: read segment %q: %w", id, err)
	}

	var audio, frames []string
	for _, e := range entries {
		switch {
		case e.IsDir() && e.Name() == FramesSubdir:
			sub, err := listImages(filepath.Join(dir, FramesSubdir))
			if err != nil {
				return document.SegmentRecord{}, fmt.Errorf("media: read frames of segment %q: %w", id, err)
			}
			frames = append(frames, sub...)
		case !e.Type().IsRegular():
		case hasExt(e.Name(), audioExts):
			audio = append(audio, e.Name())
		case hasExt(e.Name(), imageExts):
			frames = append(frames, filepath.Join(dir, e.Name()))
		}
	}

	audioName, err := pickAudio(audio)
	if err != nil {
		return document.SegmentRecord{}, fmt.Errorf("media: segment %q: %w", id, err)
	}
	slices.SortStableFunc(frames, func(a, b string) int {
		return strings.Compare(filepath.Base(a), filepath.Base(b))
	})

	return document.SegmentRecord{
		ID:         id,
		Index:      index,
		Dir:        dir,
		AudioPath:  filepath.Join(dir, audioName),
		FramePaths: frames,
	}, nil
}

func listImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.Type().IsRegular() && hasExt(e.Name(), imageExts) {
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	return out, nil
}

// pickAudio chooses the segment's audio file: a file named audio.* wins,
// otherwise the lexicographically first candidate.
func pickAudio(names []string) (string, error) {
	if len(names) == 0 {
		return "", fmt.Errorf("no audio file: %w", ErrNotFound)
	}
	slices.Sort(names)
	for _, n := range names {
		if strings.ToLower(strings.TrimSuffix(n, filepath.Ext(n))) == "audio" {
			return n, nil
		}
	}
	if len(names) > 1 {
		slog.Debug("media: several audio files in segment, using first", "candidates", names)
	}
	return names[0], nil
}

func hasExt(name string, exts []string) bool {
	return slices.Contains(exts, strings.ToLower(filepath.Ext(name)))
}

// ImageMediaType returns the MIME type of a frame image based on its
// extension. Unknown extensions are reported as image/jpeg, which is what the
// frame extractor produces.
func ImageMediaType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		return "image/png"
	default:
		return "image/jpeg"
	}
}
