package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/go-audio/wav"
	"github.com/mewkiz/flac"
	"github.com/mewkiz/flac/frame"
	"github.com/rs/zerolog"

	"voxstream/internal/domain"
	"voxstream/internal/ports"
)

// FileKind identifies how a file's bytes are turned into PCM.
type FileKind string

const (
	FileKindRaw  FileKind = "raw"
	FileKindWAV  FileKind = "wav"
	FileKindFLAC FileKind = "flac"
)

// FileOptions controls file chunking. SampleRate and Channels describe raw
// PCM files; WAV and FLAC files carry their own format.
type FileOptions struct {
	SampleRate int
	Channels   int
	ChunkMs    int
	Logger     zerolog.Logger
}

// FileSource reads an audio file in fixed windows of nominal duration.
type FileSource struct {
	kind      FileKind
	format    Format
	chunkSize int

	file   *os.File
	pcm    io.Reader
	stream *flac.Stream

	pending []byte
	eof     bool

	closeOnce sync.Once
	closeErr  error
}

var _ ports.ChunkSource = (*FileSource)(nil)

// OpenFile opens path and detects WAV, FLAC or raw PCM content.
func OpenFile(path string, opts FileOptions) (*FileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrSource, err)
	}

	source, err := newFileSource(f, path, opts)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%w: %s: %w", domain.ErrSource, path, err)
	}

	if requested := (Format{SampleRate: opts.SampleRate, Channels: opts.Channels}).normalized(); source.kind != FileKindRaw && requested != source.format {
		opts.Logger.Warn().
			Str("path", path).
			Int("file_sample_rate", source.format.SampleRate).
			Int("file_channels", source.format.Channels).
			Int("stream_sample_rate", requested.SampleRate).
			Int("stream_channels", requested.Channels).
			Msg("audio file format differs from stream settings")
	}
	return source, nil
}

func newFileSource(f *os.File, path string, opts FileOptions) (*FileSource, error) {
	kind, err := detectKind(f, path)
	if err != nil {
		return nil, err
	}

	s := &FileSource{kind: kind, file: f}
	switch kind {
	case FileKindWAV:
		dec := wav.NewDecoder(f)
		if err := dec.FwdToPCM(); err != nil {
			return nil, fmt.Errorf("invalid wav file: %w", err)
		}
		if dec.BitDepth != 16 {
			return nil, fmt.Errorf("unsupported wav bit depth %d, want 16", dec.BitDepth)
		}
		s.format = Format{SampleRate: int(dec.SampleRate), Channels: int(dec.NumChans)}
		s.pcm = io.LimitReader(dec.PCMChunk, int64(dec.PCMSize))
	case FileKindFLAC:
		stream, err := flac.New(f)
		if err != nil {
			return nil, fmt.Errorf("invalid flac file: %w", err)
		}
		s.stream = stream
		s.format = Format{SampleRate: int(stream.Info.SampleRate), Channels: int(stream.Info.NChannels)}
	default:
		s.format = Format{SampleRate: opts.SampleRate, Channels: opts.Channels}
		s.pcm = f
	}

	s.format = s.format.normalized()
	s.chunkSize = s.format.ChunkBytesFor(opts.ChunkMs)
	return s, nil
}

func detectKind(f *os.File, path string) (FileKind, error) {
	if strings.EqualFold(filepath.Ext(path), ".flac") {
		return FileKindFLAC, nil
	}

	header := make([]byte, 12)
	n, err := io.ReadFull(f, header)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return "", err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return "", err
	}

	header = header[:n]
	switch {
	case len(header) == 12 && bytes.Equal(header[:4], []byte("RIFF")) && bytes.Equal(header[8:12], []byte("WAVE")):
		return FileKindWAV, nil
	case len(header) >= 4 && bytes.Equal(header[:4], []byte("fLaC")):
		return FileKindFLAC, nil
	default:
		return FileKindRaw, nil
	}
}

func (s *FileSource) Kind() FileKind { return s.kind }
func (s *FileSource) Format() Format { return s.format }
func (s *FileSource) ChunkSize() int { return s.chunkSize }
func (s *FileSource) Live() bool     { return false }

// Next returns the next window. The final chunk may be shorter; io.EOF follows it.
func (s *FileSource) Next(ctx context.Context) (domain.AudioChunk, error) {
	if err := ctx.Err(); err != nil {
		return domain.AudioChunk{}, err
	}
	if s.stream != nil {
		return s.nextDecoded()
	}

	buf := make([]byte, s.chunkSize)
	n, err := io.ReadFull(s.pcm, buf)
	if n > 0 {
		// a trailing odd byte cannot form a sample
		n -= n % (bytesPerSample * s.format.Channels)
		if n > 0 {
			return s.format.chunk(buf[:n]), nil
		}
	}
	if err == nil || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return domain.AudioChunk{}, io.EOF
	}
	return domain.AudioChunk{}, fmt.Errorf("%w: %w", domain.ErrSource, err)
}

func (s *FileSource) nextDecoded() (domain.AudioChunk, error) {
	for !s.eof && len(s.pending) < s.chunkSize {
		f, err := s.stream.ParseNext()
		if errors.Is(err, io.EOF) {
			s.eof = true
			break
		}
		if err != nil {
			return domain.AudioChunk{}, fmt.Errorf("%w: decode flac frame: %w", domain.ErrSource, err)
		}
		s.pending = appendInterleaved(s.pending, f.Subframes, int(f.BitsPerSample))
	}

	if len(s.pending) == 0 {
		return domain.AudioChunk{}, io.EOF
	}

	n := min(s.chunkSize, len(s.pending))
	data := make([]byte, n)
	copy(data, s.pending[:n])
	s.pending = s.pending[n:]
	return s.format.chunk(data), nil
}

// appendInterleaved converts per-channel FLAC samples to interleaved s16le.
func appendInterleaved(dst []byte, subframes []*frame.Subframe, bitsPerSample int) []byte {
	if len(subframes) == 0 {
		return dst
	}
	count := len(subframes[0].Samples)
	var sample [2]byte
	for i := 0; i < count; i++ {
		for _, sub := range subframes {
			v := sub.Samples[i]
			switch {
			case bitsPerSample > 16:
				v >>= bitsPerSample - 16
			case bitsPerSample > 0 && bitsPerSample < 16:
				v <<= 16 - bitsPerSample
			}
			binary.LittleEndian.PutUint16(sample[:], uint16(int16(v)))
			dst = append(dst, sample[:]...)
		}
	}
	return dst
}

// Close releases the file. It is safe to call more than once.
func (s *FileSource) Close() error {
	s.closeOnce.Do(func() {
		if s.stream != nil {
			_ = s.stream.Close()
		}
		if err := s.file.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
			s.closeErr = err
		}
	})
	return s.closeErr
}

// FileOpener opens a FileSource when the session starts streaming.
type FileOpener struct {
	Path    string
	Options FileOptions
}

func (o FileOpener) Open(_ context.Context) (ports.ChunkSource, error) {
	return OpenFile(o.Path, o.Options)
}

func (o FileOpener) Describe() string {
	return o.Path
}
