package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mewkiz/flac/frame"
	"github.com/rs/zerolog"

	"voxstream/internal/domain"
)

func TestChunkBytes(t *testing.T) {
	t.Parallel()

	cases := []struct {
		rate, sampleBytes, channels, ms int
		want                            int
	}{
		{16000, 2, 1, 100, 3200},
		{8000, 2, 1, 20, 320},
		{44100, 2, 2, 100, 17640},
		{16000, 2, 1, 0, 3200},
		{0, 0, 0, 0, 3200},
		{11025, 2, 2, 10, 440},
		{8000, 2, 1, 0, 1600},
	}
	for _, tc := range cases {
		if got := ChunkBytes(tc.rate, tc.sampleBytes, tc.channels, tc.ms); got != tc.want {
			t.Fatalf("ChunkBytes(%d, %d, %d, %d) = %d, want %d", tc.rate, tc.sampleBytes, tc.channels, tc.ms, got, tc.want)
		}
	}
}

func TestFileSourceRawOneSecond(t *testing.T) {
	t.Parallel()

	path := writeAudio(t, "speech.raw", pattern(32000))
	source, err := OpenFile(path, FileOptions{SampleRate: 16000, Channels: 1, ChunkMs: 100})
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer source.Close()

	if source.Kind() != FileKindRaw || source.ChunkSize() != 3200 {
		t.Fatalf("unexpected source: kind=%s chunk=%d", source.Kind(), source.ChunkSize())
	}

	chunks := drain(t, source)
	if len(chunks) != 10 {
		t.Fatalf("expected 10 chunks, got %d", len(chunks))
	}
	for i, chunk := range chunks {
		if len(chunk.Data) != 3200 || chunk.Duration != 100*time.Millisecond {
			t.Fatalf("chunk %d: %d bytes %s", i, len(chunk.Data), chunk.Duration)
		}
	}

	if _, err := source.Next(context.Background()); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF to repeat, got %v", err)
	}
}

func TestFileSourceWAVHeaderIsStripped(t *testing.T) {
	t.Parallel()

	payload := pattern(32000)
	path := writeAudio(t, "speech.wav", wavFile(16000, 1, payload))
	source, err := OpenFile(path, FileOptions{SampleRate: 16000, Channels: 1, ChunkMs: 100})
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer source.Close()

	if source.Kind() != FileKindWAV {
		t.Fatalf("expected wav, got %s", source.Kind())
	}
	chunks := drain(t, source)
	if len(chunks) != 10 {
		t.Fatalf("expected 10 chunks, got %d", len(chunks))
	}

	var sent []byte
	for _, chunk := range chunks {
		sent = append(sent, chunk.Data...)
	}
	if !bytes.Equal(sent, payload) {
		t.Fatalf("streamed bytes differ from the wav payload")
	}
}

func TestFileSourceWAVFormatDrivesChunking(t *testing.T) {
	t.Parallel()

	path := writeAudio(t, "narrow.wav", wavFile(8000, 1, pattern(16000)))
	source, err := OpenFile(path, FileOptions{SampleRate: 16000, Channels: 1, ChunkMs: 100, Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer source.Close()

	if source.Format() != (Format{SampleRate: 8000, Channels: 1}) {
		t.Fatalf("unexpected format: %+v", source.Format())
	}
	if source.ChunkSize() != 1600 {
		t.Fatalf("unexpected chunk size: %d", source.ChunkSize())
	}
	if got := len(drain(t, source)); got != 10 {
		t.Fatalf("expected 10 chunks, got %d", got)
	}
}

func TestFileSourceEmptyFile(t *testing.T) {
	t.Parallel()

	path := writeAudio(t, "empty.raw", nil)
	source, err := OpenFile(path, FileOptions{})
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer source.Close()

	if _, err := source.Next(context.Background()); !errors.Is(err, io.EOF) {
		t.Fatalf("expected immediate EOF, got %v", err)
	}
}

func TestFileSourceShortTailAndOddByte(t *testing.T) {
	t.Parallel()

	path := writeAudio(t, "tail.raw", pattern(3200+1001))
	source, err := OpenFile(path, FileOptions{ChunkMs: 100})
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer source.Close()

	chunks := drain(t, source)
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if len(chunks[1].Data) != 1000 {
		t.Fatalf("expected frame-aligned tail of 1000 bytes, got %d", len(chunks[1].Data))
	}
	if chunks[1].Duration != 1000*time.Second/32000 {
		t.Fatalf("unexpected tail duration: %s", chunks[1].Duration)
	}
}

func TestFileSourceMissingFile(t *testing.T) {
	t.Parallel()

	_, err := OpenFile(filepath.Join(t.TempDir(), "missing.wav"), FileOptions{})
	if !errors.Is(err, domain.ErrSource) {
		t.Fatalf("expected source error, got %v", err)
	}
}

func TestFileSourceRejectsUnsupportedWAV(t *testing.T) {
	t.Parallel()

	data := wavFile(16000, 1, pattern(320))
	binary.LittleEndian.PutUint16(data[34:36], 8)
	path := writeAudio(t, "eight.wav", data)

	if _, err := OpenFile(path, FileOptions{}); !errors.Is(err, domain.ErrSource) {
		t.Fatalf("expected source error for 8-bit wav, got %v", err)
	}
}

func TestFileSourceHonoursCancellation(t *testing.T) {
	t.Parallel()

	path := writeAudio(t, "speech.raw", pattern(6400))
	source, err := OpenFile(path, FileOptions{})
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer source.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := source.Next(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestFileSourceCloseIsIdempotent(t *testing.T) {
	t.Parallel()

	path := writeAudio(t, "speech.raw", pattern(10))
	source, err := FileOpener{Path: path}.Open(context.Background())
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if err := source.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if err := source.Close(); err != nil {
		t.Fatalf("second close failed: %v", err)
	}
}

func TestAppendInterleavedScalesToSixteenBits(t *testing.T) {
	t.Parallel()

	left := &frame.Subframe{Samples: []int32{1, -1}}
	right := &frame.Subframe{Samples: []int32{0x7fff, -0x8000}}

	got := appendInterleaved(nil, []*frame.Subframe{left, right}, 16)
	want := []byte{0x01, 0x00, 0xff, 0x7f, 0xff, 0xff, 0x00, 0x80}
	if !bytes.Equal(got, want) {
		t.Fatalf("unexpected 16-bit interleave: % x", got)
	}

	wide := &frame.Subframe{Samples: []int32{0x123456}}
	if got := appendInterleaved(nil, []*frame.Subframe{wide}, 24); !bytes.Equal(got, []byte{0x34, 0x12}) {
		t.Fatalf("unexpected 24-bit downscale: % x", got)
	}

	narrow := &frame.Subframe{Samples: []int32{0x12}}
	if got := appendInterleaved(nil, []*frame.Subframe{narrow}, 8); !bytes.Equal(got, []byte{0x00, 0x12}) {
		t.Fatalf("unexpected 8-bit upscale: % x", got)
	}
}

func drain(t *testing.T, source *FileSource) []domain.AudioChunk {
	t.Helper()
	var chunks []domain.AudioChunk
	for {
		chunk, err := source.Next(context.Background())
		if errors.Is(err, io.EOF) {
			return chunks
		}
		if err != nil {
			t.Fatalf("next failed: %v", err)
		}
		chunks = append(chunks, chunk)
	}
}

func pattern(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return data
}

func writeAudio(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	return path
}

// wavFile builds a canonical 44-byte header PCM WAV.
func wavFile(sampleRate, channels int, pcm []byte) []byte {
	var buf bytes.Buffer
	le := binary.LittleEndian
	blockAlign := channels * 2

	buf.WriteString("RIFF")
	_ = binary.Write(&buf, le, uint32(36+len(pcm)))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	_ = binary.Write(&buf, le, uint32(16))
	_ = binary.Write(&buf, le, uint16(1))
	_ = binary.Write(&buf, le, uint16(channels))
	_ = binary.Write(&buf, le, uint32(sampleRate))
	_ = binary.Write(&buf, le, uint32(sampleRate*blockAlign))
	_ = binary.Write(&buf, le, uint16(blockAlign))
	_ = binary.Write(&buf, le, uint16(16))
	buf.WriteString("data")
	_ = binary.Write(&buf, le, uint32(len(pcm)))
	buf.Write(pcm)
	return buf.Bytes()
}
