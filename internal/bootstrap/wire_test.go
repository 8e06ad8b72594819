package bootstrap

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"voxstream/internal/config"
	"voxstream/internal/domain"
	"voxstream/internal/providers/voxist"
)

func TestBuildFileSessionWithAPIKey(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "speech.raw")
	if err := os.WriteFile(path, make([]byte, 32000), 0o600); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	cfg := config.Defaults()
	cfg.Voxist.APIKey = "test-key"
	cfg.Voxist.Staging = true

	services, err := Build(cfg, Input{FilePath: path}, noopRenderer{}, zerolog.Nop())
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if services.Controller == nil || services.Opener == nil {
		t.Fatalf("expected controller and opener")
	}
	if services.Environment != "staging" {
		t.Fatalf("unexpected environment: %q", services.Environment)
	}
	if services.ChunkBytes != 3200 {
		t.Fatalf("unexpected chunk bytes: %d", services.ChunkBytes)
	}

	endpoint, err := services.Resolver.Resolve(context.Background())
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if !strings.HasPrefix(endpoint.URL, "wss://"+voxist.StagingHost+"/ws?") {
		t.Fatalf("unexpected endpoint: %s", endpoint.URL)
	}

	source, err := services.Opener.Open(context.Background())
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer source.Close()
	if source.Live() {
		t.Fatalf("file sources are not live")
	}
}

func TestBuildChunkBytesFollowsWAVFormat(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "phone.wav")
	if err := os.WriteFile(path, wavFile(8000, 2, make([]byte, 6400)), 0o600); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	cfg := config.Defaults()
	cfg.Voxist.APIKey = "test-key"

	services, err := Build(cfg, Input{FilePath: path}, noopRenderer{}, zerolog.Nop())
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if services.ChunkBytes != 3200 {
		t.Fatalf("expected 8 kHz stereo chunk of 3200 bytes, got %d", services.ChunkBytes)
	}

	cfg.Audio.ChunkMs = 50
	services, err = Build(cfg, Input{FilePath: path}, noopRenderer{}, zerolog.Nop())
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if services.ChunkBytes != 1600 {
		t.Fatalf("expected 1600 bytes at 50 ms, got %d", services.ChunkBytes)
	}
}

func TestBuildPasswordGrant(t *testing.T) {
	t.Parallel()

	cfg := config.Defaults()
	cfg.Voxist.Username = "user"
	cfg.Voxist.Password = "secret"

	services, err := Build(cfg, Input{Microphone: true}, noopRenderer{}, zerolog.Nop())
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if _, ok := services.Resolver.(voxist.PasswordGrantResolver); !ok {
		t.Fatalf("expected password grant resolver, got %T", services.Resolver)
	}
	if services.Environment != voxist.DefaultSocketURL {
		t.Fatalf("unexpected environment: %q", services.Environment)
	}
	if !strings.Contains(services.Opener.Describe(), "microphone") {
		t.Fatalf("unexpected opener: %s", services.Opener.Describe())
	}
}

func TestBuildFailsWithoutCredentials(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "speech.raw")
	if err := os.WriteFile(path, nil, 0o600); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	_, err := Build(config.Defaults(), Input{FilePath: path}, noopRenderer{}, zerolog.Nop())
	if !errors.Is(err, domain.ErrConnect) {
		t.Fatalf("expected connect error, got %v", err)
	}
}

func TestBuildFailsOnMissingFile(t *testing.T) {
	t.Parallel()

	cfg := config.Defaults()
	cfg.Voxist.APIKey = "test-key"

	_, err := Build(cfg, Input{FilePath: filepath.Join(t.TempDir(), "missing.wav")}, noopRenderer{}, zerolog.Nop())
	if !errors.Is(err, domain.ErrSource) {
		t.Fatalf("expected source error, got %v", err)
	}

	if _, err := Build(cfg, Input{}, noopRenderer{}, zerolog.Nop()); !errors.Is(err, domain.ErrSource) {
		t.Fatalf("expected source error without input, got %v", err)
	}
}

type noopRenderer struct{}

func (noopRenderer) Render(_ domain.RenderInstruction)         {}
func (noopRenderer) SessionStateChanged(_ domain.SessionState) {}
func (noopRenderer) FirstWord(_ time.Duration)                 {}
func (noopRenderer) Finished(_ time.Duration)                  {}
func (noopRenderer) SessionError(_ domain.ErrorCode, _ string) {}

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
