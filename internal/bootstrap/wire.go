package bootstrap

import (
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"voxstream/internal/audio"
	"voxstream/internal/config"
	"voxstream/internal/domain"
	"voxstream/internal/ports"
	"voxstream/internal/providers/voxist"
	"voxstream/internal/usecase"
)

// Input selects the audio source for a run.
type Input struct {
	FilePath   string
	Microphone bool
}

// Services is the assembled runtime graph.
type Services struct {
	Controller *usecase.SessionController
	Resolver   ports.EndpointResolver
	Opener     ports.SourceOpener
	Config     config.Config

	// Environment names the target for display: production, staging, a
	// custom base URL, or the password-grant socket.
	Environment string
	// ChunkBytes is the outbound chunk size: taken from the file's own
	// format for file input, from the capture settings for the microphone.
	ChunkBytes int
}

// Build wires all dependencies for one streaming session.
func Build(cfg config.Config, input Input, renderer ports.Renderer, logger zerolog.Logger) (Services, error) {
	opener, chunkBytes, err := buildOpener(cfg, input, logger)
	if err != nil {
		return Services{}, err
	}

	resolver, environment, err := buildResolver(cfg, logger)
	if err != nil {
		return Services{}, err
	}

	controller := usecase.NewSessionController(
		voxist.NewDialer(logger.With().Str("component", "transport").Logger()),
		opener,
		renderer,
		logger,
		usecase.Config{
			ConnectTimeout: cfg.Session.ConnectTimeout(),
			CloseGrace:     cfg.Session.CloseGrace(),
			DrainTimeout:   cfg.Session.DrainTimeout(),
		},
	)

	return Services{
		Controller:  controller,
		Resolver:    resolver,
		Opener:      opener,
		Config:      cfg,
		Environment: environment,
		ChunkBytes:  chunkBytes,
	}, nil
}

func buildOpener(cfg config.Config, input Input, logger zerolog.Logger) (ports.SourceOpener, int, error) {
	if input.Microphone {
		if input.FilePath != "" {
			return nil, 0, fmt.Errorf("%w: choose either a file or the microphone", domain.ErrSource)
		}
		opener := audio.NewMicOpener(cfg.Audio.MicBackend, cfg.Audio.FFMPEGCommand, audio.MicConfig{
			SampleRate:  cfg.Voxist.SampleRate,
			Channels:    cfg.Audio.Channels,
			ChunkMs:     cfg.Audio.ChunkMs,
			InputFormat: cfg.Audio.InputFormat,
			InputDevice: cfg.Audio.InputDevice,
		})
		return opener, audio.ChunkBytes(cfg.Voxist.SampleRate, 2, cfg.Audio.Channels, cfg.Audio.ChunkMs), nil
	}

	path := strings.TrimSpace(input.FilePath)
	if path == "" {
		return nil, 0, fmt.Errorf("%w: no audio file given", domain.ErrSource)
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %w", domain.ErrSource, err)
	}
	if info.IsDir() {
		return nil, 0, fmt.Errorf("%w: %s is a directory", domain.ErrSource, path)
	}

	opener := audio.FileOpener{
		Path: path,
		Options: audio.FileOptions{
			SampleRate: cfg.Voxist.SampleRate,
			Channels:   cfg.Audio.Channels,
			ChunkMs:    cfg.Audio.ChunkMs,
			Logger:     logger,
		},
	}

	// the header decides the real chunk size, and a bad file fails before connecting
	probeOpts := opener.Options
	probeOpts.Logger = zerolog.Nop()
	probe, err := audio.OpenFile(opener.Path, probeOpts)
	if err != nil {
		return nil, 0, err
	}
	chunkBytes := probe.ChunkSize()
	if err := probe.Close(); err != nil {
		logger.Debug().Err(err).Msg("failed to close probed audio file")
	}
	return opener, chunkBytes, nil
}

func buildResolver(cfg config.Config, logger zerolog.Logger) (ports.EndpointResolver, string, error) {
	v := cfg.Voxist
	if v.UsePasswordGrant() {
		if v.Password == "" {
			return nil, "", fmt.Errorf("%w: VOXIST_PASSWORD is required with VOXIST_USERNAME", domain.ErrConnect)
		}
		socket := v.SocketURL
		if socket == "" {
			socket = voxist.DefaultSocketURL
		}
		return voxist.PasswordGrantResolver{
			AuthURL:    v.AuthURL,
			SocketURL:  v.SocketURL,
			Username:   v.Username,
			Password:   v.Password,
			Language:   v.Language,
			SampleRate: v.SampleRate,
			Logger:     logger,
		}, socket, nil
	}

	if v.APIKey == "" {
		return nil, "", fmt.Errorf("%w: an API key (VOXIST_API_KEY or -key) or VOXIST_USERNAME/VOXIST_PASSWORD is required", domain.ErrConnect)
	}
	resolver := voxist.APIKeyResolver{
		APIKey:     v.APIKey,
		Language:   v.Language,
		SampleRate: v.SampleRate,
		Engine:     v.Engine,
		Staging:    v.Staging,
		BaseURL:    v.BaseURL,
	}

	environment := "production"
	switch {
	case v.BaseURL != "":
		environment = v.BaseURL
	case v.Staging:
		environment = "staging"
	}
	return resolver, environment, nil
}
