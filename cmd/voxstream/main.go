package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"voxstream/internal/bootstrap"
	"voxstream/internal/config"
	"voxstream/internal/display"
	"voxstream/internal/logging"
	"voxstream/internal/providers/voxist"
)

const usage = `Usage:
  voxstream [flags] [AUDIO_FILE]
  voxstream <API_KEY> <AUDIO_FILE> [LANG] [SAMPLE_RATE] [--staging]

Streams an audio file or the microphone to Voxist and prints the transcript.
Configuration is also read from ~/.config/voxstream/config.toml, .env and
VOXIST_* / VOXSTREAM_* environment variables.

Flags:
`

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// options holds the command line after flag and positional parsing.
// Pointer fields are nil when the user did not set them.
type options struct {
	apiKey     *string
	file       string
	mic        bool
	lang       *string
	sampleRate *int
	staging    *bool
	chunkMs    *int
	engine     *string
	logLevel   *string
}

func parseArgs(args []string, stderr io.Writer) (options, error) {
	fs := flag.NewFlagSet("voxstream", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprint(stderr, usage)
		fs.PrintDefaults()
	}

	key := fs.String("key", "", "Voxist API key (overrides VOXIST_API_KEY)")
	file := fs.String("file", "", "audio file to stream (raw s16le PCM, WAV or FLAC)")
	mic := fs.Bool("mic", false, "stream from the microphone instead of a file")
	lang := fs.String("lang", "", "language code (default fr)")
	sampleRate := fs.Int("sample-rate", 0, "sample rate in Hz (default 16000)")
	staging := fs.Bool("staging", false, "use the staging environment")
	chunkMs := fs.Int("chunk-ms", 0, "audio chunk duration in milliseconds (default 100)")
	engine := fs.String("engine", "", "recognition engine name")
	logLevel := fs.String("log-level", "", "debug, info, warn or error")

	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	var opts options
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "key":
			opts.apiKey = key
		case "lang":
			opts.lang = lang
		case "sample-rate":
			opts.sampleRate = sampleRate
		case "staging":
			opts.staging = staging
		case "chunk-ms":
			opts.chunkMs = chunkMs
		case "engine":
			opts.engine = engine
		case "log-level":
			opts.logLevel = logLevel
		}
	})
	opts.file = *file
	opts.mic = *mic

	var positional []string
	for _, arg := range fs.Args() {
		if arg == "--staging" || arg == "-staging" {
			on := true
			opts.staging = &on
			continue
		}
		positional = append(positional, arg)
	}

	switch {
	case len(positional) == 0:
	case opts.apiKey != nil || opts.file != "" || opts.mic:
		if len(positional) > 1 || opts.file != "" || opts.mic {
			return options{}, fmt.Errorf("unexpected arguments: %v", positional)
		}
		opts.file = positional[0]
	case len(positional) == 1:
		opts.file = positional[0]
	default:
		if len(positional) > 4 {
			return options{}, fmt.Errorf("too many arguments: %v", positional)
		}
		opts.apiKey = &positional[0]
		opts.file = positional[1]
		if len(positional) > 2 {
			opts.lang = &positional[2]
		}
		if len(positional) > 3 {
			rate, err := strconv.Atoi(positional[3])
			if err != nil || rate <= 0 {
				return options{}, fmt.Errorf("invalid sample rate %q", positional[3])
			}
			opts.sampleRate = &rate
		}
	}

	if opts.mic && opts.file != "" {
		return options{}, errors.New("-mic and an audio file are mutually exclusive")
	}
	if !opts.mic && opts.file == "" {
		return options{}, errors.New("an audio file or -mic is required")
	}
	return opts, nil
}

func (o options) apply(cfg *config.Config) {
	if o.apiKey != nil {
		cfg.Voxist.APIKey = *o.apiKey
	}
	if o.lang != nil {
		cfg.Voxist.Language = *o.lang
	}
	if o.sampleRate != nil {
		cfg.Voxist.SampleRate = *o.sampleRate
	}
	if o.staging != nil {
		cfg.Voxist.Staging = *o.staging
	}
	if o.chunkMs != nil {
		cfg.Audio.ChunkMs = *o.chunkMs
	}
	if o.engine != nil {
		cfg.Voxist.Engine = *o.engine
	}
	if o.logLevel != nil {
		cfg.Log.Level = *o.logLevel
	}
	cfg.Normalize()
}

func run(args []string, stdout, stderr io.Writer) int {
	opts, err := parseArgs(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(stderr, "voxstream: %v\n", err)
		return 2
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(stderr, "voxstream: %v\n", err)
		return 1
	}
	opts.apply(&cfg)

	logger, closeLog, err := logging.New(logging.Options{Level: cfg.Log.Level, File: cfg.Log.File})
	if err != nil {
		fmt.Fprintf(stderr, "voxstream: %v\n", err)
		return 1
	}
	defer closeLog()

	terminal := display.NewTerminal(stdout, stderr)
	services, err := bootstrap.Build(cfg, bootstrap.Input{FilePath: opts.file, Microphone: opts.mic}, terminal, logger)
	if err != nil {
		logger.Error().Err(err).Msg("startup failed")
		fmt.Fprintf(stderr, "voxstream: %v\n", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	endpoint, err := services.Resolver.Resolve(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("endpoint resolution failed")
		fmt.Fprintf(stderr, "voxstream: %v\n", err)
		return 1
	}

	terminal.Banner(display.BannerInfo{
		Environment: services.Environment,
		Endpoint:    voxist.RedactURL(endpoint.URL),
		Source:      services.Opener.Describe(),
		Language:    endpoint.Language,
		SampleRate:  endpoint.SampleRate,
		ChunkBytes:  services.ChunkBytes,
	})

	report, err := services.Controller.Run(ctx, endpoint)
	logger.Info().
		Str("session", report.ID).
		Str("state", string(report.FinalState)).
		Int("lines", len(report.Transcript)).
		Uint64("bytes_sent", report.Stats.SentBytes).
		Dur("audio", report.Stats.AudioDuration).
		Msg("session report")
	if err != nil {
		return 1
	}
	return 0
}
