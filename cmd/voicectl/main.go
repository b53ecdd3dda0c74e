package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/afero"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"

	"github.com/auricleai/voice-runtime/audio"
	"github.com/auricleai/voice-runtime/config"
	"github.com/auricleai/voice-runtime/engine"
	"github.com/auricleai/voice-runtime/protocol"
	"github.com/auricleai/voice-runtime/runtime"
	"github.com/auricleai/voice-runtime/telemetry"
)

func main() {
	var (
		configPath  = flag.String("config", "", "Path to YAML config file")
		enginePath  = flag.String("engine", "", "Path to compiled engine module (empty: stub)")
		modelPath   = flag.String("model", "", "Path to speech model file")
		wakeWords   = flag.String("wake", "", "Wake words (comma-separated)")
		wavPath     = flag.String("wav", "", "WAV file to feed through the session")
		mode        = flag.String("mode", "detect", "detect (wake-gated) or transcribe (every voiced window)")
		useStub     = flag.Bool("stub", false, "Force the in-process stub engine")
		utterances  = flag.String("utterances", "", "Stub recognition script (comma-separated)")
		logLevel    = flag.String("log", "", "Log level: debug, info, warn, error")
		stats       = flag.Bool("stats", false, "Print telemetry counters at exit")
		interactive = flag.Bool("i", false, "Interactive mode with TUI")
	)
	flag.Parse()

	cfg, err := loadConfig(*configPath, *enginePath, *modelPath, *wakeWords, *logLevel, *useStub)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if *interactive {
		if !term.IsTerminal(int(os.Stdout.Fd())) {
			fmt.Fprintln(os.Stderr, "Error: interactive mode needs a terminal")
			os.Exit(1)
		}
		if err := runInteractive(cfg, splitList(*utterances)); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if *wavPath == "" {
		fmt.Fprintln(os.Stderr, "Usage: voicectl -model <model.bin> -wav <audio.wav> [-engine engine.wasm]")
		fmt.Fprintln(os.Stderr, "       voicectl -model <model.bin> -i  (interactive mode)")
		os.Exit(1)
	}

	if err := run(cfg, *wavPath, *mode, splitList(*utterances), *stats); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig resolves file, environment, and flag values, flags last.
func loadConfig(path, enginePath, modelPath, wakeWords, logLevel string, useStub bool) (config.Config, error) {
	cfg, err := config.Loader{}.Load(path)
	if err != nil {
		if path != "" || modelPath == "" {
			return config.Config{}, err
		}
		// No file involved and the model comes from a flag; start
		// from flags alone.
		cfg = config.Config{}
	}
	if enginePath != "" {
		cfg.Engine.ModulePath = enginePath
	}
	if modelPath != "" {
		cfg.ModelPath = modelPath
	}
	if words := splitList(wakeWords); len(words) > 0 {
		cfg.WakeWords = words
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if useStub {
		cfg.Engine.UseStub = true
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	zcfg.OutputPaths = []string{"stderr"}
	return zcfg.Build()
}

func run(cfg config.Config, wavPath, mode string, utterances []string, stats bool) error {
	ctx := context.Background()

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	provider, err := engine.Open(ctx, engine.OpenConfig{
		ModulePath:       cfg.Engine.ModulePath,
		MemoryLimitPages: cfg.Engine.MemoryLimitPages,
		EnableWASI:       cfg.Engine.EnableWASI,
		UseStub:          cfg.Engine.UseStub,
		StubUtterances:   utterances,
		Logger:           logger,
	})
	if err != nil {
		// The provider is still usable: the stub stands in.
		logger.Warn("running on the stub engine", zap.Error(err))
	}
	defer provider.Close(ctx)

	rec := telemetry.NewRecorder()
	rt := runtime.New(provider, runtime.Options{
		Logger:       logger,
		Telemetry:    rec,
		FeedCapacity: cfg.StreamCapacity,
	})
	defer rt.Close(ctx)

	sess, err := rt.NewSession(ctx, cfg.ModelPath, cfg.WakeWords)
	if err != nil {
		return err
	}
	defer sess.Close(ctx)

	// Stream fragments print as they arrive, ahead of the final text.
	streamDone := make(chan struct{})
	go func() {
		defer close(streamDone)
		for {
			frag, err := sess.Feed().Recv(ctx)
			if err != nil {
				return
			}
			rec.Fragment()
			fmt.Printf("  … %s\n", frag.Text)
		}
	}()

	if err := feedFile(ctx, sess, cfg, wavPath, mode); err != nil {
		return err
	}

	sess.Close(ctx)
	<-streamDone

	if stats {
		printStats(rec.Snapshot())
	}
	return nil
}

// feedFile pushes a WAV file through the session window by window,
// gated by voice activity, detecting or transcribing per mode.
func feedFile(ctx context.Context, sess *runtime.Session, cfg config.Config, wavPath, mode string) error {
	samples, err := audio.LoadWAV(afero.NewOsFs(), wavPath)
	if err != nil {
		return err
	}
	gate := audio.NewGate(audio.GateConfig{
		EnergyThreshold: cfg.Audio.VAD.EnergyThreshold,
		FlatnessCeiling: cfg.Audio.VAD.FlatnessCeiling,
		HoldWindows:     cfg.Audio.VAD.HoldWindows,
	})

	for _, window := range audio.Windows(samples, audio.WindowSize(cfg.Audio.WindowSeconds)) {
		if !gate.Active(window) {
			continue
		}

		if mode == "transcribe" {
			next, _, err := sess.Advance(ctx, window, runtime.OpTranscribe)
			if err != nil {
				return err
			}
			if next.Transcript != "" {
				fmt.Printf("transcript: %s\n", next.Transcript)
			}
			continue
		}

		_, resp, err := sess.Advance(ctx, window, runtime.OpDetectWakeWords)
		if err != nil {
			return err
		}
		det, ok := resp.(protocol.WakeWordDetection)
		if !ok || !det.Detected {
			continue
		}
		fmt.Printf("wake word at [%d:%d]\n", det.StartIndex.Value, det.EndIndex.Value)

		next, _, err := sess.Advance(ctx, window, runtime.OpTranscribe)
		if err != nil {
			return err
		}
		fmt.Printf("transcript: %s\n", next.Transcript)
	}
	return nil
}

func printStats(snap telemetry.Snapshot) {
	fmt.Printf("\ndispatches: %d (%d B out, %d B in)\n", snap.Dispatches, snap.BytesOut, snap.BytesIn)
	fmt.Printf("responses: %d text, %d detection, %d error\n",
		snap.TextResponses, snap.DetectionResponses, snap.ErrorResponses)
	fmt.Printf("faults: %d engine, %d protocol\n", snap.EngineFaults, snap.ProtocolErrors)
	fmt.Printf("stream fragments: %d\n", snap.Fragments)
}

func splitList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
