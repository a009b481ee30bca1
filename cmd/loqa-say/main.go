package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-phone/internal/audio"
	"github.com/loqalabs/loqa-phone/internal/config"
	"github.com/loqalabs/loqa-phone/internal/tts"
	"github.com/loqalabs/loqa-phone/internal/tts/backend"
	"github.com/loqalabs/loqa-phone/internal/tts/orpheus"
	"github.com/loqalabs/loqa-phone/internal/tts/together"
)

var version = "0.1.0-dev"

type synthFlags struct {
	configPath string
	mode       string
	voice      string
	out        string
	blocking   bool
	verbose    bool
}

func main() {
	var sf synthFlags
	synthCmd := flag.NewFlagSet("synth", flag.ExitOnError)
	synthCmd.StringVar(&sf.configPath, "config", "", "Path to configuration file")
	synthCmd.StringVar(&sf.mode, "backend", "", "Speech backend: orpheus, together, exec or mock (defaults to tts.mode)")
	synthCmd.StringVar(&sf.voice, "voice", "", "Voice to speak with")
	synthCmd.StringVar(&sf.out, "out", "speech.wav", "Output WAV file")
	synthCmd.BoolVar(&sf.blocking, "blocking", false, "Run synthesis on the calling goroutine")
	synthCmd.BoolVar(&sf.verbose, "v", false, "Verbose logging")

	var voicesModel string
	voicesCmd := flag.NewFlagSet("voices", flag.ExitOnError)
	voicesCmd.StringVar(&voicesModel, "model", together.DefaultModel, "Together model to list voices for")

	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "expected 'synth', 'voices' or 'version'")
		os.Exit(2)
	}

	switch os.Args[1] {
	case "synth":
		synthCmd.Parse(os.Args[2:])
		text := strings.TrimSpace(strings.Join(synthCmd.Args(), " "))
		if err := runSynth(sf, text); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	case "voices":
		voicesCmd.Parse(os.Args[2:])
		fmt.Println("orpheus:", strings.Join(orpheus.Voices, ", "))
		fmt.Printf("together (%s): %s\n", voicesModel, strings.Join(together.Voices(voicesModel), ", "))
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", os.Args[1])
		os.Exit(2)
	}
}

func runSynth(sf synthFlags, text string) error {
	if text == "" {
		return errors.New("nothing to say: pass the text as arguments")
	}
	cfg, err := config.Load(sf.configPath)
	if err != nil {
		return err
	}
	if sf.mode != "" {
		cfg.TTS.Mode = sf.mode
	}

	level := slog.LevelWarn
	if sf.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var chunk audio.Chunk
	switch cfg.TTS.Mode {
	case "orpheus":
		model, closer, err := backend.NewOrpheus(cfg.TTS.Orpheus, nil, logger)
		if err != nil {
			return err
		}
		if closer != nil {
			defer closer.Close()
		}
		opts := model.Options().WithVoice(sf.voice)
		if sf.blocking {
			chunk, err = model.CollectBlocking(ctx, text, opts)
		} else {
			chunk, err = model.Collect(ctx, text, opts)
		}
		if err != nil && chunk.Len() == 0 {
			return err
		}
	case "together":
		client, err := backend.NewTogether(cfg.TTS.Together, nil, logger)
		if err != nil {
			return err
		}
		opts := client.Options()
		if sf.voice != "" {
			opts.Voice = sf.voice
		}
		if sf.blocking {
			chunk, err = client.CollectBlocking(ctx, text, opts)
		} else {
			chunk, err = client.Collect(ctx, text, opts)
		}
		if err != nil && chunk.Len() == 0 {
			return err
		}
	default:
		b, err := backend.New(cfg.TTS, nil, logger)
		if err != nil {
			return err
		}
		defer b.Close()
		chunk, err = drain(ctx, b, tts.SynthRequest{SessionID: uuid.NewString(), Text: text, Voice: sf.voice}, b.SampleRate)
		if err != nil && chunk.Len() == 0 {
			return err
		}
	}

	f, err := os.Create(sf.out)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	defer f.Close()
	if err := audio.WriteWAV(f, chunk, 1); err != nil {
		return err
	}
	fmt.Printf("wrote %s (%s at %d Hz)\n", sf.out, chunk.Duration(), chunk.SampleRate)
	return nil
}

func drain(ctx context.Context, synth tts.Synthesizer, req tts.SynthRequest, sampleRate int) (audio.Chunk, error) {
	chunks, errs := synth.Synthesize(ctx, req)
	var pcm []byte
	for c := range chunks {
		if c.SampleRate > 0 {
			sampleRate = c.SampleRate
		}
		pcm = append(pcm, c.PCM...)
	}
	err := <-errs
	return audio.Chunk{SampleRate: sampleRate, Samples: audio.BytesToSamples(pcm)}, err
}
