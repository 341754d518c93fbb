package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"rtbridge/cmd/internal/app"
	"rtbridge/cmd/internal/rtclient"
	"rtbridge/cmd/internal/secrets"
	"rtbridge/cmd/internal/socket"
	v1 "rtbridge/contracts/realtime/v1"

	"github.com/spf13/cobra"
)

type sessionFlags struct {
	provider   string
	endpoint   string
	deployment string
	model      string

	instructions string
	voice        string
	temperature  float64

	text    string
	audio   string
	verbose bool
	timeout time.Duration
}

func newSessionCmd() *cobra.Command {
	var f sessionFlags
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Open one realtime session from the terminal",
		Long: `Open a realtime session with the configured provider, apply the session
options, then send --text and/or --audio (raw PCM16 24kHz mono, "-" for stdin)
and print the reply until the response is done.

Without --text or --audio the session stays open and events are printed until
interrupted.`,
		Example: `  rtbridge session --text "Say hello in French"
  rtbridge session --provider openai --voice alloy --audio question.pcm`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var temp *float64
			if cmd.Flags().Changed("temperature") {
				temp = &f.temperature
			}
			return runSession(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr(), f, temp)
		},
	}

	fl := cmd.Flags()
	fl.StringVar(&f.provider, "provider", "", "azure or openai (default RTB_PROVIDER)")
	fl.StringVar(&f.endpoint, "endpoint", "", "Azure resource endpoint (default RTB_ENDPOINT)")
	fl.StringVar(&f.deployment, "deployment", "", "Azure deployment (default RTB_DEPLOYMENT)")
	fl.StringVar(&f.model, "model", "", "OpenAI model (default RTB_MODEL)")
	fl.StringVar(&f.instructions, "instructions", "", "system instructions for the session")
	fl.StringVar(&f.voice, "voice", "", "output voice")
	fl.Float64Var(&f.temperature, "temperature", 0.8, "sampling temperature")
	fl.StringVarP(&f.text, "text", "t", "", "user message to send")
	fl.StringVarP(&f.audio, "audio", "a", "", `PCM16 audio file to send, "-" for stdin`)
	fl.BoolVarP(&f.verbose, "verbose", "v", false, "print every event type")
	fl.DurationVar(&f.timeout, "timeout", 2*time.Minute, "give up after this long (0 = never)")
	return cmd
}

func runSession(parent context.Context, stdin io.Reader, out, errOut io.Writer, f sessionFlags, temp *float64) error {
	if err := secrets.LoadDotEnv(); err != nil {
		return err
	}
	cfg, err := app.LoadConfig()
	if err != nil {
		return err
	}
	cfg = f.apply(cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	settings, err := cfg.UpstreamSettings(secrets.New())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	log := slog.New(slog.NewTextHandler(errOut, &slog.HandlerOptions{Level: slog.LevelWarn}))
	c := rtclient.New(ctx, settings, socket.Options{Logger: log, Dialer: socket.WebSocketDialer(cfg.ReadLimit)})
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = c.Close(closeCtx)
	}()

	err = c.UpdateSession(ctx, rtclient.SessionConfig(rtclient.SessionOptions{
		Instructions: f.instructions,
		Voice:        f.voice,
		Temperature:  temp,
	}))
	if err != nil {
		return fmt.Errorf("session.update: %w", err)
	}

	prompted := false
	if f.audio != "" {
		r, closeAudio, err := openAudio(f.audio, stdin)
		if err != nil {
			return err
		}
		n, err := c.StreamAudio(ctx, r, 0)
		closeAudio()
		if err != nil {
			return fmt.Errorf("stream audio: %w", err)
		}
		prompted = n > 0
	}
	if strings.TrimSpace(f.text) != "" {
		if err := c.CreateItem(ctx, v1.UserText(f.text), ""); err != nil {
			return fmt.Errorf("conversation.item.create: %w", err)
		}
		prompted = true
	}
	if prompted {
		if err := c.CreateResponse(ctx, nil); err != nil {
			return fmt.Errorf("response.create: %w", err)
		}
	}

	p := &printer{out: out, verbose: f.verbose}
	for m, err := range c.Messages(ctx) {
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		if err := p.print(m); err != nil {
			return err
		}
		if prompted && m.Type == v1.TypeResponseDone {
			return nil
		}
	}
	return nil
}

func (f sessionFlags) apply(cfg app.Config) app.Config {
	if f.provider != "" {
		cfg.Provider = strings.ToLower(f.provider)
	}
	if f.endpoint != "" {
		cfg.Endpoint = f.endpoint
	}
	if f.deployment != "" {
		cfg.Deployment = f.deployment
	}
	if f.model != "" {
		cfg.Model = f.model
	}
	return cfg
}

func openAudio(path string, stdin io.Reader) (io.Reader, func(), error) {
	if path == "-" {
		return stdin, func() {}, nil
	}
	fh, err := os.Open(path) // #nosec G304 -- user-selected input file.
	if err != nil {
		return nil, nil, fmt.Errorf("open audio: %w", err)
	}
	return fh, func() { _ = fh.Close() }, nil
}
