// Package client runs an interactive livescribe capture session: it connects
// to a relay, records from an [audio.Source] on command, and prints the
// transcript as it arrives, optionally speaking each fragment.
package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/livescribe/pkg/audio"
	"github.com/MrWong99/livescribe/pkg/capture"
	"github.com/MrWong99/livescribe/pkg/transcript"
	"github.com/MrWong99/livescribe/pkg/transport"
)

// ErrServerClosed is returned by [Run] when the relay ends the connection
// without a transport error.
var ErrServerClosed = errors.New("client: server closed the connection")

// Command is a user action on a running session.
type Command int

const (
	// CommandToggle starts recording when idle and stops it otherwise.
	CommandToggle Command = iota
	// CommandVoice flips voice output.
	CommandVoice
	// CommandQuit ends the session.
	CommandQuit
)

// String returns the command name.
func (c Command) String() string {
	switch c {
	case CommandToggle:
		return "toggle"
	case CommandVoice:
		return "voice"
	case CommandQuit:
		return "quit"
	default:
		return "unknown"
	}
}

// ParseCommand maps one line of terminal input to a command. An empty line
// toggles recording.
func ParseCommand(line string) (Command, bool) {
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "", "r", "record", "s", "stop":
		return CommandToggle, true
	case "v", "voice":
		return CommandVoice, true
	case "q", "quit", "exit":
		return CommandQuit, true
	default:
		return 0, false
	}
}

// ReadCommands parses r line by line until EOF or ctx is done. Lines that
// are not commands are ignored. EOF is reported as [CommandQuit].
func ReadCommands(ctx context.Context, r io.Reader) <-chan Command {
	out := make(chan Command)
	go func() {
		defer close(out)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			cmd, ok := ParseCommand(sc.Text())
			if !ok {
				continue
			}
			select {
			case out <- cmd:
			case <-ctx.Done():
				return
			}
		}
		select {
		case out <- CommandQuit:
		case <-ctx.Done():
		}
	}()
	return out
}

// Config describes one session.
type Config struct {
	// ServerURL is the relay's ws:// or wss:// URL.
	ServerURL string

	// Source is the microphone.
	Source audio.Source

	// ChunkInterval is passed to [capture.Config].
	ChunkInterval time.Duration

	// Speech speaks transcript fragments while voice is on. When nil the
	// voice command is rejected.
	Speech transcript.Synthesizer

	// Voice is the initial voice state.
	Voice bool

	// OnLevel receives the loudness of every captured frame; see
	// [capture.Config].
	OnLevel func(level float64)

	// Out receives user-facing status lines and the transcript.
	Out io.Writer

	Logger *slog.Logger
}

// Run connects to the relay and serves commands until [CommandQuit], ctx
// cancellation or the connection ends. A recording in progress on quit is
// stopped and its final chunk sent before the connection closes.
//
// Run returns nil on quit or cancellation, the transport failure when the
// channel broke, and [ErrServerClosed] when the relay closed it cleanly.
func Run(ctx context.Context, cfg Config, cmds <-chan Command) error {
	if cfg.Source == nil {
		return errors.New("client: Source is required")
	}
	if cfg.Out == nil {
		cfg.Out = io.Discard
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	ch, err := transport.Dial(ctx, cfg.ServerURL, transport.WithLogger(log))
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	defer ch.Close()
	log.Info("connected", "server", cfg.ServerURL)

	consumer := transcript.New(cfg.Speech,
		transcript.WithVoice(cfg.Voice && cfg.Speech != nil),
		transcript.WithLogger(log),
		transcript.WithOnUpdate(func(fragment, _ string) {
			fmt.Fprintf(cfg.Out, "> %s\n", fragment)
		}),
		transcript.WithOnError(func(err error) {
			fmt.Fprintf(cfg.Out, "! %v\n", err)
		}),
	)

	sess, err := capture.New(capture.Config{
		Source:        cfg.Source,
		Sender:        ch,
		ChunkInterval: cfg.ChunkInterval,
		OnLevel:       cfg.OnLevel,
		OnError: func(err error) {
			fmt.Fprintf(cfg.Out, "! recording ended: %v\n", err)
		},
		Logger: log,
	})
	if err != nil {
		return err
	}

	s := &session{cfg: cfg, log: log, sess: sess, consumer: consumer}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := consumer.Run(gctx, ch.Messages()); err != nil {
			return err
		}
		if err := ch.Err(); err != nil {
			return err
		}
		return ErrServerClosed
	})
	g.Go(func() error {
		return s.control(gctx, cmds)
	})

	err = g.Wait()
	if cerr := sess.Close(); cerr != nil {
		log.Warn("final chunk not sent", "err", cerr)
	}
	if errors.Is(err, errQuit) || (ctx.Err() != nil && errors.Is(err, ctx.Err())) {
		return nil
	}
	return err
}

// errQuit ends the control loop and, through the errgroup, the session.
var errQuit = errors.New("quit")

type session struct {
	cfg      Config
	log      *slog.Logger
	sess     *capture.Session
	consumer *transcript.Consumer
}

func (s *session) control(ctx context.Context, cmds <-chan Command) error {
	out := s.cfg.Out
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case cmd, ok := <-cmds:
			if !ok || cmd == CommandQuit {
				return errQuit
			}
			s.log.Debug("command", "cmd", cmd)
			switch cmd {
			case CommandToggle:
				s.toggle(ctx)
			case CommandVoice:
				if s.cfg.Speech == nil {
					fmt.Fprintln(out, "voice output is not configured")
					continue
				}
				on := !s.consumer.VoiceEnabled()
				s.consumer.SetVoiceEnabled(on)
				fmt.Fprintf(out, "voice %s\n", onOff(on))
			}
		}
	}
}

func (s *session) toggle(ctx context.Context) {
	out := s.cfg.Out
	if s.sess.State() == capture.StateIdle {
		if err := s.sess.Start(ctx); err != nil {
			if errors.Is(err, capture.ErrPermissionDenied) {
				fmt.Fprintln(out, "microphone access denied")
				return
			}
			fmt.Fprintf(out, "! %v\n", err)
			return
		}
		fmt.Fprintln(out, "recording... press Enter to stop")
		return
	}
	elapsed := s.sess.Elapsed()
	if err := s.sess.Stop(ctx); err != nil {
		fmt.Fprintf(out, "! %v\n", err)
		return
	}
	fmt.Fprintf(out, "stopped after %s\n", elapsed.Round(100*time.Millisecond))
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
