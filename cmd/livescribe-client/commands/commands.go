// Package commands holds the livescribe-client command tree.
package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/MrWong99/livescribe/internal/app"
	"github.com/MrWong99/livescribe/internal/client"
	"github.com/MrWong99/livescribe/internal/config"
	"github.com/MrWong99/livescribe/pkg/audio/portaudio"
	"github.com/MrWong99/livescribe/pkg/audio/speech"
)

var (
	// Access these variables only from a main package:

	Root = &cobra.Command{
		Use:           "livescribe-client",
		Short:         "Record speech and stream it to a livescribe relay",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level, err := parseLevel(logLevel)
			if err != nil {
				return err
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
			return nil
		},
	}

	Record = &cobra.Command{
		Use:   "record",
		Short: "Connect to the relay and record on demand",
		Long: `Connects to the relay and waits for commands on standard input:

  Enter   start or stop recording
  v       toggle voice output
  q       quit`,
		Args: cobra.NoArgs,
		RunE: record,
	}

	Devices = &cobra.Command{
		Use:   "devices",
		Short: "List audio devices",
		Args:  cobra.NoArgs,
		RunE:  devices,
	}

	configPath string
	envFile    string
	serverURL  string
	logLevel   string
	device     string
	voice      bool
	meter      bool
)

func init() {
	pf := Root.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "path to an optional YAML configuration file")
	pf.StringVar(&envFile, "env-file", ".env", "dotenv file loaded into the environment if present")
	pf.StringVar(&logLevel, "log-level", "warn", "log level: debug, info, warn, error")

	Record.Flags().StringVar(&serverURL, "server", "", "relay URL; overrides client.server_url")
	Record.Flags().StringVar(&device, "device", "", "input device ID; overrides client.device")
	Record.Flags().BoolVar(&voice, "voice", false, "start with voice output on")
	Record.Flags().BoolVar(&meter, "meter", false, "print an input level meter while recording")

	Root.AddCommand(Record)
	Root.AddCommand(Devices)
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	if err := config.LoadDotEnv(envFile); err != nil {
		return nil, err
	}
	cfg, err := config.Load(configPath, os.Getenv)
	if err != nil {
		return nil, err
	}
	if cmd.Flags().Changed("server") {
		cfg.Client.ServerURL = serverURL
	}
	if cmd.Flags().Changed("device") {
		cfg.Client.Device = device
	}
	if cmd.Flags().Changed("voice") {
		cfg.Client.Voice = voice
	}
	return cfg, nil
}

func record(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	var synth *speech.Queue
	if cfg.Client.TTS.Name != "" {
		synth, err = newSpeech(ctx, cfg.Client.TTS)
		if err != nil {
			return err
		}
		defer synth.Close()
	}

	ccfg := client.Config{
		ServerURL:     cfg.Client.ServerURL,
		Source:        &portaudio.Source{DeviceID: cfg.Client.Device},
		ChunkInterval: cfg.Client.ChunkInterval,
		Voice:         cfg.Client.Voice,
		Out:           out,
		Logger:        slog.Default(),
	}
	// A nil *speech.Queue must not become a non-nil interface.
	if synth != nil {
		ccfg.Speech = synth
	}
	if meter {
		ccfg.OnLevel = func(level float64) {
			fmt.Fprintf(cmd.ErrOrStderr(), "\r[%-20s]", strings.Repeat("#", int(level*20)))
		}
	}

	fmt.Fprintf(out, "connecting to %s\npress Enter to record, v for voice, q to quit\n", ccfg.ServerURL)
	err = client.Run(ctx, ccfg, client.ReadCommands(ctx, cmd.InOrStdin()))
	if errors.Is(err, client.ErrServerClosed) {
		fmt.Fprintln(out, "server closed the connection")
	}
	return err
}

func newSpeech(ctx context.Context, entry config.ProviderEntry) (*speech.Queue, error) {
	reg := config.NewRegistry()
	app.RegisterBuiltinProviders(reg)
	p, err := reg.CreateTTS(entry)
	if err != nil {
		return nil, fmt.Errorf("voice output: %w", err)
	}
	return speech.New(p, &portaudio.Player{},
		speech.WithOnError(func(text string, err error) {
			slog.WarnContext(ctx, "utterance not spoken", "text", text, "err", err)
		}),
	), nil
}

func devices(cmd *cobra.Command, args []string) error {
	list, err := portaudio.Enumerator{}.Devices(cmd.Context())
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tIN\tOUT\tRATE\tDEFAULT")
	for _, d := range list {
		var def []string
		if d.DefaultInput {
			def = append(def, "input")
		}
		if d.DefaultOutput {
			def = append(def, "output")
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%.0f\t%s\n",
			d.ID, d.Name, d.InputChannels, d.OutputChannels, d.DefaultSampleRate, strings.Join(def, ","))
	}
	return w.Flush()
}

func parseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid --log-level %q", s)
	}
	return l, nil
}
