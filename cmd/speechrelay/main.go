package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/leonardotrapani/speechrelay/internal/bus"
	"github.com/leonardotrapani/speechrelay/internal/client"
	"github.com/leonardotrapani/speechrelay/internal/config"
	"github.com/leonardotrapani/speechrelay/internal/daemon"
	"github.com/leonardotrapani/speechrelay/internal/deps"
	"github.com/leonardotrapani/speechrelay/internal/logging"
	"github.com/leonardotrapani/speechrelay/internal/notify"
	"github.com/leonardotrapani/speechrelay/internal/pipeline"
	"github.com/leonardotrapani/speechrelay/internal/provider"
	"github.com/leonardotrapani/speechrelay/internal/recording"
	"github.com/leonardotrapani/speechrelay/internal/tui"
	"github.com/spf13/cobra"
)

var version = "dev"

var (
	configPath string
	logLevel   string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "speechrelay",
	Short:         "Streaming speech recognition and synthesis relay",
	SilenceUsage:  true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default ~/.config/speechrelay/config.toml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override logging.level (debug, info, warn, error)")

	rootCmd.AddCommand(
		serveCmd(),
		listenCmd(),
		sayCmd(),
		statusCmd(),
		reloadCmd(),
		stopSessionsCmd(),
		stopCmd(),
		versionCmd(),
		configureCmd(),
		checkConfigCmd(),
		modelsCmd(),
	)
}

// loadConfig reads the config file, falling back to defaults when it does
// not exist.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil && !errors.Is(err, config.ErrConfigNotFound) {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setupLogging(cfg *config.Config) (*log.Logger, error) {
	level := cfg.Logging.Level
	if logLevel != "" {
		level = logLevel
	}
	return logging.Setup(level)
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the relay server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger, err := setupLogging(cfg)
			if err != nil {
				return err
			}

			mgr, err := config.NewManager(configPath, logger)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			d := daemon.New(mgr, daemon.Options{Version: version, Logger: logger})
			return d.Run()
		},
	}
}

func listenCmd() *cobra.Command {
	var (
		lang      string
		serverURL string
		notifier  string
		wavPath   string
	)

	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Stream the microphone to the relay and print transcripts",
		Long: `Captures audio with pw-record, streams it to the relay and prints final
transcripts as they arrive. Press Ctrl+C to stop; results still in flight
are printed before exiting.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger, err := setupLogging(cfg)
			if err != nil {
				return err
			}

			if serverURL == "" {
				serverURL = cfg.Capture.ServerURL
			}
			if notifier == "" {
				notifier = cfg.Capture.Notify
			}
			capCfg := cfg.ToCaptureConfig()
			if wavPath != "" {
				capCfg.RecordWAV = wavPath
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			p := pipeline.New(pipeline.Options{
				Dial:         pipeline.DialRelay(serverURL, logger),
				Source:       recording.NewRecorder(cfg.ToRecordingConfig()),
				Capture:      capCfg,
				LanguageHint: lang,
				Notifier:     notify.New(notifier, logger),
				Out:          cmd.OutOrStdout(),
				Logger:       logger,
			})
			return p.Run(ctx)
		},
	}

	cmd.Flags().StringVarP(&lang, "lang", "l", "", "language hint (BCP 47 tag, empty or \"auto\" to detect)")
	cmd.Flags().StringVar(&serverURL, "url", "", "relay websocket URL (default capture.server_url)")
	cmd.Flags().StringVar(&notifier, "notify", "", "desktop, log or none (default capture.notify)")
	cmd.Flags().StringVar(&wavPath, "wav", "", "also write the audio sent to this WAV file")
	return cmd
}

func sayCmd() *cobra.Command {
	var (
		lang      string
		voice     string
		out       string
		serverURL string
	)

	cmd := &cobra.Command{
		Use:   "say <text>",
		Short: "Synthesize speech through the relay and save it",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger, err := setupLogging(cfg)
			if err != nil {
				return err
			}
			if serverURL == "" {
				serverURL = cfg.Capture.ServerURL
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Synthesis.Timeout+10*time.Second)
			defer cancel()

			c, err := client.Dial(ctx, serverURL, logger)
			if err != nil {
				return err
			}
			defer c.Close()

			audio, format, err := c.Synthesize(ctx, strings.Join(args, " "), lang, voice)
			if err != nil {
				return err
			}
			if out == "" {
				out = "speech." + format
			}
			if err := os.WriteFile(out, audio, 0644); err != nil {
				return fmt.Errorf("failed to write %s: %w", out, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d bytes of %s to %s\n", len(audio), format, out)
			return nil
		},
	}

	cmd.Flags().StringVarP(&lang, "lang", "l", "", "target language")
	cmd.Flags().StringVar(&voice, "voice", "", "voice id (default synthesis.default_voice)")
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default speech.<format>)")
	cmd.Flags().StringVar(&serverURL, "url", "", "relay websocket URL (default capture.server_url)")
	return cmd
}

// controlCmd sends one control socket command and prints the reply.
func controlCmd(use, short string, command byte) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := bus.Paths{}.SendCommand(command)
			if err != nil {
				return fmt.Errorf("failed to %s: %w", use, err)
			}
			reply := bus.ParseReply(resp)
			fmt.Fprintln(cmd.OutOrStdout(), resp)
			return reply.Err()
		},
	}
}

func statusCmd() *cobra.Command {
	return controlCmd("status", "Show connections, sessions and backends", bus.CmdStatus)
}

func reloadCmd() *cobra.Command {
	return controlCmd("reload", "Reload the config file and rebuild provider backends", bus.CmdReload)
}

func stopSessionsCmd() *cobra.Command {
	return controlCmd("stop-sessions", "Stop every running session, keeping clients connected", bus.CmdStopSessions)
}

func stopCmd() *cobra.Command {
	return controlCmd("stop", "Stop the relay server", bus.CmdQuit)
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print client and server versions",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "client: %s (protocol %s)\n", version, bus.ProtoVer)
			resp, err := bus.Paths{}.SendCommand(bus.CmdVersion)
			if err != nil {
				fmt.Fprintln(cmd.OutOrStdout(), "server: not running")
				return nil
			}
			r := bus.ParseReply(resp)
			fmt.Fprintf(cmd.OutOrStdout(), "server: %s (protocol %s)\n", r.Fields["version"], r.Fields["proto"])
			return nil
		},
	}
}

func configureCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "configure",
		Short: "Interactive configuration setup",
		Long: `Interactive configuration editor for speechrelay.
This will guide you through setting up:
- Provider credentials (Google Cloud, Deepgram, OpenAI, ElevenLabs)
- Recognition and synthesis backends
- Server, session timing and the capture client`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil && !errors.Is(err, config.ErrConfigNotFound) {
				return fmt.Errorf("failed to load config: %w", err)
			}

			result, err := tui.Run(cfg)
			if err != nil {
				return fmt.Errorf("configuration wizard error: %w", err)
			}
			if result.Cancelled {
				fmt.Println("Configuration cancelled.")
				return nil
			}

			if err := config.Save(configPath, result.Config); err != nil {
				return fmt.Errorf("failed to save config: %w", err)
			}

			path, _ := config.ResolvePath(configPath)
			fmt.Println()
			fmt.Println("Configuration saved to", path)
			fmt.Println("A running server picks up the change automatically; \"speechrelay reload\" forces it.")
			return nil
		},
	}
}

func checkConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check-config",
		Short: "Validate the config file and show the effective settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if errors.Is(err, config.ErrConfigNotFound) {
				fmt.Fprintln(cmd.OutOrStdout(), "no config file, checking defaults")
			} else if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "recognition: %s/%s, stream limit %s\n", cfg.Recognition.Provider, cfg.RecognitionModel(), cfg.EffectiveStreamLimit())
			if cfg.Synthesis.Provider != "" {
				fmt.Fprintf(w, "synthesis:   %s/%s\n", cfg.Synthesis.Provider, cfg.SynthesisModel())
			} else {
				fmt.Fprintln(w, "synthesis:   disabled")
			}
			creds := cfg.BackendCredentials()
			for _, name := range provider.ListProviders() {
				state := "missing"
				if _, ok := creds[name]; ok {
					state = "set"
				}
				fmt.Fprintf(w, "credentials: %-10s %s\n", name, state)
			}
			for _, st := range deps.CheckAll(deps.ClientTools) {
				state := "not found (needed for " + st.Needed + ")"
				if st.Installed {
					state = st.Path
					if st.Version != "" {
						state += " (" + st.Version + ")"
					}
				}
				fmt.Fprintf(w, "tool:        %-10s %s\n", st.Name, state)
			}
			if _, ok := creds[cfg.Recognition.Provider]; !ok {
				return fmt.Errorf("no credentials for recognition provider %s", cfg.Recognition.Provider)
			}
			return nil
		},
	}
}

func modelsCmd() *cobra.Command {
	var typeFilter string

	cmd := &cobra.Command{
		Use:   "models",
		Short: "List recognition and synthesis models",
		RunE: func(cmd *cobra.Command, args []string) error {
			types := []provider.ModelType{provider.Recognition, provider.Synthesis}
			switch strings.ToLower(typeFilter) {
			case "":
			case "recognition":
				types = types[:1]
			case "synthesis":
				types = types[1:]
			default:
				return fmt.Errorf("invalid type: %s (use 'recognition' or 'synthesis')", typeFilter)
			}

			w := cmd.OutOrStdout()
			for _, name := range provider.ListProviders() {
				p := provider.GetProvider(name)
				var lines []string
				for _, t := range types {
					for _, m := range provider.ModelsOfType(p, t) {
						line := fmt.Sprintf("  %s - %s [%s", m.ID, m.Description, t)
						if m.StreamLimit > 0 {
							line += fmt.Sprintf(", %s per stream", m.StreamLimit)
						}
						if m.ID == p.DefaultModel(t) {
							line += ", default"
						}
						lines = append(lines, line+"]")
					}
				}
				if len(lines) == 0 {
					continue
				}
				fmt.Fprintf(w, "\n%s:\n%s\n", name, strings.Join(lines, "\n"))
			}
			fmt.Fprintln(w)
			return nil
		},
	}

	cmd.Flags().StringVar(&typeFilter, "type", "", "filter by type: recognition, synthesis")
	return cmd
}
