package main

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"llavad/internal/app"
	"llavad/internal/config"
	"llavad/internal/manager"
)

// options are the persistent flags shared by every subcommand.
type options struct {
	configPath string
	logLevel   string
	modelsDir  string
	engine     string
	serverURL  string

	log     zerolog.Logger
	factory manager.EngineFactory
}

func newRootCmd() *cobra.Command { return newRootCmdWith(&options{}) }

// newRootCmdWith builds the command tree around opts.
func newRootCmdWith(opts *options) *cobra.Command {
	root := &cobra.Command{
		Use:           "llavad",
		Short:         "Local multimodal chat daemon for GGUF models",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&opts.configPath, "config", "", "Path to a YAML, JSON or TOML config file")
	pf.StringVar(&opts.logLevel, "log-level", "", "Log level: debug|info|warn|error (defaults LLAVAD_LOG_LEVEL or info)")
	pf.StringVar(&opts.modelsDir, "models-dir", "", "Models directory (defaults LLAVAD_MODELS_DIR or ~/.llavad/models)")
	pf.StringVar(&opts.engine, "engine", "", "Engine backend: server|llama")
	pf.StringVar(&opts.serverURL, "llama-server-url", "", "Base URL of llama.cpp server when engine=server")
	root.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		lvl := opts.logLevel
		if lvl == "" {
			lvl = os.Getenv("LLAVAD_LOG_LEVEL")
		}
		opts.log = newLogger(cmd.ErrOrStderr(), lvl)
	}

	root.AddCommand(newServeCmd(opts), newModelsCmd(opts), newChatCmd(opts), newPreflightCmd(opts))
	return root
}

// loadConfig merges the config file, environment and flags, in that order.
func (o *options) loadConfig() (config.Config, error) {
	var cfg config.Config
	if o.configPath != "" {
		c, err := config.Load(o.configPath)
		if err != nil {
			return cfg, err
		}
		cfg = c
	}
	cfg.ApplyEnv(os.Getenv)
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}
	if o.modelsDir != "" {
		cfg.ModelsDir = o.modelsDir
	}
	if o.engine != "" {
		cfg.Engine = o.engine
	}
	if o.serverURL != "" {
		cfg.LlamaServerURL = o.serverURL
	}
	cfg.ApplyDefaults()
	return cfg, cfg.Validate()
}

func (o *options) newApp(cfg config.Config) (*app.App, error) {
	return app.New(cfg, o.log, app.Options{Factory: o.factory})
}

// newLogger writes human-readable lines on a terminal and JSON otherwise.
func newLogger(w io.Writer, level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	out := w
	if f, ok := w.(*os.File); ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())) {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
	}
	return zerolog.New(out).Level(lvl).With().Timestamp().Logger()
}

// splitCSV splits a comma-separated list, trimming blanks.
func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
