package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"llavad/internal/httpapi"
)

func newServeCmd(opts *options) *cobra.Command {
	var (
		addr         string
		corsOrigins  string
		turnTimeout  int64
		maxBodyBytes int64
		preload      bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Example: "  llavad serve --addr :8080\n" +
			"  llavad serve --engine llama --models-dir ~/models",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Addr = addr
			}
			origins := cfg.CORSOrigins
			if corsOrigins != "" {
				origins = splitCSV(corsOrigins)
			}
			a, err := opts.newApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			baseCtx, cancelBase := context.WithCancel(context.Background())
			defer cancelBase()
			httpapi.SetLogger(opts.log.With().Str("component", "http").Logger())
			httpapi.SetRequestLogLevel(cfg.LogLevel)
			httpapi.SetBaseContext(baseCtx)
			httpapi.SetMaxBodyBytes(maxBodyBytes)
			httpapi.SetTurnTimeoutSeconds(turnTimeout)
			httpapi.SetCORSOptions(len(origins) > 0, origins, nil, nil)

			if preload && a.Manager.Selected() != "" {
				go func() {
					if err := a.Session.PreInit(baseCtx); err != nil {
						opts.log.Warn().Str("event", "preload_error").Err(err).Msg("serve")
					}
				}()
			}

			srv := &http.Server{
				Addr:              cfg.Addr,
				Handler:           httpapi.NewMux(a),
				ReadHeaderTimeout: 10 * time.Second,
			}
			errCh := make(chan error, 1)
			go func() {
				opts.log.Info().Str("event", "listen").Str("addr", cfg.Addr).Str("models_dir", a.Registry.Dir()).Str("engine", cfg.Engine).Msg("serve")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			// Graceful shutdown (Ctrl+C / SIGTERM)
			stop := make(chan os.Signal, 1)
			signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(stop)
			select {
			case err := <-errCh:
				if err != nil {
					return err
				}
			case <-stop:
			}
			cancelBase()
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(ctx); err != nil {
				opts.log.Warn().Str("event", "shutdown_error").Err(err).Msg("serve")
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&addr, "addr", "", "HTTP listen address, e.g. :8080 (defaults LLAVAD_ADDR or :8080)")
	f.StringVar(&corsOrigins, "cors-origins", "", "Comma-separated allowed CORS origins; empty disables CORS")
	f.Int64Var(&turnTimeout, "turn-timeout", 0, "Seconds a chat turn may run (0 disables)")
	f.Int64Var(&maxBodyBytes, "max-body-bytes", 0, "Request body limit in bytes (0 uses 16 MiB)")
	f.BoolVar(&preload, "preload", true, "Load the default model at startup")
	return cmd
}
