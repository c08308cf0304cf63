package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"caseline/internal/app"
	"caseline/internal/server"
)

func serveCmd() *cobra.Command {
	var addr, basePath string
	var allowActorHeader, allowDevLogin bool
	var autoCloseEvery time.Duration
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Long:  "Serves the case API with OpenAPI at <base>/openapi.json, Swagger UI at /docs and Prometheus metrics at /metrics.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			authCfg := server.AuthConfig{
				JWTSecret:        stringFlag(cmd, "jwt-secret"),
				AllowActorHeader: allowActorHeader,
				AllowDevLogin:    allowDevLogin,
				Logger:           slog.Default(),
			}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("CASELINE_JWT_SECRET is required for bearer auth")
			}
			ws, err := openWorkspace(ctx, viper.GetBool("log-notifications"))
			if err != nil {
				return err
			}
			handler, err := server.New(server.Config{
				Engine:   ws.Engine,
				BasePath: basePath,
				Auth:     authCfg,
				Metrics:  ws.Metrics,
				Logger:   ws.Logger,
			})
			if err != nil {
				ws.DB.Close()
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				ws.Logger.Info("serving caseline API", "addr", addr, "base_path", basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			g.Go(func() error {
				<-gctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			})
			g.Go(func() error {
				return ws.Queue.Run(gctx)
			})
			if autoCloseEvery > 0 {
				g.Go(func() error {
					return runAutoClose(gctx, ws, autoCloseEvery)
				})
			}
			err = g.Wait()
			return errors.Join(err, ws.DB.Close())
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().String("jwt-secret", "", "HS256 signing secret (env CASELINE_JWT_SECRET)")
	cmd.Flags().BoolVar(&allowActorHeader, "allow-actor-header", false, "trust X-Actor-Id when no bearer token is sent")
	cmd.Flags().BoolVar(&allowDevLogin, "dev-login", false, "expose /auth/dev/login for local testing")
	cmd.Flags().DurationVar(&autoCloseEvery, "auto-close-every", time.Hour, "interval for auto-closing overdue description changes (0 disables)")
	cmd.Flags().Bool("log-notifications", false, "log every delivered notification")
	_ = viper.BindPFlag("log-notifications", cmd.Flags().Lookup("log-notifications"))
	return cmd
}

func runAutoClose(ctx context.Context, ws *app.Workspace, every time.Duration) error {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			closed, err := ws.Engine.AutoCloseRequests(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				ws.Logger.Error("auto-close failed", "err", err)
				continue
			}
			if len(closed) > 0 {
				ws.Logger.Info("auto-closed requests", "count", len(closed))
			}
		}
	}
}
