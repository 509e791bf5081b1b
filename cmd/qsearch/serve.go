package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/QTest-hq/qsearch/internal/api"
	"github.com/QTest-hq/qsearch/internal/db"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve recorded runs and metrics over HTTP",
		Long: `Start the API server on PORT. When DATABASE_URL is set, recorded runs
are served from the database and /ready checks it.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := loadEnv()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			var opts []api.Option
			if env.HasDatabase() {
				database, err := db.New(ctx, env.DatabaseURL)
				if err != nil {
					return err
				}
				defer database.Close()

				if err := database.Migrate(ctx); err != nil {
					return err
				}
				opts = append(opts, api.WithStore(db.NewRunStore(database)), api.WithPinger(database))
			}

			srv, err := api.NewServer(env, api.NewTracker(), opts...)
			if err != nil {
				return err
			}
			httpServer := newHTTPServer(env.Addr(), srv)

			errCh := make(chan error, 1)
			go func() {
				errCh <- listen(httpServer)
			}()

			log.Info().Int("port", env.Port).Msg("starting API server")

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
				log.Info().Msg("server is shutting down...")
			}

			shutdown(httpServer)
			log.Info().Msg("server stopped")
			return nil
		},
	}
}

func newHTTPServer(addr string, srv *api.Server) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      srv.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// listen serves until the server is shut down.
func listen(s *http.Server) error {
	if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func shutdown(s *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("could not gracefully shutdown the server")
	}
}
