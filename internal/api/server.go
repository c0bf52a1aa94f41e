package api

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"go-etl-pipeline/internal/api/handler"
	"go-etl-pipeline/internal/config"
	"go-etl-pipeline/internal/errors"
	"go-etl-pipeline/internal/logger"
	"go-etl-pipeline/internal/pipeline"
	"go-etl-pipeline/internal/store"
)

// shutdownTimeout bounds how long in-flight requests get after ctx ends.
const shutdownTimeout = 15 * time.Second

// Serve opens the run store and serves the API on cfg.Server.Addr until
// ctx is cancelled. Runs still executing at shutdown are cancelled and
// waited for so their final state reaches the store.
func Serve(ctx context.Context, cfg *config.Config, log *zap.SugaredLogger) error {
	log = logger.OrNop(log)
	st, err := store.Open(ctx, cfg.Database.Path, log.Named("store"))
	if err != nil {
		return err
	}
	defer st.Close()

	runCtx, cancelRuns := context.WithCancel(context.Background())
	defer cancelRuns()
	h := handler.NewPipelineHandler(runCtx, st, pipeline.Deps{
		Logger:         log,
		Workers:        cfg.Validation.Workers,
		ExtractTimeout: cfg.Pipeline.ExtractTimeout,
		LoadTimeout:    cfg.Pipeline.LoadTimeout,
		OutputDir:      cfg.Output.Dir,
	})
	srv := NewRouter(h, log.Named("http")).Server(cfg.Server.Addr)

	errCh := make(chan error, 1)
	go func() {
		log.Infow("API server listening", "addr", cfg.Server.Addr, "database", cfg.Database.Path)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		cancelRuns()
		h.Wait()
		return errors.Wrap(err, "serve")
	case <-ctx.Done():
	}

	log.Infow("Shutting down API server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err = srv.Shutdown(shutdownCtx)
	cancelRuns()
	h.Wait()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "shutdown")
	}
	return nil
}
