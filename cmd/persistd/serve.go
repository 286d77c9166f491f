package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/wilhg/persist/pkg/errmodel"
)

type pinger interface {
	Ping(ctx context.Context) error
}

// buildMux serves liveness and readiness probes.
func buildMux(st pinger) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := st.Ping(ctx); err != nil {
			errmodel.WriteHTTP(w, r, errmodel.Storage(errmodel.CodeUnavailable, "store unreachable", nil, err))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
	return otelhttp.NewHandler(mux, "persistd")
}

func newServeCommand(opts *rootOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve health and readiness probes over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("addr") {
				opts.cfg.Addr = addr
			}
			return serve(cmd.Context(), opts)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "http listen address (overrides PERSIST_ADDR)")
	return cmd
}

func serve(ctx context.Context, opts *rootOptions) error {
	st, err := openStore(ctx, opts.cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	server := &http.Server{
		Addr:              opts.cfg.Addr,
		Handler:           buildMux(st),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errc := make(chan error, 1)
	go func() { errc <- server.ListenAndServe() }()
	opts.logger.Info("serving", slog.String("addr", opts.cfg.Addr), slog.String("dialect", st.Dialect()))

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	opts.logger.Info("shutting down")
	return server.Shutdown(shutdownCtx)
}
