// Package main provides the desktop companion server. Desktop clients talk
// to the local FitSync store over REST and receive sync and upload state
// over a WebSocket on localhost:8090.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kimhsiao/fitsync/cmd/desktop/handlers"
	"github.com/kimhsiao/fitsync/internal/bridge"
	"github.com/kimhsiao/fitsync/internal/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath, addr string
	cmd := &cobra.Command{
		Use:          "fitsync-desktop",
		Short:        "Serve the local FitSync store to desktop clients",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			core := bridge.New()
			if err := core.Init(configPath); err != nil {
				return err
			}
			defer core.Shutdown()
			return serve(cmd.Context(), core, addr)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "config file")
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8090", "listen address")
	return cmd
}

// serve runs the HTTP server and the event hub until ctx is done.
func serve(ctx context.Context, core *bridge.Bridge, addr string) error {
	hub := NewWSHub()
	srv := &http.Server{
		Addr:              addr,
		Handler:           newRouter(core, hub),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return hub.Run(ctx)
	})
	g.Go(func() error {
		unsubscribe, err := core.Subscribe(hub.Broadcast)
		if err != nil {
			return err
		}
		defer unsubscribe()
		<-ctx.Done()
		return nil
	})
	g.Go(func() error {
		logging.Info("desktop server listening", map[string]interface{}{"addr": addr})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func newRouter(core *bridge.Bridge, hub *WSHub) *http.ServeMux {
	records := handlers.NewRecordHandler(core)
	syncs := handlers.NewSyncHandler(core)
	assets := handlers.NewAssetHandler(core)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok","service":"fitsync-desktop"}`))
	})

	mux.HandleFunc("GET /api/records/{collection}", records.List)
	mux.HandleFunc("POST /api/records/{collection}", records.Create)
	mux.HandleFunc("GET /api/records/{collection}/{id}", records.Get)
	mux.HandleFunc("PATCH /api/records/{collection}/{id}", records.Update)
	mux.HandleFunc("DELETE /api/records/{collection}/{id}", records.Delete)

	mux.HandleFunc("POST /api/sync", syncs.SyncNow)
	mux.HandleFunc("POST /api/sync/refresh", syncs.Refresh)
	mux.HandleFunc("POST /api/sync/reset", syncs.Reset)
	mux.HandleFunc("GET /api/sync/status", syncs.Status)
	mux.HandleFunc("PUT /api/sync/online", syncs.SetOnline)
	mux.HandleFunc("PUT /api/sync/foreground", syncs.SetForeground)
	mux.HandleFunc("GET /api/sync/conflicts", syncs.Conflicts)

	mux.HandleFunc("GET /api/assets", assets.List)
	mux.HandleFunc("POST /api/assets", assets.Add)
	mux.HandleFunc("POST /api/assets/{id}/retry", assets.Retry)
	mux.HandleFunc("DELETE /api/assets/{id}", assets.Remove)

	mux.HandleFunc("GET /ws", HandleWebSocket(hub))
	return mux
}
