// Package app assembles the server: store, registry, directory, router and
// hub are constructed here, owned by the App and torn down in order at
// shutdown. No core state lives in package globals.
package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"pairwire/pkg/api"
	"pairwire/pkg/config"
	"pairwire/pkg/directory"
	"pairwire/pkg/logger"
	"pairwire/pkg/registry"
	"pairwire/pkg/router"
	"pairwire/pkg/store"
	"pairwire/pkg/ws"
)

// App encapsulates the server components and lifecycle.
type App struct {
	cfg     *config.Config
	version string

	store *store.Store
	reg   *registry.Registry
	dir   *directory.Directory
	rtr   *router.Router
	hub   *ws.Hub

	srv *http.Server
}

// New opens the store, reloads all durable state and wires the components.
// The server accepts no connections before this returns.
func New(cfg *config.Config, version string) (*App, error) {
	st, err := store.Open(cfg.Storage.DBPath)
	if err != nil {
		return nil, err
	}

	reg := registry.New(cfg.Identity.CodeLength)
	dir, err := directory.New(st, reg)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	st.BindResolver(dir)
	// codes seen in reloaded conversations must never be re-issued
	reg.AddKnown(dir.Codes()...)

	rtr := router.New(reg, dir, st)
	hub := ws.NewHub(reg, dir, rtr, ws.Options{
		PingInterval:    cfg.Server.PingInterval.Duration(),
		PongTimeout:     cfg.Server.PongTimeout.Duration(),
		WriteTimeout:    cfg.Server.WriteTimeout.Duration(),
		SendBuffer:      cfg.Server.SendBuffer,
		MaxMessageBytes: cfg.Limits.MaxMessageBytes.Int64(),
		EventsPerSecond: cfg.Limits.EventsPerSecond,
		Burst:           cfg.Limits.Burst,
	})

	a := &App{cfg: cfg, version: version, store: st, reg: reg, dir: dir, rtr: rtr, hub: hub}
	a.srv = &http.Server{
		Addr:    cfg.Addr(),
		Handler: api.Handler(hub, a),
	}
	return a, nil
}

// Version implements api.Status.
func (a *App) Version() string { return a.version }

// ConnectionCount implements api.Status.
func (a *App) ConnectionCount() int { return a.hub.ConnectionCount() }

// Run serves until ctx is cancelled, then drains HTTP and flushes the
// store a final time before closing it.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("server_listening", "addr", a.srv.Addr, "version", a.version)
		if err := a.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		_ = a.store.Close()
		return err
	}

	logger.Info("server_draining")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http_shutdown_failed", "error", err)
	}
	if err := a.store.Close(); err != nil {
		logger.Error("store_close_failed", "error", err)
		return err
	}
	logger.Info("server_stopped")
	return nil
}
