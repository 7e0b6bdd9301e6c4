package core

import (
	"context"
	"net/http"
	"time"

	"github.com/odacrun/odac/internal/control"
)

const (
	reconcileInterval = time.Second
	janitorInterval   = 60 * time.Second
)

// Start wires the control action table, binds every listener, and runs
// every background loop (config flusher, website/service reconciler,
// firewall janitor, hub client) until ctx is cancelled. It returns the
// first fatal error any listener reports, or nil on a clean shutdown.
func (c *Context) Start(ctx context.Context, shutdown func()) error {
	control.RegisterBuiltins(c.Control, control.Dependencies{
		Store:    c.Store,
		Websites: c.Websites,
		Services: c.Services,
		Firewall: c.Firewall,
		Audit:    c.Audit,
		Shutdown: shutdown,
	})

	if err := c.Control.ListenTCP(c.opts.ControlTCPAddr); err != nil {
		return err
	}
	if err := c.Control.ListenUnix(c.opts.ControlSocketPath); err != nil {
		return err
	}

	go c.Store.Run()
	go c.Control.Serve(ctx)
	go c.runReconciler(ctx)
	go c.runJanitor(ctx)

	errCh := make(chan error, 4)
	go func() {
		if err := c.DNS.Start(ctx); err != nil {
			errCh <- err
		}
	}()
	go func() {
		if err := c.runAdminServer(ctx); err != nil {
			errCh <- err
		}
	}()
	go func() {
		if err := c.Proxy.Start(ctx, c.opts.HTTPAddr, c.opts.HTTPSAddr); err != nil {
			errCh <- err
		}
	}()
	if c.opts.HubURL != "" {
		go func() {
			if err := c.Hub.Run(ctx); err != nil {
				c.Logger.Warn("hub client stopped", "error", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		c.Store.Stop()
		if err := c.Store.Force(); err != nil {
			c.Logger.Warn("final config flush failed", "error", err)
		}
		return nil
	case err := <-errCh:
		c.Store.Stop()
		return err
	}
}

// Close releases every collaborator holding an external resource (the
// container engine's SDK client, the audit log's SQLite connection).
// Call after Start returns.
func (c *Context) Close() {
	if err := c.Engine.Close(); err != nil {
		c.Logger.Warn("container engine close failed", "error", err)
	}
	if err := c.Audit.Close(); err != nil {
		c.Logger.Warn("audit log close failed", "error", err)
	}
}

// runAdminServer serves the admin/debug HTTP surface until ctx is
// cancelled. A plain http.Server is used directly rather than going
// through the reverse proxy, since this traffic never touches a
// tenant's domain or TLS certificate.
func (c *Context) runAdminServer(ctx context.Context) error {
	server := &http.Server{Addr: c.opts.AdminAddr, Handler: c.Admin}

	errCh := make(chan error, 1)
	go func() {
		c.Logger.Info("admin http listener starting", "addr", c.opts.AdminAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return server.Close()
	case err := <-errCh:
		return err
	}
}

func (c *Context) runReconciler(ctx context.Context) {
	ticker := time.NewTicker(reconcileInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Websites.Check(ctx)
			c.Services.Check(ctx)
		}
	}
}

func (c *Context) runJanitor(ctx context.Context) {
	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Firewall.Janitor()
		}
	}
}
