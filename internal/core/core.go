/*
Package core wires every collaborator the daemon needs into one Context:
the Config Store, the audit log, and every supervisor/collaborator
handle built from it, each constructed once and injected explicitly into
whatever depends on it. Nothing in this package is a package-level
singleton; cmd/odac/main.go is the only caller.
*/
package core

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/odacrun/odac/internal/acme"
	"github.com/odacrun/odac/internal/adminhttp"
	"github.com/odacrun/odac/internal/audit"
	"github.com/odacrun/odac/internal/builder"
	"github.com/odacrun/odac/internal/config"
	"github.com/odacrun/odac/internal/containerengine"
	"github.com/odacrun/odac/internal/control"
	"github.com/odacrun/odac/internal/dnsrecorder"
	"github.com/odacrun/odac/internal/firewall"
	"github.com/odacrun/odac/internal/hub"
	"github.com/odacrun/odac/internal/mailnotifier"
	"github.com/odacrun/odac/internal/process"
	"github.com/odacrun/odac/internal/proxy"
	"github.com/odacrun/odac/internal/service"
	"github.com/odacrun/odac/internal/updater"
	"github.com/odacrun/odac/internal/util"
	"github.com/odacrun/odac/internal/website"
)

// Options carries the subset of AppConfig plus environment-derived
// settings Context needs to build its collaborators. It exists
// separately from config.AppConfig so core does not dictate how the
// caller loads configuration.
type Options struct {
	ConfigDir        string
	ServeRoot        string
	LogRoot          string
	RunDir           string
	ContainerNetwork string
	PublicIP         string

	ControlTCPAddr    string
	ControlSocketPath string

	HTTPAddr  string
	HTTPSAddr string

	DNSListenAddr string

	ACMEDirectoryURL string
	ACMEAccountEmail string

	HubURL string

	UpdateChannel string

	AuditDBPath string

	AdminAddr string
}

// Context owns every long-lived collaborator the daemon needs and is
// the single place main.go reaches into to start or stop the system.
type Context struct {
	Logger *slog.Logger
	Store  *config.Store
	Audit  *audit.Log

	Process *process.Adapter
	Engine  *containerengine.Engine
	Builder *builder.Builder

	Firewall *firewall.Guard
	Proxy    *proxy.Proxy
	ACME     *acme.Issuer
	DNS      *dnsrecorder.Recorder
	Hub      *hub.Client
	Mail     mailnotifier.Notifier

	Websites *website.Supervisor
	Services *service.Supervisor

	Control *control.Server
	Updater *updater.Updater
	Admin   http.Handler

	opts Options
}

// New constructs every collaborator in dependency order and wires them
// together. It does not start any listener or background loop; call
// Start for that once the Context is built.
func New(logger *slog.Logger, opts Options) (*Context, error) {
	store, err := config.NewStore(opts.ConfigDir, logger)
	if err != nil {
		return nil, fmt.Errorf("core: open config store: %w", err)
	}

	auditLog, err := audit.Open(opts.AuditDBPath, logger)
	if err != nil {
		return nil, fmt.Errorf("core: open audit log: %w", err)
	}

	authToken, err := util.RandomHex(32)
	if err != nil {
		return nil, fmt.Errorf("core: generate control auth token: %w", err)
	}
	store.Server(func(server *config.ServerModule) {
		server.AuthToken = authToken
	})

	procAdapter := process.NewAdapter(logger.With("component", "process"))

	engine, err := containerengine.New(logger.With("component", "containerengine"), opts.ContainerNetwork)
	if err != nil {
		return nil, fmt.Errorf("core: connect container engine: %w", err)
	}

	bld := builder.New(engine, logger.With("component", "builder"))

	guard := firewall.New(store, logger.With("component", "firewall"))

	reverseProxy := proxy.New(store, guard, logger.With("component", "proxy"))

	issuer, err := acme.New(logger.With("component", "acme"), opts.ACMEDirectoryURL, opts.ACMEAccountEmail, reverseProxy)
	if err != nil {
		return nil, fmt.Errorf("core: construct acme issuer: %w", err)
	}

	recorder := dnsrecorder.New(logger.With("component", "dnsrecorder"), opts.DNSListenAddr)

	hubClient := hub.New(store, logger.With("component", "hub"), opts.HubURL)

	mail := mailnotifier.NoopNotifier{}

	websites := website.New(
		store,
		logger.With("component", "website"),
		procAdapter,
		engine,
		recorder,
		issuer,
		reverseProxy,
		mail,
		opts.ServeRoot,
		opts.LogRoot,
		opts.PublicIP,
	)

	services := service.New(store, logger.With("component", "service"), procAdapter, engine, hubClient, opts.LogRoot)

	controlServer := control.New(store, logger.With("component", "control"))

	upd := updater.New(logger.With("component", "updater"), store, engine, websites, services, opts.UpdateChannel, opts.RunDir)

	admin := adminhttp.NewRouter(adminhttp.Dependencies{
		Store:  store,
		Audit:  auditLog,
		Logger: logger.With("component", "adminhttp"),
	})

	return &Context{
		Logger:   logger,
		Store:    store,
		Audit:    auditLog,
		Process:  procAdapter,
		Engine:   engine,
		Builder:  bld,
		Firewall: guard,
		Proxy:    reverseProxy,
		ACME:     issuer,
		DNS:      recorder,
		Hub:      hubClient,
		Mail:     mail,
		Websites: websites,
		Services: services,
		Control:  controlServer,
		Updater:  upd,
		Admin:    admin,
		opts:     opts,
	}, nil
}
