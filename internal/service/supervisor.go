/*
Package service is the Service Supervisor: the same lifecycle shape as
the Website Supervisor, specialized for non-website workloads — either a
locally spawned script interpreter or a container installed from a
recipe fetched by name from the Hub.
*/
package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/odacrun/odac/internal/config"
	"github.com/odacrun/odac/internal/containerengine"
	"github.com/odacrun/odac/internal/models"
	"github.com/odacrun/odac/internal/process"
)

func nowMs() int64 { return time.Now().UnixMilli() }

// RecipeFetcher is the subset of hub.Client the supervisor depends on.
type RecipeFetcher interface {
	FetchRecipe(name string) (models.Recipe, error)
}

// Supervisor owns every service's lifecycle.
type Supervisor struct {
	store   *config.Store
	logger  *slog.Logger
	proc    *process.Adapter
	engine  *containerengine.Engine
	recipes RecipeFetcher
	logRoot string

	mu     sync.Mutex
	active map[string]bool

	logMu sync.Mutex
	logs  map[string]*logBuffer
}

// New constructs a Supervisor.
func New(store *config.Store, logger *slog.Logger, proc *process.Adapter, engine *containerengine.Engine, recipes RecipeFetcher, logRoot string) *Supervisor {
	return &Supervisor{
		store:   store,
		logger:  logger,
		proc:    proc,
		engine:  engine,
		recipes: recipes,
		logRoot: logRoot,
		active:  make(map[string]bool),
		logs:    make(map[string]*logBuffer),
	}
}

// StopAll terminates every active service's backend. Used before a
// self-update handover so the outgoing instance releases every port and
// container name before the new instance takes over.
func (s *Supervisor) StopAll(ctx context.Context) {
	var services []models.Service
	s.store.ViewServices(func(all map[string]models.Service) {
		for _, svc := range all {
			services = append(services, svc)
		}
	})

	for _, svc := range services {
		s.stopBackend(ctx, svc)
	}

	s.mu.Lock()
	s.active = make(map[string]bool)
	s.mu.Unlock()
}

func containerNameForService(id string) string {
	return "odac-svc-" + id
}

// engineAvailable reports whether the container engine can be used for
// script services; when it cannot, scripts fall back to a directly
// spawned interpreter.
func (s *Supervisor) engineAvailable(ctx context.Context) bool {
	return s.engine != nil && s.engine.Available(ctx)
}

var errServiceNotFound = fmt.Errorf("service: not found")

func processIsAliveForService(pid int) bool {
	return process.IsAlive(pid)
}
