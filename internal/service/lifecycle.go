package service

import (
	"context"
	"fmt"

	"github.com/odacrun/odac/internal/containerengine"
	"github.com/odacrun/odac/internal/models"
)

// Start activates a service: a script spawns an interpreter (or a
// one-shot container when the engine is available), a container-type
// service runs its recorded image via RunApp.
func (s *Supervisor) Start(ctx context.Context, id string) error {
	var svc models.Service
	found := false
	s.store.ViewServices(func(services map[string]models.Service) {
		if v, ok := services[id]; ok {
			svc = v
			found = true
		}
	})
	if !found {
		return errServiceNotFound
	}

	var startErr error
	switch svc.Type {
	case models.ServiceScript:
		pid, err := s.startScript(ctx, svc, s.logBufferFor(svc.ID))
		startErr = err
		if err == nil {
			s.store.Services(func(services map[string]models.Service) {
				if v, ok := services[id]; ok {
					v.PID = pid
					services[id] = v
				}
			})
		}
	case models.ServiceContainer:
		startErr = s.engine.RunApp(ctx, containerengine.RunAppConfig{
			Name:    containerNameForService(svc.ID),
			Image:   svc.Image,
			Ports:   svc.Ports,
			Volumes: svc.Volumes,
			Env:     envToSlice(svc.Env),
		})
	}

	if startErr != nil {
		s.store.Services(func(services map[string]models.Service) {
			if v, ok := services[id]; ok {
				v.Status = models.StatusErrored
				v.LastUpdatedEpochMs = nowMs()
				services[id] = v
			}
		})
		return fmt.Errorf("service: start %q: %w", id, startErr)
	}

	s.mu.Lock()
	s.active[id] = true
	s.mu.Unlock()

	s.store.Services(func(services map[string]models.Service) {
		if v, ok := services[id]; ok {
			v.Status = models.StatusRunning
			v.Active = true
			v.LastUpdatedEpochMs = nowMs()
			services[id] = v
		}
	})
	return nil
}

// Stop deactivates a service explicitly; Check will not auto-restart it
// again until the caller calls Start.
func (s *Supervisor) Stop(ctx context.Context, id string) error {
	var svc models.Service
	found := false
	s.store.ViewServices(func(services map[string]models.Service) {
		if v, ok := services[id]; ok {
			svc = v
			found = true
		}
	})
	if !found {
		return errServiceNotFound
	}

	s.stopBackend(ctx, svc)

	s.mu.Lock()
	s.active[id] = false
	s.mu.Unlock()

	s.store.Services(func(services map[string]models.Service) {
		if v, ok := services[id]; ok {
			v.Status = models.StatusStopped
			v.Active = false
			v.PID = nil
			v.LastUpdatedEpochMs = nowMs()
			services[id] = v
		}
	})
	return nil
}

func (s *Supervisor) stopBackend(ctx context.Context, svc models.Service) {
	switch svc.Type {
	case models.ServiceScript:
		if svc.PID != nil {
			s.proc.Stop(*svc.PID, "")
		}
	case models.ServiceContainer:
		if err := s.engine.Stop(ctx, containerNameForService(svc.ID)); err != nil {
			s.logger.Warn("failed to stop service container", "id", svc.ID, "error", err)
		}
	}
}

// Check reconciles every active service: one whose process or container
// is no longer running is marked stopped and inactive and is not
// restarted; it stays down until the caller starts it again. Services
// already stopped or errored are skipped.
func (s *Supervisor) Check(ctx context.Context) {
	var services []models.Service
	s.store.ViewServices(func(all map[string]models.Service) {
		for _, svc := range all {
			services = append(services, svc)
		}
	})

	for _, svc := range services {
		s.checkOne(ctx, svc)
		s.flushLogs(svc.ID)
	}
}

func (s *Supervisor) checkOne(ctx context.Context, svc models.Service) {
	s.mu.Lock()
	active := s.active[svc.ID]
	s.mu.Unlock()

	if !active || svc.Status == models.StatusStopped || svc.Status == models.StatusErrored {
		return
	}

	if s.running(ctx, svc) {
		return
	}

	svc.Status = models.StatusStopped
	svc.Active = false
	s.store.Services(func(all map[string]models.Service) {
		if current, ok := all[svc.ID]; ok {
			current.Status = models.StatusStopped
			current.Active = false
			current.LastUpdatedEpochMs = nowMs()
			all[svc.ID] = current
		}
	})
	s.mu.Lock()
	s.active[svc.ID] = false
	s.mu.Unlock()
	s.logger.Info("service process exited, marked stopped", "id", svc.ID)
}

func (s *Supervisor) running(ctx context.Context, svc models.Service) bool {
	switch svc.Type {
	case models.ServiceContainer:
		running, err := s.engine.IsRunning(ctx, containerNameForService(svc.ID))
		return err == nil && running
	default:
		return svc.PID != nil && processIsAliveForService(*svc.PID)
	}
}

// Delete stops and removes a service entirely.
func (s *Supervisor) Delete(ctx context.Context, id string) error {
	var svc models.Service
	found := false
	s.store.ViewServices(func(services map[string]models.Service) {
		if v, ok := services[id]; ok {
			svc = v
			found = true
		}
	})
	if !found {
		return errServiceNotFound
	}

	s.stopBackend(ctx, svc)
	if svc.Type == models.ServiceContainer {
		if err := s.engine.Remove(ctx, containerNameForService(svc.ID)); err != nil {
			s.logger.Warn("failed to remove service container", "id", id, "error", err)
		}
	}

	s.mu.Lock()
	delete(s.active, id)
	s.mu.Unlock()
	s.logMu.Lock()
	delete(s.logs, id)
	s.logMu.Unlock()

	s.store.Services(func(services map[string]models.Service) {
		delete(services, id)
	})
	return nil
}
