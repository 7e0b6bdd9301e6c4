package service

import (
	"fmt"

	"github.com/odacrun/odac/internal/models"
	"github.com/odacrun/odac/internal/portpool"
	"github.com/odacrun/odac/internal/util"
)

// InstallRecipe fetches the named recipe from the hub, expands its port
// and env templating, and registers a new container-type service from
// it. Ports left at 0 ("auto") resolve to the next free port at or above
// 30000; env values carrying a {generate,length} instruction are filled
// with random hex instead of copied literally.
func (s *Supervisor) InstallRecipe(name, serviceName string) (models.Service, error) {
	recipe, err := s.recipes.FetchRecipe(name)
	if err != nil {
		return models.Service{}, fmt.Errorf("service: fetch recipe %q: %w", name, err)
	}

	ports, err := s.resolvePorts(recipe.Ports)
	if err != nil {
		return models.Service{}, err
	}

	env, err := expandEnv(recipe.Env)
	if err != nil {
		return models.Service{}, err
	}

	svc := models.Service{
		ID:               util.GenerateID(),
		Name:             serviceName,
		Type:             models.ServiceContainer,
		Image:            recipe.Image,
		Ports:            ports,
		Volumes:          recipe.Volumes,
		Env:              env,
		Status:           models.StatusStopped,
		Active:           false,
		CreatedAtEpochMs: nowMs(),
	}

	s.store.Services(func(services map[string]models.Service) {
		services[svc.ID] = svc
	})

	return svc, nil
}

func (s *Supervisor) resolvePorts(declared []models.PortBinding) ([]models.PortBinding, error) {
	resolved := make([]models.PortBinding, 0, len(declared))
	for _, p := range declared {
		if p.HostPort != 0 {
			resolved = append(resolved, p)
			continue
		}
		port, err := portpool.Next(s.store, portpool.DefaultServiceMin)
		if err != nil {
			return nil, fmt.Errorf("service: allocate auto port: %w", err)
		}
		p.HostPort = port
		resolved = append(resolved, p)
	}
	return resolved, nil
}

func expandEnv(spec map[string]models.EnvSpec) (map[string]string, error) {
	out := make(map[string]string, len(spec))
	for key, v := range spec {
		if v.Generate {
			length := v.Length
			if length <= 0 {
				length = 16
			}
			random, err := util.RandomHex(length)
			if err != nil {
				return nil, fmt.Errorf("service: generate env value for %q: %w", key, err)
			}
			out[key] = random
			continue
		}
		out[key] = v.Value
	}
	return out, nil
}
