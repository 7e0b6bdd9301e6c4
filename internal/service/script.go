package service

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/odacrun/odac/internal/containerengine"
	"github.com/odacrun/odac/internal/models"
)

// interpreterFor maps a script's extension to the interpreter command
// used to run it locally when the container engine is unavailable.
var interpreterFor = map[string][]string{
	".js":  {"node"},
	".py":  {"python", "-u"},
	".php": {"php"},
	".rb":  {"ruby"},
	".sh":  {"sh"},
}

func (s *Supervisor) startScript(ctx context.Context, svc models.Service, logs io.Writer) (*int, error) {
	if s.engineAvailable(ctx) {
		if err := s.runScriptInContainer(ctx, svc); err != nil {
			return nil, err
		}
		return nil, nil
	}

	pid, err := s.spawnScriptLocally(svc, logs)
	if err != nil {
		return nil, err
	}
	return &pid, nil
}

func (s *Supervisor) runScriptInContainer(ctx context.Context, svc models.Service) error {
	ext := strings.ToLower(filepath.Ext(svc.SourcePath))
	interpreter, ok := interpreterFor[ext]
	if !ok {
		return fmt.Errorf("service: no interpreter known for extension %q", ext)
	}

	cmd := append(append([]string{}, interpreter...), "/app/"+filepath.Base(svc.SourcePath))

	return s.engine.RunApp(ctx, containerengine.RunAppConfig{
		Name:    containerNameForService(svc.ID),
		Image:   runtimeImageFor(ext),
		Volumes: []models.VolumeBinding{{HostPath: filepath.Dir(svc.SourcePath), ContainerPath: "/app"}},
		Env:     envToSlice(svc.Env),
		Cmd:     cmd,
	})
}

func runtimeImageFor(ext string) string {
	switch ext {
	case ".js":
		return "node:20-alpine"
	case ".py":
		return "python:3.12-alpine"
	case ".php":
		return "php:8.3-cli-alpine"
	case ".rb":
		return "ruby:3.3-alpine"
	default:
		return "alpine:3.20"
	}
}

func (s *Supervisor) spawnScriptLocally(svc models.Service, logs io.Writer) (int, error) {
	ext := strings.ToLower(filepath.Ext(svc.SourcePath))
	interpreter, ok := interpreterFor[ext]
	if !ok {
		return 0, fmt.Errorf("service: no local interpreter known for extension %q", ext)
	}

	args := append(append([]string{}, interpreter[1:]...), svc.SourcePath)
	cmd := exec.Command(interpreter[0], args...)
	cmd.Dir = filepath.Dir(svc.SourcePath)
	cmd.Stdout = logs
	cmd.Stderr = logs
	cmd.Env = append(os.Environ(), envToSlice(svc.Env)...)

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("service: spawn script %q: %w", svc.SourcePath, err)
	}
	return cmd.Process.Pid, nil
}

func envToSlice(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}
