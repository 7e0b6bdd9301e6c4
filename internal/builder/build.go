package builder

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/odacrun/odac/internal/containerengine"
)

// dockerSocket is the standard Docker Engine API socket path, bind
// mounted into the packaging helper so it can issue `docker build`
// against the same engine this daemon itself uses, without the helper
// container needing privileged mode.
const dockerSocket = "/var/run/docker.sock"

// cliHelperImage provides a `docker` CLI binary with no daemon of its
// own; paired with the bind-mounted socket this is the standard
// Docker-outside-of-Docker pattern for building images from inside a
// container.
const cliHelperImage = "docker:27-cli"

// Builder turns a source directory into a tagged image. It owns the
// per-image-name single-flight lock described in the Container Adapter's
// build contract: two concurrent build requests for the same image name
// fail the second one fast instead of queueing or racing.
type Builder struct {
	engine *containerengine.Engine
	logger *slog.Logger

	mu       sync.Mutex
	building map[string]bool
}

func New(engine *containerengine.Engine, logger *slog.Logger) *Builder {
	return &Builder{
		engine:   engine,
		logger:   logger,
		building: make(map[string]bool),
	}
}

func (b *Builder) acquire(imageName string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.building[imageName] {
		return fmt.Errorf("builder: a build for image %q is already in progress", imageName)
	}
	b.building[imageName] = true
	return nil
}

func (b *Builder) release(imageName string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.building, imageName)
}

// Build produces imageName from sourceDir. The custom-Dockerfile track
// skips the compile phase entirely; every other strategy runs an
// unprivileged compile phase before packaging.
func (b *Builder) Build(ctx context.Context, sourceDir, imageName string) error {
	if err := b.acquire(imageName); err != nil {
		return err
	}
	defer b.release(imageName)

	strategy, err := Detect(sourceDir)
	if err != nil {
		return err
	}

	logFile := filepath.Join(sourceDir, ".odac-build.log")
	logWriter, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("builder: open build log: %w", err)
	}
	defer logWriter.Close()

	if strategy == StrategyCustomDockerfile {
		return b.packageImage(ctx, sourceDir, imageName, "Dockerfile")
	}

	profile := profiles[strategy]
	if err := b.compile(ctx, sourceDir, profile, logFile); err != nil {
		return err
	}

	dockerfilePath, cleanup, err := writeEphemeralDockerfile(sourceDir, profile)
	if err != nil {
		return err
	}
	defer cleanup()

	return b.packageImage(ctx, sourceDir, imageName, filepath.Base(dockerfilePath))
}

// compile runs install && build inside the strategy's builder image,
// with the source bind-mounted and automatically removed afterward. A
// known-flaky failure mode (an out-of-sync npm lockfile, or the builder
// cache growing too large to export a layer) is retried exactly once
// after a targeted remediation step; any other failure is terminal.
func (b *Builder) compile(ctx context.Context, sourceDir string, profile strategyProfile, logFile string) error {
	if profile.InstallCmd == "" && profile.BuildCmd == "" {
		return nil // static strategy has no compile phase
	}

	command := strings.TrimSpace(profile.InstallCmd + " && " + profile.BuildCmd + " && true")
	output, err := b.engine.ExecWithImage(ctx, profile.BuilderImage, sourceDir, "/app", command, nil)
	appendLog(logFile, output)
	if err == nil {
		return nil
	}

	switch {
	case strings.Contains(output, "npm ci") && strings.Contains(err.Error(), "exited"):
		b.logger.Warn("compile failed on npm ci, syncing lockfile and retrying once", "source", sourceDir)
		if _, syncErr := b.engine.ExecWithImage(ctx, profile.BuilderImage, sourceDir, "/app",
			"npm install --package-lock-only", nil); syncErr != nil {
			return fmt.Errorf("builder: lockfile sync retry failed: %w", syncErr)
		}
	case strings.Contains(output, "failed to export"):
		b.logger.Warn("compile failed exporting layers, pruning builder cache and retrying once", "source", sourceDir)
		if _, pruneErr := b.engine.ExecWithImage(ctx, cliHelperImage, "/", "/host",
			"docker builder prune -f", []string{dockerSocket}); pruneErr != nil {
			return fmt.Errorf("builder: cache prune retry failed: %w", pruneErr)
		}
	default:
		return fmt.Errorf("builder: compile phase failed: %w", err)
	}

	retryOutput, retryErr := b.engine.ExecWithImage(ctx, profile.BuilderImage, sourceDir, "/app", command, nil)
	appendLog(logFile, retryOutput)
	if retryErr != nil {
		return fmt.Errorf("builder: compile phase failed after retry: %w", retryErr)
	}
	return nil
}

// packageImage issues `docker build` against the shared engine from
// inside a CLI helper container, so the daemon process itself never
// needs the build context mounted with write access to its own socket.
func (b *Builder) packageImage(ctx context.Context, sourceDir, imageName, dockerfileName string) error {
	command := fmt.Sprintf("docker build -f %s -t %s /app", shellSafe(dockerfileName), shellSafe(imageName))
	output, err := b.engine.ExecWithImage(ctx, cliHelperImage, sourceDir, "/app", command, []string{dockerSocket})
	if err != nil {
		return fmt.Errorf("builder: package phase failed: %w\n%s", err, output)
	}
	b.logger.Info("image packaged", "image", imageName, "source", sourceDir)
	return nil
}

func appendLog(path, content string) {
	if content == "" {
		return
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return
	}
	defer f.Close()
	_, _ = f.WriteString(content)
}

func shellSafe(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '-', r == '_', r == '.', r == '/', r == ':':
			b.WriteRune(r)
		}
	}
	return b.String()
}
