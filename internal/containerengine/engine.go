/*
Package containerengine wraps the Docker SDK client behind the primitives
every supervisor needs: pulling images, running containers with a known
network and restart policy, execing into a running container, and reading
back logs/stats/IP. All Docker SDK calls are isolated here; no other
package imports the SDK directly, so if the container runtime strategy
ever changes, this is the only package that changes.
*/
package containerengine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	dockerclient "github.com/docker/docker/client"
)

// Engine is a shared, concurrency-safe handle to the container runtime.
// The SDK client manages its own connection pooling, so a single Engine
// is meant to be constructed once and passed by reference to every
// supervisor that needs container access.
type Engine struct {
	sdk     *dockerclient.Client
	logger  *slog.Logger
	network string
}

// New connects to the container engine over the socket described by the
// standard DOCKER_HOST/DOCKER_TLS_VERIFY/DOCKER_CERT_PATH environment
// variables (falling back to the local Unix socket), negotiates the API
// version, and pings the daemon so that a dead engine fails the daemon's
// startup immediately rather than on the first website deploy.
func New(logger *slog.Logger, network string) (*Engine, error) {
	sdk, err := dockerclient.NewClientWithOpts(
		dockerclient.FromEnv,
		dockerclient.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, fmt.Errorf("containerengine: create sdk client: %w", err)
	}

	e := &Engine{sdk: sdk, logger: logger, network: network}

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.ping(pingCtx); err != nil {
		return nil, fmt.Errorf("containerengine: daemon unreachable: %w", err)
	}

	logger.Info("container engine connected", "host", sdk.DaemonHost(), "network", network)
	return e, nil
}

func (e *Engine) ping(ctx context.Context) error {
	_, err := e.sdk.Ping(ctx)
	return err
}

// Available reports whether the engine currently answers a ping. The
// Website and Service Supervisors call this before deciding whether a
// container-backed operation is even possible on this host, falling back
// to a local interpreter spawn for script services when it is not.
func (e *Engine) Available(ctx context.Context) bool {
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return e.ping(pingCtx) == nil
}

// Close releases the underlying SDK connection. Deferred once in main
// after New returns successfully.
func (e *Engine) Close() error {
	return e.sdk.Close()
}
