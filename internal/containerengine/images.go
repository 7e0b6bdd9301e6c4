package containerengine

import (
	"context"
	"fmt"
	"io"

	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
)

// EnsureImage pulls name on every call, whether or not the daemon already
// has a copy cached, so a moving tag such as "latest" is refreshed.
// The pull response is a stream of newline-delimited JSON progress events
// that must be fully drained before the image is guaranteed usable;
// EnsureImage discards the progress detail and resolves once the stream
// is exhausted, mirroring ensureImage's "idempotent pull, resolves after
// the final progress frame" contract.
func (e *Engine) EnsureImage(ctx context.Context, name string) error {
	e.logger.Info("pulling image", "image", name)

	stream, err := e.sdk.ImagePull(ctx, name, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("containerengine: pull %q: %w", name, err)
	}
	defer stream.Close()

	if _, err := io.Copy(io.Discard, stream); err != nil {
		return fmt.Errorf("containerengine: drain pull stream for %q: %w", name, err)
	}

	e.logger.Info("image ready", "image", name)
	return nil
}

// EnsureNetwork creates a bridge network named name if no network with
// that name already exists. Every container Run/RunApp starts is
// attached to this network at creation time, so supervisors and the
// reverse proxy can always reach a backend at a predictable container IP.
func (e *Engine) EnsureNetwork(ctx context.Context, name string) error {
	existing, err := e.sdk.NetworkList(ctx, network.ListOptions{
		Filters: filters.NewArgs(filters.Arg("name", name)),
	})
	if err != nil {
		return fmt.Errorf("containerengine: list networks: %w", err)
	}

	for _, n := range existing {
		if n.Name == name {
			return nil
		}
	}

	_, err = e.sdk.NetworkCreate(ctx, name, network.CreateOptions{
		Driver: "bridge",
	})
	if err != nil {
		return fmt.Errorf("containerengine: create network %q: %w", name, err)
	}

	e.logger.Info("network created", "network", name)
	return nil
}
