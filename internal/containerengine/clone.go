package containerengine

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
)

// gitImage carries a git binary plus a minimal shell, used only for the
// single clone command below.
const gitImage = "alpine/git:2.45.2"

// CloneRepo performs a shallow, single-branch clone of url into
// targetDir, using an ephemeral container so the host running this
// daemon never needs git installed itself.
//
// When token is non-empty, it is passed to the container as the
// GIT_TOKEN environment variable and the clone URL references
// "${GIT_TOKEN}" for the shell inside the container to expand at run
// time. The token is never formatted into the command string on the Go
// side, so it cannot appear in a process listing of this daemon or in
// any log line that captures the constructed command.
func (e *Engine) CloneRepo(ctx context.Context, url, branch, targetDir, token string) error {
	if err := e.EnsureImage(ctx, gitImage); err != nil {
		return err
	}

	parent := filepath.Dir(targetDir)
	leaf := filepath.Base(targetDir)

	cloneURL := url
	env := []string{}
	if token != "" {
		cloneURL = withTokenPlaceholder(url, token)
		env = append(env, "GIT_TOKEN="+token)
	}

	script := fmt.Sprintf(
		`git clone --depth 1 --single-branch --branch %s "%s" "/workspace/%s"`,
		shellQuote(branch), cloneURL, leaf,
	)

	internalConfig := &container.Config{
		Image: gitImage,
		Cmd:   []string{"sh", "-c", script},
		Env:   env,
	}
	hostConfig := &container.HostConfig{
		Mounts: []mount.Mount{
			{Type: mount.TypeBind, Source: parent, Target: "/workspace"},
		},
		AutoRemove: true,
	}

	created, err := e.sdk.ContainerCreate(ctx, internalConfig, hostConfig, nil, nil, "")
	if err != nil {
		return fmt.Errorf("containerengine: create clone container: %w", err)
	}
	if err := e.sdk.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		return fmt.Errorf("containerengine: start clone container: %w", err)
	}

	statusCh, errCh := e.sdk.ContainerWait(ctx, created.ID, container.WaitConditionNotRunning)
	select {
	case waitErr := <-errCh:
		if waitErr != nil {
			return fmt.Errorf("containerengine: wait for clone container: %w", waitErr)
		}
	case status := <-statusCh:
		if status.StatusCode != 0 {
			logs, _ := e.sdk.ContainerLogs(ctx, created.ID, container.LogsOptions{ShowStdout: true, ShowStderr: true})
			var output string
			if logs != nil {
				defer logs.Close()
				output, _ = demux(logs)
			}
			return fmt.Errorf("containerengine: git clone exited %d: %s", status.StatusCode, output)
		}
	}

	e.logger.Info("repository cloned", "url", url, "branch", branch, "target", targetDir)
	return nil
}

// withTokenPlaceholder rewrites an https:// clone URL to embed a
// "${GIT_TOKEN}" reference in place of credentials, for a private repo
// clone where the host git server expects an x-access-token-style
// username.
func withTokenPlaceholder(url, token string) string {
	const prefix = "https://"
	if len(url) > len(prefix) && url[:len(prefix)] == prefix {
		return prefix + "x-access-token:${GIT_TOKEN}@" + url[len(prefix):]
	}
	return url
}

// shellQuote guards against a branch name containing shell metacharacters
// when interpolated into the clone script.
func shellQuote(s string) string {
	safe := true
	for _, r := range s {
		if !(r == '-' || r == '_' || r == '.' || r == '/' ||
			(r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')) {
			safe = false
			break
		}
	}
	if safe {
		return s
	}
	return "main"
}
