package website

import (
	"fmt"
	"io"
	"os/exec"
	"strconv"

	"github.com/odacrun/odac/internal/process"
)

// spawnStaticServer starts the fallback local backend for a website with
// no container image assigned: a plain static file server rooted at
// docRoot, the same role a "static" Builder strategy's runtime image
// would otherwise fill inside a container.
func spawnStaticServer(docRoot string, port int, logs io.Writer) (int, error) {
	cmd := exec.Command("python3", "-m", "http.server", strconv.Itoa(port))
	cmd.Dir = docRoot
	cmd.Stdout = logs
	cmd.Stderr = logs

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("website: start static server in %q: %w", docRoot, err)
	}
	return cmd.Process.Pid, nil
}

func processIsAlive(pid int) bool {
	return process.IsAlive(pid)
}
