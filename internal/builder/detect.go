/*
Package builder turns a source directory into a runnable container
image in two stages — an unprivileged compile phase and an image
packaging phase — without ever requiring the daemon or its helper
containers to run as a privileged container themselves.
*/
package builder

import (
	"fmt"
	"os"
	"path/filepath"
)

// Strategy names one of the supported project types, each with its own
// compiler image and build/package recipe.
type Strategy string

const (
	StrategyCustomDockerfile Strategy = "dockerfile"
	StrategyPython           Strategy = "python"
	StrategyGo               Strategy = "go"
	StrategyNode             Strategy = "node"
	StrategyPHP              Strategy = "php"
	StrategyStatic           Strategy = "static"
)

// strategyProfile bundles the compiler image and commands for a detected
// project type.
type strategyProfile struct {
	BuilderImage string
	InstallCmd   string
	BuildCmd     string
	RunCmd       []string
	BaseImage    string
	// CopyTo is the in-image path the packaged source is copied to.
	// Every strategy uses /app except static, which copies straight
	// into Nginx's default document root.
	CopyTo string
}

var profiles = map[Strategy]strategyProfile{
	StrategyPython: {
		BuilderImage: "python:3.12-slim",
		InstallCmd:   "pip install --no-cache-dir -r requirements.txt || pip install --no-cache-dir .",
		BuildCmd:     "true",
		RunCmd:       []string{"python", "main.py"},
		BaseImage:    "python:3.12-slim",
	},
	StrategyGo: {
		BuilderImage: "golang:1.25-alpine",
		InstallCmd:   "go mod download",
		BuildCmd:     "go build -o /app/bin/app .",
		RunCmd:       []string{"/app/bin/app"},
		BaseImage:    "alpine:3.20",
	},
	StrategyNode: {
		BuilderImage: "node:20-alpine",
		InstallCmd:   "npm ci",
		BuildCmd:     "npm run build --if-present",
		RunCmd:       []string{"npm", "start"},
		BaseImage:    "node:20-alpine",
	},
	StrategyPHP: {
		BuilderImage: "composer:2",
		InstallCmd:   "composer install --no-dev",
		BuildCmd:     "true",
		RunCmd:       []string{"php", "-S", "0.0.0.0:8080"},
		BaseImage:    "php:8.3-cli-alpine",
	},
	StrategyStatic: {
		BuilderImage: "",
		InstallCmd:   "",
		BuildCmd:     "",
		RunCmd:       nil,
		BaseImage:    "nginx:alpine",
		CopyTo:       "/usr/share/nginx/html",
	},
}

func copyTarget(p strategyProfile) string {
	if p.CopyTo != "" {
		return p.CopyTo
	}
	return "/app"
}

// Detect inspects sourceDir and picks a Strategy in priority order: an
// explicit Dockerfile always wins and routes to the custom track; absent
// that, the first trigger file present selects an auto-track strategy.
// A directory matching none of the triggers fails with a named,
// user-facing error rather than a generic "unsupported" message.
func Detect(sourceDir string) (Strategy, error) {
	if exists(filepath.Join(sourceDir, "Dockerfile")) {
		return StrategyCustomDockerfile, nil
	}
	switch {
	case existsAny(sourceDir, "requirements.txt", "pyproject.toml"):
		return StrategyPython, nil
	case exists(filepath.Join(sourceDir, "go.mod")):
		return StrategyGo, nil
	case exists(filepath.Join(sourceDir, "package.json")):
		return StrategyNode, nil
	case existsAny(sourceDir, "composer.json", "index.php"):
		return StrategyPHP, nil
	case exists(filepath.Join(sourceDir, "index.html")):
		return StrategyStatic, nil
	}
	return "", fmt.Errorf("builder: no-project-type: %s matches no known strategy", sourceDir)
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func existsAny(dir string, names ...string) bool {
	for _, name := range names {
		if exists(filepath.Join(dir, name)) {
			return true
		}
	}
	return false
}
