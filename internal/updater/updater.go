/*
Package updater is the self-updater: on Linux, a zero-downtime handover
of the daemon to a freshly spawned sibling container over a Unix-domain
socket handshake; on any other platform, a simpler container-swap
fallback driven by a short-lived helper container. Both paths are
coordinated state machines built around models.UpdateSession /
models.UpdatePhase rather than ad-hoc error handling, so a failure at
any step has one well-defined recovery: rollback.
*/
package updater

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/odacrun/odac/internal/config"
	"github.com/odacrun/odac/internal/containerengine"
	"github.com/odacrun/odac/internal/models"
)

const (
	// currentContainerName is the well-known name of the running daemon
	// container; backupContainerName is what it's renamed to mid-handover.
	currentContainerName = "odac"
	backupContainerName  = "odac-backup"
	updateContainerName  = "odac-update"

	defaultImage = "odacrun/odac:latest"

	stabilityWindow  = 15 * time.Second
	overallDeadline  = 5 * time.Minute
	gcDelay          = 60 * time.Second
	nonLinuxGraceGap = 5 * time.Second
)

// Stopper is the subset of the Website/Service Supervisors the updater
// calls into while handing control over to the new instance.
type Stopper interface {
	StopAll(ctx context.Context)
}

// Updater owns a single update attempt at a time; Session is nil between
// attempts.
type Updater struct {
	logger  *slog.Logger
	store   *config.Store
	engine  *containerengine.Engine
	sites   Stopper
	svcs    Stopper
	channel string

	instanceID string
	runDir     string

	session *models.UpdateSession
}

// New constructs an Updater. channel selects the update source: "beta"
// and "dev" force a build-from-source (git clone + in-engine docker
// build) per spec §4.10 step 1; "stable" and any other value pull the
// published image. runDir is the directory holding per-instance pid/socket files
// (the daemon's "~/.odac/run").
func New(logger *slog.Logger, store *config.Store, engine *containerengine.Engine, sites, svcs Stopper, channel, runDir string) *Updater {
	u := &Updater{
		logger:     logger,
		store:      store,
		engine:     engine,
		sites:      sites,
		svcs:       svcs,
		channel:    channel,
		runDir:     runDir,
		instanceID: currentInstanceID(),
	}
	store.Server(func(server *config.ServerModule) {
		server.InstanceID = u.instanceID
		server.StartedAtEpochMs = time.Now().UnixMilli()
	})
	return u
}

func currentInstanceID() string {
	if id := os.Getenv("ODAC_INSTANCE_ID"); id != "" {
		return id
	}
	return uuid.NewString()
}

func (u *Updater) setPhase(phase models.UpdatePhase) {
	if u.session == nil {
		return
	}
	u.session.Phase = phase
	u.logger.Info("update phase", "phase", phase, "session", u.session.NewInstanceID)
}

var errAlreadyRunning = fmt.Errorf("updater: update already in progress")
