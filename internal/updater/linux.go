package updater

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/odacrun/odac/internal/builder"
	"github.com/odacrun/odac/internal/containerengine"
	"github.com/odacrun/odac/internal/models"
)

// RunLinux drives the full 5-phase zero-downtime handover as the current
// (old) instance: check for an update, listen for the new instance's
// handshake, spawn it, complete the handshake, and garbage-collect the
// old instance's files once the new one is stable. It returns nil when
// no update was needed or the update completed successfully; any
// returned error means the attempt rolled back and the caller is still
// the primary instance.
func (u *Updater) RunLinux(ctx context.Context, bld *builder.Builder) error {
	if u.session != nil {
		return errAlreadyRunning
	}

	deadlineCtx, cancel := context.WithTimeout(ctx, overallDeadline)
	defer cancel()

	image, needed, err := u.checkForUpdate(deadlineCtx, bld)
	if err != nil {
		return fmt.Errorf("updater: check: %w", err)
	}
	if !needed {
		u.logger.Info("no update available")
		return nil
	}

	newInstanceID := uuid.NewString()
	sockPath := filepath.Join(u.runDir, "update.sock")

	u.session = &models.UpdateSession{
		PreviousInstanceID: u.instanceID,
		NewInstanceID:      newInstanceID,
		SocketPath:         sockPath,
		Phase:              "checking",
		StartedAtEpochMs:   time.Now().UnixMilli(),
	}
	defer func() { u.session = nil }()

	u.setPhase("spawning")

	_ = os.Remove(sockPath)
	if err := os.MkdirAll(filepath.Dir(sockPath), 0o755); err != nil {
		return fmt.Errorf("updater: create run dir: %w", err)
	}
	ln, err := net.Listen("unix", sockPath)
	if err != nil {
		return fmt.Errorf("updater: listen on handshake socket: %w", err)
	}
	defer ln.Close()
	defer os.Remove(sockPath)

	if err := u.spawnSibling(deadlineCtx, image, newInstanceID, sockPath); err != nil {
		return fmt.Errorf("updater: spawn sibling: %w", err)
	}

	u.setPhase("handshake-awaiting-ready")
	if err := u.acceptHandshake(deadlineCtx, ln); err != nil {
		u.logger.Error("CRITICAL: new container disconnected prematurely", "error", err)
		u.rollback(deadlineCtx)
		return err
	}

	u.logger.Info("self-update handover complete", "new_instance", newInstanceID)
	return nil
}

// acceptHandshake runs the old-instance half of the handshake: accept
// one connection, read HANDSHAKE_READY, acknowledge it, wait for the
// TAKEOVER_COMPLETE the new instance sends after its takeover and
// stability window, then stop everything and say goodbye.
func (u *Updater) acceptHandshake(ctx context.Context, ln net.Listener) error {
	type acceptResult struct {
		conn net.Conn
		err  error
	}
	acceptCh := make(chan acceptResult, 1)
	go func() {
		conn, err := ln.Accept()
		acceptCh <- acceptResult{conn, err}
	}()

	var conn net.Conn
	select {
	case res := <-acceptCh:
		if res.err != nil {
			return fmt.Errorf("accept handshake connection: %w", res.err)
		}
		conn = res.conn
	case <-ctx.Done():
		return fmt.Errorf("accept handshake connection: %w", ctx.Err())
	}
	defer conn.Close()

	hs := newHandshakeConn(conn)

	if err := hs.expect(lineHandshakeReady); err != nil {
		return err
	}

	u.setPhase("ack-sent")
	if err := hs.send(lineHandshakeAck); err != nil {
		return err
	}

	// The new instance now performs takeover (rename odac -> odac-backup,
	// odac-update -> odac) and waits out its own stability window before
	// reporting TAKEOVER_COMPLETE. The old instance just waits.
	u.setPhase("stability-window")
	if err := hs.expect(lineTakeoverComplete); err != nil {
		return err
	}

	u.setPhase("handover-committed")
	u.sites.StopAll(ctx)
	u.svcs.StopAll(ctx)

	if err := u.engine.DisableRestartPolicy(ctx, backupContainerName); err != nil {
		u.logger.Warn("failed to disable restart policy on backup container", "error", err)
	}

	if err := hs.send(lineHandoverComplete); err != nil {
		return err
	}

	u.setPhase("self-destruct")
	go u.garbageCollect(u.instanceID)
	return nil
}

// spawnSibling creates and starts the "odac-update" container that will
// attempt the takeover, carrying forward the current container's env and
// binds minus the update-mode markers, plus the markers this new attempt
// actually needs.
func (u *Updater) spawnSibling(ctx context.Context, image, newInstanceID, sockPath string) error {
	env, binds, err := u.engine.EnvAndBinds(ctx, currentContainerName)
	if err != nil {
		return err
	}
	env = stripUpdateEnv(env)
	env = append(env,
		"ODAC_UPDATE_MODE=true",
		"ODAC_INSTANCE_ID="+newInstanceID,
		"ODAC_PREVIOUS_INSTANCE_ID="+u.instanceID,
		"ODAC_UPDATE_SOCKET_PATH="+sockPath,
	)

	return u.engine.SpawnSibling(ctx, containerengine.SpawnConfig{
		Name:  updateContainerName,
		Image: image,
		Env:   env,
		Binds: binds,
	})
}

func stripUpdateEnv(env []string) []string {
	out := make([]string, 0, len(env))
	for _, kv := range env {
		switch {
		case hasEnvKey(kv, "ODAC_UPDATE_MODE"), hasEnvKey(kv, "ODAC_INSTANCE_ID"),
			hasEnvKey(kv, "ODAC_PREVIOUS_INSTANCE_ID"), hasEnvKey(kv, "ODAC_UPDATE_SOCKET_PATH"):
			continue
		default:
			out = append(out, kv)
		}
	}
	return out
}

func hasEnvKey(kv, key string) bool {
	return len(kv) > len(key) && kv[:len(key)] == key && kv[len(key)] == '='
}

// rollback removes the failed sibling container and restores the
// original container under its original name, leaving the daemon
// running exactly as it was before the attempt.
//
// The two callers reach this at different points in the handover and
// must be undone differently. A disconnect while still waiting on
// HANDSHAKE_READY/HANDSHAKE_ACK means takeover (newinstance.go's
// rename of odac -> odac-backup, odac-update -> odac) never ran: "odac"
// is still the live original instance, and only the dead sibling under
// "odac-update" needs cleaning up. A disconnect while waiting on
// TAKEOVER_COMPLETE means the sibling already renamed itself in and
// then died: "odac" now names the dead sibling and the live original
// is parked at "odac-backup", so rollback must remove whatever now
// holds "odac" before renaming the backup back.
func (u *Updater) rollback(ctx context.Context) {
	takeoverRan := u.session != nil && takeoverPhases[u.session.Phase]
	u.setPhase("rollback-ready")

	if takeoverRan {
		if err := u.engine.Remove(ctx, currentContainerName); err != nil {
			u.logger.Warn("failed to remove dead sibling holding current container name", "error", err)
		}
		if err := u.engine.Rename(ctx, backupContainerName, currentContainerName); err != nil {
			u.logger.Warn("failed to rename backup container back", "error", err)
		}
	} else {
		if err := u.engine.Remove(ctx, updateContainerName); err != nil {
			u.logger.Warn("failed to remove failed update container", "error", err)
		}
	}

	u.setPhase("rolled-back")
}

// takeoverPhases are the phases reached only after the sibling has
// already renamed itself onto the current container name.
var takeoverPhases = map[models.UpdatePhase]bool{
	"stability-window":   true,
	"handover-committed": true,
	"self-destruct":      true,
}
