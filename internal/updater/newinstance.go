package updater

import (
	"context"
	"fmt"
	"net"
	"time"
)

// RunAsNewInstance is called at startup when ODAC_UPDATE_MODE=true: this
// process is the freshly spawned "odac-update" sibling attempting to
// take over from the running "odac" container. socketPath comes from
// ODAC_UPDATE_SOCKET_PATH.
func (u *Updater) RunAsNewInstance(ctx context.Context, socketPath string) error {
	conn, err := net.DialTimeout("unix", socketPath, 10*time.Second)
	if err != nil {
		return fmt.Errorf("updater: dial handshake socket: %w", err)
	}
	defer conn.Close()
	hs := newHandshakeConn(conn)

	if err := hs.send(lineHandshakeReady); err != nil {
		return err
	}
	if err := hs.expect(lineHandshakeAck); err != nil {
		return err
	}

	if err := u.takeover(ctx); err != nil {
		return fmt.Errorf("updater: takeover: %w", err)
	}

	u.logger.Info("takeover complete, entering stability window", "window", stabilityWindow)
	time.Sleep(stabilityWindow)

	if err := hs.send(lineTakeoverComplete); err != nil {
		return err
	}
	if err := hs.expect(lineHandoverComplete); err != nil {
		return err
	}

	u.logger.Info("handover acknowledged by previous instance, now primary")
	return nil
}

// takeover renames the outgoing container out of the way and claims its
// name, so this instance is the one bound to the public listeners from
// here on.
func (u *Updater) takeover(ctx context.Context) error {
	if err := u.engine.Rename(ctx, currentContainerName, backupContainerName); err != nil {
		return fmt.Errorf("rename current to backup: %w", err)
	}
	if err := u.engine.Rename(ctx, updateContainerName, currentContainerName); err != nil {
		return fmt.Errorf("rename update to current: %w", err)
	}
	return nil
}
