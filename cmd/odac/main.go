package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"

	"github.com/odacrun/odac/internal/config"
	"github.com/odacrun/odac/internal/core"
)

func main() {
	appConfig := config.LoadAppConfig()
	logger := appConfig.NewLogger()

	logger.Info("odac starting",
		"home_dir", appConfig.HomeDir,
		"log_format", appConfig.LogFormat,
		"update_channel", appConfig.UpdateChannel,
	)

	opts := core.Options{
		ConfigDir:         appConfig.ConfigDir,
		ServeRoot:         appConfig.ServeRoot,
		LogRoot:           appConfig.LogRoot,
		RunDir:            filepath.Join(appConfig.HomeDir, "run"),
		ContainerNetwork:  appConfig.ContainerNetwork,
		PublicIP:          getEnv("ODAC_PUBLIC_IP", ""),
		ControlTCPAddr:    "127.0.0.1:" + appConfig.ControlTCPPort,
		ControlSocketPath: appConfig.ControlSocketPath,
		HTTPAddr:          ":" + appConfig.HTTPPort,
		HTTPSAddr:         ":" + appConfig.HTTPSPort,
		DNSListenAddr:     getEnv("ODAC_DNS_ADDR", ":53"),
		ACMEDirectoryURL:  getEnv("ODAC_ACME_DIRECTORY_URL", "https://acme-v02.api.letsencrypt.org/directory"),
		ACMEAccountEmail:  getEnv("ODAC_ACME_EMAIL", ""),
		HubURL:            getEnv("ODAC_HUB_URL", ""),
		UpdateChannel:     appConfig.UpdateChannel,
		AuditDBPath:       filepath.Join(appConfig.HomeDir, "audit.db"),
		AdminAddr:         getEnv("ODAC_ADMIN_ADDR", "127.0.0.1:8088"),
	}

	ctxCore, err := core.New(logger, opts)
	if err != nil {
		log.Fatalf("failed to construct daemon context: %v", err)
	}
	defer ctxCore.Close()

	ctx, cancel := context.WithCancel(context.Background())

	// ODAC_UPDATE_MODE=true means this process is the freshly spawned
	// sibling in a self-update handover (spec §4.10 phase 3): before
	// doing anything else it must complete the Unix-socket handshake
	// with the outgoing instance, during which this process renames the
	// outgoing container to odac-backup and its own container to odac.
	if os.Getenv("ODAC_UPDATE_MODE") == "true" {
		socketPath := getEnv("ODAC_UPDATE_SOCKET_PATH", filepath.Join(opts.RunDir, "update.sock"))
		logger.Info("performing self-update handshake", "socket", socketPath)
		if err := ctxCore.Updater.RunAsNewInstance(ctx, socketPath); err != nil {
			log.Fatalf("self-update handshake failed: %v", err)
		}
	}

	if runtime.GOOS == "linux" {
		go func() {
			if err := ctxCore.Updater.RunLinux(ctx, ctxCore.Builder); err != nil {
				logger.Warn("self-update check failed", "error", err)
			}
		}()
	} else {
		go func() {
			if err := ctxCore.Updater.RunFallback(ctx, ctxCore.Builder); err != nil {
				logger.Warn("self-update check failed", "error", err)
			}
		}()
	}

	shutdownChannel := make(chan error, 1)
	go func() {
		shutdownChannel <- ctxCore.Start(ctx, cancel)
		close(shutdownChannel)
	}()

	signalChannel := make(chan os.Signal, 1)
	signal.Notify(signalChannel, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("startup complete",
		"control_tcp", opts.ControlTCPAddr,
		"control_socket", opts.ControlSocketPath,
		"http", opts.HTTPAddr,
		"https", opts.HTTPSAddr,
	)

	select {
	case sig := <-signalChannel:
		logger.Info("shutdown signal received", "signal", sig)
		cancel()
		<-shutdownChannel
	case err := <-shutdownChannel:
		if err != nil {
			logger.Error("daemon stopped with an error", "error", err)
		}
	}

	logger.Info("odac stopped cleanly")
}

func getEnv(key, fallbackValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallbackValue
}
