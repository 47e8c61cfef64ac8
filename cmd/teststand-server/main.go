// Command teststand-server runs the ground control plane: it announces
// itself over multicast, accepts device connections, and drives each
// device's session loop until the process is asked to stop.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/xid"
	"github.com/sirupsen/logrus"

	"github.com/qret-proptestbench/teststand/internal/acceptor"
	"github.com/qret-proptestbench/teststand/internal/config"
	"github.com/qret-proptestbench/teststand/internal/device"
	"github.com/qret-proptestbench/teststand/internal/discovery"
	"github.com/qret-proptestbench/teststand/internal/logging"
	"github.com/qret-proptestbench/teststand/internal/metrics"
	"github.com/qret-proptestbench/teststand/internal/registry"
	"github.com/qret-proptestbench/teststand/internal/session"
	"github.com/qret-proptestbench/teststand/internal/snapshot"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logFacade := logging.New(os.Stdout)
	if level, lerr := logrus.ParseLevel(cfg.LogLevel); lerr == nil {
		logFacade.SetLevel(level)
	}

	reg := registry.New()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.MetricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
				logFacade.Publish(logging.Errlog, "metrics server stopped", logrus.Fields{"error": err.Error()})
			}
		}()
		logFacade.Publish(logging.Syslog, "metrics listening", logrus.Fields{"addr": cfg.MetricsAddr})
	}

	emitter, err := discovery.NewEmitter(cfg.MulticastAddr, logFacade, time.Now())
	if err != nil {
		log.Fatalf("start discovery emitter: %v", err)
	}
	go emitter.Run(ctx)

	if cfg.SnapshotPath != "" {
		writer := &snapshot.Writer{Registry: reg, Path: cfg.SnapshotPath, TTL: cfg.ResyncTTL}
		stop := make(chan struct{})
		go func() {
			<-ctx.Done()
			close(stop)
		}()
		go func() {
			if err := writer.Run(stop); err != nil {
				logFacade.Publish(logging.Errlog, "snapshot writer stopped", logrus.Fields{"error": err.Error()})
			}
		}()
		logFacade.Publish(logging.Syslog, "publishing device snapshots", logrus.Fields{"path": cfg.SnapshotPath})
	}

	startSession := func(id xid.ID, d *device.Device) {
		s := session.New(id, d, reg, logFacade)
		go s.Run(ctx)
	}

	a, err := acceptor.Listen(cfg.ListenAddr, reg, logFacade, startSession)
	if err != nil {
		log.Fatalf("start acceptor: %v", err)
	}
	logFacade.Publish(logging.Syslog, "acceptor listening", logrus.Fields{"addr": cfg.ListenAddr})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logFacade.Publish(logging.Syslog, "shutting down", nil)
	a.Close()
	cancel()
}
