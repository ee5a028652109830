package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"gpiobridge-go/config"
	"gpiobridge-go/controller"
	"gpiobridge-go/identity"
	"gpiobridge-go/services/hal"
	"gpiobridge-go/store"
	"gpiobridge-go/store/firestore"
	"gpiobridge-go/store/memstore"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg := config.Load()

	log := newLogger(cfg.SimulateHardware)
	defer log.Sync()

	if err := cfg.Validate(); err != nil {
		log.Fatalw("invalid configuration", "err", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h, err := newHAL(cfg, log)
	if err != nil {
		log.Fatalw("hardware init failed", "err", err)
	}

	cli, err := newStore(ctx, cfg, log)
	if err != nil {
		log.Fatalw("document store init failed", "err", err)
	}
	defer cli.Close()

	ctl := controller.New(cfg, cli, h, identity.CPUInfo{}, clock.New(), log)
	if err := ctl.Start(ctx); err != nil {
		log.Fatalw("bootstrap failed", "err", err)
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigs
	log.Infow("shutting down", "signal", sig)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stopCancel()
	ctl.Stop(stopCtx)
}

func newLogger(simulate bool) *zap.SugaredLogger {
	var l *zap.Logger
	var err error
	if simulate {
		l, err = zap.NewDevelopment()
	} else {
		l, err = zap.NewProduction()
	}
	if err != nil {
		panic(err)
	}
	return l.Sugar()
}

func newHAL(cfg config.Config, log *zap.SugaredLogger) (hal.HAL, error) {
	if cfg.SimulateHardware {
		log.Infow("using simulated hardware")
		return hal.NewSimulator(), nil
	}
	return hal.NewPeriph(log)
}

func newStore(ctx context.Context, cfg config.Config, log *zap.SugaredLogger) (store.Client, error) {
	if cfg.SimulateHardware && cfg.FirestoreProject == "" {
		log.Infow("using in-memory document store")
		return memstore.New(), nil
	}
	return firestore.New(ctx, cfg.FirestoreProject, cfg.FirestoreCredentials, cfg.RPCTimeout, log)
}
