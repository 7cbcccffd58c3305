// Command dryerd is the dryer control subsystem's process entry point.
// Grounded on the teacher's main(): parses flags, builds a logrus logger
// with the same text formatter/timestamp layout, wires the Moonraker
// client, store, telemetry hub and supervisor, starts the supervisor as a
// background goroutine (teacher's go statePoller(...)) and serves the
// control API on the foreground goroutine (teacher's blocking
// webserver(*httpPort) is the last statement of main).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/idryer/dryerd/internal/api"
	"github.com/idryer/dryerd/internal/config"
	"github.com/idryer/dryerd/internal/moonraker"
	"github.com/idryer/dryerd/internal/store"
	"github.com/idryer/dryerd/internal/supervisor"
	"github.com/idryer/dryerd/internal/telemetry"
)

func main() {
	cfg, err := config.Parse(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}

	loglevel := log.InfoLevel
	if cfg.Debug {
		loglevel = log.DebugLevel
	}
	log.SetLevel(loglevel)

	customFormatter := new(log.TextFormatter)
	customFormatter.TimestampFormat = "2006-01-02 15:04:05"
	customFormatter.FullTimestamp = true
	log.SetFormatter(customFormatter)

	logger := log.NewEntry(log.StandardLogger())

	client := moonraker.New(cfg.MoonrakerURL, cfg.MoonrakerAPIKey)
	st := store.NewMemory()

	var hub *telemetry.Hub
	if cfg.MQTTBrokerURL != "" {
		hub, err = telemetry.Connect(cfg.MQTTBrokerURL, cfg.MQTTUsername, cfg.MQTTPassword, logger)
		if err != nil {
			log.Panicf("error connecting to mqtt broker: %s", err.Error())
		}
		defer hub.Close()
		log.AddHook(telemetry.NewHook(hub))
	}

	sup := supervisor.New(client, st, hub, logger)
	server := api.New(st, sup, logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go sup.Run(ctx)

	addr := fmt.Sprintf(":%d", cfg.HTTPPort)
	if err := server.Run(addr); err != nil {
		log.WithError(err).Error("control API server exited")
	}
}
