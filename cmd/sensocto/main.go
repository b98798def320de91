// Package main is sensocto's composition root: it wires the pub/sub bus,
// tiered store, attention tracker, load monitor, sensor supervisor,
// replicator pool, and (optionally) the demo simulator together, then
// waits for SIGINT/SIGTERM to shut down gracefully. Mirrors the teacher's
// cmd/cc-backend/main.go flag-parsing and signal-handling shape, stripped
// of everything HTTP/DB/auth since this core has no server surface.
package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/adiibanez/sensocto/internal/attention"
	"github.com/adiibanez/sensocto/internal/attrworker"
	"github.com/adiibanez/sensocto/internal/biofactors"
	"github.com/adiibanez/sensocto/internal/config"
	"github.com/adiibanez/sensocto/internal/loadmonitor"
	"github.com/adiibanez/sensocto/internal/natssink"
	"github.com/adiibanez/sensocto/internal/pubsub"
	"github.com/adiibanez/sensocto/internal/replicator"
	"github.com/adiibanez/sensocto/internal/scheduler"
	"github.com/adiibanez/sensocto/internal/sensorworker"
	"github.com/adiibanez/sensocto/internal/simulator"
	"github.com/adiibanez/sensocto/internal/store"
	"github.com/adiibanez/sensocto/internal/supervisor"
	"github.com/adiibanez/sensocto/internal/topics"
	"github.com/adiibanez/sensocto/internal/types"
	"github.com/adiibanez/sensocto/pkg/log"
)

func main() {
	var flagConfigFile, flagEnvFile string
	var flagNoSimulator bool
	flag.StringVar(&flagConfigFile, "config", "./config.json", "Overwrite the default options with those in `config.json`")
	flag.StringVar(&flagEnvFile, "env", "./.env", "Load environment variables from `file` before reading the config")
	flag.BoolVar(&flagNoSimulator, "no-simulator", false, "Never start the demo simulator, even if config enables it")
	flag.Parse()

	if err := godotenv.Load(flagEnvFile); err != nil && !os.IsNotExist(err) {
		log.Fatalf("loading '%s' failed: %s", flagEnvFile, err.Error())
	}

	if err := config.Init(flagConfigFile); err != nil {
		log.Fatal(err)
	}
	log.SetLevel(config.Keys.LogLevel)
	log.SetLogDateTime(config.Keys.LogDateTime)

	if err := scheduler.Start(); err != nil {
		log.Fatalf("scheduler: start: %s", err.Error())
	}
	defer scheduler.Shutdown()

	bus := pubsub.New()
	st := store.New(config.Keys.AttributeStoreHotLimit, config.Keys.AttributeStoreWarmLimit)

	loadMon := loadmonitor.New(bus, time.Duration(config.Keys.Load.SampleIntervalMs)*time.Millisecond, nil)
	if err := loadMon.Start(); err != nil {
		log.Fatalf("loadmonitor: start: %s", err.Error())
	}

	// The store scales its retention caps off the same system:load
	// samples; it doesn't run its own sampling loop.
	loadSub := bus.Subscribe(topics.SystemLoad)
	go func() {
		for msg := range loadSub.C() {
			if sample, ok := msg.Payload.(types.LoadSample); ok {
				st.SetLoadLevel(sample.Level)
			}
		}
	}()

	tracker := attention.New(bus, loadMon, biofactors.Neutral())
	if err := scheduler.RegisterEvery(
		"attention:sweep-stale",
		time.Duration(config.Keys.Attention.StaleSweepIntervalMs)*time.Millisecond,
		tracker.SweepStale,
	); err != nil {
		log.Fatalf("scheduler: register attention sweep: %s", err.Error())
	}

	sink := replicatorSink()
	pool := replicator.New(bus, sink, replicator.Config{
		PoolSize:     config.Keys.ReplicatorPoolSize,
		BatchSize:    config.Keys.ReplicatorBatchSize,
		BatchTimeout: time.Duration(config.Keys.ReplicatorBatchTimeoutMs) * time.Millisecond,
	})
	pool.Start()
	defer pool.Stop()

	sup := supervisor.New(bus, st, tracker, pool, supervisor.Config{
		WorkerConfig: sensorworker.Config{
			IdleCheckInterval:  time.Duration(config.Keys.Sensor.IdleCheckIntervalMs) * time.Millisecond,
			HibernateAfter:     time.Duration(config.Keys.Sensor.HibernateAfterMs) * time.Millisecond,
			PriorityAttributes: config.Keys.PriorityAttributes,
		},
	})

	var sim *simulator.Simulator
	if config.Keys.Simulator.Enabled && !flagNoSimulator {
		sim = simulator.New(sup, bus, tracker, loadMon, nil, attrworker.Config{
			BaseDelayMs:       config.Keys.Simulator.BaseDelayMs,
			BaseBatchWindowMs: config.Keys.Simulator.BaseBatchWindowMs,
			BatchSize:         config.Keys.Simulator.BatchSize,
		}, time.Now().UnixNano())
		sim.SpawnAll(simulator.DefaultSpecs(config.Keys.Simulator.SensorCount, config.Keys.Simulator.Attributes))
		log.Infof("simulator: driving %d demo sensors", config.Keys.Simulator.SensorCount)
	}

	log.Info("sensocto: running")

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs

	log.Info("sensocto: shutting down")

	if sim != nil {
		sim.Stop()
	}
	for _, sensorID := range sup.ListSensors() {
		sup.RemoveSensor(sensorID)
	}

	log.Info("sensocto: shutdown complete")
}

// replicatorSink wires internal/natssink when nats.address is configured,
// falling back to replicator.NoopSink otherwise — NATS is an optional
// downstream, never a hard dependency of the core (spec.md §4.8).
func replicatorSink() replicator.Sink {
	if config.Keys.Nats == nil || config.Keys.Nats.Address == "" {
		return replicator.NoopSink{}
	}

	sink, err := natssink.Connect(config.Keys.Nats, "sensocto.measurements")
	if err != nil {
		log.Warnf("natssink: connect failed, falling back to no-op sink: %s", err.Error())
		return replicator.NoopSink{}
	}
	return sink
}
