// Package natssink adapts the teacher's NATS client wrapper into a
// concrete replicator.Sink: every flushed batch is JSON-encoded and
// published on a per-sensor subject. This is the optional downstream
// spec.md §4.8 calls "out of scope" for the core.
package natssink

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/adiibanez/sensocto/internal/config"
	"github.com/adiibanez/sensocto/internal/types"
	"github.com/adiibanez/sensocto/pkg/log"
)

// Sink publishes replicator batches to NATS. It implements
// replicator.Sink without importing internal/replicator, to keep this
// package usable standalone.
type Sink struct {
	conn          *nats.Conn
	subjectPrefix string

	mu            sync.Mutex
	subscriptions []*nats.Subscription
}

// Connect dials the NATS server described by cfg and returns a Sink that
// publishes batches under "<subjectPrefix>.<sensor_id>". A nil cfg or
// empty address is a configuration error — callers that want an optional
// sink should fall back to replicator.NoopSink instead of calling Connect.
func Connect(cfg *config.NatsConfig, subjectPrefix string) (*Sink, error) {
	if cfg == nil || cfg.Address == "" {
		return nil, fmt.Errorf("natssink: address is required")
	}

	var opts []nats.Option

	if cfg.Username != "" && cfg.Password != "" {
		opts = append(opts, nats.UserInfo(cfg.Username, cfg.Password))
	}
	if cfg.CredsFilePath != "" {
		opts = append(opts, nats.UserCredentials(cfg.CredsFilePath))
	}

	opts = append(opts, nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
		if err != nil {
			log.Warnf("natssink: disconnected: %v", err)
		}
	}))
	opts = append(opts, nats.ReconnectHandler(func(nc *nats.Conn) {
		log.Infof("natssink: reconnected to %s", nc.ConnectedUrl())
	}))
	opts = append(opts, nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
		log.Errorf("natssink: %v", err)
	}))

	nc, err := nats.Connect(cfg.Address, opts...)
	if err != nil {
		return nil, fmt.Errorf("natssink: connect: %w", err)
	}

	log.Infof("natssink: connected to %s", cfg.Address)

	if subjectPrefix == "" {
		subjectPrefix = "sensocto.measurements"
	}

	return &Sink{conn: nc, subjectPrefix: subjectPrefix}, nil
}

// Write JSON-encodes batch and publishes it on this sink's per-sensor
// subject. Per spec.md §4.8, a publish failure is returned to the caller
// (the replicator worker) to log and move on from — there is no retry
// queue.
func (s *Sink) Write(sensorID string, batch []types.Measurement) error {
	data, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("natssink: marshal batch for %s: %w", sensorID, err)
	}

	subject := s.subjectFor(sensorID)
	if err := s.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("natssink: publish to %s: %w", subject, err)
	}
	return nil
}

func (s *Sink) subjectFor(sensorID string) string {
	return fmt.Sprintf("%s.%s", s.subjectPrefix, sensorID)
}

// IsConnected reports whether the underlying NATS connection is active.
func (s *Sink) IsConnected() bool {
	return s.conn != nil && s.conn.IsConnected()
}

// Close unsubscribes everything and closes the connection.
func (s *Sink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sub := range s.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			log.Warnf("natssink: unsubscribe failed: %v", err)
		}
	}
	s.subscriptions = nil

	if s.conn != nil {
		s.conn.Close()
		log.Info("natssink: connection closed")
	}
}
