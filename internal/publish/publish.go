//
// Copyright (C) 2021 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

// Package publish sends inventory events to a message bus.
package publish

import (
	"context"
	"encoding/json"
	"time"

	"github.com/edgexfoundry/go-mod-core-contracts/v2/clients/logger"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"

	"edgexfoundry/app-rfid-gen2-reader/internal/inventory"
	"edgexfoundry/app-rfid-gen2-reader/internal/reader"
)

const (
	SubjectTagArrived     = "gen2.tag.arrived"
	SubjectTagRead        = "gen2.tag.read"
	SubjectRoundCompleted = "gen2.round.completed"
)

// Publisher emits JSON messages on subjects.
type Publisher interface {
	Publish(ctx context.Context, subject string, msg interface{}) error
	Close() error
}

// NATSPublisher publishes to a NATS server, reconnecting as needed.
type NATSPublisher struct {
	conn *nats.Conn
}

func NewNATSPublisher(url string, opts ...nats.Option) (*NATSPublisher, error) {
	defaults := []nats.Option{
		nats.Name("gen2-reader"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	}
	nc, err := nats.Connect(url, append(defaults, opts...)...)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to connect to NATS at %s", url)
	}
	return &NATSPublisher{conn: nc}, nil
}

func (p *NATSPublisher) Publish(_ context.Context, subject string, msg interface{}) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "failed to marshal message")
	}
	return errors.Wrapf(p.conn.Publish(subject, data), "failed to publish to %s", subject)
}

// Flush waits for the server to process everything published so far.
func (p *NATSPublisher) Flush() error {
	return p.conn.Flush()
}

// Close drains pending messages before closing the connection.
func (p *NATSPublisher) Close() error {
	return p.conn.Drain()
}

// NoopPublisher drops every message; it's used when no bus is configured.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, string, interface{}) error {
	return nil
}

func (NoopPublisher) Close() error {
	return nil
}

// TagMessage is published for every inventory event.
type TagMessage struct {
	ID     string              `json:"id"`
	Source string              `json:"source"`
	Type   inventory.EventType `json:"type"`
	inventory.BaseEvent
	ReadCount int `json:"read_count"`
}

// RoundMessage is published when an inventory round completes.
type RoundMessage struct {
	ID     string `json:"id"`
	Source string `json:"source"`
	// Timestamp is when the round completed, in Unix Epoch milliseconds.
	Timestamp int64 `json:"timestamp"`
	reader.RoundSummary
}

// Forwarder turns the Reader's observer callbacks into messages.
type Forwarder struct {
	lc      logger.LoggingClient
	pub     Publisher
	source  string
	timeout time.Duration
	// Result, if set, is told the outcome of every publish.
	Result func(subject string, err error)
}

// NewForwarder returns a Forwarder that stamps messages with source,
// usually the reader's device name.
func NewForwarder(lc logger.LoggingClient, pub Publisher, source string) *Forwarder {
	return &Forwarder{lc: lc, pub: pub, source: source, timeout: 2 * time.Second}
}

// TagSubject is the subject for an inventory event type.
func TagSubject(t inventory.EventType) string {
	if t == inventory.ArrivedType {
		return SubjectTagArrived
	}
	return SubjectTagRead
}

// Read publishes an inventory event.
func (f *Forwarder) Read(e inventory.Event) {
	msg := TagMessage{
		ID:        uuid.New().String(),
		Source:    f.source,
		Type:      e.OfType(),
		BaseEvent: e.Base(),
		ReadCount: 1,
	}
	if r, ok := e.(inventory.ReadEvent); ok {
		msg.ReadCount = r.ReadCount
	}
	f.publish(TagSubject(msg.Type), msg)
}

// Round publishes a round summary.
func (f *Forwarder) Round(rs reader.RoundSummary) {
	f.publish(SubjectRoundCompleted, RoundMessage{
		ID:           uuid.New().String(),
		Source:       f.source,
		Timestamp:    inventory.UnixMilliNow(),
		RoundSummary: rs,
	})
}

func (f *Forwarder) publish(subject string, msg interface{}) {
	ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
	defer cancel()

	err := f.pub.Publish(ctx, subject, msg)
	if err != nil {
		f.lc.Warn("Failed to publish.", "subject", subject, "error", err)
	}
	if f.Result != nil {
		f.Result(subject, err)
	}
}
