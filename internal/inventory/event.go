//
// Copyright (C) 2020 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package inventory

// EventType is an enum of the different type of inventory events.
type EventType string

const (
	// note: these values are also used when creating the EdgeX reading names
	// and the published subjects

	// ArrivedType is the event for the first valid read of an EPC,
	// including the first read after the inventory was reset.
	ArrivedType EventType = "Arrived"
	// ReadType is the event for every later valid read of an EPC.
	ReadType EventType = "Read"
)

// BaseEvent holds the values common to all inventory events.
type BaseEvent struct {
	EPC string `json:"epc"`
	// Timestamp is when the read happened, in Unix Epoch milliseconds.
	Timestamp int64 `json:"timestamp"`
	// Round is the inventory round in which the tag was read.
	Round int `json:"round"`
	// Strength is the reply amplitude of this read.
	Strength float64 `json:"strength"`
}

// ArrivedEvent is generated when an EPC is added to the inventory.
type ArrivedEvent struct {
	BaseEvent
}

// ReadEvent is generated when an EPC already in the inventory is read again.
type ReadEvent struct {
	BaseEvent
	// ReadCount is the tag's read count including this read.
	ReadCount int `json:"read_count"`
}

// Event is implemented by the inventory events to map them to their EventType.
type Event interface {
	OfType() EventType
	Base() BaseEvent
}

func (a ArrivedEvent) OfType() EventType {
	return ArrivedType
}

func (a ArrivedEvent) Base() BaseEvent {
	return a.BaseEvent
}

func (r ReadEvent) OfType() EventType {
	return ReadType
}

func (r ReadEvent) Base() BaseEvent {
	return r.BaseEvent
}
