//
// Copyright (C) 2021 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package reader

// State is the Reader's protocol state.
//
// The Reader rests only in Idle, AwaitRN16, and AwaitEPC;
// the others are passed through while deciding what to transmit.
type State int

const (
	StateIdle = State(iota)
	StateStart
	StateSendSelect
	StateSendQuery
	StateAwaitRN16
	StateSendAck
	StateAwaitEPC
	StateSendNak
	StateSendQueryRep
	StateSendQueryAdjust
	StatePowerDown
)

var stateStrs = [...]string{
	StateIdle:            "Idle",
	StateStart:           "Start",
	StateSendSelect:      "SendSelect",
	StateSendQuery:       "SendQuery",
	StateAwaitRN16:       "AwaitRN16",
	StateSendAck:         "SendAck",
	StateAwaitEPC:        "AwaitEPC",
	StateSendNak:         "SendNak",
	StateSendQueryRep:    "SendQueryRep",
	StateSendQueryAdjust: "SendQueryAdjust",
	StatePowerDown:       "PowerDown",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateStrs) {
		return stateStrs[s]
	}
	return "Unknown"
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
