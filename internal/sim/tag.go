//
// Copyright (C) 2021 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package sim

import (
	"math/cmplx"
	"math/rand"
	"strings"

	"github.com/pkg/errors"

	"edgexfoundry/app-rfid-gen2-reader/internal/gen2"
)

// TagSpec describes a simulated tag.
type TagSpec struct {
	// EPC is hex, a whole number of words.
	EPC string `json:"epc"`
	// Amplitude and Phase describe the tag's backscatter as seen by the reader.
	// A zero Amplitude uses DefaultAmplitude.
	Amplitude float64 `json:"amplitude"`
	Phase     float64 `json:"phase"`
	// Delay is extra turnaround time, in receive samples, beyond T1.
	Delay int `json:"delay"`
}

const DefaultAmplitude = 0.3

type tagState int

const (
	stateReady = tagState(iota)
	stateArbitrate
	stateReply
	stateAcknowledged
)

// arbitrateForever is a slot counter a tag reaches by decrementing past zero.
const arbitrateForever = 0x7FFF

// tag follows the Gen2 inventory state diagram,
// minus the access states, which the reader never enters.
type tag struct {
	id    string
	bank  gen2.Bits // EPC memory bank
	reply gen2.Bits // PC, EPC, CRC
	amp   complex64
	delay int64

	flags   [4]gen2.Target
	sl      bool
	state   tagState
	session gen2.Session
	q       int
	slot    int
	rn16    gen2.Bits

	acks int
}

func newTag(spec TagSpec) (*tag, error) {
	epc, err := gen2.ParseEPC(strings.TrimSpace(spec.EPC))
	if err != nil {
		return nil, err
	}
	if len(epc) == 0 {
		return nil, errors.Wrap(gen2.ErrInvalidEPC, "empty EPC")
	}
	if spec.Delay < 0 {
		return nil, errors.Errorf("tag %s has negative delay %d", spec.EPC, spec.Delay)
	}

	a := spec.Amplitude
	if a == 0 {
		a = DefaultAmplitude
	}

	return &tag{
		id:    strings.ToUpper(strings.TrimSpace(spec.EPC)),
		bank:  gen2.EPCBank(epc),
		reply: gen2.NewEPCReply(epc),
		amp:   complex64(cmplx.Rect(a, spec.Phase)),
		delay: int64(spec.Delay),
	}, nil
}

// powerDown resets the volatile state.
// S0 and SL don't persist without power; S1 through S3 persist for a while.
func (t *tag) powerDown() {
	t.state = stateReady
	t.flags[gen2.S0] = gen2.TargetA
	t.sl = false
}

// handle processes a command and returns what the tag backscatters, if anything.
func (t *tag) handle(cmd gen2.Command, r *rand.Rand) gen2.Bits {
	switch c := cmd.(type) {
	case gen2.Select:
		t.selectCmd(c)
		t.state = stateReady

	case gen2.Query:
		if t.state == stateAcknowledged && c.Session == t.session {
			t.flip()
		}
		t.state = stateReady
		if !t.participates(c) {
			return nil
		}
		t.session = c.Session
		t.q = c.Q
		return t.drawSlot(r)

	case gen2.QueryRep:
		if t.state == stateReady || c.Session != t.session {
			return nil
		}
		switch t.state {
		case stateAcknowledged:
			t.flip()
			t.state = stateReady
		case stateReply:
			t.state = stateArbitrate
			t.slot = arbitrateForever
		case stateArbitrate:
			t.slot--
			if t.slot < 0 {
				t.slot = arbitrateForever
			}
			if t.slot == 0 {
				return t.backscatterRN16(r)
			}
		}

	case gen2.QueryAdjust:
		if t.state == stateReady || c.Session != t.session {
			return nil
		}
		if t.state == stateAcknowledged {
			t.flip()
			t.state = stateReady
			return nil
		}
		t.q += c.UpDn.Delta()
		if t.q < gen2.MinQ {
			t.q = gen2.MinQ
		} else if t.q > gen2.MaxQ {
			t.q = gen2.MaxQ
		}
		return t.drawSlot(r)

	case gen2.Ack:
		if t.state != stateReply && t.state != stateAcknowledged {
			return nil
		}
		if !c.RN16.Equal(t.rn16) {
			t.state = stateArbitrate
			return nil
		}
		t.state = stateAcknowledged
		t.acks++
		return t.reply

	case gen2.Nak:
		if t.state == stateReply || t.state == stateAcknowledged {
			t.state = stateArbitrate
		}
	}

	return nil
}

func (t *tag) flip() {
	t.flags[t.session] = t.flags[t.session].Flip()
}

func (t *tag) participates(q gen2.Query) bool {
	switch q.Sel {
	case gen2.SelSL:
		if !t.sl {
			return false
		}
	case gen2.SelNotSL:
		if t.sl {
			return false
		}
	}
	return t.flags[q.Session] == q.Target
}

func (t *tag) drawSlot(r *rand.Rand) gen2.Bits {
	t.slot = r.Intn(1 << t.q)
	if t.slot == 0 {
		return t.backscatterRN16(r)
	}
	t.state = stateArbitrate
	return nil
}

func (t *tag) backscatterRN16(r *rand.Rand) gen2.Bits {
	t.state = stateReply
	t.rn16 = make(gen2.Bits, 0, gen2.RN16Bits).AppendUint(uint64(r.Intn(1<<16)), gen2.RN16Bits)
	return t.rn16
}

// selectCmd applies a Select's action to the targeted flag.
func (t *tag) selectCmd(s gen2.Select) {
	var bank gen2.Bits
	if s.MemBank == gen2.MemBankEPC {
		bank = t.bank
	}

	op := selectOp(s.Action, s.Matches(bank))
	if op == opNothing {
		return
	}

	if s.Target == gen2.SelectSL {
		switch op {
		case opAssert:
			t.sl = true
		case opDeassert:
			t.sl = false
		case opNegate:
			t.sl = !t.sl
		}
		return
	}

	session := gen2.Session(s.Target)
	switch op {
	case opAssert:
		t.flags[session] = gen2.TargetA
	case opDeassert:
		t.flags[session] = gen2.TargetB
	case opNegate:
		t.flags[session] = t.flags[session].Flip()
	}
}

type flagOp int

const (
	opNothing = flagOp(iota)
	opAssert  // SL asserted, or inventoried set to A
	opDeassert
	opNegate
)

// selectActions maps an action to what it does to matching and non-matching tags.
var selectActions = [gen2.MaxSelectAction + 1][2]flagOp{
	0: {opAssert, opDeassert},
	1: {opAssert, opNothing},
	2: {opNothing, opDeassert},
	3: {opNegate, opNothing},
	4: {opDeassert, opAssert},
	5: {opDeassert, opNothing},
	6: {opNothing, opAssert},
	7: {opNothing, opNegate},
}

func selectOp(action gen2.SelectAction, matches bool) flagOp {
	if action > gen2.MaxSelectAction {
		return opNothing
	}
	if matches {
		return selectActions[action][0]
	}
	return selectActions[action][1]
}
