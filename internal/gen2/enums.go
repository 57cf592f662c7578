//
// Copyright (C) 2021 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package gen2

import (
	"bytes"
	"strconv"

	"github.com/pkg/errors"
)

var ErrInvalidSession = errors.New("invalid session")

// Session selects which of a tag's four inventoried flags a round operates on.
type Session uint8

const (
	S0 = Session(iota)
	S1
	S2
	S3
)

// Target is the value of an inventoried flag.
type Target uint8

const (
	TargetA = Target(iota)
	TargetB
)

// Flip returns the other inventoried flag value.
func (t Target) Flip() Target {
	return t ^ 1
}

// Sel restricts a Query to tags based on their SL flag.
type Sel uint8

const (
	SelAll   = Sel(0)
	SelNotSL = Sel(2)
	SelSL    = Sel(3)
)

// UpDn tells tags how to adjust Q in a QueryAdjust.
type UpDn uint8

const (
	UpDnNone = UpDn(iota)
	UpDnUp
	UpDnDown
)

// MemBank identifies a tag memory bank for Select.
type MemBank uint8

const (
	MemBankReserved = MemBank(iota)
	MemBankEPC
	MemBankTID
	MemBankUser
)

// SelectTarget is the flag a Select command modifies:
// one of the four session flags or the SL flag.
type SelectTarget uint8

const (
	SelectS0 = SelectTarget(iota)
	SelectS1
	SelectS2
	SelectS3
	SelectSL
)

// SelectAction is the 3 bit action code of a Select command.
// It determines what matching and non-matching tags do to the targeted flag.
// For the SL flag, action 0 asserts SL on matching tags and deasserts it on the rest.
type SelectAction uint8

const MaxSelectAction = SelectAction(7)

var (
	sessionStrs = [...][]byte{
		S0: []byte("S0"),
		S1: []byte("S1"),
		S2: []byte("S2"),
		S3: []byte("S3"),
	}

	targetStrs = [...][]byte{
		TargetA: []byte("A"),
		TargetB: []byte("B"),
	}

	selStrs = [...][]byte{
		SelAll:   []byte("All"),
		1:        []byte("All"),
		SelNotSL: []byte("~SL"),
		SelSL:    []byte("SL"),
	}

	upDnStrs = [...][]byte{
		UpDnNone: []byte("None"),
		UpDnUp:   []byte("Up"),
		UpDnDown: []byte("Down"),
	}

	upDnCodes = [...]uint64{
		UpDnNone: 0b000,
		UpDnUp:   0b110,
		UpDnDown: 0b011,
	}

	memBankStrs = [...][]byte{
		MemBankReserved: []byte("Reserved"),
		MemBankEPC:      []byte("EPC"),
		MemBankTID:      []byte("TID"),
		MemBankUser:     []byte("User"),
	}

	selectTargetStrs = [...][]byte{
		SelectS0: []byte("S0"),
		SelectS1: []byte("S1"),
		SelectS2: []byte("S2"),
		SelectS3: []byte("S3"),
		SelectSL: []byte("SL"),
	}
)

func marshalEnum(name string, strs [][]byte, v int) ([]byte, error) {
	if !(0 <= v && v < len(strs)) {
		return nil, errors.Errorf("unknown %s: %v", name, v)
	}
	return strs[v], nil
}

func unmarshalEnum(name string, strs [][]byte, text []byte) (int, error) {
	for i := range strs {
		if bytes.Equal(strs[i], text) {
			return i, nil
		}
	}
	return 0, errors.Errorf("unknown %s: %q", name, string(text))
}

func (s Session) Validate() error {
	if s > S3 {
		return errors.Wrapf(ErrInvalidSession, "session %d is not in [0, 3]", s)
	}
	return nil
}

func (s Session) String() string {
	if b, err := s.MarshalText(); err == nil {
		return string(b)
	}
	return "Session(" + strconv.Itoa(int(s)) + ")"
}

func (s Session) MarshalText() ([]byte, error) {
	return marshalEnum("Session", sessionStrs[:], int(s))
}

func (s *Session) UnmarshalText(text []byte) error {
	i, err := unmarshalEnum("Session", sessionStrs[:], text)
	if err != nil {
		return errors.Wrap(ErrInvalidSession, err.Error())
	}
	*s = Session(i)
	return nil
}

func (t Target) String() string {
	if b, err := t.MarshalText(); err == nil {
		return string(b)
	}
	return "Target(" + strconv.Itoa(int(t)) + ")"
}

func (t Target) MarshalText() ([]byte, error) {
	return marshalEnum("Target", targetStrs[:], int(t))
}

func (t *Target) UnmarshalText(text []byte) error {
	i, err := unmarshalEnum("Target", targetStrs[:], text)
	*t = Target(i)
	return err
}

func (s Sel) MarshalText() ([]byte, error) {
	return marshalEnum("Sel", selStrs[:], int(s))
}

func (s *Sel) UnmarshalText(text []byte) error {
	i, err := unmarshalEnum("Sel", selStrs[:], text)
	*s = Sel(i)
	return err
}

// Code returns the 3 bit UpDn field transmitted in a QueryAdjust.
func (u UpDn) Code() uint64 {
	if int(u) < len(upDnCodes) {
		return upDnCodes[u]
	}
	return upDnCodes[UpDnNone]
}

// Delta is the change to Q a tag applies for this UpDn value.
func (u UpDn) Delta() int {
	switch u {
	case UpDnUp:
		return 1
	case UpDnDown:
		return -1
	}
	return 0
}

func (u UpDn) String() string {
	if b, err := u.MarshalText(); err == nil {
		return string(b)
	}
	return "UpDn(" + strconv.Itoa(int(u)) + ")"
}

func (u UpDn) MarshalText() ([]byte, error) {
	return marshalEnum("UpDn", upDnStrs[:], int(u))
}

func (u *UpDn) UnmarshalText(text []byte) error {
	i, err := unmarshalEnum("UpDn", upDnStrs[:], text)
	*u = UpDn(i)
	return err
}

func (m MemBank) MarshalText() ([]byte, error) {
	return marshalEnum("MemBank", memBankStrs[:], int(m))
}

func (m *MemBank) UnmarshalText(text []byte) error {
	i, err := unmarshalEnum("MemBank", memBankStrs[:], text)
	*m = MemBank(i)
	return err
}

func (st SelectTarget) MarshalText() ([]byte, error) {
	return marshalEnum("SelectTarget", selectTargetStrs[:], int(st))
}

func (st *SelectTarget) UnmarshalText(text []byte) error {
	i, err := unmarshalEnum("SelectTarget", selectTargetStrs[:], text)
	*st = SelectTarget(i)
	return err
}
