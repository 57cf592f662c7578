//
// Copyright (C) 2021 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package gen2

import (
	"bytes"

	"github.com/pkg/errors"
)

var (
	ErrInvalidQ    = errors.New("invalid Q")
	ErrInvalidMask = errors.New("invalid select mask")
)

const (
	MinQ = 0
	MaxQ = 15

	// MaxMaskBits is the largest mask a Select's 8 bit Length field can describe.
	MaxMaskBits = 255

	// RN16Bits is the length of the random number a tag backscatters
	// in response to a Query, QueryRep, or QueryAdjust.
	RN16Bits = 16
)

// ValidateQ returns ErrInvalidQ if q isn't a valid slot-count exponent.
func ValidateQ(q int) error {
	if q < MinQ || q > MaxQ {
		return errors.Wrapf(ErrInvalidQ, "Q=%d is not in [%d, %d]", q, MinQ, MaxQ)
	}
	return nil
}

// ParseMask parses a Select mask written as '0' and '1' characters.
// An empty mask is valid and matches every tag.
func ParseMask(s string) (Bits, error) {
	if len(s) > MaxMaskBits {
		return nil, errors.Wrapf(ErrInvalidMask, "mask has %d bits, but max is %d", len(s), MaxMaskBits)
	}
	b, err := ParseBits(s)
	if err != nil {
		return nil, errors.Wrap(ErrInvalidMask, err.Error())
	}
	return b, nil
}

// CommandKind names a reader command.
type CommandKind uint8

const (
	CmdQuery = CommandKind(iota)
	CmdQueryRep
	CmdQueryAdjust
	CmdAck
	CmdNak
	CmdSelect
)

var cmdStrs = [...][]byte{
	CmdQuery:       []byte("Query"),
	CmdQueryRep:    []byte("QueryRep"),
	CmdQueryAdjust: []byte("QueryAdjust"),
	CmdAck:         []byte("ACK"),
	CmdNak:         []byte("NAK"),
	CmdSelect:      []byte("Select"),
}

func (k CommandKind) String() string {
	if int(k) < len(cmdStrs) {
		return string(cmdStrs[k])
	}
	return "Unknown"
}

func (k CommandKind) MarshalText() ([]byte, error) {
	return marshalEnum("CommandKind", cmdStrs[:], int(k))
}

func (k *CommandKind) UnmarshalText(text []byte) error {
	for i := range cmdStrs {
		if bytes.Equal(cmdStrs[i], text) {
			*k = CommandKind(i)
			return nil
		}
	}
	return errors.Errorf("unknown CommandKind: %q", string(text))
}

// Command is a reader to tag command.
type Command interface {
	Kind() CommandKind
	// Bits returns the command's bits as they're sent over the air, CRC included.
	Bits() Bits
}

// WantsPreamble returns true if the command must be sent with a full
// preamble (which includes TRcal) rather than a frame-sync.
// Only Query starts an inventory round, so only Query carries TRcal.
func WantsPreamble(c Command) bool {
	return c.Kind() == CmdQuery
}

// Query starts an inventory round.
type Query struct {
	DivideRatio64_3 bool // DR; false is DR=8
	Miller          uint8
	TRext           bool
	Sel             Sel
	Session         Session
	Target          Target
	Q               int
}

func (Query) Kind() CommandKind { return CmdQuery }

func (q Query) Validate() error {
	if err := ValidateQ(q.Q); err != nil {
		return err
	}
	if q.Miller > 3 {
		return errors.Errorf("invalid Miller encoding %d", q.Miller)
	}
	return q.Session.Validate()
}

func (q Query) Bits() Bits {
	b := make(Bits, 0, 22)
	b = b.AppendUint(0b1000, 4)
	b = b.AppendUint(boolBit(q.DivideRatio64_3), 1)
	b = b.AppendUint(uint64(q.Miller), 2)
	b = b.AppendUint(boolBit(q.TRext), 1)
	b = b.AppendUint(uint64(q.Sel), 2)
	b = b.AppendUint(uint64(q.Session), 2)
	b = b.AppendUint(uint64(q.Target), 1)
	b = b.AppendUint(uint64(q.Q), 4)
	return AppendCRC5(b)
}

// QueryRep asks tags in the session to decrement their slot counters.
type QueryRep struct {
	Session Session
}

func (QueryRep) Kind() CommandKind { return CmdQueryRep }

func (q QueryRep) Bits() Bits {
	return Bits{0, 0}.AppendUint(uint64(q.Session), 2)
}

// QueryAdjust changes Q for the rest of the round
// and asks tags to pick a new slot.
type QueryAdjust struct {
	Session Session
	UpDn    UpDn
}

func (QueryAdjust) Kind() CommandKind { return CmdQueryAdjust }

func (q QueryAdjust) Bits() Bits {
	b := make(Bits, 0, 9)
	b = b.AppendUint(0b1001, 4)
	b = b.AppendUint(uint64(q.Session), 2)
	return b.AppendUint(q.UpDn.Code(), 3)
}

// Ack acknowledges a tag by echoing its RN16.
type Ack struct {
	RN16 Bits
}

func (Ack) Kind() CommandKind { return CmdAck }

func (a Ack) Bits() Bits {
	b := make(Bits, 0, 2+len(a.RN16))
	b = append(b, 0, 1)
	return append(b, a.RN16...)
}

// Nak sends all tags in the reply or acknowledged state back to arbitrate.
type Nak struct{}

func (Nak) Kind() CommandKind { return CmdNak }

func (Nak) Bits() Bits {
	return Bits{1, 1, 0, 0, 0, 0, 0, 0}
}

// Select modifies the SL or inventoried flags of tags
// depending on whether their memory matches Mask at Pointer.
type Select struct {
	Target   SelectTarget
	Action   SelectAction
	MemBank  MemBank
	Pointer  uint32 // bit address, EBV encoded
	Mask     Bits
	Truncate bool
}

// DefaultSelect asserts SL on tags whose EPC starts with mask.
// The EPC starts after the StoredCRC and PC words in the EPC bank.
func DefaultSelect(mask Bits) Select {
	return Select{
		Target:  SelectSL,
		Action:  0,
		MemBank: MemBankEPC,
		Pointer: 32,
		Mask:    mask,
	}
}

func (Select) Kind() CommandKind { return CmdSelect }

func (s Select) Validate() error {
	if len(s.Mask) > MaxMaskBits {
		return errors.Wrapf(ErrInvalidMask, "mask has %d bits, but max is %d", len(s.Mask), MaxMaskBits)
	}
	if s.Target > SelectSL {
		return errors.Errorf("invalid Select target %d", s.Target)
	}
	if s.Action > MaxSelectAction {
		return errors.Errorf("invalid Select action %d", s.Action)
	}
	if s.MemBank > MemBankUser {
		return errors.Errorf("invalid memory bank %d", s.MemBank)
	}
	return nil
}

func (s Select) Bits() Bits {
	b := make(Bits, 0, 45+len(s.Mask))
	b = b.AppendUint(0b1010, 4)
	b = b.AppendUint(uint64(s.Target), 3)
	b = b.AppendUint(uint64(s.Action), 3)
	b = b.AppendUint(uint64(s.MemBank), 2)
	b = appendEBV(b, s.Pointer)
	b = b.AppendUint(uint64(len(s.Mask)), 8)
	b = append(b, s.Mask...)
	b = b.AppendUint(boolBit(s.Truncate), 1)
	return AppendCRC16(b)
}

// Matches reports whether a tag with the given memory bank contents
// would be considered matching by this Select.
func (s Select) Matches(bank Bits) bool {
	start := int(s.Pointer)
	if start+len(s.Mask) > len(bank) {
		return false
	}
	return bank[start : start+len(s.Mask)].Equal(s.Mask)
}

// appendEBV appends v as an Extensible Bit Vector:
// 8 bit blocks, each with an extension flag followed by 7 value bits.
func appendEBV(b Bits, v uint32) Bits {
	var groups []uint32
	for {
		groups = append(groups, v&0x7F)
		v >>= 7
		if v == 0 {
			break
		}
	}
	for i := len(groups) - 1; i >= 0; i-- {
		ext := uint64(0)
		if i > 0 {
			ext = 1
		}
		b = b.AppendUint(ext, 1)
		b = b.AppendUint(uint64(groups[i]), 7)
	}
	return b
}

func boolBit(v bool) uint64 {
	if v {
		return 1
	}
	return 0
}
