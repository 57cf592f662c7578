//
// Copyright (C) 2021 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package gen2

import (
	"encoding/hex"
	"strings"

	"github.com/pkg/errors"
)

var (
	ErrInvalidEPC  = errors.New("invalid EPC")
	ErrShortReply  = errors.New("reply too short")
	ErrCRCMismatch = errors.New("CRC mismatch")
)

const (
	pcBits = 16

	// MaxEPCWords is the largest EPC length the PC's 5 bit L field can describe.
	MaxEPCWords = 31
)

// EPCReply is a tag's reply to an ACK: PC, EPC, and CRC-16.
type EPCReply struct {
	PC  uint16
	EPC []byte
	CRC uint16
}

// Words returns the EPC length in 16 bit words, as carried in the PC.
func (r EPCReply) Words() int {
	return int(r.PC >> 11)
}

// ID returns the EPC as upper-case hex.
func (r EPCReply) ID() string {
	return strings.ToUpper(hex.EncodeToString(r.EPC))
}

// PCForEPC returns the PC word for an EPC of the given length in bytes,
// with every field other than L cleared.
func PCForEPC(epcBytes int) uint16 {
	return uint16(epcBytes/2) << 11
}

// ParseEPC decodes a hex EPC; it must be a whole number of 16 bit words.
func ParseEPC(s string) ([]byte, error) {
	epc, err := hex.DecodeString(s)
	if err != nil {
		return nil, errors.Wrap(ErrInvalidEPC, err.Error())
	}
	if len(epc)%2 != 0 || len(epc)/2 > MaxEPCWords {
		return nil, errors.Wrapf(ErrInvalidEPC, "%q is not a whole number of words up to %d", s, MaxEPCWords)
	}
	return epc, nil
}

// NewEPCReply returns the bits of a tag's EPC reply, CRC included,
// without the trailing dummy bit.
func NewEPCReply(epc []byte) Bits {
	b := make(Bits, 0, pcBits+len(epc)*8+16)
	b = b.AppendUint(uint64(PCForEPC(len(epc))), pcBits)
	b = append(b, BitsFromBytes(epc)...)
	return AppendCRC16(b)
}

// EPCBank returns the EPC memory bank contents for a tag with this EPC:
// StoredCRC, PC, then the EPC itself.
func EPCBank(epc []byte) Bits {
	reply := NewEPCReply(epc)
	n := len(reply) - 16
	b := make(Bits, 0, len(reply))
	b = append(b, reply[n:]...)
	return append(b, reply[:n]...)
}

// EPCReplyBits is the number of bits in an EPC reply of the given EPC length,
// without the trailing dummy bit.
func EPCReplyBits(epcWords int) int {
	return pcBits + 16*epcWords + 16
}

// ParseEPCReply extracts the PC and EPC from reply bits.
// The PC's length field decides how many bits belong to the reply;
// anything after that (such as the dummy bit) is ignored.
// It returns ErrCRCMismatch if the CRC doesn't match,
// in which case the returned EPCReply is still filled in.
func ParseEPCReply(b Bits) (EPCReply, error) {
	if len(b) < pcBits {
		return EPCReply{}, errors.Wrapf(ErrShortReply, "%d bits", len(b))
	}

	r := EPCReply{PC: uint16(b[:pcBits].Uint())}
	n := EPCReplyBits(r.Words())
	if len(b) < n {
		return r, errors.Wrapf(ErrShortReply, "PC says %d words, which needs %d bits, but only have %d",
			r.Words(), n, len(b))
	}

	r.EPC = b[pcBits : n-16].Bytes()
	r.CRC = uint16(b[n-16 : n].Uint())
	if !CheckCRC16(b[:n]) {
		return r, errors.Wrapf(ErrCRCMismatch, "received %04X", r.CRC)
	}
	return r, nil
}
