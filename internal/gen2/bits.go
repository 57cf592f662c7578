//
// Copyright (C) 2021 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

// Package gen2 holds the EPC Class-1 Gen-2 air interface primitives
// shared by the decoder, the reader state machine, and the simulator:
// bit strings, CRCs, command layouts, and link timing.
package gen2

import (
	"encoding/hex"
	"strings"

	"github.com/pkg/errors"
)

var ErrInvalidBits = errors.New("invalid bit string")

// Bits is a string of bits, one bit per element, most significant first.
// Every element is either 0 or 1.
type Bits []byte

// ParseBits converts a string of ASCII '0' and '1' characters to Bits.
func ParseBits(s string) (Bits, error) {
	b := make(Bits, len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '0':
		case '1':
			b[i] = 1
		default:
			return nil, errors.Wrapf(ErrInvalidBits, "unexpected character %q at %d", s[i], i)
		}
	}
	return b, nil
}

// MustParseBits is like ParseBits, but panics if s isn't a valid bit string.
// It's intended for constants and tests.
func MustParseBits(s string) Bits {
	b, err := ParseBits(s)
	if err != nil {
		panic(err)
	}
	return b
}

// BitsFromBytes unpacks data MSB first.
func BitsFromBytes(data []byte) Bits {
	b := make(Bits, 0, len(data)*8)
	for _, v := range data {
		for i := 7; i >= 0; i-- {
			b = append(b, (v>>uint(i))&1)
		}
	}
	return b
}

// AppendUint appends the n least significant bits of v, MSB first.
func (b Bits) AppendUint(v uint64, n int) Bits {
	for i := n - 1; i >= 0; i-- {
		b = append(b, byte(v>>uint(i))&1)
	}
	return b
}

// Uint interprets up to the first 64 bits as an unsigned integer.
func (b Bits) Uint() uint64 {
	var v uint64
	for _, bit := range b {
		v = v<<1 | uint64(bit&1)
	}
	return v
}

// Bytes packs the bits MSB first.
// If the length isn't a multiple of 8, the last byte is zero-padded on the right.
func (b Bits) Bytes() []byte {
	out := make([]byte, (len(b)+7)/8)
	for i, bit := range b {
		out[i>>3] |= (bit & 1) << uint(7-i&7)
	}
	return out
}

// Hex returns the upper-case hex representation of the packed bits.
func (b Bits) Hex() string {
	return strings.ToUpper(hex.EncodeToString(b.Bytes()))
}

// Equal returns true if both bit strings have the same length and content.
func (b Bits) Equal(other Bits) bool {
	if len(b) != len(other) {
		return false
	}
	for i := range b {
		if b[i] != other[i] {
			return false
		}
	}
	return true
}

// Clone returns a copy of b that doesn't share its backing array.
func (b Bits) Clone() Bits {
	c := make(Bits, len(b))
	copy(c, b)
	return c
}

func (b Bits) String() string {
	var sb strings.Builder
	sb.Grow(len(b))
	for _, bit := range b {
		sb.WriteByte('0' + bit&1)
	}
	return sb.String()
}

func (b Bits) MarshalText() ([]byte, error) {
	return []byte(b.String()), nil
}

func (b *Bits) UnmarshalText(text []byte) error {
	parsed, err := ParseBits(string(text))
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}
