//
// Copyright (C) 2021 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package gen2

import (
	"github.com/sigurn/crc16"
)

const (
	crc5Poly   = 0x09
	crc5Preset = 0x09

	// CRC16Residue is the register value left after running the CRC-16
	// over data followed by its (complemented) CRC.
	CRC16Residue = 0x1D0F
)

// The Gen2 CRC-16 is CCITT with preset 0xFFFF and a ones-complement output.
// The table below has a zero preset so it can be applied to bit strings
// that don't end on a byte boundary: CRC16 left-pads the message with zeros
// and applies the preset by inverting the first 16 message bits,
// which has the same effect on the register as a 0xFFFF preset.
var crc16Table = crc16.MakeTable(crc16.Params{
	Poly:   0x1021,
	Init:   0x0000,
	RefIn:  false,
	RefOut: false,
	XorOut: 0xFFFF,
	Check:  0xCE3C,
	Name:   "CRC-16/EPC-NOPRESET",
})

// CRC5 computes the 5 bit CRC used by the Query command.
func CRC5(data Bits) uint8 {
	reg := uint8(crc5Preset)
	for _, bit := range data {
		msb := (reg >> 4) & 1
		reg = (reg << 1) & 0x1F
		if msb^(bit&1) == 1 {
			reg ^= crc5Poly
		}
	}
	return reg
}

// CRC16 computes the Gen2 CRC-16 over an arbitrary number of bits.
func CRC16(data Bits) uint16 {
	if len(data) < 16 {
		return crc16Bitwise(data)
	}

	pad := (8 - len(data)%8) % 8
	padded := make(Bits, pad, pad+len(data))
	padded = append(padded, data...)
	for i := pad; i < pad+16; i++ {
		padded[i] ^= 1
	}

	return crc16.Checksum(padded.Bytes(), crc16Table)
}

// crc16Bitwise is the bit-serial form of CRC16.
func crc16Bitwise(data Bits) uint16 {
	reg := uint16(0xFFFF)
	for _, bit := range data {
		msb := (reg >> 15) & 1
		reg <<= 1
		if msb^uint16(bit&1) == 1 {
			reg ^= 0x1021
		}
	}
	return ^reg
}

// AppendCRC5 returns data followed by its CRC-5.
func AppendCRC5(data Bits) Bits {
	return data.Clone().AppendUint(uint64(CRC5(data)), 5)
}

// AppendCRC16 returns data followed by its CRC-16.
func AppendCRC16(data Bits) Bits {
	return data.Clone().AppendUint(uint64(CRC16(data)), 16)
}

// CheckCRC16 returns true if the final 16 bits of msg
// are the CRC-16 of the bits that precede them.
func CheckCRC16(msg Bits) bool {
	if len(msg) <= 16 {
		return false
	}
	n := len(msg) - 16
	return CRC16(msg[:n]) == uint16(msg[n:].Uint())
}
