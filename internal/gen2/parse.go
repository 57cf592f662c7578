//
// Copyright (C) 2021 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package gen2

import (
	"github.com/pkg/errors"
)

var ErrUnknownCommand = errors.New("unknown command")

// ParseCommand decodes the bits of a reader command, as a tag would.
// Trailing bits beyond the command are an error,
// as are CRC mismatches for commands that carry a CRC.
func ParseCommand(b Bits) (Command, error) {
	switch {
	case hasPrefix(b, "00"):
		if len(b) != 4 {
			return nil, lengthErr(CmdQueryRep, 4, len(b))
		}
		return QueryRep{Session: Session(b[2:4].Uint())}, nil

	case hasPrefix(b, "01"):
		if len(b) != 2+RN16Bits {
			return nil, lengthErr(CmdAck, 2+RN16Bits, len(b))
		}
		return Ack{RN16: b[2:].Clone()}, nil

	case hasPrefix(b, "1000"):
		return parseQuery(b)

	case hasPrefix(b, "1001"):
		if len(b) != 9 {
			return nil, lengthErr(CmdQueryAdjust, 9, len(b))
		}
		return parseQueryAdjust(b)

	case hasPrefix(b, "1010"):
		return parseSelect(b)

	case hasPrefix(b, "11000000"):
		if len(b) != 8 {
			return nil, lengthErr(CmdNak, 8, len(b))
		}
		return Nak{}, nil
	}

	return nil, errors.Wrapf(ErrUnknownCommand, "bits %s", b)
}

func hasPrefix(b Bits, prefix string) bool {
	if len(b) < len(prefix) {
		return false
	}
	for i := 0; i < len(prefix); i++ {
		if b[i] != prefix[i]-'0' {
			return false
		}
	}
	return true
}

func lengthErr(k CommandKind, want, got int) error {
	return errors.Errorf("%v must be %d bits, but got %d", k, want, got)
}

func parseQuery(b Bits) (Command, error) {
	if len(b) != 22 {
		return nil, lengthErr(CmdQuery, 22, len(b))
	}
	if CRC5(b) != 0 {
		return nil, errors.Wrap(ErrCRCMismatch, "Query CRC-5")
	}
	return Query{
		DivideRatio64_3: b[4] == 1,
		Miller:          uint8(b[5:7].Uint()),
		TRext:           b[7] == 1,
		Sel:             Sel(b[8:10].Uint()),
		Session:         Session(b[10:12].Uint()),
		Target:          Target(b[12]),
		Q:               int(b[13:17].Uint()),
	}, nil
}

func parseQueryAdjust(b Bits) (Command, error) {
	qa := QueryAdjust{Session: Session(b[4:6].Uint())}
	code := b[6:9].Uint()
	switch code {
	case upDnCodes[UpDnNone]:
		qa.UpDn = UpDnNone
	case upDnCodes[UpDnUp]:
		qa.UpDn = UpDnUp
	case upDnCodes[UpDnDown]:
		qa.UpDn = UpDnDown
	default:
		return nil, errors.Errorf("invalid UpDn code %03b", code)
	}
	return qa, nil
}

func parseSelect(b Bits) (Command, error) {
	const header = 4 + 3 + 3 + 2
	if len(b) < header+8+8+1+16 {
		return nil, errors.Errorf("Select too short: %d bits", len(b))
	}

	s := Select{
		Target:  SelectTarget(b[4:7].Uint()),
		Action:  SelectAction(b[7:10].Uint()),
		MemBank: MemBank(b[10:12].Uint()),
	}

	i := header
	var ptr uint32
	for {
		if i+8 > len(b) {
			return nil, errors.New("Select pointer runs past the end")
		}
		ptr = ptr<<7 | uint32(b[i+1:i+8].Uint())
		ext := b[i]
		i += 8
		if ext == 0 {
			break
		}
	}
	s.Pointer = ptr

	if i+8 > len(b) {
		return nil, errors.New("Select length runs past the end")
	}
	n := int(b[i : i+8].Uint())
	i += 8

	if i+n+1+16 != len(b) {
		return nil, errors.Errorf("Select with %d bit mask should be %d bits, but got %d", n, i+n+1+16, len(b))
	}
	s.Mask = b[i : i+n].Clone()
	s.Truncate = b[i+n] == 1

	if !CheckCRC16(b) {
		return nil, errors.Wrap(ErrCRCMismatch, "Select CRC-16")
	}
	return s, nil
}
