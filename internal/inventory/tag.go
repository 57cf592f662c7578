//
// Copyright (C) 2020 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package inventory

// Tag is a TagRecord: an EPC that was read with a valid CRC at least once,
// and what's known about how it has been read since.
type Tag struct {
	EPC string
	PC  uint16

	ReadCount int
	FirstRead int64 // Unix Epoch milliseconds
	LastRead  int64 // Unix Epoch milliseconds

	FirstRound int
	LastRound  int

	stats *tagStats
}

func NewTag(epc string, pc uint16) *Tag {
	return &Tag{
		EPC:   epc,
		PC:    pc,
		stats: newTagStats(),
	}
}

func (tag *Tag) update(r Read) {
	if tag.ReadCount == 0 {
		tag.FirstRead = r.Timestamp
		tag.FirstRound = r.Round
	}

	tag.ReadCount++
	tag.PC = r.PC
	tag.LastRound = r.Round
	tag.stats.updateStrength(r.Strength)
	tag.stats.updateLastRead(r.Timestamp)
	if r.Timestamp > tag.LastRead {
		tag.LastRead = r.Timestamp
	}
}
