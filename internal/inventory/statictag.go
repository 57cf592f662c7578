//
// Copyright (C) 2021 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package inventory

// StaticTag represents a Tag object stuck in time for use with APIs
// and for persisting the inventory between runs.
type StaticTag struct {
	// EPC is the tag's Electronic Product Code as upper-case hex.
	EPC string `json:"epc"`
	// PC is the Protocol Control word from the tag's most recent EPC reply.
	PC uint16 `json:"pc"`
	// ReadCount is how many times the EPC was read with a valid CRC.
	ReadCount int `json:"read_count"`
	// FirstRead and LastRead are Unix Epoch milliseconds.
	FirstRead int64 `json:"first_read"`
	LastRead  int64 `json:"last_read"`
	// FirstRound and LastRound are the inventory rounds of the first and latest reads.
	FirstRound int `json:"first_round"`
	LastRound  int `json:"last_round"`
	// MeanStrength is the moving average of the reply amplitude.
	MeanStrength float64 `json:"mean_strength"`
	// MeanReadInterval is the moving average of milliseconds between reads.
	MeanReadInterval float64 `json:"mean_read_interval"`
}

func newStaticTag(tag *Tag) StaticTag {
	return StaticTag{
		EPC:              tag.EPC,
		PC:               tag.PC,
		ReadCount:        tag.ReadCount,
		FirstRead:        tag.FirstRead,
		LastRead:         tag.LastRead,
		FirstRound:       tag.FirstRound,
		LastRound:        tag.LastRound,
		MeanStrength:     tag.stats.meanStrength(),
		MeanReadInterval: tag.stats.meanReadInterval(),
	}
}

// asTagPtr converts a StaticTag back to a Tag pointer for use in restoring inventory.
// The moving averages restart from the previously computed means,
// so some precision is lost, but the general view is preserved.
func (s StaticTag) asTagPtr() *Tag {
	t := &Tag{
		EPC:        s.EPC,
		PC:         s.PC,
		ReadCount:  s.ReadCount,
		FirstRead:  s.FirstRead,
		LastRead:   s.LastRead,
		FirstRound: s.FirstRound,
		LastRound:  s.LastRound,
		stats:      newTagStats(),
	}

	t.stats.lastRead = s.LastRead
	t.stats.updateStrength(s.MeanStrength)
	if s.MeanReadInterval > 0 {
		t.stats.readInterval.Add(s.MeanReadInterval)
	}
	return t
}
