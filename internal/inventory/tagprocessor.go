//
// Copyright (C) 2020 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

// Package inventory holds the set of tags the reader has identified.
package inventory

import (
	"sort"
	"strings"

	"github.com/edgexfoundry/go-mod-core-contracts/v2/clients/logger"
)

// Read is a single valid EPC read.
type Read struct {
	EPC       string
	PC        uint16
	Timestamp int64 // Unix Epoch milliseconds
	Round     int
	Strength  float64
}

// TagProcessor holds the current inventory data and processes incoming reads.
//
// It's owned by whatever drives the reader and isn't safe for concurrent use;
// other goroutines should only see copies returned by Snapshot.
type TagProcessor struct {
	lc        logger.LoggingClient
	inventory map[string]*Tag
	reads     int
}

// NewTagProcessor creates a TagProcessor, restoring any previously persisted tags.
func NewTagProcessor(lc logger.LoggingClient, tags []StaticTag) *TagProcessor {
	tp := &TagProcessor{
		lc:        lc,
		inventory: make(map[string]*Tag, len(tags)),
	}

	for _, t := range tags {
		epc := normalizeEPC(t.EPC)
		if epc == "" {
			continue
		}
		// the same EPC written in different case keeps the busier record
		if prev, ok := tp.inventory[epc]; ok && prev.ReadCount >= t.ReadCount {
			continue
		}
		t.EPC = epc
		tp.inventory[epc] = t.asTagPtr()
	}
	for _, tag := range tp.inventory {
		tp.reads += tag.ReadCount
	}

	return tp
}

func normalizeEPC(epc string) string {
	return strings.ToUpper(strings.TrimSpace(epc))
}

// ProcessRead adds or updates the EPC's record
// and returns the inventory event for the read.
func (tp *TagProcessor) ProcessRead(r Read) Event {
	r.EPC = normalizeEPC(r.EPC)

	tag, exists := tp.inventory[r.EPC]
	if !exists {
		tag = NewTag(r.EPC, r.PC)
		tp.inventory[r.EPC] = tag
	}

	tag.update(r)
	tp.reads++

	base := BaseEvent{
		EPC:       tag.EPC,
		Timestamp: r.Timestamp,
		Round:     r.Round,
		Strength:  r.Strength,
	}

	if !exists {
		tp.lc.Debug("New tag.", "epc", tag.EPC, "round", r.Round)
		return ArrivedEvent{BaseEvent: base}
	}

	tp.lc.Trace("Tag read again.", "epc", tag.EPC, "count", tag.ReadCount)
	return ReadEvent{BaseEvent: base, ReadCount: tag.ReadCount}
}

// Get returns the record for an EPC, in any letter case.
func (tp *TagProcessor) Get(epc string) (StaticTag, bool) {
	tag, ok := tp.inventory[normalizeEPC(epc)]
	if !ok {
		return StaticTag{}, false
	}
	return newStaticTag(tag), true
}

// Snapshot takes a snapshot of the entire tag inventory as a slice of StaticTag objects,
// ordered by EPC.
func (tp *TagProcessor) Snapshot() []StaticTag {
	res := make([]StaticTag, 0, len(tp.inventory))
	for _, tag := range tp.inventory {
		res = append(res, newStaticTag(tag))
	}

	sort.Slice(res, func(i, j int) bool {
		return res[i].EPC < res[j].EPC
	})
	return res
}

// Counts returns each EPC's read count.
func (tp *TagProcessor) Counts() map[string]int {
	counts := make(map[string]int, len(tp.inventory))
	for epc, tag := range tp.inventory {
		counts[epc] = tag.ReadCount
	}
	return counts
}

// Reset clears the inventory.
func (tp *TagProcessor) Reset() {
	tp.lc.Info("Clearing tag inventory.", "tags", len(tp.inventory), "reads", tp.reads)
	tp.inventory = make(map[string]*Tag)
	tp.reads = 0
}

// Len is the number of unique tags.
func (tp *TagProcessor) Len() int {
	return len(tp.inventory)
}

// Reads is the total number of valid reads across all tags.
func (tp *TagProcessor) Reads() int {
	return tp.reads
}
