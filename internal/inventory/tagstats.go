//
// Copyright (C) 2020 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package inventory

import (
	"math"

	"edgexfoundry/app-rfid-gen2-reader/internal/circular"
)

// TagStatsWindowSize is how many recent reads make up a tag's moving averages.
const TagStatsWindowSize = 20

// tagStats keeps moving averages of a tag's reply strength
// and of the time between its reads.
type tagStats struct {
	lastRead     int64
	readInterval *circular.Buffer
	strength     *circular.Buffer
}

func newTagStats() *tagStats {
	return &tagStats{
		readInterval: circular.NewBuffer(TagStatsWindowSize),
		strength:     circular.NewBuffer(TagStatsWindowSize),
	}
}

func (stats *tagStats) updateStrength(s float64) {
	if s > 0 {
		stats.strength.Add(s)
	}
}

func (stats *tagStats) updateLastRead(lastRead int64) {
	// skip times that are at or before the current last read timestamp
	if lastRead <= stats.lastRead {
		return
	}

	if stats.lastRead != 0 {
		stats.readInterval.Add(float64(lastRead - stats.lastRead))
	}
	stats.lastRead = lastRead
}

func (stats *tagStats) meanStrength() float64 {
	return zeroIfNaN(stats.strength.Mean())
}

func (stats *tagStats) meanReadInterval() float64 {
	return zeroIfNaN(stats.readInterval.Mean())
}

func zeroIfNaN(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return v
}
