//
// Copyright (C) 2020 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package inventory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestUnixMilli(t *testing.T) {
	var target time.Time
	assert.Zero(t, UnixMilli(target), "zero time should be 0")
	assert.True(t, FromUnixMilli(0).IsZero())

	target = time.Now()
	assert.NotZero(t, UnixMilli(target))

	time.Sleep(30 * time.Millisecond)
	delta := UnixMilliNow() - UnixMilli(target)
	assert.GreaterOrEqual(t, delta, int64(25))
	assert.Less(t, delta, int64(1000))
}

func TestUnixMilliCalculation(t *testing.T) {
	expectedMs := int64(1502472327865)
	target := time.Unix(expectedMs/1000, expectedMs%1000*1000000)
	assert.Equal(t, expectedMs, UnixMilli(target))
	assert.True(t, target.Equal(FromUnixMilli(expectedMs)))
}
