//
// Copyright (C) 2020 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package inventory

import (
	"time"
)

// UnixMilli converts provided time to milliseconds since epoch.
// The zero time is 0, not a large negative number.
func UnixMilli(mytime time.Time) int64 {
	if mytime.IsZero() {
		return 0
	}

	return mytime.UnixMilli()
}

// UnixMilliNow returns current time as milliseconds since epoch
func UnixMilliNow() int64 {
	return time.Now().UnixMilli()
}

// FromUnixMilli is the inverse of UnixMilli.
func FromUnixMilli(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
