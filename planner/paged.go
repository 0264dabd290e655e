// Copyright (C) 2025-2026 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package planner

import (
	"log/slog"
	"time"

	"github.com/cardinalhq/mergetree/merge"
	"github.com/cardinalhq/mergetree/part"
	"github.com/cardinalhq/mergetree/registry"
)

// PageFunc mirrors registry.Registry.SnapshotPage's contract; kept as a
// function type so SelectPaged depends only on the cursor shape, not on the
// concrete Registry.
type PageFunc func(cursor registry.Cursor, limit int) (page []part.Descriptor, next registry.Cursor)

// SelectPaged walks a PartRegistry one bounded window at a time instead of
// materializing its whole snapshot, for tables with more live parts than a
// caller wants to hold in memory at once. A candidate run never spans two
// partitions, so windows are only ever handed to Select once a full
// partition has been buffered — either because the next page starts a new
// partition or because the registry is exhausted — guaranteeing a page cut
// landing mid-partition never hides a candidate from Select.
//
// It returns the first candidate found while walking forward from start, and
// the cursor to resume scanning from on the next call (round-robin; the
// caller wraps back to the zero Cursor once next comes back zero). Unlike
// Select over a full snapshot, this does not compare candidates across
// partitions to find a single global best — it returns as soon as one
// partition yields a candidate, trading optimality for bounded memory.
func SelectPaged(
	ll *slog.Logger,
	page PageFunc,
	start registry.Cursor,
	windowSize int,
	now time.Time,
	diskFreeBytes int64,
	predicate merge.Predicate,
	opts Options,
	settings Settings,
) (*merge.Candidate, registry.Cursor) {
	if ll == nil {
		ll = slog.Default()
	}
	if windowSize <= 0 {
		windowSize = 4096
	}

	cursor := start
	var buf []part.Descriptor
	var resume registry.Cursor

	tryFlush := func(upto int) (*merge.Candidate, bool) {
		if upto == 0 {
			return nil, false
		}
		window := buf[:upto]
		last := window[len(window)-1]
		buf = append([]part.Descriptor{}, buf[upto:]...)
		cand := Select(ll, window, now, diskFreeBytes, predicate, opts, settings)
		if cand != nil {
			resume = registry.Cursor{Partition: last.Partition(), MinBlockID: last.MinBlockID}
		}
		return cand, cand != nil
	}

	for {
		batch, next := page(cursor, windowSize)
		if len(batch) == 0 {
			cand, ok := tryFlush(len(buf))
			if ok {
				return cand, cursor
			}
			return nil, registry.Cursor{}
		}
		buf = append(buf, batch...)
		cursor = next

		for {
			boundary := -1
			for i := 1; i < len(buf); i++ {
				if buf[i].Partition() != buf[0].Partition() {
					boundary = i
					break
				}
			}
			if boundary < 0 {
				break
			}
			if cand, ok := tryFlush(boundary); ok {
				// Resume right after the flushed partition so the parts
				// already buffered past the boundary are read again next call.
				return cand, resume
			}
		}

		if next == (registry.Cursor{}) {
			if cand, ok := tryFlush(len(buf)); ok {
				return cand, cursor
			}
			return nil, registry.Cursor{}
		}
	}
}
