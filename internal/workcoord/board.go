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

// Package workcoord lets merge workers signal each other's in-flight
// candidate sizes without a single shared boolean, so that only_small
// degrades gracefully as more workers join.
package workcoord

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

const boardStripes = 8

// Board tracks each worker's currently in-flight candidate row count,
// sharded across a small number of rendezvous-hashed stripes the same way
// merge.BusySet shards part names, rather than a single mutex-guarded map.
type Board struct {
	stripes [boardStripes]stripe
}

type stripe struct {
	mu       sync.Mutex
	inFlight map[string]int64
}

func NewBoard() *Board {
	b := &Board{}
	for i := range b.stripes {
		b.stripes[i].inFlight = make(map[string]int64)
	}
	return b
}

func stripeFor(workerID string) int {
	best := -1
	var bestHash uint64
	for i := 0; i < boardStripes; i++ {
		h := xxhash.Sum64String(workerID + string(rune('A'+i)))
		if best < 0 || h > bestHash {
			best, bestHash = i, h
		}
	}
	return best
}

// Begin records that workerID has started merging a candidate of the given
// row count.
func (b *Board) Begin(workerID string, rows int64) {
	s := &b.stripes[stripeFor(workerID)]
	s.mu.Lock()
	s.inFlight[workerID] = rows
	s.mu.Unlock()
}

// End clears workerID's in-flight entry.
func (b *Board) End(workerID string) {
	s := &b.stripes[stripeFor(workerID)]
	s.mu.Lock()
	delete(s.inFlight, workerID)
	s.mu.Unlock()
}

// AnyLargeInFlight reports whether any worker (other than exclude) is
// currently merging a candidate at or above threshold rows. Workers consult
// this before selection to decide whether to pass only_small=true.
func (b *Board) AnyLargeInFlight(threshold int64, exclude string) bool {
	for i := range b.stripes {
		s := &b.stripes[i]
		s.mu.Lock()
		for id, rows := range s.inFlight {
			if id != exclude && rows >= threshold {
				s.mu.Unlock()
				return true
			}
		}
		s.mu.Unlock()
	}
	return false
}
