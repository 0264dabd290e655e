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

package merge

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

// stripeCount is the number of independent lock stripes a busy part name can
// rendezvous-hash to. Kept small and fixed: this set only ever holds the
// parts actively participating in an in-flight merge, never the whole table.
const stripeCount = 16

// BusySet tracks which parts are currently locked into an in-flight merge.
// Registry.MarkBusy/IsBusy and MergePredicate both consult it; it is safe for
// concurrent use by many worker goroutines.
//
// Contention is spread across stripeCount independent mutexes using the same
// rendezvous-hash trick the teacher uses to assign affinity keys to workers
// (core/workcoord.AssignByRendezvous): each part name is routed to whichever
// stripe scores the highest hash(name+stripeID), which spreads names evenly
// without needing a consistent-hash ring.
type BusySet struct {
	stripes [stripeCount]stripe
}

type stripe struct {
	mu   sync.Mutex
	busy map[string]struct{}
}

// NewBusySet creates an empty BusySet.
func NewBusySet() *BusySet {
	bs := &BusySet{}
	for i := range bs.stripes {
		bs.stripes[i].busy = make(map[string]struct{})
	}
	return bs
}

func stripeIndexFor(name string) int {
	best := -1
	var bestHash uint64
	for i := 0; i < stripeCount; i++ {
		h := xxhash.Sum64String(name + string(rune('A'+i)))
		if best < 0 || h > bestHash {
			best = i
			bestHash = h
		}
	}
	return best
}

// IsBusy reports whether the named part is currently locked into a merge.
func (b *BusySet) IsBusy(name string) bool {
	s := &b.stripes[stripeIndexFor(name)]
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.busy[name]
	return ok
}

// MarkBusy locks the given part names into an in-flight merge and returns a
// release function that unlocks all of them. The release function is
// idempotent-safe to call from a defer even after an early return.
func (b *BusySet) MarkBusy(names []string) (release func()) {
	touched := make(map[int][]string)
	for _, n := range names {
		idx := stripeIndexFor(n)
		touched[idx] = append(touched[idx], n)
	}
	for idx, ns := range touched {
		s := &b.stripes[idx]
		s.mu.Lock()
		for _, n := range ns {
			s.busy[n] = struct{}{}
		}
		s.mu.Unlock()
	}
	released := false
	return func() {
		if released {
			return
		}
		released = true
		for idx, ns := range touched {
			s := &b.stripes[idx]
			s.mu.Lock()
			for _, n := range ns {
				delete(s.busy, n)
			}
			s.mu.Unlock()
		}
	}
}
