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

import "github.com/cardinalhq/mergetree/part"

// Predicate decides whether two adjacent parts may ever be merged together.
// SelectionPolicy consults it while growing a candidate run. The executor
// does not call it; at merge start it re-checks only block-id overlap.
type Predicate interface {
	MayMerge(a, b part.Descriptor) bool
}

// PredicateFunc adapts a plain function to Predicate.
type PredicateFunc func(a, b part.Descriptor) bool

func (f PredicateFunc) MayMerge(a, b part.Descriptor) bool { return f(a, b) }

// SamePartitionNotBusy is the default predicate: parts must share a
// partition, must not overlap, and neither may currently be participating
// in another merge.
func SamePartitionNotBusy(busy *BusySet) Predicate {
	return PredicateFunc(func(a, b part.Descriptor) bool {
		if a.Partition() != b.Partition() {
			return false
		}
		if part.Overlaps(a, b) {
			return false
		}
		if busy.IsBusy(a.Name) || busy.IsBusy(b.Name) {
			return false
		}
		return true
	})
}
