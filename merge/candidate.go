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

// Package merge holds the candidate-run type and the pluggable predicate
// that gates which parts may ever be merged together.
package merge

import (
	"time"

	"github.com/cardinalhq/mergetree/part"
)

// Candidate is a contiguous run of parts eligible to be merged together.
// Parts are kept in ascending MinBlockID order.
type Candidate struct {
	Parts []part.Descriptor
}

// Len returns the number of parts in the candidate.
func (c Candidate) Len() int { return len(c.Parts) }

// SumSizeRows returns the total row count across the candidate.
func (c Candidate) SumSizeRows(indexGranularity int64) int64 {
	var sum int64
	for _, p := range c.Parts {
		sum += p.Rows(indexGranularity)
	}
	return sum
}

// SumSizeBytes returns the total byte size across the candidate.
func (c Candidate) SumSizeBytes() int64 {
	var sum int64
	for _, p := range c.Parts {
		sum += p.SizeInBytes
	}
	return sum
}

// MaxSizeRows returns the row count of the largest part in the candidate.
func (c Candidate) MaxSizeRows(indexGranularity int64) int64 {
	var max int64
	for _, p := range c.Parts {
		if r := p.Rows(indexGranularity); r > max {
			max = r
		}
	}
	return max
}

// MinSizeRows returns the row count of the smallest part in the candidate.
func (c Candidate) MinSizeRows(indexGranularity int64) int64 {
	if len(c.Parts) == 0 {
		return 0
	}
	min := c.Parts[0].Rows(indexGranularity)
	for _, p := range c.Parts[1:] {
		if r := p.Rows(indexGranularity); r < min {
			min = r
		}
	}
	return min
}

// OldestModification returns the earliest ModificationTime in the candidate.
func (c Candidate) OldestModification() time.Time {
	var oldest time.Time
	for i, p := range c.Parts {
		if i == 0 || p.ModificationTime.Before(oldest) {
			oldest = p.ModificationTime
		}
	}
	return oldest
}

// Partition returns the partition key of the candidate. Callers must ensure
// (via MergePredicate) that all parts in a candidate share one partition.
func (c Candidate) Partition() string {
	if len(c.Parts) == 0 {
		return ""
	}
	return c.Parts[0].Partition()
}

// Names returns the part names in the candidate, in order.
func (c Candidate) Names() []string {
	names := make([]string, len(c.Parts))
	for i, p := range c.Parts {
		names[i] = p.Name
	}
	return names
}
