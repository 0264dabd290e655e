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

// Package part describes the immutable data parts a table is built from:
// their identity, ordering, and the invariants that hold across a merge.
package part

import (
	"fmt"
	"time"
)

// Descriptor is an in-memory summary of one immutable part. It never
// changes after publication; a merge produces a brand new Descriptor rather
// than mutating an existing one.
type Descriptor struct {
	Name string

	SizeInMarks int64 // granules; rows = SizeInMarks * table's IndexGranularity
	SizeInBytes int64

	MinDate time.Time
	MaxDate time.Time

	MinBlockID int64
	MaxBlockID int64

	Level int

	ModificationTime time.Time
}

// Rows returns the row count of the part given the table's index granularity.
func (d Descriptor) Rows(indexGranularity int64) int64 {
	return d.SizeInMarks * indexGranularity
}

// Partition is the month bucket a part belongs to, derived from MinDate.
// Callers are expected to have already rejected parts where MinDate and
// MaxDate fall in different months (see ValidatePartition).
func (d Descriptor) Partition() string {
	return PartitionKey(d.MinDate)
}

// PartitionKey derives the month-bucket partition key for a date.
func PartitionKey(t time.Time) string {
	return t.UTC().Format("200601")
}

// ValidatePartition enforces the single-partition invariant: MinDate and
// MaxDate of one part must fall in the same month. Parts that violate this
// must be skipped by callers (selection/executor), never merged.
func ValidatePartition(d Descriptor) error {
	if PartitionKey(d.MinDate) != PartitionKey(d.MaxDate) {
		return fmt.Errorf("part %s spans multiple partitions (%s..%s)",
			d.Name, PartitionKey(d.MinDate), PartitionKey(d.MaxDate))
	}
	return nil
}

// Overlaps reports whether two parts, assumed to be in the same partition,
// overlap in block-id range. Parts are ordered by [MinBlockID, MaxBlockID]
// and must be non-overlapping; next.MinBlockID must be >= prev.MaxBlockID.
func Overlaps(prev, next Descriptor) bool {
	return next.MinBlockID < prev.MaxBlockID
}

// Name synthesizes the canonical part name from its identifying envelope,
// following (min_date, max_date, min_block_id, max_block_id, level).
func Name(minDate, maxDate time.Time, minBlockID, maxBlockID int64, level int) string {
	return fmt.Sprintf("%s_%s_%d_%d_%d",
		minDate.UTC().Format("20060102"),
		maxDate.UTC().Format("20060102"),
		minBlockID, maxBlockID, level,
	)
}

// Envelope computes the envelope of a replacement part given the set of
// parts it supersedes, per the replaceParts invariants in spec.md §3:
// new.min_block_id = min(old.min_block_id), new.max_block_id =
// max(old.max_block_id), new.level = 1 + max(old.level), new.min_date =
// min(old.min_date), new.max_date = max(old.max_date).
func Envelope(old []Descriptor) Descriptor {
	if len(old) == 0 {
		return Descriptor{}
	}
	out := Descriptor{
		MinDate:    old[0].MinDate,
		MaxDate:    old[0].MaxDate,
		MinBlockID: old[0].MinBlockID,
		MaxBlockID: old[0].MaxBlockID,
		Level:      old[0].Level,
	}
	for _, o := range old[1:] {
		if o.MinDate.Before(out.MinDate) {
			out.MinDate = o.MinDate
		}
		if o.MaxDate.After(out.MaxDate) {
			out.MaxDate = o.MaxDate
		}
		if o.MinBlockID < out.MinBlockID {
			out.MinBlockID = o.MinBlockID
		}
		if o.MaxBlockID > out.MaxBlockID {
			out.MaxBlockID = o.MaxBlockID
		}
		if o.Level > out.Level {
			out.Level = o.Level
		}
	}
	out.Level++
	out.Name = Name(out.MinDate, out.MaxDate, out.MinBlockID, out.MaxBlockID, out.Level)
	return out
}
