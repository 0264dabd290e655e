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

package part

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func day(y int, m int, d int) time.Time {
	return time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
}

func TestEnvelopeSpansMinMaxAndBumpsLevel(t *testing.T) {
	old := []Descriptor{
		{Name: "a", MinDate: day(2026, 3, 5), MaxDate: day(2026, 3, 10), MinBlockID: 20, MaxBlockID: 30, Level: 0},
		{Name: "b", MinDate: day(2026, 3, 1), MaxDate: day(2026, 3, 20), MinBlockID: 0, MaxBlockID: 10, Level: 1},
		{Name: "c", MinDate: day(2026, 3, 8), MaxDate: day(2026, 3, 15), MinBlockID: 10, MaxBlockID: 20, Level: 0},
	}

	env := Envelope(old)

	assert.True(t, env.MinDate.Equal(day(2026, 3, 1)))
	assert.True(t, env.MaxDate.Equal(day(2026, 3, 20)))
	assert.Equal(t, int64(0), env.MinBlockID)
	assert.Equal(t, int64(30), env.MaxBlockID)
	assert.Equal(t, 2, env.Level)
	assert.Equal(t, Name(day(2026, 3, 1), day(2026, 3, 20), 0, 30, 2), env.Name)
}

func TestEnvelopeOfEmptyInputIsZeroValue(t *testing.T) {
	assert.Equal(t, Descriptor{}, Envelope(nil))
}

func TestEnvelopeOfSinglePartCopiesItAndBumpsLevel(t *testing.T) {
	only := Descriptor{Name: "solo", MinDate: day(2026, 1, 1), MaxDate: day(2026, 1, 2), MinBlockID: 5, MaxBlockID: 9, Level: 3}
	env := Envelope([]Descriptor{only})
	assert.Equal(t, 4, env.Level)
	assert.Equal(t, only.MinBlockID, env.MinBlockID)
	assert.Equal(t, only.MaxBlockID, env.MaxBlockID)
}

func TestOverlapsDetectsBlockIDRangeOverlap(t *testing.T) {
	prev := Descriptor{Name: "prev", MinBlockID: 0, MaxBlockID: 10}
	adjacent := Descriptor{Name: "adjacent", MinBlockID: 10, MaxBlockID: 20}
	overlapping := Descriptor{Name: "overlapping", MinBlockID: 5, MaxBlockID: 15}

	assert.False(t, Overlaps(prev, adjacent), "touching ranges are not overlapping")
	assert.True(t, Overlaps(prev, overlapping))
}

func TestValidatePartitionRejectsMultiMonthSpan(t *testing.T) {
	sameMonth := Descriptor{Name: "ok", MinDate: day(2026, 3, 1), MaxDate: day(2026, 3, 31)}
	assert.NoError(t, ValidatePartition(sameMonth))

	crossesMonth := Descriptor{Name: "bad", MinDate: day(2026, 3, 31), MaxDate: day(2026, 4, 1)}
	assert.Error(t, ValidatePartition(crossesMonth))
}

func TestPartitionKeyFormatsAsYearMonth(t *testing.T) {
	assert.Equal(t, "202603", PartitionKey(day(2026, 3, 15)))
}

func TestDescriptorRowsScalesByGranularity(t *testing.T) {
	d := Descriptor{SizeInMarks: 7}
	assert.Equal(t, int64(7000), d.Rows(1000))
}
