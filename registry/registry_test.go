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

package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/mergetree/part"
)

func TestSnapshotIsSortedByPartitionThenBlockID(t *testing.T) {
	r := New()
	day := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	r.Add(part.Descriptor{Name: "b", MinDate: day, MaxDate: day, MinBlockID: 20, MaxBlockID: 30, ModificationTime: time.Now()})
	r.Add(part.Descriptor{Name: "a", MinDate: day, MaxDate: day, MinBlockID: 0, MaxBlockID: 10, ModificationTime: time.Now()})

	snap := r.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "a", snap[0].Name)
	assert.Equal(t, "b", snap[1].Name)
}

func TestReplacePartsSucceedsWhenOldMatches(t *testing.T) {
	r := New()
	day := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	mod := time.Now()
	p0 := part.Descriptor{Name: "p0", MinDate: day, MaxDate: day, MinBlockID: 0, MaxBlockID: 10, ModificationTime: mod}
	p1 := part.Descriptor{Name: "p1", MinDate: day, MaxDate: day, MinBlockID: 10, MaxBlockID: 20, ModificationTime: mod}
	r.Add(p0)
	r.Add(p1)

	merged := part.Envelope([]part.Descriptor{p0, p1})
	err := r.ReplaceParts([]part.Descriptor{p0, p1}, merged)
	require.NoError(t, err)

	snap := r.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, merged.Name, snap[0].Name)
}

func TestReplacePartsConflictsWhenAlreadySuperseded(t *testing.T) {
	r := New()
	day := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	p0 := part.Descriptor{Name: "p0", MinDate: day, MaxDate: day, MinBlockID: 0, MaxBlockID: 10, ModificationTime: time.Now()}
	r.Add(p0)

	stale := p0
	stale.ModificationTime = p0.ModificationTime.Add(-time.Hour)

	err := r.ReplaceParts([]part.Descriptor{stale}, part.Descriptor{Name: "new"})
	assert.ErrorIs(t, err, ErrConflict)

	snap := r.Snapshot()
	require.Len(t, snap, 1, "registry must be untouched on conflict")
}

func TestMarkBusyTogglesIsBusy(t *testing.T) {
	r := New()
	release := r.MarkBusy([]string{"p0"})
	assert.True(t, r.IsBusy("p0"))
	release()
	assert.False(t, r.IsBusy("p0"))
}
