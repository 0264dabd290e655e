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

package diskbudget

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedUsage(free uint64) UsageFunc {
	return func(string) (uint64, error) { return free, nil }
}

func TestReserveWithinHeadroomSucceeds(t *testing.T) {
	b := New("/data", fixedUsage(1000))
	h, err := b.Reserve(400)
	require.NoError(t, err)
	require.NotNil(t, h)
}

func TestReserveBeyondHeadroomFails(t *testing.T) {
	b := New("/data", fixedUsage(1000))
	_, err := b.Reserve(400)
	require.NoError(t, err)
	_, err = b.Reserve(700)
	assert.Error(t, err)
}

func TestReleaseFreesReservation(t *testing.T) {
	b := New("/data", fixedUsage(1000))
	h, err := b.Reserve(900)
	require.NoError(t, err)
	h.Release()
	_, err = b.Reserve(900)
	assert.NoError(t, err)
}

func TestReleaseIsIdempotent(t *testing.T) {
	b := New("/data", fixedUsage(1000))
	h, err := b.Reserve(900)
	require.NoError(t, err)
	h.Release()
	h.Release()
	_, err = b.Reserve(900)
	assert.NoError(t, err, "double release must not double-free")
}

func TestOutstandingNeverExceedsFree(t *testing.T) {
	b := New("/data", fixedUsage(500))
	var handles []*Handle
	for i := 0; i < 10; i++ {
		h, err := b.Reserve(80)
		if err != nil {
			continue
		}
		handles = append(handles, h)
	}
	var sum int64
	for _, h := range handles {
		sum += h.bytes
	}
	assert.LessOrEqual(t, sum, int64(500))
}
