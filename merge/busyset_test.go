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
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBusySetMarkAndRelease(t *testing.T) {
	bs := NewBusySet()
	assert.False(t, bs.IsBusy("p0"))

	release := bs.MarkBusy([]string{"p0", "p1"})
	assert.True(t, bs.IsBusy("p0"))
	assert.True(t, bs.IsBusy("p1"))
	assert.False(t, bs.IsBusy("p2"))

	release()
	assert.False(t, bs.IsBusy("p0"))
	assert.False(t, bs.IsBusy("p1"))
}

func TestBusySetReleaseIsIdempotent(t *testing.T) {
	bs := NewBusySet()
	release := bs.MarkBusy([]string{"p0"})
	release()
	assert.NotPanics(t, release)
	assert.False(t, bs.IsBusy("p0"))
}

func TestBusySetSpreadsNamesAcrossStripes(t *testing.T) {
	seen := make(map[int]bool)
	for i := 0; i < 200; i++ {
		seen[stripeIndexFor(fmt.Sprintf("part-%d", i))] = true
	}
	assert.Greater(t, len(seen), 1, "200 distinct names should not all land on one stripe")
}

func TestBusySetConcurrentMarkIsRace(t *testing.T) {
	bs := NewBusySet()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := fmt.Sprintf("p%d", i)
			release := bs.MarkBusy([]string{name})
			assert.True(t, bs.IsBusy(name))
			release()
		}(i)
	}
	wg.Wait()
}
