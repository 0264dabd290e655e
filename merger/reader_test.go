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

package merger

import (
	"context"
	"io"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/mergetree/source"
	"github.com/cardinalhq/mergetree/storage"
)

func openSource(t *testing.T, store *storage.MemStore, name string, idx int, rows []storage.Row, keyCols []string) *source.Source {
	t.Helper()
	store.PutPart(name, rows)
	s, err := source.Open(context.Background(), store, name, idx, nil, keyCols, 0, 0)
	require.NoError(t, err)
	return s
}

func readAll(t *testing.T, r *Reader) []storage.Row {
	t.Helper()
	var out []storage.Row
	for {
		b, err := r.Read(context.Background())
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		for i := 0; i < b.Len(); i++ {
			out = append(out, storage.CloneRow(b.Get(i)))
		}
		storage.ReturnBatch(b)
	}
	return out
}

func TestOrdinaryMergePreservesAllRowsInKeyOrder(t *testing.T) {
	store := storage.NewMemStore()
	s0 := openSource(t, store, "p0", 0, []storage.Row{
		{"k": int64(1)}, {"k": int64(3)},
	}, []string{"k"})
	s1 := openSource(t, store, "p1", 1, []storage.Row{
		{"k": int64(2)}, {"k": int64(4)},
	}, []string{"k"})

	r, err := New(context.Background(), []*source.Source{s0, s1}, Ordinary, 10, nil, nil, nil)
	require.NoError(t, err)
	defer r.Close()

	rows := readAll(t, r)
	require.Len(t, rows, 4)
	for i, want := range []int64{1, 2, 3, 4} {
		assert.Equal(t, want, rows[i]["k"])
	}
}

func TestCollapsingAnnihilatesBalancedGroup(t *testing.T) {
	store := storage.NewMemStore()
	s0 := openSource(t, store, "p0", 0, []storage.Row{
		{"k": int64(1), storage.Sign: int64(1)},
	}, []string{"k"})
	s1 := openSource(t, store, "p1", 1, []storage.Row{
		{"k": int64(1), storage.Sign: int64(-1)},
	}, []string{"k"})

	r, err := New(context.Background(), []*source.Source{s0, s1}, Collapsing, 10, nil, nil, nil)
	require.NoError(t, err)
	defer r.Close()

	rows := readAll(t, r)
	assert.Empty(t, rows, "balanced group must annihilate entirely")
}

func TestCollapsingKeepsSurplusOfUnbalancedGroup(t *testing.T) {
	store := storage.NewMemStore()
	s0 := openSource(t, store, "p0", 0, []storage.Row{
		{"k": int64(1), storage.Sign: int64(1)},
	}, []string{"k"})
	s1 := openSource(t, store, "p1", 1, []storage.Row{
		{"k": int64(1), storage.Sign: int64(1)},
	}, []string{"k"})

	r, err := New(context.Background(), []*source.Source{s0, s1}, Collapsing, 10, nil, nil, nil)
	require.NoError(t, err)
	defer r.Close()

	rows := readAll(t, r)
	require.Len(t, rows, 2)
	for _, row := range rows {
		assert.Equal(t, int64(1), row[storage.Sign])
	}
}

func TestSummingCombinesEqualKeyRows(t *testing.T) {
	store := storage.NewMemStore()
	s0 := openSource(t, store, "p0", 0, []storage.Row{
		{"k": int64(1), "v": int64(10)},
	}, []string{"k"})
	s1 := openSource(t, store, "p1", 1, []storage.Row{
		{"k": int64(1), "v": int64(5)},
	}, []string{"k"})

	r, err := New(context.Background(), []*source.Source{s0, s1}, Summing, 10, []string{"v"}, nil, nil)
	require.NoError(t, err)
	defer r.Close()

	rows := readAll(t, r)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(15), rows[0]["v"])
}

func TestEqualKeyTiesBreakByAscendingSourceIndex(t *testing.T) {
	store := storage.NewMemStore()
	s0 := openSource(t, store, "p0", 0, []storage.Row{
		{"k": int64(1), "tag": "from-p0"},
	}, []string{"k"})
	s1 := openSource(t, store, "p1", 1, []storage.Row{
		{"k": int64(1), "tag": "from-p1"},
	}, []string{"k"})

	r, err := New(context.Background(), []*source.Source{s0, s1}, Ordinary, 10, nil, nil, nil)
	require.NoError(t, err)
	defer r.Close()

	rows := readAll(t, r)
	require.Len(t, rows, 2)
	assert.Equal(t, "from-p0", rows[0]["tag"])
	assert.Equal(t, "from-p1", rows[1]["tag"])
}

func TestReadRespectsCooperativeCancellation(t *testing.T) {
	store := storage.NewMemStore()
	s0 := openSource(t, store, "p0", 0, []storage.Row{
		{"k": int64(1)},
	}, []string{"k"})

	canceled := &atomic.Bool{}
	r, err := New(context.Background(), []*source.Source{s0}, Ordinary, 10, nil, canceled, nil)
	require.NoError(t, err)
	defer r.Close()

	canceled.Store(true)
	_, err = r.Read(context.Background())
	assert.ErrorIs(t, err, ErrCanceled)
}
