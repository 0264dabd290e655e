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

package source

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/mergetree/storage"
)

func TestKeyCompareOrdersByEachColumnInTurn(t *testing.T) {
	a := Key{values: []any{int64(1), "b"}}
	b := Key{values: []any{int64(1), "c"}}
	assert.Negative(t, a.Compare(b))
	assert.Positive(t, b.Compare(a))
	assert.Zero(t, a.Compare(a))
}

func TestKeyCompareHandlesEachSupportedType(t *testing.T) {
	assert.Negative(t, Key{values: []any{int64(1)}}.Compare(Key{values: []any{int64(2)}}))
	assert.Negative(t, Key{values: []any{int32(1)}}.Compare(Key{values: []any{int32(2)}}))
	assert.Negative(t, Key{values: []any{1}}.Compare(Key{values: []any{2}}))
	assert.Negative(t, Key{values: []any{1.5}}.Compare(Key{values: []any{2.5}}))
	assert.Negative(t, Key{values: []any{"a"}}.Compare(Key{values: []any{"b"}}))
	assert.Negative(t, Key{values: []any{[]byte("a")}}.Compare(Key{values: []any{[]byte("b")}}))

	t0 := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	t1 := t0.Add(time.Hour)
	assert.Negative(t, Key{values: []any{t0}}.Compare(Key{values: []any{t1}}))
	assert.Zero(t, Key{values: []any{t0}}.Compare(Key{values: []any{t0}}))
}

func TestKeyCompareFallsBackToStringForMismatchedTypes(t *testing.T) {
	// "10" sorts before "9" as strings even though 10 > 9 numerically,
	// pinning down the fallback's actual behavior rather than just "no panic".
	mismatched := Key{values: []any{int64(10)}}.Compare(Key{values: []any{"9"}})
	assert.Negative(t, mismatched)

	assert.NotPanics(t, func() {
		Key{values: []any{"x"}}.Compare(Key{values: []any{3.14}})
	})
}

func TestKeyCompareShorterKeySortsFirstOnCommonPrefixTie(t *testing.T) {
	short := Key{values: []any{int64(1)}}
	long := Key{values: []any{int64(1), int64(2)}}
	assert.Negative(t, short.Compare(long))
	assert.Positive(t, long.Compare(short))
}

func TestKeyOfExtractsDeclaredColumnsInOrder(t *testing.T) {
	row := storage.Row{"key": int64(7), "other": "ignored", "ts": int64(99)}
	k := KeyOf(row, []string{"key", "ts"})
	assert.Equal(t, []any{int64(7), int64(99)}, k.values)
}

func TestSourceOpenAndNextStreamsRowsThenEOF(t *testing.T) {
	store := storage.NewMemStore()
	store.PutPart("p0", []storage.Row{
		{"key": int64(1)},
		{"key": int64(2)},
	})

	s, err := Open(context.Background(), store, "p0", 3, nil, []string{"key"}, 0, 0)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	assert.Equal(t, 3, s.SourceIndex())
	assert.Equal(t, "p0", s.PartName())

	row, key, err := s.Next()
	require.NoError(t, err)
	assert.Equal(t, int64(1), row["key"])
	assert.Equal(t, []any{int64(1)}, key.values)

	_, _, err = s.Next()
	require.NoError(t, err)

	_, _, err = s.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestSourceCloseIsIdempotent(t *testing.T) {
	store := storage.NewMemStore()
	store.PutPart("p0", nil)
	s, err := Open(context.Background(), store, "p0", 0, nil, []string{"key"}, 0, 0)
	require.NoError(t, err)

	assert.NoError(t, s.Close())
	assert.NoError(t, s.Close())
}
