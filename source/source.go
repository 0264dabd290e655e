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

// Package source wraps one part's column stream with the primary-key
// expression evaluator MergingReader needs to k-way merge across parts.
package source

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/cardinalhq/mergetree/storage"
)

// Key is a comparable primary-key tuple extracted from one row.
type Key struct {
	values []any
}

// Compare implements the ascending ordering over key columns declared for
// the table. Values of a column are expected to share one concrete type
// across all parts; mismatched types compare by their formatted string as
// a last resort so Compare never panics on heterogeneous input.
func (k Key) Compare(other Key) int {
	n := len(k.values)
	if len(other.values) < n {
		n = len(other.values)
	}
	for i := 0; i < n; i++ {
		if c := compareValue(k.values[i], other.values[i]); c != 0 {
			return c
		}
	}
	return len(k.values) - len(other.values)
}

func compareValue(a, b any) int {
	switch av := a.(type) {
	case int64:
		if bv, ok := b.(int64); ok {
			return cmpOrdered(av, bv)
		}
	case int32:
		if bv, ok := b.(int32); ok {
			return cmpOrdered(av, bv)
		}
	case int:
		if bv, ok := b.(int); ok {
			return cmpOrdered(av, bv)
		}
	case float64:
		if bv, ok := b.(float64); ok {
			return cmpOrdered(av, bv)
		}
	case string:
		if bv, ok := b.(string); ok {
			return cmpOrdered(av, bv)
		}
	case []byte:
		if bv, ok := b.([]byte); ok {
			return bytes.Compare(av, bv)
		}
	case time.Time:
		if bv, ok := b.(time.Time); ok {
			switch {
			case av.Before(bv):
				return -1
			case av.After(bv):
				return 1
			default:
				return 0
			}
		}
	}
	return cmpOrdered(fmt.Sprint(a), fmt.Sprint(b))
}

func cmpOrdered[T interface {
	~int | ~int32 | ~int64 | ~float64 | ~string
}](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// KeyOf extracts a Key from a row using the declared key columns, in order.
func KeyOf(r storage.Row, keyColumns []string) Key {
	values := make([]any, len(keyColumns))
	for i, c := range keyColumns {
		values[i] = r[c]
	}
	return Key{values: values}
}

// Source streams rows from one part in primary-key order, paired with the
// pre-extracted Key and the source's stable index (ascending min_block_id
// across the candidate; ties in MergingReader break by this index).
type Source struct {
	partName    string
	sourceIndex int
	stream      storage.ColumnStream
	keyColumns  []string
	closed      bool
}

// Open opens a part's column stream over [startMark, endMark) for columns,
// wrapping it with the primary-key evaluator for keyColumns.
func Open(
	ctx context.Context,
	reader storage.PartReader,
	partName string,
	sourceIndex int,
	columns []string,
	keyColumns []string,
	startMark, endMark int64,
) (*Source, error) {
	stream, err := reader.Open(ctx, partName, columns, startMark, endMark)
	if err != nil {
		return nil, fmt.Errorf("source: open %s: %w", partName, err)
	}
	return &Source{
		partName:    partName,
		sourceIndex: sourceIndex,
		stream:      stream,
		keyColumns:  keyColumns,
	}, nil
}

// SourceIndex is this source's position in the candidate's part ordering.
func (s *Source) SourceIndex() int { return s.sourceIndex }

// PartName is the name of the part this source reads from.
func (s *Source) PartName() string { return s.partName }

// Next returns the next (row, key) pair, or io.EOF once the part is
// exhausted.
func (s *Source) Next() (storage.Row, Key, error) {
	row, err := s.stream.GetRow()
	if err != nil {
		return nil, Key{}, err
	}
	return row, KeyOf(row, s.keyColumns), nil
}

// Close releases the underlying column stream. Safe to call more than once.
func (s *Source) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.stream.Close()
}
