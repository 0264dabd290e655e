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

// Package storage defines the column-stream I/O surface merges are built
// on: rows, pooled batches, and the PartReader/PartWriter contracts.
package storage

// Row is one record, column name to value. Values carry whatever concrete
// Go type the column's on-disk encoding produces (int64, float64, string,
// []byte, ...); combiners type-switch on the columns they care about.
type Row map[string]any

// Sign is the well-known column name Collapsing mode reads its +1/-1
// marker from.
const Sign = "_sign"

// SignOf extracts the Collapsing sign of a row, defaulting to +1 for rows
// that omit the column (so Ordinary data can pass through unmodified).
func SignOf(r Row) int64 {
	v, ok := r[Sign]
	if !ok {
		return 1
	}
	switch n := v.(type) {
	case int64:
		return n
	case int32:
		return int64(n)
	case int:
		return int64(n)
	default:
		return 1
	}
}

// CloneRow makes an independent copy of r, safe to retain past the
// lifetime of the Batch it came from.
func CloneRow(r Row) Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}
