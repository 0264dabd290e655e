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

// Package merger implements the k-way sorted merge of a candidate's parts
// and the row-collapsing policies applied to equal-key groups.
package merger

import (
	"fmt"

	"github.com/DataDog/sketches-go/ddsketch"
)

// Mode selects how MergingReader combines rows that share a full primary
// key.
type Mode int

const (
	// Ordinary passes every row through unmodified.
	Ordinary Mode = iota
	// Collapsing annihilates balanced +1/-1 groups, keeping only the
	// surplus of an unbalanced group.
	Collapsing
	// Summing combines equal-key rows into one, summing declared columns.
	Summing
)

func (m Mode) String() string {
	switch m {
	case Ordinary:
		return "Ordinary"
	case Collapsing:
		return "Collapsing"
	case Summing:
		return "Summing"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// addNumeric combines two Summing values for the same declared column.
// Sketch-typed aggregate columns (percentile/histogram columns declared as
// *ddsketch.DDSketch) merge their quantile estimates rather than adding raw
// numbers, mirroring how ClickHouse's SummingMergeTree treats non-scalar
// aggregate states.
func addNumeric(a, b any) any {
	if as, ok := a.(*ddsketch.DDSketch); ok {
		if bs, ok := b.(*ddsketch.DDSketch); ok {
			if err := as.MergeWith(bs); err != nil {
				return as
			}
			return as
		}
		return as
	}

	ai, aok := toInt(a)
	bi, bok := toInt(b)
	if aok && bok {
		return ai + bi
	}
	af, _ := toFloat(a)
	bf, _ := toFloat(b)
	return af + bf
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}

func toInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int32:
		return int64(n), true
	case int:
		return int64(n), true
	default:
		return 0, false
	}
}
