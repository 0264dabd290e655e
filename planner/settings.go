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

// Package planner implements SelectionPolicy: the heuristic that decides
// which contiguous run of parts is the best candidate to merge next.
package planner

import "time"

// Settings are the table-level tunables consulted during selection.
type Settings struct {
	IndexGranularity          int64
	MaxPartsToMergeAtOnce     int
	MaxRowsToMergeParts       int64
	MaxRowsToMergePartsSecond int64
	MergePartsAtNightInc      float64
	MaxSizeRatioToMergeParts  float64
}

// DefaultSettings mirrors the teacher's config defaults shape
// (config.GetDefaultScalingConfig) — sane out-of-the-box values.
func DefaultSettings() Settings {
	return Settings{
		IndexGranularity:          8192,
		MaxPartsToMergeAtOnce:     100,
		MaxRowsToMergeParts:       150_000_000,
		MaxRowsToMergePartsSecond: 15_000_000,
		MergePartsAtNightInc:      10,
		MaxSizeRatioToMergeParts:  5,
	}
}

// Options control the caller-selected merge mode for one selection call.
type Options struct {
	// MergeOldPartitions allows the balance check to be bypassed for old,
	// aged-out partitions (the "escape hatch" sweep).
	MergeOldPartitions bool
	// Aggressive disables all size caps and the balance check entirely;
	// any run of length >= 2 is valid. Aggressive takes precedence over
	// OnlySmall (spec.md §9 open question, resolved).
	Aggressive bool
	// OnlySmall restricts the per-part row cap to MaxRowsToMergePartsSecond;
	// used cooperatively when another worker is merging a large candidate.
	OnlySmall bool
}

const (
	// DiskUsageCoefficientToSelect is the safety margin required at
	// selection time: disk_free must exceed sum_bytes by this factor.
	DiskUsageCoefficientToSelect = 1.6

	nightWindowStartHour = 1
	nightWindowEndHour   = 5

	largePartRowBytesThreshold = 1 << 30 // ~1 GiB
	approxBytesPerRow          = 150
	largePartAgeCeiling        = 6 * time.Hour
	oldPartitionMinAge         = 15 * 24 * time.Hour
	ageNormalizationSeconds    = 30 * 86400
)

// isNightWindow reports whether t's local hour falls in the off-peak
// 01:00-05:00 window during which the per-part row cap is relaxed.
func isNightWindow(t time.Time) bool {
	h := t.Hour()
	return h >= nightWindowStartHour && h <= nightWindowEndHour
}
