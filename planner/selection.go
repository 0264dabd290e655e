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

package planner

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/cardinalhq/mergetree/merge"
	"github.com/cardinalhq/mergetree/part"
)

// runKey is the (max, min, -len) tuple runs are lexicographically compared
// on: prefer the run with the smallest largest part, tie-broken by the
// smallest smallest part, tie-broken by the longest run.
type runKey struct {
	max int64
	min int64
	len int
}

// less reports whether a is preferred over b.
func (a runKey) less(b runKey) bool {
	if a.max != b.max {
		return a.max < b.max
	}
	if a.min != b.min {
		return a.min < b.min
	}
	return a.len > b.len
}

// Select scans a partition-ordered, non-overlapping snapshot of parts and
// returns the single best contiguous run to merge next, or nil if nothing
// currently qualifies. Select is a pure function of its arguments: the same
// snapshot, clock reading, disk figure, predicate and tunables always
// produce the same answer, which is what lets the executor retry selection
// freely without side effects.
//
// snapshot must already be sorted by (Partition, MinBlockID) ascending.
// diskFreeBytes is the free space the caller observed on the volume that
// would receive the merged part.
func Select(
	ll *slog.Logger,
	snapshot []part.Descriptor,
	now time.Time,
	diskFreeBytes int64,
	predicate merge.Predicate,
	opts Options,
	settings Settings,
) *merge.Candidate {
	if ll == nil {
		ll = slog.Default()
	}
	if len(snapshot) < 2 {
		return nil
	}

	maxRowsPerPart := settings.MaxRowsToMergeParts
	if isNightWindow(now) {
		maxRowsPerPart = int64(float64(maxRowsPerPart) * settings.MergePartsAtNightInc)
	}
	if opts.OnlySmall {
		maxRowsPerPart = settings.MaxRowsToMergePartsSecond
	}

	nowPartition := part.PartitionKey(now)

	var (
		found     bool
		bestKey   runKey
		bestStart int
	)

	reachFromLeft := 0
	n := len(snapshot)

	for i := 0; i < n; i++ {
		if reachFromLeft > 0 {
			reachFromLeft--
		}

		first := snapshot[i]

		// A production snapshot from registry.Registry already rejected
		// multi-partition parts at Add/ReplaceParts time; this check is a
		// backstop for callers that hand Select a raw slice directly.
		if err := part.ValidatePartition(first); err != nil {
			ll.Warn("skipping part that spans multiple partitions", slog.String("part", first.Name))
			recordSkip("multi_partition")
			continue
		}

		if !opts.Aggressive && first.Rows(settings.IndexGranularity) > maxRowsPerPart {
			recordSkip("part_too_large")
			continue
		}

		curMaxMarks := first.SizeInMarks
		curMinMarks := first.SizeInMarks
		curSumMarks := first.SizeInMarks
		curSumBytes := first.SizeInBytes
		curLen := 1
		oldestMod := first.ModificationTime
		tail := first

		var longest runKey
		longestFound := false

		cap := settings.MaxPartsToMergeAtOnce
		for curLen < cap && i+curLen < n {
			next := snapshot[i+curLen]

			if err := part.ValidatePartition(next); err != nil {
				break
			}
			if !predicate.MayMerge(tail, next) {
				break
			}
			if next.Partition() != first.Partition() {
				break
			}
			if !opts.Aggressive && next.Rows(settings.IndexGranularity) > maxRowsPerPart {
				break
			}
			if part.Overlaps(tail, next) {
				ll.Warn("adjacent parts overlap in block-id range, stopping growth",
					slog.String("prev", tail.Name), slog.String("next", next.Name))
				break
			}

			if next.ModificationTime.Before(oldestMod) {
				oldestMod = next.ModificationTime
			}
			if next.SizeInMarks > curMaxMarks {
				curMaxMarks = next.SizeInMarks
			}
			if next.SizeInMarks < curMinMarks {
				curMinMarks = next.SizeInMarks
			}
			curSumMarks += next.SizeInMarks
			curSumBytes += next.SizeInBytes
			curLen++
			tail = next

			ageSec := now.Sub(oldestMod).Seconds()
			if ageSec < 0 {
				ageSec = 0
			}

			minLen := 2
			bytesIfLarge := float64(curMaxMarks*settings.IndexGranularity) * approxBytesPerRow
			if bytesIfLarge > largePartRowBytesThreshold && ageSec < largePartAgeCeiling.Seconds() {
				minLen = 3
			}

			timeMod := 0.5 + 9*ageSec/(ageNormalizationSeconds+ageSec)
			logSum := math.Log2(float64(curSumMarks * settings.IndexGranularity))
			sizeMod := math.Max(0.25, 2-3*logSum/(25+logSum))
			ratio := math.Max(0.5, timeMod*sizeMod*settings.MaxSizeRatioToMergeParts)

			balanced := float64(curMaxMarks) < float64(curSumMarks-curMaxMarks)*ratio

			isOldPartition := first.Partition() != nowPartition && ageSec > oldPartitionMinAge.Seconds()
			oldSweep := opts.MergeOldPartitions && isOldPartition

			valid := opts.Aggressive || (curLen >= minLen && (balanced || oldSweep))
			if !valid {
				continue
			}

			if float64(diskFreeBytes) <= float64(curSumBytes)*DiskUsageCoefficientToSelect {
				runsRejectedForDisk.Add(context.Background(), 1)
				ll.Warn("candidate run rejected: insufficient free disk space",
					slog.String("first_part", first.Name), slog.Int64("sum_bytes", curSumBytes))
				continue
			}

			longest = runKey{max: curMaxMarks, min: curMinMarks, len: curLen}
			longestFound = true
		}

		if !longestFound || longest.len <= reachFromLeft {
			continue
		}
		reachFromLeft = longest.len

		if !found || longest.less(bestKey) {
			found = true
			bestKey = longest
			bestStart = i
		}
	}

	if !found {
		return nil
	}

	parts := make([]part.Descriptor, bestKey.len)
	copy(parts, snapshot[bestStart:bestStart+bestKey.len])
	candidatesSelected.Add(context.Background(), 1)
	return &merge.Candidate{Parts: parts}
}
