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

// Package executor drives one merge end to end: reserve disk, open sources,
// stream the merged output through a PartWriter, and publish the result.
package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/cardinalhq/mergetree/diskbudget"
	"github.com/cardinalhq/mergetree/internal/idgen"
	"github.com/cardinalhq/mergetree/merge"
	"github.com/cardinalhq/mergetree/merger"
	"github.com/cardinalhq/mergetree/part"
	"github.com/cardinalhq/mergetree/registry"
	"github.com/cardinalhq/mergetree/source"
	"github.com/cardinalhq/mergetree/storage"
)

// DiskUsageCoefficientToReserve is the safety margin applied at reservation
// time, intentionally below the 1.6 selection coefficient so that the race
// window between selection and reservation does not starve the merge.
const DiskUsageCoefficientToReserve = 1.4

var (
	// ErrOverlapAtEntry fires when a candidate's parts overlap by the time
	// the executor re-checks, which selection should have already excluded.
	ErrOverlapAtEntry = errors.New("executor: overlap detected at merge entry")
	// ErrEmptyOrdinaryOutput fires when an Ordinary merge writes zero rows,
	// violating the invariant that Ordinary never deletes rows.
	ErrEmptyOrdinaryOutput = errors.New("executor: ordinary merge produced no rows")
	// ErrUnknownMode fires for a merge.Mode value the executor doesn't know
	// how to combine.
	ErrUnknownMode = errors.New("executor: unknown merge mode")
)

var (
	meter           = otel.Meter("github.com/cardinalhq/mergetree/executor")
	mergesStarted   metric.Int64Counter
	mergesCanceled  metric.Int64Counter
	mergesFailed    metric.Int64Counter
	mergesCommitted metric.Int64Counter
	mergeDuration   metric.Float64Histogram
)

func init() {
	var err error
	mergesStarted, err = meter.Int64Counter("mergetree.executor.merges_started")
	if err != nil {
		panic(err)
	}
	mergesCanceled, err = meter.Int64Counter("mergetree.executor.merges_canceled")
	if err != nil {
		panic(err)
	}
	mergesFailed, err = meter.Int64Counter("mergetree.executor.merges_failed")
	if err != nil {
		panic(err)
	}
	mergesCommitted, err = meter.Int64Counter("mergetree.executor.merges_committed")
	if err != nil {
		panic(err)
	}
	mergeDuration, err = meter.Float64Histogram("mergetree.executor.merge_duration_seconds")
	if err != nil {
		panic(err)
	}
}

// Result reports what a Merge call accomplished.
type Result struct {
	// PartName is the newly published part's name. Empty when the merge
	// collapsed all input rows away (Collapsing/Summing) or was canceled.
	PartName string
	Canceled bool
}

// Executor wires together disk budgeting, the busy-part registry, source
// readers, and the merging reader to carry out one merge.Candidate.
type Executor struct {
	Reader        storage.PartReader
	NewWriter     func(partName string) storage.PartWriter
	Registry      *registry.Registry
	Budget        *diskbudget.Budget
	Predicate     merge.Predicate
	Mode          merger.Mode
	KeyColumns    []string
	SumColumns    []string
	BlockSize     int
	Granularity   int64
	Logger        *slog.Logger

	attemptIDsOnce sync.Once
	attemptIDs     *idgen.AttemptIDGenerator
}

func (e *Executor) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

// nextAttemptID stamps one Merge call for log correlation, independent of
// the deterministic part name the attempt may or may not end up publishing.
func (e *Executor) nextAttemptID() string {
	e.attemptIDsOnce.Do(func() { e.attemptIDs = idgen.NewAttemptIDGenerator() })
	return e.attemptIDs.New(time.Now())
}

// Merge carries out steps 1-8 of the merge contract for one candidate.
// canceled is polled cooperatively at block boundaries; a nil pointer means
// the merge is never cancellable.
func (e *Executor) Merge(ctx context.Context, candidate merge.Candidate, canceled *atomic.Bool) (Result, error) {
	if canceled == nil {
		canceled = &atomic.Bool{}
	}
	start := time.Now()
	attemptID := e.nextAttemptID()
	mergesStarted.Add(ctx, 1)
	defer func() {
		mergeDuration.Record(ctx, time.Since(start).Seconds())
	}()

	for i := 1; i < len(candidate.Parts); i++ {
		if part.Overlaps(candidate.Parts[i-1], candidate.Parts[i]) {
			mergesFailed.Add(ctx, 1)
			return Result{}, fmt.Errorf("%w: %s vs %s", ErrOverlapAtEntry,
				candidate.Parts[i-1].Name, candidate.Parts[i].Name)
		}
	}

	newDesc := part.Envelope(candidate.Parts)
	sumBytes := candidate.SumSizeBytes()

	handle, err := e.Budget.Reserve(int64(float64(sumBytes) * DiskUsageCoefficientToReserve))
	if err != nil {
		return Result{}, fmt.Errorf("executor: reserve disk: %w", err)
	}
	defer handle.Release()

	release := e.Registry.MarkBusy(candidate.Names())
	defer release()

	// Sources open independently of each other, so fan the opens out and
	// bail on the first failure, the same shape as boxer_manager's consumer
	// startup fan-out.
	sources := make([]*source.Source, len(candidate.Parts))
	defer func() {
		for _, s := range sources {
			if s != nil {
				_ = s.Close()
			}
		}
	}()
	g, gCtx := errgroup.WithContext(ctx)
	for i, p := range candidate.Parts {
		i, p := i, p
		g.Go(func() error {
			s, err := source.Open(gCtx, e.Reader, p.Name, i, nil, e.KeyColumns, 0, 0)
			if err != nil {
				return fmt.Errorf("open source %s: %w", p.Name, err)
			}
			sources[i] = s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		mergesFailed.Add(ctx, 1)
		return Result{}, fmt.Errorf("executor: %w", err)
	}

	mr, err := merger.New(ctx, sources, e.Mode, e.BlockSize, e.SumColumns, canceled, e.logger())
	if err != nil {
		mergesFailed.Add(ctx, 1)
		return Result{}, fmt.Errorf("executor: constructing merging reader: %w", err)
	}
	defer mr.Close()

	writer := e.NewWriter(newDesc.Name)
	if err := writer.WritePrefix(ctx); err != nil {
		_ = writer.Abort()
		mergesFailed.Add(ctx, 1)
		return Result{}, fmt.Errorf("executor: write prefix: %w", err)
	}

	if err := mr.ReadPrefix(ctx); err != nil {
		_ = writer.Abort()
		mergesFailed.Add(ctx, 1)
		return Result{}, fmt.Errorf("executor: read prefix: %w", err)
	}

	for {
		batch, err := mr.Read(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if errors.Is(err, merger.ErrCanceled) {
			_ = writer.Abort()
			mergesCanceled.Add(ctx, 1)
			e.logger().Info("merge canceled",
				slog.String("attempt_id", attemptID),
				slog.String("candidate_partition", candidate.Partition()))
			return Result{Canceled: true}, nil
		}
		if err != nil {
			_ = writer.Abort()
			mergesFailed.Add(ctx, 1)
			return Result{}, fmt.Errorf("executor: reading merged block: %w", err)
		}

		werr := writer.WriteBlock(ctx, batch)
		storage.ReturnBatch(batch)
		if werr != nil {
			_ = writer.Abort()
			mergesFailed.Add(ctx, 1)
			return Result{}, fmt.Errorf("executor: writing block: %w", werr)
		}
	}

	if err := mr.ReadSuffix(ctx); err != nil {
		_ = writer.Abort()
		mergesFailed.Add(ctx, 1)
		return Result{}, fmt.Errorf("executor: read suffix: %w", err)
	}
	if err := writer.WriteSuffix(ctx); err != nil {
		_ = writer.Abort()
		mergesFailed.Add(ctx, 1)
		return Result{}, fmt.Errorf("executor: write suffix: %w", err)
	}

	marksWritten := writer.MarksWritten()
	if marksWritten == 0 {
		_ = writer.Abort()
		if e.Mode == merger.Ordinary {
			mergesFailed.Add(ctx, 1)
			return Result{}, ErrEmptyOrdinaryOutput
		}
		e.logger().Info("merge produced no surviving rows, no replacement published",
			slog.String("attempt_id", attemptID),
			slog.String("mode", e.Mode.String()), slog.Int("input_parts", candidate.Len()),
			slog.Int64("rows_out", mr.TotalRowsEmitted()))
		return Result{}, nil
	}

	if err := writer.Close(); err != nil {
		mergesFailed.Add(ctx, 1)
		return Result{}, fmt.Errorf("executor: closing writer: %w", err)
	}

	if err := loadPrimaryIndex(writer, &newDesc); err != nil {
		mergesFailed.Add(ctx, 1)
		return Result{}, fmt.Errorf("executor: loading primary index: %w", err)
	}

	newDesc.SizeInMarks = marksWritten
	newDesc.SizeInBytes = estimatedOutputBytes(sumBytes, candidate.SumSizeRows(e.Granularity), marksWritten*e.Granularity)
	newDesc.ModificationTime = time.Now()

	if err := e.Registry.ReplaceParts(candidate.Parts, newDesc); err != nil {
		mergesFailed.Add(ctx, 1)
		return Result{}, fmt.Errorf("executor: publishing merged part: %w", err)
	}

	mergesCommitted.Add(ctx, 1)
	startingFileCount := candidate.Len()
	percentFileCountReduction := (startingFileCount - 1) * 100 / startingFileCount
	e.logger().Info("merge committed",
		slog.String("attempt_id", attemptID),
		slog.String("new_part", newDesc.Name),
		slog.Int("input_parts", startingFileCount),
		slog.Int64("marks_written", marksWritten),
		slog.Int64("rows_out", mr.TotalRowsEmitted()),
		slog.Int("percentFileCountReduction", percentFileCountReduction))
	return Result{PartName: newDesc.Name}, nil
}

// indexLoader is implemented by PartWriters that build a real on-disk
// primary index; the in-memory reference writer doesn't need one.
type indexLoader interface {
	LoadPrimaryIndex() error
}

func loadPrimaryIndex(w storage.PartWriter, _ *part.Descriptor) error {
	if il, ok := w.(indexLoader); ok {
		return il.LoadPrimaryIndex()
	}
	return nil
}

// estimatedOutputBytes scales the input byte total by the fraction of rows
// that survived the merge, since Collapsing/Summing may drop rows and the
// in-memory reference store has no independent byte accounting.
func estimatedOutputBytes(inputBytes, inputRows, outputRows int64) int64 {
	if inputRows <= 0 {
		return inputBytes
	}
	return inputBytes * outputRows / inputRows
}
