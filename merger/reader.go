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
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/cardinalhq/mergetree/source"
	"github.com/cardinalhq/mergetree/storage"
)

// DefaultBlockSize is the row count of every emitted block except the last.
const DefaultBlockSize = 8192

// ErrCanceled is returned by Read when the cooperative cancellation flag was
// observed set at a block boundary.
var ErrCanceled = errors.New("merger: canceled")

var (
	meter          = otel.Meter("github.com/cardinalhq/mergetree/merger")
	rowsInCounter  metric.Int64Counter
	rowsOutCounter metric.Int64Counter
	unbalancedCtr  metric.Int64Counter
)

func init() {
	var err error
	rowsInCounter, err = meter.Int64Counter("mergetree.merger.rows_in",
		metric.WithDescription("rows pulled from source parts"))
	if err != nil {
		panic(err)
	}
	rowsOutCounter, err = meter.Int64Counter("mergetree.merger.rows_out",
		metric.WithDescription("rows emitted after combination"))
	if err != nil {
		panic(err)
	}
	unbalancedCtr, err = meter.Int64Counter("mergetree.merger.unbalanced_groups",
		metric.WithDescription("Collapsing groups whose signs did not net to zero"),
		metric.WithUnit("1"))
	if err != nil {
		panic(err)
	}
}

type readerState struct {
	src  *source.Source
	row  storage.Row
	key  source.Key
	done bool
	err  error
}

// Reader is the k-way merging reader over one candidate's SortedSources.
// Ties across sources with an equal key are broken by ascending source
// index, which callers must have assigned in ascending min_block_id order:
// this is load-bearing for Collapsing/Summing correctness (later insertions
// win ties).
type Reader struct {
	states      []*readerState
	mode        Mode
	blockSize   int
	sumColumns  []string
	canceled    *atomic.Bool
	ll          *slog.Logger
	closed      bool
	rowsOut     int64

	// pending group state, carried across Read calls
	haveGroup bool
	groupKey  source.Key
	groupSign int64
	first     storage.Row
	last      storage.Row
	sums      map[string]any
}

// New builds a Reader over sources, already ordered ascending by
// source index. sumColumns is only consulted in Summing mode.
func New(ctx context.Context, sources []*source.Source, mode Mode, blockSize int, sumColumns []string, canceled *atomic.Bool, ll *slog.Logger) (*Reader, error) {
	if len(sources) == 0 {
		return nil, errors.New("merger: at least one source is required")
	}
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	if ll == nil {
		ll = slog.Default()
	}
	if canceled == nil {
		canceled = &atomic.Bool{}
	}

	r := &Reader{
		mode:       mode,
		blockSize:  blockSize,
		sumColumns: sumColumns,
		canceled:   canceled,
		ll:         ll,
	}
	r.states = make([]*readerState, len(sources))
	for i, s := range sources {
		r.states[i] = &readerState{src: s}
	}
	if err := r.primeAll(); err != nil {
		r.Close()
		return nil, fmt.Errorf("merger: priming sources: %w", err)
	}
	return r, nil
}

func (r *Reader) primeAll() error {
	for _, st := range r.states {
		if err := r.advance(st); err != nil {
			return err
		}
	}
	return nil
}

func (r *Reader) advance(st *readerState) error {
	if st.done || st.err != nil {
		return st.err
	}
	row, key, err := st.src.Next()
	if err != nil {
		if errors.Is(err, io.EOF) {
			st.done = true
			return nil
		}
		st.err = err
		return err
	}
	st.row, st.key = row, key
	return nil
}

// ReadPrefix is a lifecycle hook so callers can symmetrically bracket
// Read/ReadSuffix even though nothing needs doing before the first block.
func (r *Reader) ReadPrefix(context.Context) error { return nil }

// ReadSuffix is a lifecycle hook run after the last Read.
func (r *Reader) ReadSuffix(context.Context) error { return nil }

// pullNext returns the globally-next row in sorted order across all active
// sources, or ok=false once every source is exhausted.
func (r *Reader) pullNext() (storage.Row, source.Key, bool, error) {
	var selected *readerState
	for _, st := range r.states {
		if st.done || st.err != nil {
			continue
		}
		if selected == nil || st.key.Compare(selected.key) < 0 {
			selected = st
		}
	}
	if selected == nil {
		for _, st := range r.states {
			if st.err != nil {
				return nil, source.Key{}, false, st.err
			}
		}
		return nil, source.Key{}, false, nil
	}

	row, key := selected.row, selected.key
	rowsInCounter.Add(context.Background(), 1, metric.WithAttributes(attribute.String("part", selected.src.PartName())))
	if err := r.advance(selected); err != nil {
		return nil, source.Key{}, false, err
	}
	return row, key, true, nil
}

// Read produces the next block of merged, combined rows, or io.EOF once
// exhausted. Cancellation is checked once per call, matching the
// block-boundary cooperative-cancel contract.
func (r *Reader) Read(ctx context.Context) (*storage.Batch, error) {
	if r.closed {
		return nil, errors.New("merger: reader is closed")
	}
	if r.canceled.Load() {
		return nil, ErrCanceled
	}

	batch := storage.GetBatch()

	for batch.Len() < r.blockSize {
		row, key, ok, err := r.pullNext()
		if err != nil {
			storage.ReturnBatch(batch)
			return nil, fmt.Errorf("merger: pulling next row: %w", err)
		}
		if !ok {
			if r.mode != Ordinary && r.haveGroup {
				r.flushGroup(batch)
			}
			break
		}

		if r.mode == Ordinary {
			dst := batch.AddRow()
			for k, v := range row {
				dst[k] = v
			}
			r.rowsOut++
			continue
		}

		if !r.haveGroup {
			r.startGroup(key, row)
			continue
		}
		if key.Compare(r.groupKey) == 0 {
			r.accumulate(row)
			continue
		}
		r.flushGroup(batch)
		r.startGroup(key, row)
	}

	if batch.Len() == 0 {
		storage.ReturnBatch(batch)
		return nil, io.EOF
	}
	rowsOutCounter.Add(ctx, int64(batch.Len()))
	return batch, nil
}

func (r *Reader) startGroup(key source.Key, row storage.Row) {
	r.haveGroup = true
	r.groupKey = key
	r.first = storage.CloneRow(row)
	r.last = r.first
	r.groupSign = storage.SignOf(row)
	if r.mode == Summing {
		r.sums = make(map[string]any, len(r.sumColumns))
		for _, c := range r.sumColumns {
			r.sums[c] = row[c]
		}
	}
}

func (r *Reader) accumulate(row storage.Row) {
	r.last = storage.CloneRow(row)
	r.groupSign += storage.SignOf(row)
	if r.mode == Summing {
		for _, c := range r.sumColumns {
			if v, ok := row[c]; ok {
				if existing, has := r.sums[c]; has {
					r.sums[c] = addNumeric(existing, v)
				} else {
					r.sums[c] = v
				}
			}
		}
	}
}

func (r *Reader) flushGroup(batch *storage.Batch) {
	defer func() { r.haveGroup = false }()

	switch r.mode {
	case Collapsing:
		switch {
		case r.groupSign == 0:
			return
		case r.groupSign > 0:
			r.emitRepeated(batch, r.last, 1, r.groupSign)
		default:
			r.emitRepeated(batch, r.first, -1, -r.groupSign)
		}
		unbalancedCtr.Add(context.Background(), 1)
		r.ll.Debug("unbalanced collapsing group", slog.Int64("sign_sum", r.groupSign))
	case Summing:
		dst := batch.AddRow()
		for k, v := range r.first {
			dst[k] = v
		}
		for c, v := range r.sums {
			dst[c] = v
		}
		r.rowsOut++
	}
}

func (r *Reader) emitRepeated(batch *storage.Batch, row storage.Row, sign, count int64) {
	for i := int64(0); i < count; i++ {
		dst := batch.AddRow()
		for k, v := range row {
			dst[k] = v
		}
		dst[storage.Sign] = sign
		r.rowsOut++
	}
}

// TotalRowsEmitted returns the number of post-combination rows produced so
// far across all Read calls.
func (r *Reader) TotalRowsEmitted() int64 { return r.rowsOut }

// Close closes every underlying source. Safe to call multiple times.
func (r *Reader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	var errs []error
	for _, st := range r.states {
		if err := st.src.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
