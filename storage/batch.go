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

package storage

import (
	"context"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

var (
	meter                 = otel.Meter("github.com/cardinalhq/mergetree/storage")
	bufferPoolGetsCounter metric.Int64Counter
	bufferPoolPutsCounter metric.Int64Counter
)

func init() {
	var err error
	bufferPoolGetsCounter, err = meter.Int64Counter(
		"mergetree.storage.bufferpool.gets",
		metric.WithDescription("gets from the row-batch pool"))
	if err != nil {
		panic(err)
	}
	bufferPoolPutsCounter, err = meter.Int64Counter(
		"mergetree.storage.bufferpool.puts",
		metric.WithDescription("puts back to the row-batch pool"))
	if err != nil {
		panic(err)
	}
}

// Batch is a pooled, reusable slab of rows. Batches are owned by whoever
// currently holds them; a Reader returns them from GetRow-adjacent APIs and
// callers must not retain a Row past the next mutation of its Batch.
type Batch struct {
	rows     []Row
	validLen int
}

func (b *Batch) Len() int { return b.validLen }

func (b *Batch) Get(i int) Row {
	if i < 0 || i >= b.validLen {
		return nil
	}
	return b.rows[i]
}

// AddRow returns a clean Row to populate, reusing storage where possible.
func (b *Batch) AddRow() Row {
	if b.validLen < len(b.rows) {
		row := b.rows[b.validLen]
		clear(row)
		b.validLen++
		return row
	}
	row := getPooledRow()
	b.rows = append(b.rows, row)
	b.validLen++
	return row
}

func clear(r Row) {
	for k := range r {
		delete(r, k)
	}
}

type batchPool struct {
	pool  sync.Pool
	sz    int
	gets  atomic.Uint64
	puts  atomic.Uint64
}

func newBatchPool(size int) *batchPool {
	p := &batchPool{sz: size}
	p.pool.New = func() any {
		rows := make([]Row, size)
		for i := range rows {
			rows[i] = getPooledRow()
		}
		return &Batch{rows: rows}
	}
	return p
}

func (p *batchPool) Get() *Batch {
	p.gets.Add(1)
	bufferPoolGetsCounter.Add(context.Background(), 1)
	b := p.pool.Get().(*Batch)
	for i := range b.rows {
		clear(b.rows[i])
	}
	b.validLen = 0
	return b
}

func (p *batchPool) Put(b *Batch) {
	p.puts.Add(1)
	bufferPoolPutsCounter.Add(context.Background(), 1)
	if cap(b.rows) > p.sz*4 {
		for _, r := range b.rows {
			returnPooledRow(r)
		}
		return
	}
	b.validLen = 0
	p.pool.Put(b)
}

var globalBatchPool = newBatchPool(1000)

// GetBatch returns a clean batch from the shared pool.
func GetBatch() *Batch { return globalBatchPool.Get() }

// ReturnBatch returns a batch to the shared pool. b must not be used after.
func ReturnBatch(b *Batch) {
	if b != nil {
		globalBatchPool.Put(b)
	}
}

var rowPool = sync.Pool{New: func() any { return make(Row) }}

func getPooledRow() Row {
	r := rowPool.Get().(Row)
	clear(r)
	return r
}

func returnPooledRow(r Row) {
	if r == nil {
		return
	}
	clear(r)
	rowPool.Put(r)
}
