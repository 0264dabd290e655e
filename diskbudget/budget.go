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

// Package diskbudget tracks outstanding disk-space reservations for a mount
// point so concurrent merges don't oversubscribe free space between
// selection and write.
package diskbudget

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/cardinalhq/mergetree/internal/diskusage"
)

var (
	meter              = otel.Meter("github.com/cardinalhq/mergetree/diskbudget")
	outstandingGauge   metric.Int64UpDownCounter
	reservationsFailed metric.Int64Counter
)

func init() {
	var err error
	outstandingGauge, err = meter.Int64UpDownCounter(
		"mergetree.diskbudget.outstanding_bytes",
		metric.WithDescription("bytes currently reserved but not yet released"))
	if err != nil {
		panic(err)
	}
	reservationsFailed, err = meter.Int64Counter(
		"mergetree.diskbudget.reservations_failed",
		metric.WithDescription("reserve() calls that were refused for lack of headroom"))
	if err != nil {
		panic(err)
	}
}

// UsageFunc reports free bytes on the filesystem backing path. Swappable in
// tests; diskusage.Stat is the production implementation.
type UsageFunc func(path string) (freeBytes uint64, err error)

// StatfsUsage adapts diskusage.Stat to UsageFunc.
func StatfsUsage(path string) (uint64, error) {
	u, err := diskusage.Stat(path)
	if err != nil {
		return 0, err
	}
	return u.FreeBytes, nil
}

// Budget tracks outstanding reservations against one mount point's free
// space. Safe for concurrent use.
type Budget struct {
	path     string
	getUsage UsageFunc

	mu          sync.Mutex
	outstanding int64
}

// New creates a Budget for the filesystem containing path.
func New(path string, getUsage UsageFunc) *Budget {
	return &Budget{path: path, getUsage: getUsage}
}

// Handle is a scoped reservation. Release is idempotent.
type Handle struct {
	b        *Budget
	bytes    int64
	released bool
	mu       sync.Mutex
}

// FreeBytes reports current free space on the tracked filesystem, ignoring
// outstanding reservations.
func (b *Budget) FreeBytes() (uint64, error) {
	return b.getUsage(b.path)
}

// Reserve succeeds iff fs_free - outstanding >= n, atomically registering
// the reservation on success. Failure is non-fatal and retryable.
func (b *Budget) Reserve(bytes int64) (*Handle, error) {
	free, err := b.getUsage(b.path)
	if err != nil {
		return nil, fmt.Errorf("diskbudget: statfs %s: %w", b.path, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if int64(free)-b.outstanding < bytes {
		reservationsFailed.Add(context.Background(), 1)
		return nil, fmt.Errorf("diskbudget: insufficient headroom on %s: free=%d outstanding=%d want=%d",
			b.path, free, b.outstanding, bytes)
	}

	b.outstanding += bytes
	outstandingGauge.Add(context.Background(), bytes)
	return &Handle{b: b, bytes: bytes}, nil
}

// Release returns the reserved bytes to the pool. Safe to call multiple
// times or via defer after an earlier explicit call.
func (h *Handle) Release() {
	if h == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return
	}
	h.released = true

	h.b.mu.Lock()
	h.b.outstanding -= h.bytes
	h.b.mu.Unlock()
	outstandingGauge.Add(context.Background(), -h.bytes)
}
