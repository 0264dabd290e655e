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

// Package registry holds the authoritative in-memory set of live parts for
// one table and the single-writer-lock discipline that keeps concurrent
// merges from ever double-consuming a part.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/jellydator/ttlcache/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/cardinalhq/mergetree/merge"
	"github.com/cardinalhq/mergetree/part"
)

var (
	meter               = otel.Meter("github.com/cardinalhq/mergetree/registry")
	replaceConflicts    metric.Int64Counter
	replaceCommits      metric.Int64Counter
	recentMergeTTL      = 5 * time.Minute
	recentMergeCapacity = uint64(100_000)
)

func init() {
	var err error
	replaceConflicts, err = meter.Int64Counter("mergetree.registry.replace_conflicts",
		metric.WithDescription("replaceParts calls rejected because the old set no longer matches"))
	if err != nil {
		panic(err)
	}
	replaceCommits, err = meter.Int64Counter("mergetree.registry.replace_commits",
		metric.WithDescription("successful replaceParts commits"))
	if err != nil {
		panic(err)
	}
}

// ErrConflict is returned by ReplaceParts when the old set no longer
// matches the registry's current state (already superseded by another
// merge, or already removed).
var ErrConflict = fmt.Errorf("registry: conflicting replaceParts")

// Registry is the authoritative, single-writer-locked set of live parts.
// Descriptors are immutable once published; Registry only ever adds or
// atomically swaps whole entries, never mutates one in place.
type Registry struct {
	mu    sync.RWMutex
	parts map[string]part.Descriptor
	busy  *merge.BusySet

	// recentlyMerged remembers which partitions had a merge commit recently,
	// purely to throttle "no candidate found" log spam in the scheduler loop.
	recentlyMerged *ttlcache.Cache[string, struct{}]
}

// New creates an empty Registry.
func New() *Registry {
	cache := ttlcache.New(
		ttlcache.WithTTL[string, struct{}](recentMergeTTL),
		ttlcache.WithDisableTouchOnHit[string, struct{}](),
		ttlcache.WithCapacity[string, struct{}](recentMergeCapacity),
	)
	go cache.Start()
	return &Registry{
		parts:          make(map[string]part.Descriptor),
		busy:           merge.NewBusySet(),
		recentlyMerged: cache,
	}
}

// Busy exposes the shared busy set for building a MergePredicate.
func (r *Registry) Busy() *merge.BusySet { return r.busy }

// Add publishes a brand-new part (used at ingest time, outside a merge). The
// single-partition invariant is validated once, here, at the moment a part
// enters the live set — not on every later Snapshot/Select call — so an
// enormous registry never re-derives the same verdict for a part whose
// MinDate/MaxDate haven't changed since it was added. Invalid parts are
// rejected and never stored.
func (r *Registry) Add(p part.Descriptor) error {
	if err := part.ValidatePartition(p); err != nil {
		slog.Default().Warn("rejecting part that spans multiple partitions", slog.String("part", p.Name))
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.parts[p.Name] = p
	return nil
}

// Snapshot returns a lock-free-to-read, point-in-time ordered view: every
// live part sorted by (partition, min_block_id) ascending. Every entry is
// already known to satisfy the single-partition invariant, checked once at
// Add/ReplaceParts time, so Snapshot itself never re-validates. Callers own
// the returned slice.
func (r *Registry) Snapshot() []part.Descriptor {
	r.mu.RLock()
	out := make([]part.Descriptor, 0, len(r.parts))
	for _, p := range r.parts {
		out = append(out, p)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Partition() != out[j].Partition() {
			return out[i].Partition() < out[j].Partition()
		}
		return out[i].MinBlockID < out[j].MinBlockID
	})
	return out
}

// Cursor marks a resume point in the (partition, min_block_id) ordering,
// the same shape as metriccompaction's (createdAt, segmentID) pagination
// cursor. The zero Cursor starts from the beginning.
type Cursor struct {
	Partition  string
	MinBlockID int64
}

func after(c Cursor, p part.Descriptor) bool {
	if p.Partition() != c.Partition {
		return p.Partition() > c.Partition
	}
	return p.MinBlockID > c.MinBlockID
}

// SnapshotPage returns up to limit parts strictly after cursor in
// (partition, min_block_id) order, plus the cursor to resume from on the
// next call. next is the zero Cursor when the page reaches the end. This
// lets a caller with an enormous part count page through selection input
// instead of holding one giant slice in memory.
func (r *Registry) SnapshotPage(cursor Cursor, limit int) (page []part.Descriptor, next Cursor) {
	all := r.Snapshot()
	for _, p := range all {
		if !after(cursor, p) {
			continue
		}
		page = append(page, p)
		if len(page) == limit {
			last := page[len(page)-1]
			return page, Cursor{Partition: last.Partition(), MinBlockID: last.MinBlockID}
		}
	}
	return page, Cursor{}
}

// ReplaceParts atomically removes old and inserts newPart, iff every part in
// old is still present and unchanged. Otherwise it returns ErrConflict
// wrapping one multierror entry per part that no longer matches, and leaves
// the registry untouched.
func (r *Registry) ReplaceParts(old []part.Descriptor, newPart part.Descriptor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs *multierror.Error
	for _, o := range old {
		cur, ok := r.parts[o.Name]
		if !ok {
			errs = multierror.Append(errs, fmt.Errorf("part %s no longer present", o.Name))
			continue
		}
		if cur.ModificationTime != o.ModificationTime {
			errs = multierror.Append(errs, fmt.Errorf("part %s was superseded concurrently", o.Name))
		}
	}
	if err := errs.ErrorOrNil(); err != nil {
		replaceConflicts.Add(context.Background(), 1)
		return fmt.Errorf("%w: %v", ErrConflict, err)
	}

	if err := part.ValidatePartition(newPart); err != nil {
		return fmt.Errorf("registry: replacement part invalid: %w", err)
	}

	for _, o := range old {
		delete(r.parts, o.Name)
	}
	r.parts[newPart.Name] = newPart
	r.recentlyMerged.Set(newPart.Partition(), struct{}{}, ttlcache.DefaultTTL)
	replaceCommits.Add(context.Background(), 1)
	return nil
}

// IsBusy reports whether name is currently locked into an in-flight merge.
func (r *Registry) IsBusy(name string) bool { return r.busy.IsBusy(name) }

// MarkBusy locks the named parts for the duration of a merge attempt.
func (r *Registry) MarkBusy(names []string) (release func()) { return r.busy.MarkBusy(names) }

// PartitionRecentlyMerged reports whether the given partition committed a
// merge within the last few minutes, used only to keep idle-scheduler
// logging quiet.
func (r *Registry) PartitionRecentlyMerged(partition string) bool {
	return r.recentlyMerged.Get(partition) != nil
}
