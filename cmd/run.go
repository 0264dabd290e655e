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

package cmd

import (
	"context"
	"log/slog"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/cardinalhq/mergetree/config"
	"github.com/cardinalhq/mergetree/diskbudget"
	"github.com/cardinalhq/mergetree/executor"
	"github.com/cardinalhq/mergetree/internal/workcoord"
	"github.com/cardinalhq/mergetree/merge"
	"github.com/cardinalhq/mergetree/merger"
	"github.com/cardinalhq/mergetree/observability"
	"github.com/cardinalhq/mergetree/planner"
	"github.com/cardinalhq/mergetree/registry"
	"github.com/cardinalhq/mergetree/storage"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the merge worker loop until interrupted",
	RunE:  runE,
}

func runE(cmd *cobra.Command, _ []string) error {
	ll := observability.Setup("mergetree")
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store := storage.NewMemStore()
	reg := registry.New()
	budget := diskbudget.New(cfg.DataPath, diskbudget.StatfsUsage)
	board := workcoord.NewBoard()

	ex := &executor.Executor{
		Reader:      store,
		NewWriter:   func(name string) storage.PartWriter { return storage.NewMemPartWriter(store, name, cfg.Selection.IndexGranularity) },
		Registry:    reg,
		Budget:      budget,
		Predicate:   merge.SamePartitionNotBusy(reg.Busy()),
		Mode:        merger.Ordinary,
		KeyColumns:  []string{"key"},
		BlockSize:   merger.DefaultBlockSize,
		Granularity: cfg.Selection.IndexGranularity,
		Logger:      ll,
	}

	largeRowThreshold := cfg.Worker.LargePartRows

	for i := 0; i < cfg.Worker.Concurrency; i++ {
		workerID := uuid.NewString()
		go selectAndMergeLoop(ctx, ll, reg, ex, board, workerID, cfg, largeRowThreshold)
	}

	<-ctx.Done()
	ll.Info("shutting down")
	return nil
}

// selectAndMergeLoop is the scheduler the core module assumes exists
// externally: repeatedly snapshot, select, merge, and sleep when idle.
func selectAndMergeLoop(
	ctx context.Context,
	ll *slog.Logger,
	reg *registry.Registry,
	ex *executor.Executor,
	board *workcoord.Board,
	workerID string,
	cfg *config.TableConfig,
	largeRowThreshold int64,
) {
	var cursor registry.Cursor
	var lastCommittedPartition string

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		free, err := ex.Budget.FreeBytes()
		if err != nil {
			ll.Warn("disk usage check failed", slog.Any("error", err))
			time.Sleep(cfg.Worker.IdleInterval)
			continue
		}

		onlySmall := board.AnyLargeInFlight(largeRowThreshold, workerID)
		var cand *merge.Candidate
		cand, cursor = planner.SelectPaged(ll, reg.SnapshotPage, cursor, cfg.Worker.SnapshotWindow,
			time.Now(), int64(free), ex.Predicate, planner.Options{OnlySmall: onlySmall}, cfg.Selection)
		if cand == nil {
			// Right after this worker's own commit the same partition is
			// often still settling (busy locks releasing elsewhere), so
			// skip the debug line rather than repeat it every idle tick.
			if lastCommittedPartition == "" || !reg.PartitionRecentlyMerged(lastCommittedPartition) {
				ll.Debug("no merge candidate found in this pass")
			}
			time.Sleep(cfg.Worker.IdleInterval)
			continue
		}

		rows := cand.SumSizeRows(cfg.Selection.IndexGranularity)
		board.Begin(workerID, rows)
		var canceled atomic.Bool
		_, err = ex.Merge(ctx, *cand, &canceled)
		board.End(workerID)
		if err != nil {
			ll.Error("merge failed", slog.Any("error", err))
			continue
		}
		lastCommittedPartition = cand.Partition()
	}
}
