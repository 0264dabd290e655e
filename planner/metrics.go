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

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	meter = otel.Meter("github.com/cardinalhq/mergetree/planner")

	candidatesSelected  metric.Int64Counter
	partsSkipped        metric.Int64Counter
	runsRejectedForDisk metric.Int64Counter
)

func init() {
	var err error
	candidatesSelected, err = meter.Int64Counter(
		"mergetree.planner.candidates_selected",
		metric.WithDescription("merge candidates returned by Select"))
	if err != nil {
		panic(err)
	}
	partsSkipped, err = meter.Int64Counter(
		"mergetree.planner.parts_skipped",
		metric.WithDescription("parts skipped as a left endpoint during selection, by reason"))
	if err != nil {
		panic(err)
	}
	runsRejectedForDisk, err = meter.Int64Counter(
		"mergetree.planner.runs_rejected_disk",
		metric.WithDescription("otherwise-valid runs rejected for insufficient free disk space"))
	if err != nil {
		panic(err)
	}
}

func recordSkip(reason string) {
	partsSkipped.Add(context.Background(), 1, metric.WithAttributes(attribute.String("reason", reason)))
}
