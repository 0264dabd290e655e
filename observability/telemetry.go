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

// Package observability wires up the process-wide logger, installed as
// slog.Default and handed to the packages that take a *slog.Logger.
package observability

import (
	"log/slog"
	"os"

	slogmulti "github.com/samber/slog-multi"
	"go.opentelemetry.io/contrib/bridges/otelslog"
)

// Setup installs the process-wide default logger: a plain text handler on
// stdout, fanned out to an OTel log bridge when OTLP export is enabled via
// environment variables. Returns the configured logger for callers that
// prefer an explicit reference over slog.Default().
func Setup(serviceName string) *slog.Logger {
	var opts *slog.HandlerOptions
	if os.Getenv("DEBUG") != "" || os.Getenv("MERGETREE_DEBUG") != "" {
		opts = &slog.HandlerOptions{Level: slog.LevelDebug}
	}

	var handler slog.Handler = slog.NewTextHandler(os.Stdout, opts)
	if os.Getenv("OTEL_SERVICE_NAME") != "" && os.Getenv("ENABLE_OTLP_TELEMETRY") == "true" {
		handler = slogmulti.Fanout(
			slog.NewTextHandler(os.Stdout, opts),
			otelslog.NewHandler(serviceName),
		)
	}

	ll := slog.New(handler).With(slog.String("service", serviceName))
	slog.SetDefault(ll)
	return ll
}
