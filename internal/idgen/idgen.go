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

// Package idgen generates identifiers for tracing one merge attempt through
// logs, independent of the deterministic part name the attempt may or may
// not end up publishing.
package idgen

import (
	crand "crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// AttemptIDGenerator produces monotonically-sortable IDs for log correlation.
type AttemptIDGenerator struct {
	entropy *ulid.MonotonicEntropy
}

func NewAttemptIDGenerator() *AttemptIDGenerator {
	return &AttemptIDGenerator{entropy: ulid.Monotonic(crand.Reader, 0)}
}

// New returns a new attempt ID stamped with t, typically time.Now() at the
// start of a merge.
func (g *AttemptIDGenerator) New(t time.Time) string {
	return ulid.MustNew(ulid.Timestamp(t), g.entropy).String()
}
