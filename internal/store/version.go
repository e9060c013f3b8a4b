/*
Copyright 2024 The Krust Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    https://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package store

import (
	"context"

	"github.com/golang/glog"
	"github.com/jmoiron/sqlx"

	"github.com/krust-sh/krust/internal/krusterr"
)

// allocateVersion bumps the process-wide resourceVersion counter and
// returns the new value. It must run inside the same *sqlx.Tx as the
// row write and event insert it stamps, so the three never observe
// each other torn apart (spec.md §5).
func allocateVersion(ctx context.Context, tx *sqlx.Tx) (int64, error) {
	var rv int64
	err := tx.GetContext(ctx, &rv,
		`UPDATE counters SET value = value + 1 WHERE name = 'resource_version' RETURNING value`)
	if err != nil {
		return 0, krusterr.NewInternal(err)
	}
	return rv, nil
}

// recoverCounter restores the in-database counter to at least the
// highest resourceVersion present across every kind table and the
// events table, in case a prior process crashed between allocating a
// version and persisting the counter row (the UPDATE...RETURNING
// above is itself atomic, so this is a defensive floor rather than the
// primary source of truth).
func (s *Store) recoverCounter() error {
	var maxEvents int64
	if err := s.db.Get(&maxEvents, `SELECT COALESCE(MAX(resource_version), 0) FROM events`); err != nil {
		return krusterr.NewInternal(err)
	}

	var maxRV int64 = maxEvents
	for _, k := range registryTables() {
		var v int64
		if err := s.db.Get(&v, "SELECT COALESCE(MAX(resource_version), 0) FROM "+k); err != nil {
			return krusterr.NewInternal(err)
		}
		if v > maxRV {
			maxRV = v
		}
	}

	res, err := s.db.Exec(`UPDATE counters SET value = ? WHERE name = 'resource_version' AND value < ?`, maxRV, maxRV)
	if err != nil {
		return krusterr.NewInternal(err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		glog.Infof("Recovered resource_version counter to %d", maxRV)
	}
	return nil
}
