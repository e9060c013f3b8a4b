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
	"time"

	"github.com/golang/glog"
	"github.com/jmoiron/sqlx"

	"github.com/krust-sh/krust/internal/krusterr"
	"github.com/krust-sh/krust/pkg/api"
)

// Event is one row of the append-only event log the Watch Bus tails.
type Event struct {
	ID              int64                `db:"id"`
	Type            api.WatchEventType   `db:"type"`
	ResourceType    string               `db:"resource_type"`
	ResourceUID     string               `db:"resource_uid"`
	ResourceNS      string               `db:"resource_namespace"`
	ResourceVersion int64                `db:"resource_version"`
	Timestamp       string               `db:"timestamp"`
	Object          string               `db:"object"`
}

func insertEvent(ctx context.Context, tx *sqlx.Tx, typ api.WatchEventType, kind, uid, namespace string, rv int64, ts time.Time, object []byte) error {
	_, err := tx.ExecContext(ctx, `
INSERT INTO events (type, resource_type, resource_uid, resource_namespace, resource_version, timestamp, object)
VALUES (?, ?, ?, ?, ?, ?, ?)
`, string(typ), kind, uid, namespace, rv, ts.Format(timeFormat), string(object))
	if err != nil {
		return krusterr.NewInternal(err)
	}
	return nil
}

// EventsSince returns every event with resource_version > after, in
// ascending order, up to limit rows (0 means unlimited). The Watch Bus
// uses this both for the initial backfill and for each live tail tick.
func (s *Store) EventsSince(ctx context.Context, after int64, limit int) ([]Event, error) {
	q := `SELECT id, type, resource_type, resource_uid, resource_namespace, resource_version, timestamp, object
FROM events WHERE resource_version > ? ORDER BY resource_version ASC`
	args := []interface{}{after}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	var events []Event
	if err := s.db.SelectContext(ctx, &events, q, args...); err != nil {
		return nil, krusterr.NewInternal(err)
	}
	return events, nil
}

// OldestRetainedVersion returns the lowest resource_version still in
// the event log, used to decide whether a watch's resourceVersion has
// aged out (spec.md §4.2: resume below the retention window yields
// Gone/410).
func (s *Store) OldestRetainedVersion(ctx context.Context) (int64, error) {
	var v int64
	err := s.db.GetContext(ctx, &v, `SELECT COALESCE(MIN(resource_version), 0) FROM events`)
	if err != nil {
		return 0, krusterr.NewInternal(err)
	}
	return v, nil
}

// CurrentVersion returns the counter's current value, used to answer a
// list request's snapshot resourceVersion.
func (s *Store) CurrentVersion(ctx context.Context) (int64, error) {
	var v int64
	err := s.db.GetContext(ctx, &v, `SELECT value FROM counters WHERE name = 'resource_version'`)
	if err != nil {
		return 0, krusterr.NewInternal(err)
	}
	return v, nil
}

// PruneEvents deletes every event older than retention, as measured
// against the current time. It is called periodically by
// the server's background housekeeping loop (spec.md §4.2,
// `-event-retention`).
func (s *Store) PruneEvents(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-retention).Format(timeFormat)
	res, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, krusterr.NewInternal(err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		glog.V(3).Infof("Pruned %d events older than %s", n, retention)
	}
	return n, nil
}

func registryTables() []string {
	tables := make([]string, 0, len(api.Registry))
	for _, k := range api.Registry {
		tables = append(tables, k.Table)
	}
	return tables
}
