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

// Package store is the Persistent Store and resource-version engine
// (SPEC_FULL.md §4.1): it owns the process-wide monotonic
// resourceVersion counter, persists one table per kind plus the
// append-only events table, and guarantees every write's event is
// committed in the same transaction as the state change.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	_ "modernc.org/sqlite"

	"github.com/krust-sh/krust/internal/document"
	"github.com/krust-sh/krust/internal/krusterr"
	"github.com/krust-sh/krust/pkg/api"
)

// Notifier is implemented by the Watch Bus. The store calls Notify
// after every committed write so the bus's tailer wakes up instead of
// polling (SPEC_FULL.md §4.2).
type Notifier interface {
	Notify()
}

// noopNotifier is used until a real Notifier is wired in, so Store can
// be constructed and migrated before the Watch Bus exists.
type noopNotifier struct{}

func (noopNotifier) Notify() {}

// Store is the Persistent Store. It is safe for concurrent use: the
// resource-version counter is only ever mutated inside a single SQL
// transaction per write, per spec.md §5 ("only the store mutates it,
// under the DB's own transaction serialisation").
type Store struct {
	db       *sqlx.DB
	notifier Notifier
	// writeMu serialises writer transactions. SQLite allows only one
	// writer at a time regardless; taking the lock here turns "busy"
	// retries into simple queuing, the same trade the teacher makes by
	// routing all mutations through a single DynamicClientSet.
	writeMu sync.Mutex
}

// Open opens (creating if absent) the SQLite-shaped database at path
// and applies all migrations.
func Open(path string) (*Store, error) {
	db, err := sqlx.Connect("sqlite", path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open store at %s", path)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite: one writer connection avoids SQLITE_BUSY thrashing
	if err := applyMigrations(db); err != nil {
		db.Close()
		return nil, err
	}
	s := &Store{db: db, notifier: noopNotifier{}}
	if err := s.recoverCounter(); err != nil {
		db.Close()
		return nil, err
	}
	glog.Infof("Store opened at %s", path)
	return s, nil
}

// SetNotifier wires the Watch Bus in. Called once during server
// bootstrap, after both Store and Bus have been constructed.
func (s *Store) SetNotifier(n Notifier) {
	s.notifier = n
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Healthy reports whether the store is reachable, backing /healthz,
// /livez and /readyz (spec.md §6).
func (s *Store) Healthy(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// row is the generic per-kind table row every kind table shares
// (SPEC_FULL.md §4.1).
type row struct {
	UID               string         `db:"uid"`
	Namespace         string         `db:"namespace"`
	Name              string         `db:"name"`
	ResourceVersion   int64          `db:"resource_version"`
	Generation        int64          `db:"generation"`
	CreationTimestamp string         `db:"creation_timestamp"`
	DeletionTimestamp sql.NullString `db:"deletion_timestamp"`
	Labels            string         `db:"labels"`
	Annotations       string         `db:"annotations"`
	Finalizers        string         `db:"finalizers"`
	Object            string         `db:"object"`
}

const timeFormat = time.RFC3339Nano

// Preconditions gate an update or delete on the caller's expectation of
// the object's current resourceVersion (spec.md §4.1).
type Preconditions struct {
	ResourceVersion string
}

// Create inserts a new object. doc must already carry kind, apiVersion,
// name and (if namespaced) namespace; Create assigns uid,
// creationTimestamp, resourceVersion and generation=1, and returns the
// fully populated document.
func (s *Store) Create(ctx context.Context, kind api.KindInfo, doc document.Doc) (document.Doc, error) {
	name := document.GetString(doc, "metadata", "name")
	namespace := document.GetString(doc, "metadata", "namespace")
	if err := validateTableRow(kind, name); err != nil {
		return nil, err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, krusterr.NewInternal(err)
	}
	defer tx.Rollback()

	var existing int
	err = tx.GetContext(ctx, &existing,
		fmt.Sprintf("SELECT COUNT(1) FROM %s WHERE namespace = ? AND name = ? AND deletion_timestamp IS NULL", kind.Table),
		namespace, name,
	)
	if err != nil {
		return nil, krusterr.NewInternal(err)
	}
	if existing > 0 {
		return nil, krusterr.NewAlreadyExists(kind.Kind, name)
	}

	// UNIQUE(namespace, name) covers every row regardless of
	// deletion_timestamp, so a tombstone still awaiting finalizer
	// removal would otherwise make the INSERT below fail the unique
	// constraint and surface as an opaque Internal error. Recognise the
	// terminating-row case up front and report it as Conflict, the same
	// reason a resourceVersion precondition mismatch gets, since the
	// caller's retry-with-backoff story is identical.
	var terminating int
	err = tx.GetContext(ctx, &terminating,
		fmt.Sprintf("SELECT COUNT(1) FROM %s WHERE namespace = ? AND name = ? AND deletion_timestamp IS NOT NULL", kind.Table),
		namespace, name,
	)
	if err != nil {
		return nil, krusterr.NewInternal(err)
	}
	if terminating > 0 {
		return nil, krusterr.NewConflict(kind.Kind, name, "an object with this name is still terminating")
	}

	now := time.Now().UTC()
	uid := uuid.NewString()
	rv, err := allocateVersion(ctx, tx)
	if err != nil {
		return nil, err
	}

	document.Set(doc, uid, "metadata", "uid")
	document.Set(doc, fmt.Sprintf("%d", rv), "metadata", "resourceVersion")
	document.Set(doc, now.Format(timeFormat), "metadata", "creationTimestamp")
	document.Set(doc, int64(1), "metadata", "generation")

	objBytes, err := doc.Bytes()
	if err != nil {
		return nil, krusterr.NewInternal(err)
	}

	r := row{
		UID:               uid,
		Namespace:         namespace,
		Name:              name,
		ResourceVersion:   rv,
		Generation:        1,
		CreationTimestamp: now.Format(timeFormat),
		Labels:            mustJSON(document.Get(doc, "metadata", "labels")),
		Annotations:       mustJSON(document.Get(doc, "metadata", "annotations")),
		Finalizers:        mustJSONSlice(document.Get(doc, "metadata", "finalizers")),
		Object:            string(objBytes),
	}
	_, err = tx.NamedExecContext(ctx, fmt.Sprintf(`
INSERT INTO %s (uid, namespace, name, resource_version, generation, creation_timestamp, deletion_timestamp, labels, annotations, finalizers, object)
VALUES (:uid, :namespace, :name, :resource_version, :generation, :creation_timestamp, :deletion_timestamp, :labels, :annotations, :finalizers, :object)
`, kind.Table), r)
	if err != nil {
		return nil, krusterr.NewInternal(err)
	}

	if err := insertEvent(ctx, tx, api.Added, kind.Kind, uid, namespace, rv, now, objBytes); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, krusterr.NewInternal(err)
	}
	s.notifier.Notify()
	glog.V(4).Infof("Created %s", document.Key(kind.Kind, namespace, name))
	return doc, nil
}

func validateTableRow(kind api.KindInfo, name string) error {
	if name == "" {
		return krusterr.NewInvalid(kind.Kind, name, "name is required")
	}
	return nil
}

func mustJSON(v interface{}) string {
	if v == nil {
		return "{}"
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func mustJSONSlice(v interface{}) string {
	if v == nil {
		return "[]"
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "[]"
	}
	return string(b)
}
