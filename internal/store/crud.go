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
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"time"

	"github.com/golang/glog"

	"github.com/krust-sh/krust/internal/document"
	"github.com/krust-sh/krust/internal/krusterr"
	"github.com/krust-sh/krust/pkg/api"
)

// Get fetches one object by namespace/name. namespace must be "" for
// cluster-scoped kinds.
func (s *Store) Get(ctx context.Context, kind api.KindInfo, namespace, name string) (document.Doc, error) {
	var objJSON string
	err := s.db.GetContext(ctx, &objJSON,
		fmt.Sprintf("SELECT object FROM %s WHERE namespace = ? AND name = ?", kind.Table),
		namespace, name,
	)
	if err != nil {
		return nil, krusterr.NewNotFound(kind.Kind, name)
	}
	return document.Parse([]byte(objJSON))
}

// ListResult is the snapshot List returns: the objects plus the
// resourceVersion the snapshot was taken at, which seeds a follow-on
// watch=true request (spec.md §4.2).
type ListResult struct {
	ResourceVersion int64
	Items           []document.Doc
}

// List returns every live object of kind in namespace (all namespaces
// if namespace == ""), optionally narrowed by an equality label
// selector. Soft-deleted rows awaiting finalizer removal are included,
// matching upstream's "still visible until truly gone" behaviour.
func (s *Store) List(ctx context.Context, kind api.KindInfo, namespace string, labelSelector map[string]string) (*ListResult, error) {
	rv, err := s.CurrentVersion(ctx)
	if err != nil {
		return nil, err
	}

	q := fmt.Sprintf("SELECT object, labels FROM %s", kind.Table)
	var args []interface{}
	if namespace != "" {
		q += " WHERE namespace = ?"
		args = append(args, namespace)
	}
	q += " ORDER BY name ASC"

	type objRow struct {
		Object string `db:"object"`
		Labels string `db:"labels"`
	}
	var rows []objRow
	if err := s.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, krusterr.NewInternal(err)
	}

	items := make([]document.Doc, 0, len(rows))
	for _, r := range rows {
		if len(labelSelector) > 0 {
			labels, err := document.Parse([]byte(r.Labels))
			if err != nil {
				continue
			}
			if !matchesSelector(map[string]interface{}(labels), labelSelector) {
				continue
			}
		}
		doc, err := document.Parse([]byte(r.Object))
		if err != nil {
			glog.Warningf("skipping unparsable %s row: %v", kind.Kind, err)
			continue
		}
		items = append(items, doc)
	}
	return &ListResult{ResourceVersion: rv, Items: items}, nil
}

func matchesSelector(labels map[string]interface{}, selector map[string]string) bool {
	for k, want := range selector {
		got, ok := labels[k].(string)
		if !ok || got != want {
			return false
		}
	}
	return true
}

// Update replaces the stored object with newDoc, enforcing the
// resourceVersion precondition and bumping generation iff the spec
// sub-document changed (spec.md §4.1: "generation increments only on a
// spec change, never on status-only or metadata-only writes").
func (s *Store) Update(ctx context.Context, kind api.KindInfo, namespace, name string, newDoc document.Doc, pre Preconditions) (document.Doc, error) {
	return s.write(ctx, kind, namespace, name, pre, func(current document.Doc, rv int64) (document.Doc, api.WatchEventType, error) {
		specChanged := !reflect.DeepEqual(document.Get(current, "spec"), document.Get(newDoc, "spec"))

		document.Set(newDoc, document.GetString(current, "metadata", "uid"), "metadata", "uid")
		document.Set(newDoc, document.Get(current, "metadata", "creationTimestamp"), "metadata", "creationTimestamp")
		document.Set(newDoc, fmt.Sprintf("%d", rv), "metadata", "resourceVersion")

		gen := document.GetInt64(current, "metadata", "generation")
		if specChanged {
			gen++
		}
		document.Set(newDoc, gen, "metadata", "generation")

		if dt := document.Get(current, "metadata", "deletionTimestamp"); dt != nil {
			document.Set(newDoc, dt, "metadata", "deletionTimestamp")
		}

		typ := api.Modified
		return newDoc, typ, nil
	})
}

// UpdateStatus replaces only the status sub-document, leaving spec and
// generation untouched (spec.md §4.1).
func (s *Store) UpdateStatus(ctx context.Context, kind api.KindInfo, namespace, name string, status interface{}, pre Preconditions) (document.Doc, error) {
	return s.write(ctx, kind, namespace, name, pre, func(current document.Doc, rv int64) (document.Doc, api.WatchEventType, error) {
		statusMap, err := toDoc(status)
		if err != nil {
			return nil, "", krusterr.NewInvalid(kind.Kind, name, "status is not a valid object")
		}
		document.Set(current, map[string]interface{}(statusMap), "status")
		document.Set(current, fmt.Sprintf("%d", rv), "metadata", "resourceVersion")
		return current, api.Modified, nil
	})
}

func toDoc(v interface{}) (document.Doc, error) {
	if d, ok := v.(document.Doc); ok {
		return d, nil
	}
	if m, ok := v.(map[string]interface{}); ok {
		return document.Doc(m), nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return document.Parse(b)
}

// Delete removes the object. If it carries finalizers, Delete instead
// stamps deletionTimestamp and leaves the row in place; the Resource
// Service deletes it again once an update removes the last finalizer
// (spec.md §4.1, mirrors upstream's
// graceful-deletion handshake). gracePeriod is honoured only as the
// deletionTimestamp offset; krust does not defer the actual row removal
// by a timer.
func (s *Store) Delete(ctx context.Context, kind api.KindInfo, namespace, name string, pre Preconditions, gracePeriod time.Duration) (document.Doc, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, krusterr.NewInternal(err)
	}
	defer tx.Rollback()

	r, err := loadRow(ctx, tx, kind.Table, namespace, name)
	if err != nil {
		return nil, err
	}
	if err := checkPreconditions(pre, r.ResourceVersion); err != nil {
		return nil, err
	}

	current, err := document.Parse([]byte(r.Object))
	if err != nil {
		return nil, krusterr.NewInternal(err)
	}

	now := time.Now().UTC()
	rv, err := allocateVersion(ctx, tx)
	if err != nil {
		return nil, err
	}

	finalizers := document.GetStringSlice(current, "metadata", "finalizers")
	if len(finalizers) > 0 {
		deleteAt := now.Add(gracePeriod)
		document.Set(current, deleteAt.Format(timeFormat), "metadata", "deletionTimestamp")
		document.Set(current, fmt.Sprintf("%d", rv), "metadata", "resourceVersion")
		objBytes, err := current.Bytes()
		if err != nil {
			return nil, krusterr.NewInternal(err)
		}
		_, err = tx.ExecContext(ctx, fmt.Sprintf(
			"UPDATE %s SET resource_version = ?, deletion_timestamp = ?, object = ? WHERE uid = ?", kind.Table),
			rv, deleteAt.Format(timeFormat), string(objBytes), r.UID)
		if err != nil {
			return nil, krusterr.NewInternal(err)
		}
		if err := insertEvent(ctx, tx, api.Modified, kind.Kind, r.UID, namespace, rv, now, objBytes); err != nil {
			return nil, err
		}
		if err := tx.Commit(); err != nil {
			return nil, krusterr.NewInternal(err)
		}
		s.notifier.Notify()
		glog.V(4).Infof("Marked %s for deletion (finalizers pending)", document.Key(kind.Kind, namespace, name))
		return current, nil
	}

	document.Set(current, fmt.Sprintf("%d", rv), "metadata", "resourceVersion")
	objBytes, err := current.Bytes()
	if err != nil {
		return nil, krusterr.NewInternal(err)
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE uid = ?", kind.Table), r.UID); err != nil {
		return nil, krusterr.NewInternal(err)
	}
	if err := insertEvent(ctx, tx, api.Deleted, kind.Kind, r.UID, namespace, rv, now, objBytes); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, krusterr.NewInternal(err)
	}
	s.notifier.Notify()
	glog.V(4).Infof("Deleted %s", document.Key(kind.Kind, namespace, name))
	return current, nil
}

// write is the shared transaction skeleton Update and UpdateStatus use:
// load current row, check preconditions, let mutate produce the new
// document and event type, persist, emit event, commit, notify.
func (s *Store) write(ctx context.Context, kind api.KindInfo, namespace, name string, pre Preconditions,
	mutate func(current document.Doc, rv int64) (document.Doc, api.WatchEventType, error)) (document.Doc, error) {

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, krusterr.NewInternal(err)
	}
	defer tx.Rollback()

	r, err := loadRow(ctx, tx, kind.Table, namespace, name)
	if err != nil {
		return nil, err
	}
	if err := checkPreconditions(pre, r.ResourceVersion); err != nil {
		return nil, err
	}

	current, err := document.Parse([]byte(r.Object))
	if err != nil {
		return nil, krusterr.NewInternal(err)
	}

	rv, err := allocateVersion(ctx, tx)
	if err != nil {
		return nil, err
	}

	newDoc, evtType, err := mutate(current, rv)
	if err != nil {
		return nil, err
	}

	objBytes, err := newDoc.Bytes()
	if err != nil {
		return nil, krusterr.NewInternal(err)
	}

	_, err = tx.ExecContext(ctx, fmt.Sprintf(`
UPDATE %s SET resource_version = ?, generation = ?, labels = ?, annotations = ?, finalizers = ?, deletion_timestamp = ?, object = ?
WHERE uid = ?`, kind.Table),
		rv,
		document.GetInt64(newDoc, "metadata", "generation"),
		mustJSON(document.Get(newDoc, "metadata", "labels")),
		mustJSON(document.Get(newDoc, "metadata", "annotations")),
		mustJSONSlice(document.Get(newDoc, "metadata", "finalizers")),
		nullableTimestamp(document.Get(newDoc, "metadata", "deletionTimestamp")),
		string(objBytes),
		r.UID,
	)
	if err != nil {
		return nil, krusterr.NewInternal(err)
	}

	now := time.Now().UTC()
	if err := insertEvent(ctx, tx, evtType, kind.Kind, r.UID, namespace, rv, now, objBytes); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, krusterr.NewInternal(err)
	}
	s.notifier.Notify()
	return newDoc, nil
}

func nullableTimestamp(v interface{}) interface{} {
	if v == nil {
		return nil
	}
	if s, ok := v.(string); ok && s != "" {
		return s
	}
	return nil
}

func loadRow(ctx context.Context, tx interface {
	GetContext(context.Context, interface{}, string, ...interface{}) error
}, table, namespace, name string) (*row, error) {
	var r row
	err := tx.GetContext(ctx, &r,
		fmt.Sprintf("SELECT uid, namespace, name, resource_version, generation, creation_timestamp, deletion_timestamp, labels, annotations, finalizers, object FROM %s WHERE namespace = ? AND name = ?", table),
		namespace, name)
	if err != nil {
		return nil, krusterr.NewNotFound(table, name)
	}
	return &r, nil
}

func checkPreconditions(pre Preconditions, currentRV int64) error {
	if pre.ResourceVersion == "" {
		return nil
	}
	want, err := strconv.ParseInt(pre.ResourceVersion, 10, 64)
	if err != nil || want != currentRV {
		return krusterr.NewConflict("", "", "the object has been modified; please apply your changes to the latest version and try again")
	}
	return nil
}
