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

// Package krusterr is krust's error taxonomy (spec.md §7). It plays the
// role k8s.io/apimachinery/pkg/api/errors plays for the teacher's
// apierrors.IsNotFound-style helpers, except krust is itself the
// apiserver, so this package is canonical rather than a client-side
// mirror of a remote error shape.
package krusterr

import "fmt"

// Reason is a stable machine-readable token, carried into the Status
// body's `reason` field (spec.md §7).
type Reason string

const (
	ReasonNotFound         Reason = "NotFound"
	ReasonConflict         Reason = "Conflict"
	ReasonInvalid          Reason = "Invalid"
	ReasonGone             Reason = "Gone"
	ReasonTimeout          Reason = "Timeout"
	ReasonInternal         Reason = "Internal"
	ReasonUpgradeRequired  Reason = "UpgradeRequired"
)

// httpStatus maps each Reason to the HTTP code spec.md §7 specifies.
var httpStatus = map[Reason]int{
	ReasonNotFound:        404,
	ReasonConflict:        409,
	ReasonInvalid:         422,
	ReasonGone:            410,
	ReasonTimeout:         504,
	ReasonInternal:        500,
	ReasonUpgradeRequired: 426,
}

// Error is krust's typed error. The Persistent Store and Resource
// Service return these; the HTTP Front End is the only component
// allowed to translate them into a wire Status (spec.md §7).
type Error struct {
	Reason  Reason
	Kind    string
	Name    string
	Message string
}

func (e *Error) Error() string {
	if e.Kind != "" && e.Name != "" {
		return fmt.Sprintf("%s %q: %s", e.Kind, e.Name, e.Message)
	}
	return e.Message
}

// Code returns the HTTP status code this error maps to.
func (e *Error) Code() int {
	if c, ok := httpStatus[e.Reason]; ok {
		return c
	}
	return 500
}

func newErr(reason Reason, kind, name, format string, args ...interface{}) *Error {
	return &Error{
		Reason:  reason,
		Kind:    kind,
		Name:    name,
		Message: fmt.Sprintf(format, args...),
	}
}

// NewNotFound builds a NotFound error for kind/name.
func NewNotFound(kind, name string) *Error {
	return newErr(ReasonNotFound, kind, name, "the server could not find the requested resource")
}

// NewConflict builds a Conflict error, e.g. a resourceVersion
// precondition mismatch or a duplicate (kind, namespace, name).
func NewConflict(kind, name, reason string) *Error {
	return newErr(ReasonConflict, kind, name, "%s", reason)
}

// NewAlreadyExists is the Conflict variant for duplicate creates.
func NewAlreadyExists(kind, name string) *Error {
	return newErr(ReasonConflict, kind, name, "object is already exists")
}

// NewInvalid builds an Invalid (422) error carrying a validation or
// immutability message.
func NewInvalid(kind, name, reason string) *Error {
	return newErr(ReasonInvalid, kind, name, "%s", reason)
}

// NewGone builds a Gone (410) error for a watch resumed below the
// retained event-log window (spec.md §4.2).
func NewGone(message string) *Error {
	return newErr(ReasonGone, "", "", "%s", message)
}

// NewTimeout builds a Timeout (504) error for an upstream operation
// that exceeded its budget (spec.md §5).
func NewTimeout(kind, name string) *Error {
	return newErr(ReasonTimeout, kind, name, "operation timed out")
}

// NewInternal wraps an unexpected storage/engine failure.
func NewInternal(err error) *Error {
	return newErr(ReasonInternal, "", "", "internal error: %v", err)
}

// NewUpgradeRequired builds a 426 error for a streaming endpoint hit
// without a valid Upgrade handshake (spec.md §4.3).
func NewUpgradeRequired(message string) *Error {
	return newErr(ReasonUpgradeRequired, "", "", "%s", message)
}

func reasonOf(err error) (Reason, bool) {
	if e, ok := err.(*Error); ok {
		return e.Reason, true
	}
	return "", false
}

// IsNotFound, IsConflict, IsInvalid, IsGone, IsTimeout, IsUpgradeRequired
// mirror the teacher's apierrors.IsNotFound-style predicates.
func IsNotFound(err error) bool { r, ok := reasonOf(err); return ok && r == ReasonNotFound }
func IsConflict(err error) bool { r, ok := reasonOf(err); return ok && r == ReasonConflict }
func IsInvalid(err error) bool  { r, ok := reasonOf(err); return ok && r == ReasonInvalid }
func IsGone(err error) bool     { r, ok := reasonOf(err); return ok && r == ReasonGone }
func IsTimeout(err error) bool  { r, ok := reasonOf(err); return ok && r == ReasonTimeout }
func IsUpgradeRequired(err error) bool {
	r, ok := reasonOf(err)
	return ok && r == ReasonUpgradeRequired
}
