// Package kv defines the durable ordered key-value store the queue and the
// observer persist through, together with a process-wide handle cache and a
// typed table wrapper.
//
// A Store groups records into named sub-tables. Keys are ASCII-comparable
// strings; Scan returns entries in ascending key order, which the callers
// rely on for availability-ordered queue polling and time-ordered event
// reads. Apply commits a group of writes spanning sub-tables atomically.
package kv

import (
	"context"
	"errors"
)

// ErrKeyNotFound is returned by Get when no record exists for the key.
var ErrKeyNotFound = errors.New("key not found")

// ErrConflict is returned by Apply when a conditional operation finds the
// store in a different state than the group requires. Nothing is committed.
var ErrConflict = errors.New("atomic group conflict")

// Entry is a single key-value pair returned by Scan.
type Entry struct {
	Key   string
	Value []byte
}

// OpKind discriminates the write operations inside an atomic group.
type OpKind int

const (
	// OpPut stores the value, overwriting any previous one.
	OpPut OpKind = iota

	// OpDelete removes the record; removing a missing record is fine.
	OpDelete

	// OpPutAbsent stores the value only when no record exists yet; a
	// present record aborts the whole group with ErrConflict. Used by
	// submission to lose gracefully against a concurrent create.
	OpPutAbsent

	// OpDeleteExisting removes the record only when it is present; a
	// missing record aborts the whole group with ErrConflict. Used by
	// claim so one of two rival claimers observes the head already gone.
	OpDeleteExisting
)

// Op is one write inside an atomic group. Value is ignored for deletes.
type Op struct {
	Kind  OpKind
	Table string
	Key   string
	Value []byte
}

// Store is a durable key-value store with named sub-tables and ordered scans.
// Implementations must be safe for concurrent use.
type Store interface {
	// Get returns the value stored under (table, key).
	// Returns ErrKeyNotFound when the record does not exist.
	Get(ctx context.Context, table, key string) ([]byte, error)

	// Put stores value under (table, key), overwriting any previous value.
	Put(ctx context.Context, table, key string, value []byte) error

	// Delete removes the record under (table, key). Deleting a missing
	// record is not an error.
	Delete(ctx context.Context, table, key string) error

	// Scan returns entries of table with key >= start, in ascending key
	// order. limit <= 0 means no limit.
	Scan(ctx context.Context, table, start string, limit int) ([]Entry, error)

	// Apply commits the operations as one atomic group: either every
	// operation becomes visible or none does. Operations may span
	// different sub-tables of the same store. A failed conditional
	// operation aborts the group with ErrConflict.
	Apply(ctx context.Context, ops ...Op) error

	// Close releases the underlying handle. The store must not be used
	// afterwards.
	Close() error
}
