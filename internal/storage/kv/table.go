package kv

import (
	"context"
	"encoding/json"
	"fmt"
)

// Table provides typed access to one named sub-table of a Store.
// Values are serialized as JSON.
type Table[T any] struct {
	store Store
	name  string
}

// NewTable binds a typed table to a named sub-table of store.
func NewTable[T any](store Store, name string) Table[T] {
	return Table[T]{store: store, name: name}
}

// Name returns the sub-table name, for building Ops against the same table.
func (t Table[T]) Name() string { return t.name }

// Record is a decoded entry returned by Table.Scan.
type Record[T any] struct {
	Key   string
	Value T
}

// Get loads and decodes the value under key.
// Returns ErrKeyNotFound when the record does not exist.
func (t Table[T]) Get(ctx context.Context, key string) (*T, error) {
	raw, err := t.store.Get(ctx, t.name, key)
	if err != nil {
		return nil, err
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("decode %s/%s: %w", t.name, key, err)
	}
	return &v, nil
}

// Put encodes and stores value under key.
func (t Table[T]) Put(ctx context.Context, key string, value *T) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", t.name, key, err)
	}
	return t.store.Put(ctx, t.name, key, raw)
}

// Delete removes the record under key. Deleting a missing record is not an
// error.
func (t Table[T]) Delete(ctx context.Context, key string) error {
	return t.store.Delete(ctx, t.name, key)
}

// Scan returns decoded records with key >= start in ascending key order.
// limit <= 0 means no limit.
func (t Table[T]) Scan(ctx context.Context, start string, limit int) ([]Record[T], error) {
	entries, err := t.store.Scan(ctx, t.name, start, limit)
	if err != nil {
		return nil, err
	}
	records := make([]Record[T], 0, len(entries))
	for _, e := range entries {
		var v T
		if err := json.Unmarshal(e.Value, &v); err != nil {
			return nil, fmt.Errorf("decode %s/%s: %w", t.name, e.Key, err)
		}
		records = append(records, Record[T]{Key: e.Key, Value: v})
	}
	return records, nil
}

// PutOp builds an atomic-group write of value under key.
func (t Table[T]) PutOp(key string, value *T) (Op, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return Op{}, fmt.Errorf("encode %s/%s: %w", t.name, key, err)
	}
	return Op{Kind: OpPut, Table: t.name, Key: key, Value: raw}, nil
}

// PutAbsentOp builds a conditional create: the group aborts with ErrConflict
// when a record already exists under key.
func (t Table[T]) PutAbsentOp(key string, value *T) (Op, error) {
	op, err := t.PutOp(key, value)
	if err != nil {
		return Op{}, err
	}
	op.Kind = OpPutAbsent
	return op, nil
}

// DeleteOp builds an atomic-group delete of key.
func (t Table[T]) DeleteOp(key string) Op {
	return Op{Kind: OpDelete, Table: t.name, Key: key}
}

// DeleteExistingOp builds a conditional delete: the group aborts with
// ErrConflict when no record exists under key.
func (t Table[T]) DeleteExistingOp(key string) Op {
	return Op{Kind: OpDeleteExisting, Table: t.name, Key: key}
}

// Apply forwards an atomic group to the underlying store. The group may mix
// operations built by different tables of the same store.
func (t Table[T]) Apply(ctx context.Context, ops ...Op) error {
	return t.store.Apply(ctx, ops...)
}
