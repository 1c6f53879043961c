package kv

import (
	"errors"
	"fmt"
	"sync"
)

// Process-wide handle cache keyed by store path. The queue writes its job
// table and its index table in one atomic group, which requires both tables
// to share a single underlying handle; routing every open through Acquire
// guarantees one handle per path within the process.

var (
	registryMu sync.Mutex
	registry   = make(map[string]Store)
)

// Acquire returns the cached store handle for path, calling open to create
// it the first time the path is seen. Concurrent callers for the same path
// receive the same handle.
func Acquire(path string, open func() (Store, error)) (Store, error) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if s, ok := registry[path]; ok {
		return s, nil
	}
	s, err := open()
	if err != nil {
		return nil, err
	}
	registry[path] = s
	return s, nil
}

// CloseAll closes every cached handle and empties the cache. Intended as a
// shutdown hook; stores acquired before the call must not be used afterwards.
func CloseAll() error {
	registryMu.Lock()
	defer registryMu.Unlock()

	var errs []error
	for path, s := range registry {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store %s: %w", path, err))
		}
		delete(registry, path)
	}
	return errors.Join(errs...)
}
