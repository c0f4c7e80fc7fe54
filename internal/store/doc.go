// Package store provides the in-memory audit record store with JSON
// snapshot persistence.
package store

import "github.com/user/carecompanion/internal/types"

// Compile-time interface compliance check.
var _ types.Store = (*MemStore)(nil)
