// Package core provides the fundamental types and interfaces for SaveRelay.
//
// This package contains:
//   - OperationRecord and WorkerBinding data models with GORM annotations
//   - The Storage interface defining the persistence contract
//   - The tagged payload union decoded at the boundary per operation kind
//   - Event types for dispatch monitoring
//   - Error values shared across the dispatch core
//
// Most users should import the root package github.com/saverelay/saverelay
// instead of this package directly.
package core
