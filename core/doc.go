// Package core defines the domain model shared by the alerting engine, storage,
// notification dispatch and the API.
//
// # Architecture Overview
//
// The core package provides:
//   - Domain types (Event, AlertRule, Destination)
//   - The narrow read-only collaborator interfaces consumed by the engine
//     (RuleStore, UserDirectory)
//   - Constants for rule kinds, destination types and reserved logger names
//   - A generic worker pool used by the event pipeline
//
// # Design Principles
//
//  1. Interfaces defined where used (consumer package), not where implemented
//  2. Small, focused interfaces (1-3 methods ideal)
//  3. Accept interfaces, return concrete types
//  4. context.Context as first parameter on anything that may block
package core
