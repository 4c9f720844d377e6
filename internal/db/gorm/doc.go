// Package gorm stores customers, feedback, features and their links in
// PostgreSQL with the pgvector extension.
//
// # Concurrency
//
// Synthesis and manual merges serialize on transaction-scoped advisory
// locks (pg_advisory_xact_lock). Feature locks are always taken in
// ascending key order. A new feedback item also takes the lock for its
// embedding bucket, so two similar items arriving together see each
// other's feature instead of creating two.
//
// # Testing
//
// Tests that need a database are skipped unless VOCGURU_TEST_DSN points
// at a PostgreSQL instance with pgvector installed:
//
//	VOCGURU_TEST_DSN=postgres://localhost/vocguru_test go test ./internal/db/gorm
package gorm
