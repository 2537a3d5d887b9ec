// Package bunstore provides a PostgreSQL store implementation using the
// Bun ORM. Schema is managed through embedded SQL migrations applied by
// Migrate. Construct with New around an existing *bun.DB, or OpenDSN to
// let the store own the connection.
package bunstore
