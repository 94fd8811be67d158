/*
Package store provides the embedded SQL store backing metrics, lifecycle
events, and semantic memory.

The store wraps a SQLite database (pure-Go driver) behind database/sql:
the pool hands each worker its own connection, concurrent readers proceed
under WAL, and writers serialize inside SQLite. Schema initialization is
idempotent; the schema_info table records a monotonically increasing
version and migrations apply strictly in order at Open.

All failures are wrapped in StorageError so callers can distinguish
storage trouble from domain errors and decide whether to retry.
*/
package store
