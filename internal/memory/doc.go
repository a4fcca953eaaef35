// Package memory manages durable project knowledge documents.
//
// Two lifecycles coexist. Core memories (architecture, conventions,
// decisions, glossary) are one-per-name singletons created when a project
// is initialized; explicit upserts replace their content, bump the version
// atomically, and invalidate the stored embedding. Event memories (working,
// insight, telemetry) are append-only records with ULID identifiers.
//
// The compactor runs on a cron schedule and folds raw query telemetry into
// per-day aggregates, keeping only the most recent raw rows.
package memory
