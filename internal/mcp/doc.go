// Package mcp exposes the caller-facing tools over the Model Context
// Protocol: index_project, search, upsert_memory, get_memory, and
// get_status.
//
// Every call resolves its project partition by deriving the deterministic
// project id from the supplied path. Calls against a project that was never
// indexed surface a not-initialized error with the remediation step. A
// bounded per-operation call counter rejects runaway repeated calls.
package mcp
