// Package history keeps a log of processed recordings.
//
// The memory store is a bounded ring buffer for single instance deployments.
// The postgres store persists entries with pgx and manages its schema with
// goose migrations embedded in the binary.
package history
