// Package storage persists promotable items, the active campaign
// configuration and the publish pacing mark.
//
// Three backends implement the same Store interface:
//
//   - memory: a plain in-process arena with a monotonically increasing
//     id counter. Nothing survives a restart.
//   - file: the memory arena plus a write-through JSON snapshot. The
//     snapshot is rewritten atomically (tmp + rename) after every
//     mutating operation and reloaded on open.
//   - sqlite: a SQLite database file, compiled in only with the
//     "sqlite" build tag.
//
// All backends are safe for concurrent use.
package storage
