// Package queue persists media items, merged sentences, and review chunks in
// SQLite and enforces the item lifecycle. All mutation paths are conditional
// updates so concurrent workers stay consistent without an external lock.
package queue
