// Package relocate moves attachment files from the source library layout
// into the Zotero linked-attachment layout, either on the local filesystem
// or inside a cloud drive via a metadata-only move.
package relocate

import "context"

// Mover relocates a single file. Implementations resolve failures to a
// false return and log the cause; Move never panics or reports success
// after a swallowed error.
type Mover interface {
	Move(ctx context.Context, fromPath, toPath string) bool
}
