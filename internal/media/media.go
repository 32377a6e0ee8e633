// Package media is the engine's boundary to the media subsystem. The
// engine never uploads or transforms media; it records storage paths on
// documents and, once a document write that drops or replaces a path is
// confirmed, asks a Cleaner to remove the orphaned object.
package media

import (
	"context"

	"github.com/tonimelisma/journal-sync/internal/remote"
)

// Cleaner removes a stored media object by path. Removing a missing object
// is not an error.
type Cleaner interface {
	Remove(ctx context.Context, path string) error
}

// Noop is a Cleaner that removes nothing.
type Noop struct{}

// Remove does nothing.
func (Noop) Remove(context.Context, string) error { return nil }

// Orphaned returns the paths referenced by prev that next no longer
// references.
func Orphaned(prev, next remote.Media) []string {
	var out []string

	if prev.Image != "" && prev.Image != next.Image {
		out = append(out, prev.Image)
	}

	if prev.Audio != "" && prev.Audio != next.Audio {
		out = append(out, prev.Audio)
	}

	return out
}
