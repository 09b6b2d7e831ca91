// Package noop provides a deterministic domain.Archiver fake for default
// deployments and tests where no object storage backend is configured.
package noop

import (
	"context"
	"fmt"
)

// Archiver records archived keys in memory instead of uploading them
// anywhere, and returns a stable synthetic URI.
type Archiver struct {
	Stored map[string][]byte
}

// New constructs an Archiver.
func New() *Archiver {
	return &Archiver{Stored: make(map[string][]byte)}
}

// Archive implements domain.Archiver.
func (a *Archiver) Archive(_ context.Context, key string, data []byte) (string, error) {
	if a.Stored == nil {
		a.Stored = make(map[string][]byte)
	}
	a.Stored[key] = data
	return fmt.Sprintf("noop://%s", key), nil
}
