// SPDX-License-Identifier: MPL-2.0

package archive

import (
	"os"
)

// Scratch is an exclusively-owned temporary directory for a single
// ingestion run. Callers must defer Remove so the directory disappears on
// every exit path, including panics.
type Scratch struct {
	// Dir is the absolute path of the scratch directory.
	Dir string
}

// NewScratch creates a fresh scratch directory under baseDir. An empty
// baseDir falls back to the system temporary directory.
func NewScratch(baseDir string) (*Scratch, error) {
	dir, err := os.MkdirTemp(baseDir, "ingest-*")
	if err != nil {
		return nil, err
	}
	return &Scratch{Dir: dir}, nil
}

// Remove deletes the scratch directory and everything under it. It is safe
// to call more than once.
func (s *Scratch) Remove() error {
	return os.RemoveAll(s.Dir)
}
