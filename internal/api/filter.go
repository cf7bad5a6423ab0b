package api

import (
	"path/filepath"
	"strings"
)

// FileFilter restricts uploads by extension.
type FileFilter struct {
	Allowed []string // lower-case extensions with leading dot; empty allows all
}

// Check returns a 415 APIError when name has a disallowed extension.
func (f FileFilter) Check(name string) error {
	if len(f.Allowed) == 0 {
		return nil
	}
	ext := strings.ToLower(filepath.Ext(name))
	for _, a := range f.Allowed {
		if ext == a {
			return nil
		}
	}
	return NewUnsupportedTypeError(name, f.Allowed)
}
