package procrun

import (
	"fmt"
	"os"
)

// WithTempFile creates a temp file, passes its path to fn, and removes
// the file on every exit path including panics.
func WithTempFile(dir, pattern string, fn func(path string) error) error {
	f, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}

	path := f.Name()

	if err := f.Close(); err != nil {
		os.Remove(path)

		return fmt.Errorf("closing temp file: %w", err)
	}

	defer os.Remove(path)

	return fn(path)
}
