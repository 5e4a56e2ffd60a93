// Package tempfiles stages upload payloads on local disk while a blob store
// write or read is in flight.
package tempfiles

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
)

// Create opens a new temp file under dir, creating dir if needed.
func Create(dir string, pattern string) (*os.File, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create temp dir %q: %w", dir, err)
	}
	f, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	return f, nil
}

// NewDeleteOnClose wraps an open file and removes it from disk when the
// returned reader is closed. Close is safe to call more than once.
func NewDeleteOnClose(file *os.File) io.ReadCloser {
	return &deleteOnClose{file: file, path: file.Name()}
}

type deleteOnClose struct {
	file *os.File
	path string
	once sync.Once
}

func (d *deleteOnClose) Read(p []byte) (int, error) {
	return d.file.Read(p)
}

func (d *deleteOnClose) Close() error {
	var err error
	d.once.Do(func() {
		err = d.file.Close()
		if rerr := os.Remove(d.path); rerr != nil && !os.IsNotExist(rerr) {
			err = errors.Join(err, rerr)
		}
	})
	return err
}
