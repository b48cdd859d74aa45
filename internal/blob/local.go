package blob

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// Storage persists uploaded chat attachments and serves them back.
type Storage interface {
	// Store writes the blob under filename and returns its public URL path.
	Store(ctx context.Context, filename string, r io.Reader) (string, error)
	// Open returns the blob contents and modification time for serving.
	Open(ctx context.Context, filename string) (io.ReadSeekCloser, time.Time, error)
}

// LocalStorage keeps attachments on the local filesystem under a single
// directory, served back at /api/uploads/{filename}.
type LocalStorage struct {
	dir string
}

func NewLocalStorage(dir string) (*LocalStorage, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating upload dir: %w", err)
	}
	return &LocalStorage{dir: dir}, nil
}

func (s *LocalStorage) Store(_ context.Context, filename string, r io.Reader) (string, error) {
	// Reject anything that is not a bare filename.
	if filepath.Base(filename) != filename {
		return "", fmt.Errorf("invalid filename %q", filename)
	}
	out, err := os.Create(filepath.Join(s.dir, filename))
	if err != nil {
		return "", fmt.Errorf("create blob: %w", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, r); err != nil {
		return "", fmt.Errorf("write blob: %w", err)
	}
	return "/api/uploads/" + filename, nil
}

func (s *LocalStorage) Open(_ context.Context, filename string) (io.ReadSeekCloser, time.Time, error) {
	if filepath.Base(filename) != filename {
		return nil, time.Time{}, fmt.Errorf("invalid filename %q", filename)
	}
	f, err := os.Open(filepath.Join(s.dir, filename))
	if err != nil {
		return nil, time.Time{}, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, time.Time{}, err
	}
	return f, info.ModTime(), nil
}
