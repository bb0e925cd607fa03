package upload

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// Image is an upload persisted to the upload directory.
type Image struct {
	StoragePath  string
	OriginalName string
	Extension    string
	SizeBytes    int64
	ReceivedAt   time.Time
}

// Name is the generated file name inside the upload directory.
func (i *Image) Name() string {
	return filepath.Base(i.StoragePath)
}

// Store names and writes accepted uploads. The directory is created on the
// first Save, not at construction.
type Store struct {
	dir string
}

func NewStore(dir string) (*Store, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, &StorageError{Op: "resolve", Path: dir, Err: err}
	}
	return &Store{dir: abs}, nil
}

func (s *Store) Dir() string {
	return s.dir
}

// Save writes the candidate under a UUIDv7 name. UUIDv7 values are
// time-ordered and strictly increasing within the process, and the file is
// opened with O_EXCL, so two uploads can never share a path.
func (s *Store) Save(c *Candidate) (*Image, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, &StorageError{Op: "mkdir", Path: s.dir, Err: err}
	}

	token, err := uuid.NewV7()
	if err != nil {
		return nil, &StorageError{Op: "name", Path: s.dir, Err: err}
	}
	path := filepath.Join(s.dir, fmt.Sprintf("%s.%s", token.String(), c.Extension))

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, &StorageError{Op: "create", Path: path, Err: err}
	}
	if _, err := f.Write(c.Data); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return nil, &StorageError{Op: "write", Path: path, Err: err}
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return nil, &StorageError{Op: "close", Path: path, Err: err}
	}

	return &Image{
		StoragePath:  path,
		OriginalName: c.OriginalName,
		Extension:    c.Extension,
		SizeBytes:    c.Size(),
		ReceivedAt:   c.ReceivedAt,
	}, nil
}

// Remove deletes a stored image. A file that is already gone is not an error.
func (s *Store) Remove(img *Image) error {
	if img == nil {
		return nil
	}
	if err := os.Remove(img.StoragePath); err != nil && !os.IsNotExist(err) {
		return &StorageError{Op: "remove", Path: img.StoragePath, Err: err}
	}
	return nil
}
