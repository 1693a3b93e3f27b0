// Package tempstore keeps uploads on disk for the lifetime of one request.
package tempstore

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/google/uuid"
)

var safeExt = regexp.MustCompile(`^\.[a-z0-9]{1,8}$`)

// Store writes uploads under a single directory using generated names.
type Store struct {
	dir string
}

// New creates dir if needed.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create temp dir %s: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the directory uploads are written to.
func (s *Store) Dir() string { return s.dir }

// Upload is one stored file. Remove deletes it at most once.
type Upload struct {
	Path   string
	Size   int64
	SHA256 string

	once      sync.Once
	removeErr error
}

// Save copies r into a new file. The client filename only contributes its
// extension; the name on disk is a random UUID.
func (s *Store) Save(r io.Reader, filename string) (*Upload, error) {
	path := filepath.Join(s.dir, uuid.NewString()+extension(filename))

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to create upload file: %w", err)
	}

	hash := sha256.New()
	size, copyErr := io.Copy(f, io.TeeReader(r, hash))
	closeErr := f.Close()
	if err := errors.Join(copyErr, closeErr); err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("failed to write upload file: %w", err)
	}

	return &Upload{
		Path:   path,
		Size:   size,
		SHA256: hex.EncodeToString(hash.Sum(nil)),
	}, nil
}

// Remove deletes the file. Later calls return the first result. A file that
// is already gone is not an error.
func (u *Upload) Remove() error {
	u.once.Do(func() {
		if err := os.Remove(u.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			u.removeErr = fmt.Errorf("failed to remove upload file: %w", err)
		}
	})
	return u.removeErr
}

func extension(filename string) string {
	ext := strings.ToLower(filepath.Ext(filepath.Base(filename)))
	if !safeExt.MatchString(ext) {
		return ""
	}
	return ext
}
