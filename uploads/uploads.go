// Package uploads stores project attachment files on local disk.
package uploads

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/google/uuid"
)

// Upload errors.
var (
	ErrFileTooLarge   = errors.New("file exceeds upload limit")
	ErrTypeNotAllowed = errors.New("file type not allowed")
	ErrInvalidName    = errors.New("invalid file name")
	ErrNotFound       = errors.New("file not found")
)

// Store writes uploads under a single directory with generated names.
type Store struct {
	dir      string
	maxBytes int64
	allowed  []string
	logger   *slog.Logger
}

// Saved describes a file written by Save.
type Saved struct {
	StoredName  string
	FileName    string
	ContentType string
	Size        int64
}

// NewStore creates the upload directory if needed. Patterns use doublestar
// syntax and are matched case-insensitively against the base file name; an
// empty list allows every name.
func NewStore(dir string, maxBytes int64, allowed []string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	for _, p := range allowed {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid upload pattern %q", p)
		}
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create upload directory: %w", err)
	}
	lowered := make([]string, len(allowed))
	for i, p := range allowed {
		lowered[i] = strings.ToLower(p)
	}
	return &Store{dir: dir, maxBytes: maxBytes, allowed: lowered, logger: logger}, nil
}

// MaxBytes returns the upload size limit.
func (s *Store) MaxBytes() int64 {
	return s.maxBytes
}

// Allowed reports whether a file called name may be uploaded.
func (s *Store) Allowed(name string) bool {
	if len(s.allowed) == 0 {
		return true
	}
	base := strings.ToLower(filepath.Base(name))
	for _, p := range s.allowed {
		if ok, _ := doublestar.Match(p, base); ok {
			return true
		}
	}
	return false
}

// Save copies r to a new file. The client-supplied name only contributes
// its extension to the stored name.
func (s *Store) Save(name string, r io.Reader) (*Saved, error) {
	base := filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if base == "." || base == "/" || base == "" {
		return nil, ErrInvalidName
	}
	if !s.Allowed(base) {
		return nil, fmt.Errorf("%w: %s", ErrTypeNotAllowed, base)
	}

	ext := strings.ToLower(filepath.Ext(base))
	stored := uuid.NewString() + ext

	tmp, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	var head [512]byte
	n, err := io.ReadFull(r, head[:])
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		tmp.Close()
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if int64(n) > s.maxBytes {
		tmp.Close()
		return nil, ErrFileTooLarge
	}
	if _, err := tmp.Write(head[:n]); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("write upload: %w", err)
	}
	rest, err := io.Copy(tmp, io.LimitReader(r, s.maxBytes-int64(n)+1))
	if err != nil {
		tmp.Close()
		return nil, fmt.Errorf("write upload: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("close upload: %w", err)
	}
	size := int64(n) + rest
	if size > s.maxBytes {
		return nil, ErrFileTooLarge
	}

	if err := os.Rename(tmp.Name(), filepath.Join(s.dir, stored)); err != nil {
		return nil, fmt.Errorf("store upload: %w", err)
	}

	contentType := mime.TypeByExtension(ext)
	if contentType == "" {
		contentType = http.DetectContentType(head[:n])
	}

	s.logger.Debug("Stored upload", "file_name", base, "stored_name", stored, "size", size)
	return &Saved{StoredName: stored, FileName: base, ContentType: contentType, Size: size}, nil
}

// Open opens a stored file for reading.
func (s *Store) Open(storedName string) (*os.File, error) {
	path, err := s.path(storedName)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	return f, err
}

// Remove deletes a stored file. A missing file is not an error.
func (s *Store) Remove(storedName string) error {
	path, err := s.path(storedName)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove upload: %w", err)
	}
	return nil
}

// path resolves a stored name, refusing anything that is not a plain file
// name inside the upload directory.
func (s *Store) path(storedName string) (string, error) {
	if storedName == "" || storedName != filepath.Base(storedName) || strings.HasPrefix(storedName, ".") {
		return "", ErrInvalidName
	}
	return filepath.Join(s.dir, storedName), nil
}
