package scan

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// StoredFile describes a saved image
type StoredFile struct {
	Ref      string `json:"ref"`
	MIMEType string `json:"mimeType"`
	Size     int64  `json:"size"`
}

// FileStore defines the interface for image storage operations
type FileStore interface {
	// Save validates, normalizes and stores an upload
	Save(data []byte, mimeType string) (*StoredFile, error)

	// Get retrieves the stored bytes by ref
	Get(ref string) ([]byte, error)

	// ReadAsBase64 retrieves the stored bytes base64 encoded
	ReadAsBase64(ref string) (string, error)

	// Delete removes a stored file
	Delete(ref string) error
}

// LocalStorage implements FileStore on the local filesystem
type LocalStorage struct {
	basePath string
}

// NewLocalStorage creates a new LocalStorage instance
func NewLocalStorage(basePath string) (*LocalStorage, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("creating storage directory: %w", err)
	}

	return &LocalStorage{
		basePath: basePath,
	}, nil
}

// path resolves a ref inside the base directory, rejecting anything that
// would escape it
func (l *LocalStorage) path(ref string) (string, error) {
	if ref == "" || ref != filepath.Base(ref) || strings.HasPrefix(ref, ".") {
		return "", fmt.Errorf("%w: file %q", ErrNotFound, ref)
	}
	return filepath.Join(l.basePath, ref), nil
}

// Save normalizes the image to JPEG and writes it under a fresh ref
func (l *LocalStorage) Save(data []byte, mimeType string) (*StoredFile, error) {
	if !AllowedMIMEType(mimeType) {
		return nil, fmt.Errorf("%w: %q, allowed: image/jpeg, image/png, image/webp", ErrInvalidFileType, mimeType)
	}

	normalized, err := normalizeImage(data)
	if err != nil {
		return nil, err
	}

	ref := uuid.NewString() + ".jpg"
	if err := os.WriteFile(filepath.Join(l.basePath, ref), normalized, 0644); err != nil {
		return nil, fmt.Errorf("writing file: %w", err)
	}

	return &StoredFile{
		Ref:      ref,
		MIMEType: StoredMIMEType,
		Size:     int64(len(normalized)),
	}, nil
}

// Get retrieves a file from local storage
func (l *LocalStorage) Get(ref string) ([]byte, error) {
	path, err := l.path(ref)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: file %s", ErrNotFound, ref)
		}
		return nil, fmt.Errorf("reading file: %w", err)
	}
	return data, nil
}

// ReadAsBase64 retrieves a file base64 encoded
func (l *LocalStorage) ReadAsBase64(ref string) (string, error) {
	data, err := l.Get(ref)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// Delete removes a file from local storage
func (l *LocalStorage) Delete(ref string) error {
	path, err := l.path(ref)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: file %s", ErrNotFound, ref)
		}
		return fmt.Errorf("deleting file: %w", err)
	}
	return nil
}
