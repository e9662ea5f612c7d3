package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

// LocalStorage implements ObjectStorage on a directory tree. It stands in
// for the raw and transformed buckets when running off AWS, and is the
// directory the local trigger watches.
type LocalStorage struct {
	basePath string
}

// NewLocalStorage creates basePath if needed and roots a storage there.
func NewLocalStorage(basePath string) (*LocalStorage, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	return &LocalStorage{basePath: basePath}, nil
}

// BasePath returns the root directory of the storage.
func (l *LocalStorage) BasePath() string {
	return l.basePath
}

// Upload copies a local file into storage.
func (l *LocalStorage) Upload(ctx context.Context, localPath, objectPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	src, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}
	defer src.Close()

	return l.write(objectPath, func(w io.Writer) error {
		_, err := io.Copy(w, src)
		return err
	})
}

// Put writes data to objectPath, replacing any existing object.
func (l *LocalStorage) Put(ctx context.Context, objectPath string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return l.write(objectPath, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
}

// write fills a hidden temporary file next to the destination and renames
// it into place, so watchers and listings never see a partial object.
func (l *LocalStorage) write(objectPath string, fill func(io.Writer) error) error {
	destPath, err := l.fullPath(objectPath)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}
	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(destPath), ".put-*")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}
	tmpPath := tmp.Name()

	err = fill(tmp)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(tmpPath, destPath)
	}
	if err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("%w: %s: %v", ErrUploadFailed, objectPath, err)
	}
	return nil
}

// Get reads an object from local storage.
func (l *LocalStorage) Get(ctx context.Context, objectPath string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	full, err := l.fullPath(objectPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}

	data, err := os.ReadFile(full)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, objectPath)
	case err != nil:
		return nil, fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}
	return data, nil
}

// Delete removes an object. Missing objects are ignored, matching S3.
func (l *LocalStorage) Delete(ctx context.Context, objectPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	full, err := l.fullPath(objectPath)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDeleteFailed, err)
	}
	if err := os.Remove(full); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %v", ErrDeleteFailed, err)
	}
	return nil
}

// ListObjects returns the sorted object paths under prefix. The walk starts
// at the deepest directory the prefix names. Hidden files (in-flight
// writes) are skipped.
func (l *LocalStorage) ListObjects(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	root := l.basePath
	if dir := path.Dir(prefix + "x"); dir != "." {
		root = filepath.Join(l.basePath, filepath.FromSlash(dir))
	}

	var objects []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		key, ok := l.ObjectPath(p)
		if ok && strings.HasPrefix(key, prefix) {
			objects = append(objects, key)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrListFailed, err)
	}

	sort.Strings(objects)
	return objects, nil
}

// ObjectPath converts a filesystem path under the storage root into an
// object path. ok is false when the path lies outside the root.
func (l *LocalStorage) ObjectPath(fsPath string) (string, bool) {
	rel, err := filepath.Rel(l.basePath, fsPath)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

// fullPath maps an object path to a file under the root. Paths that would
// escape the root are rejected.
func (l *LocalStorage) fullPath(objectPath string) (string, error) {
	clean := path.Clean("/" + objectPath)
	if clean == "/" || clean != "/"+strings.TrimPrefix(objectPath, "/") {
		return "", fmt.Errorf("invalid object path %q", objectPath)
	}
	return filepath.Join(l.basePath, filepath.FromSlash(clean[1:])), nil
}
