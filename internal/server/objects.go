package server

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// keyPattern constrains storage keys to a single flat namespace; anything
// with separators or dot prefixes is rejected before it reaches the
// filesystem.
var keyPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// objectStore keeps uploaded payloads as flat files under the configured
// storage directory, with a small sidecar recording the content type.
type objectStore struct {
	dir string
}

func newObjectStore(dir string) *objectStore {
	return &objectStore{dir: dir}
}

func validKey(key string) bool {
	return keyPattern.MatchString(key) && !strings.Contains(key, "..")
}

func (o *objectStore) path(key string) string {
	return filepath.Join(o.dir, key)
}

// put writes the payload atomically: temp file in the same directory, then
// rename over the final name.
func (o *objectStore) put(key, contentType string, body io.Reader) error {
	if !validKey(key) {
		return fmt.Errorf("invalid object key %q", key)
	}
	if err := os.MkdirAll(o.dir, 0o755); err != nil {
		return fmt.Errorf("create storage directory: %w", err)
	}

	tmp, err := os.CreateTemp(o.dir, key+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp object: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := io.Copy(tmp, body); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write object payload: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp object: %w", err)
	}
	if err := os.Rename(tmpName, o.path(key)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("store object: %w", err)
	}

	if contentType != "" {
		if err := os.WriteFile(o.path(key)+".ct", []byte(contentType), 0o644); err != nil {
			return fmt.Errorf("store object content type: %w", err)
		}
	}
	return nil
}

func (o *objectStore) exists(key string) bool {
	if !validKey(key) {
		return false
	}
	info, err := os.Stat(o.path(key))
	return err == nil && !info.IsDir()
}

// open returns the payload and its recorded content type; an empty content
// type means none was recorded at upload time.
func (o *objectStore) open(key string) (*os.File, string, error) {
	if !validKey(key) {
		return nil, "", fs.ErrNotExist
	}
	file, err := os.Open(o.path(key))
	if err != nil {
		return nil, "", err
	}

	contentType := ""
	if raw, err := os.ReadFile(o.path(key) + ".ct"); err == nil {
		contentType = strings.TrimSpace(string(raw))
	} else if !errors.Is(err, fs.ErrNotExist) {
		file.Close()
		return nil, "", err
	}
	return file, contentType, nil
}
