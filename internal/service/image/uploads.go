package image

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

var safeExt = regexp.MustCompile(`^\.[a-z0-9]{1,8}$`)

// Uploads stores user files in a local directory under random names.
type Uploads struct {
	dir string
}

// NewUploads stores files under dir.
func NewUploads(dir string) *Uploads {
	return &Uploads{dir: dir}
}

// Dir is the directory uploads are written to.
func (u *Uploads) Dir() string {
	return u.dir
}

// Save copies src to a new file and returns its path relative to the working directory.
// The client's file name only contributes its extension.
func (u *Uploads) Save(src io.Reader, filename string) (string, error) {
	if err := os.MkdirAll(u.dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create upload directory: %w", err)
	}

	name := uuid.NewString()
	if ext := strings.ToLower(filepath.Ext(filename)); safeExt.MatchString(ext) {
		name += ext
	}
	path := filepath.Join(u.dir, name)

	dst, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return "", fmt.Errorf("failed to create upload file: %w", err)
	}

	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		_ = os.Remove(path)
		return "", fmt.Errorf("failed to write upload: %w", err)
	}
	if err := dst.Close(); err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("failed to write upload: %w", err)
	}

	return filepath.ToSlash(path), nil
}
