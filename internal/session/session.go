// Package session records which user is logged in on this workspace.
package session

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"momentum/internal/db"
)

const fileName = "session"

// File keeps the current username in a marker file next to the database.
type File struct {
	Path string
}

func New(workspace string) File {
	if workspace == "" {
		workspace = "."
	}
	return File{Path: filepath.Join(workspace, db.DirName, fileName)}
}

func (f File) Login(username string) error {
	if err := os.MkdirAll(filepath.Dir(f.Path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(f.Path, []byte(username+"\n"), 0o600)
}

func (f File) Logout() error {
	err := os.Remove(f.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// Current returns the logged in username, or "" when nobody is.
func (f File) Current() (string, error) {
	b, err := os.ReadFile(f.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}
