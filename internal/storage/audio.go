// Package storage keeps raw audio artifacts on local disk.
package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// extensions maps audio MIME types to file extensions.
var extensions = map[string]string{
	"audio/webm":  "webm",
	"audio/ogg":   "ogg",
	"audio/mpeg":  "mp3",
	"audio/mp3":   "mp3",
	"audio/mp4":   "m4a",
	"audio/m4a":   "m4a",
	"audio/x-m4a": "m4a",
	"audio/wav":   "wav",
	"audio/x-wav": "wav",
	"audio/wave":  "wav",
	"audio/flac":  "flac",
}

// contentTypes maps file extensions back to a canonical MIME type.
var contentTypes = map[string]string{
	"webm": "audio/webm",
	"ogg":  "audio/ogg",
	"mp3":  "audio/mpeg",
	"m4a":  "audio/mp4",
	"wav":  "audio/wav",
	"flac": "audio/flac",
}

// ErrInvalidPath is returned for artifact paths that escape the store.
var ErrInvalidPath = errors.New("storage: invalid artifact path")

// AudioStore writes artifacts to <dir>/<sessionID>/<uuid>.<ext>. Paths
// handed out are relative to dir.
type AudioStore struct {
	dir string
}

// NewAudioStore creates the root directory if needed.
func NewAudioStore(dir string) (*AudioStore, error) {
	if dir == "" {
		return nil, errors.New("storage: dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("storage: create %s: %w", dir, err)
	}
	return &AudioStore{dir: dir}, nil
}

// Dir returns the root directory.
func (s *AudioStore) Dir() string { return s.dir }

// ExtensionFor returns the file extension for a MIME type, ignoring
// parameters such as ";codecs=opus".
func ExtensionFor(mimeType string) string {
	base := strings.ToLower(strings.TrimSpace(strings.SplitN(mimeType, ";", 2)[0]))
	if ext, ok := extensions[base]; ok {
		return ext
	}
	return "bin"
}

// ContentTypeFor returns the MIME type for an artifact path.
func ContentTypeFor(rel string) string {
	ext := strings.TrimPrefix(filepath.Ext(rel), ".")
	if ct, ok := contentTypes[strings.ToLower(ext)]; ok {
		return ct
	}
	return "application/octet-stream"
}

// Save writes data and returns its relative path.
func (s *AudioStore) Save(sessionID uint, data []byte, mimeType string) (string, error) {
	if len(data) == 0 {
		return "", errors.New("storage: audio is empty")
	}
	sessionDir := strconv.FormatUint(uint64(sessionID), 10)
	if err := os.MkdirAll(filepath.Join(s.dir, sessionDir), 0o755); err != nil {
		return "", fmt.Errorf("storage: create session dir: %w", err)
	}

	rel := filepath.ToSlash(filepath.Join(sessionDir, uuid.NewString()+"."+ExtensionFor(mimeType)))
	if err := os.WriteFile(filepath.Join(s.dir, filepath.FromSlash(rel)), data, 0o644); err != nil {
		return "", fmt.Errorf("storage: write %s: %w", rel, err)
	}
	return rel, nil
}

// Read returns the bytes of a previously saved artifact.
func (s *AudioStore) Read(rel string) ([]byte, error) {
	full, err := s.resolve(rel)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return nil, fmt.Errorf("storage: read %s: %w", rel, err)
	}
	return data, nil
}

func (s *AudioStore) resolve(rel string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(rel))
	if rel == "" || filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", ErrInvalidPath
	}
	return filepath.Join(s.dir, clean), nil
}

// Sweep deletes artifacts last modified before cutoff and removes session
// directories left empty. It returns the number of files removed.
func (s *AudioStore) Sweep(cutoff time.Time) (int, error) {
	removed := 0
	var dirs []string

	err := filepath.WalkDir(s.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != s.dir {
				dirs = append(dirs, path)
			}
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(path); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	if err != nil {
		return removed, fmt.Errorf("storage: sweep: %w", err)
	}

	// Deepest first; os.Remove fails harmlessly on non-empty dirs.
	for i := len(dirs) - 1; i >= 0; i-- {
		_ = os.Remove(dirs[i])
	}
	return removed, nil
}
