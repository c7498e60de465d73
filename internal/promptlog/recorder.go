// Package promptlog persists one JSON file per successful inference call.
package promptlog

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"tablenorm/internal/domain"
)

const fileTimeLayout = "20060102-150405.000000"

// FileRecorder writes prompt log records into a directory. File names carry a
// microsecond timestamp and never collide within one recorder.
// It implements port.PromptRecorder and port.PromptLogIndex.
type FileRecorder struct {
	dir string
	now func() time.Time

	mu    sync.Mutex
	paths []string
}

// NewFileRecorder creates a recorder that writes into dir, creating it on first use.
func NewFileRecorder(dir string) *FileRecorder {
	return &FileRecorder{dir: dir, now: time.Now}
}

// Dir returns the directory records are written to.
func (r *FileRecorder) Dir() string {
	return r.dir
}

// Record writes rec and returns the path of the new file.
func (r *FileRecorder) Record(rec domain.PromptLogRecord) (string, error) {
	if rec.Metadata == nil {
		rec.Metadata = map[string]any{}
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return "", fmt.Errorf("promptlog.Record: marshaling record: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return "", fmt.Errorf("promptlog.Record: creating %s: %w", r.dir, err)
	}

	path, err := r.create(data)
	if err != nil {
		return "", err
	}
	r.paths = append(r.paths, path)
	return path, nil
}

// create writes data to a fresh file, appending a counter when the timestamp
// name is already taken.
func (r *FileRecorder) create(data []byte) (string, error) {
	stamp := r.now().Format(fileTimeLayout)
	// Go layouts put a dot before fractional seconds; the file name uses a dash.
	stamp = stamp[:15] + "-" + stamp[16:]

	for i := 0; ; i++ {
		name := fmt.Sprintf("prompt-%s.json", stamp)
		if i > 0 {
			name = fmt.Sprintf("prompt-%s-%d.json", stamp, i)
		}
		path := filepath.Join(r.dir, name)

		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("promptlog.Record: creating %s: %w", path, err)
		}
		if _, err := f.Write(data); err != nil {
			_ = f.Close()
			return "", fmt.Errorf("promptlog.Record: writing %s: %w", path, err)
		}
		if err := f.Close(); err != nil {
			return "", fmt.Errorf("promptlog.Record: closing %s: %w", path, err)
		}
		return path, nil
	}
}

// Paths returns the files written so far, in write order.
func (r *FileRecorder) Paths() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.paths))
	copy(out, r.paths)
	return out
}
