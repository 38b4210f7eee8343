package observability

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// DatedFileWriter appends log output to <dir>/<YYYYMMDD>/<name>.log and
// starts a fresh file under the new date directory when the day rolls over.
// Files are opened lazily on first write, so a run that never logs leaves
// nothing behind for the startup cleanup to sweep.
type DatedFileWriter struct {
	dir  string
	name string
	now  func() time.Time

	mu   sync.Mutex
	day  string
	file *os.File
}

// NewDatedFileWriter creates a writer rooted at dir. name is the log file
// base name without extension.
func NewDatedFileWriter(dir, name string) *DatedFileWriter {
	return &DatedFileWriter{dir: dir, name: name, now: time.Now}
}

// Write implements io.Writer. Safe for concurrent use.
func (w *DatedFileWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	day := w.now().Format("20060102")
	if w.file == nil || day != w.day {
		if err := w.roll(day); err != nil {
			return 0, err
		}
	}
	return w.file.Write(p)
}

func (w *DatedFileWriter) roll(day string) error {
	if w.file != nil {
		w.file.Close()
		w.file = nil
	}

	dir := filepath.Join(w.dir, day)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating log directory: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(dir, w.name+".log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}

	w.day = day
	w.file = f
	return nil
}

// Close releases the current log file, if any.
func (w *DatedFileWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}
