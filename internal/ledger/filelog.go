package ledger

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/afero"

	"github.com/nao1215/bucketcrawl/internal/model"
)

// FileLog appends failures to a log file, one line each.
// Appends are serialized so lines from concurrent workers never interleave.
type FileLog struct {
	mu   sync.Mutex
	fs   afero.Fs
	path string
	file afero.File
}

// OpenFileLog opens path for appending, creating it and its directory as needed.
func OpenFileLog(fsys afero.Fs, path string) (*FileLog, error) {
	if err := fsys.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create error log directory: %w", err)
	}

	f, err := fsys.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open error log: %w", err)
	}

	return &FileLog{fs: fsys, path: path, file: f}, nil
}

// Path returns the log file path.
func (l *FileLog) Path() string {
	return l.path
}

// Append writes f as a single line.
func (l *FileLog) Append(f model.Failure) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return os.ErrClosed
	}
	if _, err := l.file.WriteString(f.Line() + "\n"); err != nil {
		return fmt.Errorf("append to error log: %w", err)
	}
	return nil
}

// Close closes the log file. It is safe to call more than once.
func (l *FileLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}
