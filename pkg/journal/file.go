package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileWriter appends journal entries to a JSON Lines file with automatic
// rotation.
type FileWriter struct {
	filePath        string
	maxSizeBytes    int64
	maxRotatedFiles int
	file            *os.File
	encoder         *json.Encoder
	mu              sync.Mutex
	closed          bool
}

// FileWriterOption configures a FileWriter.
type FileWriterOption func(*FileWriter)

// WithMaxSize sets the maximum file size before rotation (default: 10MB).
func WithMaxSize(bytes int64) FileWriterOption {
	return func(fw *FileWriter) {
		fw.maxSizeBytes = bytes
	}
}

// WithMaxRotatedFiles sets how many rotated files to keep (default: 5).
func WithMaxRotatedFiles(count int) FileWriterOption {
	return func(fw *FileWriter) {
		fw.maxRotatedFiles = count
	}
}

// NewFileWriter creates a file-based journal writer. The file is opened
// immediately and rotation is checked on each Append.
func NewFileWriter(filePath string, opts ...FileWriterOption) (*FileWriter, error) {
	fw := &FileWriter{
		filePath:        filePath,
		maxSizeBytes:    10 * 1024 * 1024,
		maxRotatedFiles: 5,
	}

	for _, opt := range opts {
		opt(fw)
	}

	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}

	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open journal file: %w", err)
	}

	fw.file = file
	fw.encoder = json.NewEncoder(file)

	return fw, nil
}

// Append writes one entry as a JSON line, rotating afterwards when the file
// has grown past the size threshold.
func (fw *FileWriter) Append(ctx context.Context, entry *Entry) error {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	if fw.closed {
		return fmt.Errorf("journal closed")
	}

	if err := fw.encoder.Encode(entry); err != nil {
		return fmt.Errorf("encode journal entry: %w", err)
	}

	if err := fw.rotateIfNeeded(); err != nil {
		return fmt.Errorf("rotate journal file: %w", err)
	}

	return nil
}

// Close flushes and closes the journal file.
func (fw *FileWriter) Close() error {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	if fw.closed {
		return nil
	}

	fw.closed = true

	if fw.file != nil {
		if err := fw.file.Sync(); err != nil {
			fw.file.Close()
			return fmt.Errorf("sync journal file: %w", err)
		}
		return fw.file.Close()
	}

	return nil
}

// rotateIfNeeded checks file size and rotates if threshold exceeded.
// Must be called with lock held.
func (fw *FileWriter) rotateIfNeeded() error {
	info, err := fw.file.Stat()
	if err != nil {
		return fmt.Errorf("stat journal file: %w", err)
	}

	if info.Size() < fw.maxSizeBytes {
		return nil
	}

	if err := fw.file.Close(); err != nil {
		return fmt.Errorf("close journal file for rotation: %w", err)
	}

	if err := fw.rotateFiles(); err != nil {
		return fmt.Errorf("rotate files: %w", err)
	}

	file, err := os.OpenFile(fw.filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open new journal file after rotation: %w", err)
	}

	fw.file = file
	fw.encoder = json.NewEncoder(file)

	return nil
}

// rotateFiles shifts existing rotated files and creates new rotation.
// Must be called with lock held.
func (fw *FileWriter) rotateFiles() error {
	oldestPath := fmt.Sprintf("%s.%d", fw.filePath, fw.maxRotatedFiles)
	if _, err := os.Stat(oldestPath); err == nil {
		if err := os.Remove(oldestPath); err != nil {
			return fmt.Errorf("remove oldest rotated file: %w", err)
		}
	}

	for i := fw.maxRotatedFiles - 1; i >= 1; i-- {
		oldPath := fmt.Sprintf("%s.%d", fw.filePath, i)
		newPath := fmt.Sprintf("%s.%d", fw.filePath, i+1)

		if _, err := os.Stat(oldPath); err == nil {
			if err := os.Rename(oldPath, newPath); err != nil {
				return fmt.Errorf("shift rotated file %s -> %s: %w", oldPath, newPath, err)
			}
		}
	}

	rotatedPath := fmt.Sprintf("%s.%d", fw.filePath, 1)
	if err := os.Rename(fw.filePath, rotatedPath); err != nil {
		return fmt.Errorf("rotate current file to .1: %w", err)
	}

	return nil
}
