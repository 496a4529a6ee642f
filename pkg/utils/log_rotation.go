package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// RotationConfig holds configuration for log rotation
type RotationConfig struct {
	// Filename is the file to write logs to
	Filename string

	// MaxSize is the maximum size in megabytes before rotation
	MaxSize int64

	// MaxBackups is the maximum number of rotated files to retain
	MaxBackups int
}

// DefaultRotationConfig returns the default rotation policy: 5 MB per
// file, 3 retained backups.
func DefaultRotationConfig(filename string) *RotationConfig {
	return &RotationConfig{
		Filename:   filename,
		MaxSize:    5,
		MaxBackups: 3,
	}
}

// LogRotator manages size-based log file rotation
type LogRotator struct {
	mu sync.Mutex

	config *RotationConfig
	file   *os.File
	size   int64
}

// NewLogRotator creates a new log rotator
func NewLogRotator(config *RotationConfig) (*LogRotator, error) {
	if config == nil {
		return nil, fmt.Errorf("rotation config is required")
	}
	if config.Filename == "" {
		return nil, fmt.Errorf("filename is required")
	}

	rotator := &LogRotator{config: config}
	if err := rotator.openFile(); err != nil {
		return nil, err
	}
	return rotator, nil
}

// Write implements io.Writer
func (lr *LogRotator) Write(p []byte) (n int, err error) {
	lr.mu.Lock()
	defer lr.mu.Unlock()

	if lr.shouldRotate(int64(len(p))) {
		if err := lr.rotate(); err != nil {
			return 0, fmt.Errorf("failed to rotate log: %w", err)
		}
	}

	n, err = lr.file.Write(p)
	lr.size += int64(n)
	return n, err
}

// Close closes the log file
func (lr *LogRotator) Close() error {
	lr.mu.Lock()
	defer lr.mu.Unlock()

	if lr.file != nil {
		err := lr.file.Close()
		lr.file = nil
		return err
	}
	return nil
}

// Sync flushes the log file
func (lr *LogRotator) Sync() error {
	lr.mu.Lock()
	defer lr.mu.Unlock()

	if lr.file != nil {
		return lr.file.Sync()
	}
	return nil
}

func (lr *LogRotator) shouldRotate(writeSize int64) bool {
	if lr.config.MaxSize <= 0 {
		return false
	}
	return lr.size+writeSize >= lr.config.MaxSize*1024*1024
}

// rotate shifts name.log -> name.log.1 -> name.log.2 ... and prunes
// backups beyond MaxBackups.
func (lr *LogRotator) rotate() error {
	if lr.file != nil {
		if err := lr.file.Close(); err != nil {
			return err
		}
		lr.file = nil
	}

	backups, err := lr.listBackups()
	if err != nil {
		return err
	}

	// Shift highest-numbered first.
	sort.Sort(sort.Reverse(sort.IntSlice(backups)))
	for _, idx := range backups {
		if lr.config.MaxBackups > 0 && idx >= lr.config.MaxBackups {
			_ = os.Remove(lr.backupName(idx))
			continue
		}
		if err := os.Rename(lr.backupName(idx), lr.backupName(idx+1)); err != nil {
			return err
		}
	}
	if err := os.Rename(lr.config.Filename, lr.backupName(1)); err != nil && !os.IsNotExist(err) {
		return err
	}

	return lr.openFile()
}

func (lr *LogRotator) backupName(idx int) string {
	return fmt.Sprintf("%s.%d", lr.config.Filename, idx)
}

func (lr *LogRotator) listBackups() ([]int, error) {
	dir := filepath.Dir(lr.config.Filename)
	base := filepath.Base(lr.config.Filename)

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var backups []int
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, base+".") {
			continue
		}
		var idx int
		if _, err := fmt.Sscanf(name[len(base)+1:], "%d", &idx); err == nil && idx > 0 {
			backups = append(backups, idx)
		}
	}
	return backups, nil
}

func (lr *LogRotator) openFile() error {
	if dir := filepath.Dir(lr.config.Filename); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	file, err := os.OpenFile(lr.config.Filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}

	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return err
	}

	lr.file = file
	lr.size = info.Size()
	return nil
}
