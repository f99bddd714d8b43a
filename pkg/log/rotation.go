// Size-based log file rotation
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package log

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const rotationStamp = "20060102-150405"

// RotationConfig configures log file rotation.
type RotationConfig struct {
	// Filename is the path to the log file.
	Filename string

	// MaxSize is the size in megabytes that triggers a rotation. Default 10.
	MaxSize int

	// MaxBackups is the number of rotated files kept. Default 5.
	MaxBackups int

	// Compress gzips rotated files.
	Compress bool
}

// RotatingFileWriter is an io.Writer that rotates its file by size.
type RotatingFileWriter struct {
	mu         sync.Mutex
	cfg        RotationConfig
	maxBytes   int64
	size       int64
	file       *os.File
	now        func() time.Time
	background sync.WaitGroup
}

// NewRotatingFileWriter opens (or creates) cfg.Filename for appending.
func NewRotatingFileWriter(cfg RotationConfig) (*RotatingFileWriter, error) {
	if cfg.Filename == "" {
		return nil, fmt.Errorf("log filename is required")
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 10
	}
	if cfg.MaxBackups <= 0 {
		cfg.MaxBackups = 5
	}
	w := &RotatingFileWriter{
		cfg:      cfg,
		maxBytes: int64(cfg.MaxSize) << 20,
		now:      time.Now,
	}
	if err := w.open(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *RotatingFileWriter) open() error {
	if err := os.MkdirAll(filepath.Dir(w.cfg.Filename), 0o755); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(w.cfg.Filename, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat log file: %w", err)
	}
	w.file = f
	w.size = info.Size()
	return nil
}

// Write implements io.Writer.
func (w *RotatingFileWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return 0, os.ErrClosed
	}
	if w.size > 0 && w.size+int64(len(p)) > w.maxBytes {
		if err := w.rotate(); err != nil {
			return 0, fmt.Errorf("rotate log file: %w", err)
		}
	}
	n, err := w.file.Write(p)
	w.size += int64(n)
	return n, err
}

func (w *RotatingFileWriter) rotate() error {
	if err := w.file.Close(); err != nil {
		return err
	}
	ext := filepath.Ext(w.cfg.Filename)
	rotated := fmt.Sprintf("%s.%s%s", strings.TrimSuffix(w.cfg.Filename, ext), w.now().Format(rotationStamp), ext)
	if err := os.Rename(w.cfg.Filename, rotated); err != nil {
		w.open()
		return err
	}
	w.background.Add(1)
	go func() {
		defer w.background.Done()
		if w.cfg.Compress {
			gzipFile(rotated)
		}
		w.prune()
	}()
	return w.open()
}

func gzipFile(name string) {
	src, err := os.Open(name)
	if err != nil {
		return
	}
	defer src.Close()
	dst, err := os.Create(name + ".gz")
	if err != nil {
		return
	}
	zw := gzip.NewWriter(dst)
	_, err = io.Copy(zw, src)
	if cerr := zw.Close(); err == nil {
		err = cerr
	}
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(name + ".gz")
		return
	}
	os.Remove(name)
}

// prune removes the oldest rotated files beyond MaxBackups. Timestamped
// names sort chronologically, so no stat calls are needed.
func (w *RotatingFileWriter) prune() {
	dir := filepath.Dir(w.cfg.Filename)
	base := filepath.Base(w.cfg.Filename)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)

	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	var backups []string
	for _, e := range entries {
		if e.Name() != base && isRotatedFile(e.Name(), stem, ext) {
			backups = append(backups, e.Name())
		}
	}
	sort.Strings(backups)
	for len(backups) > w.cfg.MaxBackups {
		os.Remove(filepath.Join(dir, backups[0]))
		backups = backups[1:]
	}
}

// isRotatedFile matches stem.YYYYMMDD-HHMMSS.ext with an optional .gz.
func isRotatedFile(name, stem, ext string) bool {
	name = strings.TrimSuffix(name, ".gz")
	if !strings.HasPrefix(name, stem+".") || !strings.HasSuffix(name, ext) {
		return false
	}
	stamp := strings.TrimSuffix(strings.TrimPrefix(name, stem+"."), ext)
	_, err := time.Parse(rotationStamp, stamp)
	return err == nil
}

// Close waits for pending compression and closes the file.
func (w *RotatingFileWriter) Close() error {
	w.mu.Lock()
	f := w.file
	w.file = nil
	w.mu.Unlock()
	w.background.Wait()
	if f == nil {
		return nil
	}
	return f.Close()
}

// CurrentSize returns the size of the live file.
func (w *RotatingFileWriter) CurrentSize() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.size
}

// Filename returns the live log path.
func (w *RotatingFileWriter) Filename() string {
	return w.cfg.Filename
}

// AttachFile redirects l's output into a rotating file. With tee set the
// records still go to stderr as well. Colors are turned off either way.
func AttachFile(l *Logger, cfg RotationConfig, tee bool) (*RotatingFileWriter, error) {
	fw, err := NewRotatingFileWriter(cfg)
	if err != nil {
		return nil, err
	}
	var w io.Writer = fw
	if tee {
		w = io.MultiWriter(os.Stderr, fw)
	}
	l.SetWriter(w)
	l.SetColorize(false)
	return fw, nil
}
