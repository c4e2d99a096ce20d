package storage

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
)

// maxCommandBytes bounds one command log line.
const maxCommandBytes = 1 << 20

var ErrLogClosed = errors.New("command log closed")

// CommandLog is an append-only, line-oriented record of accepted commands.
// Each line is one JSON command; replaying the lines in order rebuilds the books.
type CommandLog interface {
	Append(line []byte) error
	Close() error
}

type NopWAL struct{}

func NewNopWAL() *NopWAL              { return &NopWAL{} }
func (w *NopWAL) Append([]byte) error { return nil }
func (w *NopWAL) Close() error        { return nil }

// FileWAL buffers appends and flushes every line so a crash loses at most
// the command being written. With fsync set each append also syncs the file.
type FileWAL struct {
	mu     sync.Mutex
	f      *os.File
	w      *bufio.Writer
	fsync  bool
	closed bool
}

type FileWALOption func(*FileWAL)

// WithFsync syncs the file after every append.
func WithFsync() FileWALOption { return func(w *FileWAL) { w.fsync = true } }

func NewFileWAL(path string, opts ...FileWALOption) (*FileWAL, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open command log: %w", err)
	}
	w := &FileWAL{f: f, w: bufio.NewWriter(f)}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

func (w *FileWAL) Append(line []byte) error {
	if bytes.IndexByte(line, '\n') >= 0 {
		return fmt.Errorf("command contains a newline")
	}
	if len(line) > maxCommandBytes {
		return fmt.Errorf("command of %d bytes exceeds %d", len(line), maxCommandBytes)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrLogClosed
	}
	w.w.Write(line)
	w.w.WriteByte('\n')
	if err := w.w.Flush(); err != nil {
		return fmt.Errorf("write command log: %w", err)
	}
	if w.fsync {
		return w.f.Sync()
	}
	return nil
}

func (w *FileWAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	if err := w.w.Flush(); err != nil {
		w.f.Close()
		return err
	}
	return w.f.Close()
}

// ReadCommands calls fn for every non-empty line of a command log, numbering
// lines from 1. It stops at the first error returned by fn.
func ReadCommands(r io.Reader, fn func(lineNo int, cmd []byte) error) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxCommandBytes+1)
	n := 0
	for sc.Scan() {
		n++
		if len(sc.Bytes()) == 0 {
			continue
		}
		if err := fn(n, sc.Bytes()); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read command log: %w", err)
	}
	return nil
}

var _ CommandLog = (*NopWAL)(nil)
var _ CommandLog = (*FileWAL)(nil)
