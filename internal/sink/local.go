package sink

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// localDirPerm is the mode for directories created under the root folder.
const localDirPerm = 0o755

// localFilePerm is the mode for artifact files.
const localFilePerm = 0o644

// localBufferSize is the bufio writer size for artifact files.
const localBufferSize = 64 * 1024

// ErrEmptyRoot indicates a local backend configured without a root folder.
var ErrEmptyRoot = errors.New("local backend requires a root folder")

// Local is the filesystem-backed destination. Logical paths are resolved
// under a root folder.
type Local struct {
	root string
}

// NewLocal creates a local backend rooted at folder.
func NewLocal(folder string) (*Local, error) {
	if folder == "" {
		return nil, ErrEmptyRoot
	}

	return &Local{root: folder}, nil
}

// Open creates the artifact file, creating intermediate directories on
// demand. An existing file is a conflict, never overwritten.
func (l *Local) Open(_ context.Context, path string) (Stream, error) {
	full := filepath.Join(l.root, filepath.FromSlash(path))

	mkdirErr := os.MkdirAll(filepath.Dir(full), localDirPerm)
	if mkdirErr != nil {
		return nil, fmt.Errorf("create artifact directory: %w", mkdirErr)
	}

	file, openErr := os.OpenFile(full, os.O_WRONLY|os.O_CREATE|os.O_EXCL, localFilePerm)
	if openErr != nil {
		if errors.Is(openErr, fs.ErrExist) {
			return nil, fmt.Errorf("%w: %s", ErrPathConflict, full)
		}

		return nil, fmt.Errorf("open artifact: %w", openErr)
	}

	return &localStream{
		file: file,
		buf:  bufio.NewWriterSize(file, localBufferSize),
		path: path,
	}, nil
}

// Exists reports whether path is already occupied under the root folder.
func (l *Local) Exists(_ context.Context, path string) (bool, error) {
	full := filepath.Join(l.root, filepath.FromSlash(path))

	_, statErr := os.Stat(full)
	if statErr == nil {
		return true, nil
	}

	if errors.Is(statErr, fs.ErrNotExist) {
		return false, nil
	}

	return false, fmt.Errorf("stat artifact: %w", statErr)
}

// localStream is one open artifact file with buffered writes.
type localStream struct {
	file   *os.File
	buf    *bufio.Writer
	path   string
	closed bool
}

func (s *localStream) Write(p []byte) (int, error) {
	if s.closed {
		return 0, ErrStreamClosed
	}

	return s.buf.Write(p)
}

func (s *localStream) Flush() error {
	if s.closed {
		return ErrStreamClosed
	}

	return s.buf.Flush()
}

func (s *localStream) Close() error {
	if s.closed {
		return ErrStreamClosed
	}

	s.closed = true

	flushErr := s.buf.Flush()
	if flushErr != nil {
		_ = s.file.Close()

		return fmt.Errorf("flush artifact: %w", flushErr)
	}

	syncErr := s.file.Sync()
	if syncErr != nil {
		_ = s.file.Close()

		return fmt.Errorf("sync artifact: %w", syncErr)
	}

	closeErr := s.file.Close()
	if closeErr != nil {
		return fmt.Errorf("close artifact: %w", closeErr)
	}

	return nil
}

func (s *localStream) Path() string {
	return s.path
}
