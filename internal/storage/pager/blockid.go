package pager

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// BlockId identifies a fixed-size region on disk. It is comparable by
// value and is the key used by the resident table and latch table.
type BlockId struct {
	Filename string
	BlockNum int64
}

func (b BlockId) String() string { return fmt.Sprintf("%s:%d", b.Filename, b.BlockNum) }

// fileHandle pairs an open *os.File with the lock that serializes I/O
// against it.
type fileHandle struct {
	mu   sync.Mutex
	file *os.File
}

// FileManager owns every open file handle beneath one database directory
// and performs fixed-block I/O against them. Block numbering is local to
// each filename.
type FileManager struct {
	dir       string
	blockSize int

	mu      sync.Mutex // guards the handles map itself
	handles map[string]*fileHandle
}

// NewFileManager opens (creating if necessary) dir as the database
// directory. If fresh is true, any existing files in dir are removed
// first, matching a from-scratch test database.
func NewFileManager(dir string, blockSize int, fresh bool) (*FileManager, error) {
	if !ValidBlockSize(blockSize) {
		return nil, newIoError(fmt.Sprintf("invalid block size %d", blockSize), nil)
	}
	if fresh {
		if err := os.RemoveAll(dir); err != nil {
			return nil, newIoError("wipe stale database directory", err)
		}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, newIoError("create database directory", err)
	}
	return &FileManager{
		dir:       dir,
		blockSize: blockSize,
		handles:   make(map[string]*fileHandle),
	}, nil
}

// BlockSize returns the fixed block size this manager was opened with.
func (fm *FileManager) BlockSize() int { return fm.blockSize }

// Dir returns the database directory path.
func (fm *FileManager) Dir() string { return fm.dir }

func (fm *FileManager) handleFor(filename string) (*fileHandle, error) {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	if h, ok := fm.handles[filename]; ok {
		return h, nil
	}
	f, err := os.OpenFile(filepath.Join(fm.dir, filename), os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, newIoError(fmt.Sprintf("open file %q", filename), err)
	}
	h := &fileHandle{file: f}
	fm.handles[filename] = h
	return h, nil
}

// Length returns the number of blocks currently in filename.
func (fm *FileManager) Length(filename string) (int64, error) {
	h, err := fm.handleFor(filename)
	if err != nil {
		return 0, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	fi, err := h.file.Stat()
	if err != nil {
		return 0, newIoError(fmt.Sprintf("stat file %q", filename), err)
	}
	return fi.Size() / int64(fm.blockSize), nil
}

// Read fills page (which must be exactly BlockSize bytes) with the
// contents of the given block. A short read is an IoError.
func (fm *FileManager) Read(id BlockId, page []byte) error {
	if len(page) != fm.blockSize {
		return newIoError(fmt.Sprintf("page buffer is %d bytes, want %d", len(page), fm.blockSize), nil)
	}
	h, err := fm.handleFor(id.Filename)
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	n, err := h.file.ReadAt(page, id.BlockNum*int64(fm.blockSize))
	if err != nil {
		return newIoError(fmt.Sprintf("read block %s", id), err)
	}
	if n != fm.blockSize {
		return newIoError(fmt.Sprintf("short read on block %s: got %d bytes", id, n), nil)
	}
	return nil
}

// Write stores page (exactly BlockSize bytes) at the given block.
func (fm *FileManager) Write(id BlockId, page []byte) error {
	if len(page) != fm.blockSize {
		return newIoError(fmt.Sprintf("page buffer is %d bytes, want %d", len(page), fm.blockSize), nil)
	}
	h, err := fm.handleFor(id.Filename)
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	n, err := h.file.WriteAt(page, id.BlockNum*int64(fm.blockSize))
	if err != nil {
		return newIoError(fmt.Sprintf("write block %s", id), err)
	}
	if n != fm.blockSize {
		return newIoError(fmt.Sprintf("short write on block %s: wrote %d bytes", id, n), nil)
	}
	return nil
}

// Append allocates a new zero-filled block at the end of filename and
// returns its BlockId.
func (fm *FileManager) Append(filename string) (BlockId, error) {
	h, err := fm.handleFor(filename)
	if err != nil {
		return BlockId{}, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	fi, err := h.file.Stat()
	if err != nil {
		return BlockId{}, newIoError(fmt.Sprintf("stat file %q", filename), err)
	}
	blockNum := fi.Size() / int64(fm.blockSize)
	zero := make([]byte, fm.blockSize)
	if _, err := h.file.WriteAt(zero, blockNum*int64(fm.blockSize)); err != nil {
		return BlockId{}, newIoError(fmt.Sprintf("append block to %q", filename), err)
	}
	return BlockId{Filename: filename, BlockNum: blockNum}, nil
}

// Sync flushes every open file handle to stable storage.
func (fm *FileManager) Sync() error {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	for name, h := range fm.handles {
		h.mu.Lock()
		err := h.file.Sync()
		h.mu.Unlock()
		if err != nil {
			return newIoError(fmt.Sprintf("sync file %q", name), err)
		}
	}
	return nil
}

// Close closes every open file handle.
func (fm *FileManager) Close() error {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	var firstErr error
	for name, h := range fm.handles {
		h.mu.Lock()
		err := h.file.Close()
		h.mu.Unlock()
		if err != nil && firstErr == nil {
			firstErr = newIoError(fmt.Sprintf("close file %q", name), err)
		}
	}
	fm.handles = make(map[string]*fileHandle)
	return firstErr
}
