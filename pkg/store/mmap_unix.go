//go:build unix || darwin || linux || freebsd || openbsd || netbsd

package store

import (
	"os"
	"syscall"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// openMmapFile opens or creates a memory-mapped file, extending it to at
// least initialSize.
func openMmapFile(path string, initialSize int64) (*mmapFile, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, errors.Wrap(err, "store: open")
	}

	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errors.Wrap(err, "store: stat")
	}

	size := stat.Size()
	if initialSize > size {
		if err := f.Truncate(initialSize); err != nil {
			f.Close()
			return nil, errors.Wrap(err, "store: truncate")
		}
		size = initialSize
	}
	if size == 0 {
		f.Close()
		return nil, errors.New("store: cannot mmap empty file")
	}

	data, err := syscall.Mmap(int(f.Fd()), 0, int(size),
		syscall.PROT_READ|syscall.PROT_WRITE, syscall.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, errors.Wrap(err, "store: mmap")
	}

	return &mmapFile{file: f, data: data, size: size}, nil
}

func (m *mmapFile) Sync() error {
	if err := unix.Msync(m.data, unix.MS_SYNC); err != nil {
		return errors.Wrap(err, "store: msync")
	}
	return nil
}

func (m *mmapFile) Grow(newSize int64) error {
	if newSize <= m.size {
		return nil
	}

	// Writes under MAP_SHARED land in the kernel page cache but are not
	// guaranteed on disk; sync before unmapping so a crash mid-remap
	// cannot lose them.
	if err := unix.Msync(m.data, unix.MS_SYNC); err != nil {
		return errors.Wrap(err, "store: msync before grow")
	}
	if err := syscall.Munmap(m.data); err != nil {
		return errors.Wrap(err, "store: munmap before grow")
	}

	f := m.file.(*os.File)
	if err := f.Truncate(newSize); err != nil {
		return errors.Wrap(err, "store: truncate for grow")
	}

	data, err := syscall.Mmap(int(f.Fd()), 0, int(newSize),
		syscall.PROT_READ|syscall.PROT_WRITE, syscall.MAP_SHARED)
	if err != nil {
		return errors.Wrap(err, "store: remap after grow")
	}

	m.data = data
	m.size = newSize
	return nil
}

func (m *mmapFile) Close() error {
	var firstErr error
	if m.data != nil {
		if err := syscall.Munmap(m.data); err != nil && firstErr == nil {
			firstErr = errors.Wrap(err, "store: munmap")
		}
		m.data = nil
	}
	if m.file != nil {
		f := m.file.(*os.File)
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = errors.Wrap(err, "store: close")
		}
		m.file = nil
	}
	return firstErr
}
