//go:build windows

package store

import (
	"os"
	"reflect"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/windows"
)

type mmapHandle struct {
	file      *os.File
	mapHandle windows.Handle
}

// openMmapFile opens or creates a memory-mapped file, extending it to at
// least initialSize. Adapted from the teacher's pkg/pager/mmap_windows.go.
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

	mapHandle, err := windows.CreateFileMapping(
		windows.Handle(f.Fd()), nil, windows.PAGE_READWRITE,
		uint32(size>>32), uint32(size&0xFFFFFFFF), nil)
	if err != nil {
		f.Close()
		return nil, errors.Wrap(err, "store: CreateFileMapping")
	}

	addr, err := windows.MapViewOfFile(mapHandle, windows.FILE_MAP_READ|windows.FILE_MAP_WRITE, 0, 0, uintptr(size))
	if err != nil {
		windows.CloseHandle(mapHandle)
		f.Close()
		return nil, errors.Wrap(err, "store: MapViewOfFile")
	}

	var data []byte
	sh := (*reflect.SliceHeader)(unsafe.Pointer(&data))
	sh.Data = addr
	sh.Len = int(size)
	sh.Cap = int(size)

	return &mmapFile{file: &mmapHandle{file: f, mapHandle: mapHandle}, data: data, size: size}, nil
}

func (m *mmapFile) Sync() error {
	if len(m.data) == 0 {
		return nil
	}
	if err := windows.FlushViewOfFile(uintptr(unsafe.Pointer(&m.data[0])), uintptr(len(m.data))); err != nil {
		return errors.Wrap(err, "store: FlushViewOfFile")
	}
	h := m.file.(*mmapHandle)
	return h.file.Sync()
}

func (m *mmapFile) Grow(newSize int64) error {
	if newSize <= m.size {
		return nil
	}
	if err := m.Sync(); err != nil {
		return err
	}
	h := m.file.(*mmapHandle)
	windows.UnmapViewOfFile(uintptr(unsafe.Pointer(&m.data[0])))
	windows.CloseHandle(h.mapHandle)

	if err := h.file.Truncate(newSize); err != nil {
		return errors.Wrap(err, "store: truncate for grow")
	}

	mapHandle, err := windows.CreateFileMapping(
		windows.Handle(h.file.Fd()), nil, windows.PAGE_READWRITE,
		uint32(newSize>>32), uint32(newSize&0xFFFFFFFF), nil)
	if err != nil {
		return errors.Wrap(err, "store: CreateFileMapping on grow")
	}
	addr, err := windows.MapViewOfFile(mapHandle, windows.FILE_MAP_READ|windows.FILE_MAP_WRITE, 0, 0, uintptr(newSize))
	if err != nil {
		windows.CloseHandle(mapHandle)
		return errors.Wrap(err, "store: MapViewOfFile on grow")
	}

	var data []byte
	sh := (*reflect.SliceHeader)(unsafe.Pointer(&data))
	sh.Data = addr
	sh.Len = int(newSize)
	sh.Cap = int(newSize)

	h.mapHandle = mapHandle
	m.data = data
	m.size = newSize
	return nil
}

func (m *mmapFile) Close() error {
	var firstErr error
	h, _ := m.file.(*mmapHandle)
	if h != nil {
		if len(m.data) > 0 {
			if err := windows.UnmapViewOfFile(uintptr(unsafe.Pointer(&m.data[0]))); err != nil && firstErr == nil {
				firstErr = errors.Wrap(err, "store: UnmapViewOfFile")
			}
		}
		if err := windows.CloseHandle(h.mapHandle); err != nil && firstErr == nil {
			firstErr = errors.Wrap(err, "store: CloseHandle")
		}
		if err := h.file.Close(); err != nil && firstErr == nil {
			firstErr = errors.Wrap(err, "store: close")
		}
	}
	m.data = nil
	m.file = nil
	return firstErr
}
