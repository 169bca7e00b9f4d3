package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/fdfsweb/gateway/internal/fdfs"
)

type memoryObject struct {
	data []byte
	meta fdfs.MetaData
}

// MemoryStorage keeps files in process memory. It backs local development
// (STORAGE_DRIVER=memory) and tests.
type MemoryStorage struct {
	group string

	mu      sync.RWMutex
	objects map[string]memoryObject
}

// NewMemoryStorage returns an empty MemoryStorage whose paths live in group.
func NewMemoryStorage(group string) *MemoryStorage {
	if group == "" {
		group = "group1"
	}
	return &MemoryStorage{group: group, objects: make(map[string]memoryObject)}
}

func (s *MemoryStorage) Upload(_ context.Context, r io.Reader, size int64, ext string, meta fdfs.MetaData) (fdfs.StorePath, error) {
	var buf bytes.Buffer
	n, err := io.CopyN(&buf, r, size)
	if err != nil {
		return fdfs.StorePath{}, fmt.Errorf("read upload (%d of %d bytes): %w", n, size, err)
	}

	path := "M00/00/00/" + strings.ReplaceAll(uuid.NewString(), "-", "")
	if ext = strings.TrimPrefix(ext, "."); ext != "" {
		path += "." + ext
	}
	copied := fdfs.MetaData{}
	for k, v := range meta {
		copied[k] = v
	}

	s.mu.Lock()
	s.objects[path] = memoryObject{data: buf.Bytes(), meta: copied}
	s.mu.Unlock()
	return fdfs.StorePath{Group: s.group, Path: path}, nil
}

func (s *MemoryStorage) Download(_ context.Context, sp fdfs.StorePath, w io.Writer) (int64, error) {
	obj, err := s.get(sp)
	if err != nil {
		return 0, err
	}
	n, err := w.Write(obj.data)
	return int64(n), err
}

func (s *MemoryStorage) Delete(_ context.Context, sp fdfs.StorePath) error {
	if _, err := s.get(sp); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.objects, sp.Path)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStorage) Metadata(_ context.Context, sp fdfs.StorePath) (fdfs.MetaData, error) {
	obj, err := s.get(sp)
	if err != nil {
		return nil, err
	}
	meta := fdfs.MetaData{}
	for k, v := range obj.meta {
		meta[k] = v
	}
	return meta, nil
}

func (s *MemoryStorage) Ping(context.Context) error { return nil }

func (s *MemoryStorage) Close() error { return nil }

func (s *MemoryStorage) get(sp fdfs.StorePath) (memoryObject, error) {
	if sp.Group != s.group {
		return memoryObject{}, fmt.Errorf("%w: %s", ErrNotFound, sp)
	}
	s.mu.RLock()
	obj, ok := s.objects[sp.Path]
	s.mu.RUnlock()
	if !ok {
		return memoryObject{}, fmt.Errorf("%w: %s", ErrNotFound, sp)
	}
	return obj, nil
}
