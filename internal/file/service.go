// Package file uploads, downloads and deletes files on the storage backend
// and exposes those operations over HTTP.
package file

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"

	"github.com/fdfsweb/gateway/internal/catalog"
	"github.com/fdfsweb/gateway/internal/fdfs"
	"github.com/fdfsweb/gateway/internal/storage"
)

// ErrNoCatalog is returned by List when no catalog is configured.
var ErrNoCatalog = errors.New("file catalog not configured")

// Catalog records uploads. *catalog.Repository satisfies it.
type Catalog interface {
	Insert(ctx context.Context, rec *catalog.Record) error
	DeleteByPath(ctx context.Context, group, path string) error
	List(ctx context.Context, limit, offset int) ([]catalog.Record, error)
}

// Service turns files into access URLs and back.
type Service struct {
	store        storage.Storage
	webServerURL string
	catalog      Catalog
}

// NewService creates a Service. webServerURL is the prefix of every
// returned URL and must end with "/". cat may be nil.
func NewService(store storage.Storage, webServerURL string, cat Catalog) *Service {
	return &Service{store: store, webServerURL: webServerURL, catalog: cat}
}

// UploadPath uploads the local file at name. A blank ext is taken from the
// file name.
func (s *Service) UploadPath(ctx context.Context, name, ext string, meta fdfs.MetaData) (string, error) {
	f, err := os.Open(name)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", name, err)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", name, err)
	}
	if strings.TrimSpace(ext) == "" {
		ext = extension(name)
	}
	return s.Upload(ctx, f, st.Size(), ext, meta)
}

// UploadBytes uploads content under the given extension.
func (s *Service) UploadBytes(ctx context.Context, content []byte, ext string, meta fdfs.MetaData) (string, error) {
	return s.Upload(ctx, bytes.NewReader(content), int64(len(content)), ext, meta)
}

// UploadMultipart uploads a file received in a multipart form. The
// extension comes from the client's file name.
func (s *Service) UploadMultipart(ctx context.Context, fh *multipart.FileHeader, meta fdfs.MetaData) (string, error) {
	f, err := fh.Open()
	if err != nil {
		return "", fmt.Errorf("open form file: %w", err)
	}
	defer f.Close()
	return s.Upload(ctx, f, fh.Size, extension(fh.Filename), meta)
}

// Upload stores size bytes from r and returns their access URL.
func (s *Service) Upload(ctx context.Context, r io.Reader, size int64, ext string, meta fdfs.MetaData) (string, error) {
	sp, err := s.store.Upload(ctx, r, size, ext, meta)
	if err != nil {
		return "", fmt.Errorf("upload: %w", err)
	}
	url := s.AccessURL(sp)

	if s.catalog != nil {
		rec := &catalog.Record{
			URL:      url,
			Group:    sp.Group,
			Path:     sp.Path,
			Ext:      strings.TrimPrefix(ext, "."),
			Size:     size,
			Metadata: meta,
		}
		if err := s.catalog.Insert(ctx, rec); err != nil {
			log.Printf("file: record upload %s: %v", url, err)
		}
	}
	return url, nil
}

// Download streams the file behind fileURL into w.
func (s *Service) Download(ctx context.Context, fileURL string, w io.Writer) (int64, error) {
	sp, err := fdfs.ParseStorePath(fileURL)
	if err != nil {
		return 0, err
	}
	return s.store.Download(ctx, sp, w)
}

// DownloadBytes returns the whole content of the file behind fileURL.
func (s *Service) DownloadBytes(ctx context.Context, fileURL string) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := s.Download(ctx, fileURL, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Delete removes the file behind fileURL. An empty URL is a no-op.
func (s *Service) Delete(ctx context.Context, fileURL string) error {
	if fileURL == "" {
		return nil
	}
	sp, err := fdfs.ParseStorePath(fileURL)
	if err != nil {
		return err
	}
	if err := s.store.Delete(ctx, sp); err != nil {
		return err
	}

	if s.catalog != nil {
		if err := s.catalog.DeleteByPath(ctx, sp.Group, sp.Path); err != nil {
			log.Printf("file: remove record %s: %v", sp, err)
		}
	}
	return nil
}

// Metadata returns the metadata attached to the file behind fileURL.
func (s *Service) Metadata(ctx context.Context, fileURL string) (fdfs.MetaData, error) {
	sp, err := fdfs.ParseStorePath(fileURL)
	if err != nil {
		return nil, err
	}
	return s.store.Metadata(ctx, sp)
}

// List returns catalog records newest first.
func (s *Service) List(ctx context.Context, limit, offset int) ([]catalog.Record, error) {
	if s.catalog == nil {
		return nil, ErrNoCatalog
	}
	return s.catalog.List(ctx, limit, offset)
}

// Ping checks the storage backend.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// AccessURL returns the public URL of a stored file.
func (s *Service) AccessURL(sp fdfs.StorePath) string {
	return s.webServerURL + sp.FullPath()
}

// extension returns the file name's extension without the dot.
func extension(name string) string {
	return strings.TrimPrefix(filepath.Ext(name), ".")
}
