package storage

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/fdfsweb/gateway/internal/fdfs"
)

// FastDFSStorage implements Storage on a FastDFS tracker/storage cluster.
type FastDFSStorage struct {
	client *fdfs.Client
	group  string
}

// NewFastDFSStorage wraps client. A non-empty group pins uploads to that
// group; otherwise the tracker chooses.
func NewFastDFSStorage(client *fdfs.Client, group string) *FastDFSStorage {
	return &FastDFSStorage{client: client, group: group}
}

func (s *FastDFSStorage) Upload(ctx context.Context, r io.Reader, size int64, ext string, meta fdfs.MetaData) (fdfs.StorePath, error) {
	sp, err := s.client.UploadFileToGroup(ctx, s.group, r, size, ext, meta)
	if err != nil {
		return sp, mapFastDFSError(err)
	}
	return sp, nil
}

func (s *FastDFSStorage) Download(ctx context.Context, sp fdfs.StorePath, w io.Writer) (int64, error) {
	n, err := s.client.DownloadFileTo(ctx, sp.Group, sp.Path, w)
	return n, mapFastDFSError(err)
}

func (s *FastDFSStorage) Delete(ctx context.Context, sp fdfs.StorePath) error {
	return mapFastDFSError(s.client.DeleteFile(ctx, sp.Group, sp.Path))
}

func (s *FastDFSStorage) Metadata(ctx context.Context, sp fdfs.StorePath) (fdfs.MetaData, error) {
	meta, err := s.client.GetMetadata(ctx, sp.Group, sp.Path)
	return meta, mapFastDFSError(err)
}

func (s *FastDFSStorage) Ping(ctx context.Context) error {
	return s.client.ActiveTest(ctx)
}

func (s *FastDFSStorage) Close() error {
	return s.client.Close()
}

func mapFastDFSError(err error) error {
	if err != nil && errors.Is(err, fdfs.ErrFileNotFound) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	return err
}
