package fdfs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"
)

// Config holds the connection settings of a Client.
type Config struct {
	TrackerServers    []string
	ConnectTimeout    time.Duration
	SoTimeout         time.Duration
	MaxTotal          int
	MaxIdle           int
	IdleTimeout       time.Duration
	TrackerRetryAfter time.Duration
}

func (c *Config) setDefaults() {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 5 * time.Second
	}
	if c.SoTimeout <= 0 {
		c.SoTimeout = 30 * time.Second
	}
	if c.MaxTotal <= 0 {
		c.MaxTotal = 50
	}
	if c.MaxIdle <= 0 {
		c.MaxIdle = 8
	}
	if c.MaxIdle > c.MaxTotal {
		c.MaxIdle = c.MaxTotal
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = time.Minute
	}
	if c.TrackerRetryAfter <= 0 {
		c.TrackerRetryAfter = 30 * time.Second
	}
}

// FileInfo describes a stored file as reported by its storage server.
type FileInfo struct {
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"createdAt"`
	CRC32     uint32    `json:"crc32"`
	SourceIP  string    `json:"sourceIp"`
}

// Client talks to a FastDFS cluster. It is safe for concurrent use.
type Client struct {
	cfg      Config
	trackers *trackerLocator
	pools    *poolSet
}

// NewClient creates a Client for the given trackers. No connection is
// opened until the first request.
func NewClient(cfg Config) (*Client, error) {
	addrs := make([]string, 0, len(cfg.TrackerServers))
	for _, a := range cfg.TrackerServers {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if _, _, err := net.SplitHostPort(a); err != nil {
			return nil, fmt.Errorf("tracker address %q: %w", a, err)
		}
		addrs = append(addrs, a)
	}
	if len(addrs) == 0 {
		return nil, ErrNoTracker
	}
	cfg.TrackerServers = addrs
	cfg.setDefaults()

	return &Client{
		cfg:      cfg,
		trackers: newTrackerLocator(addrs, cfg.TrackerRetryAfter),
		pools:    newPoolSet(cfg),
	}, nil
}

// Close releases every pooled connection.
func (c *Client) Close() error {
	c.pools.close()
	return nil
}

// UploadFile stores size bytes read from r on a storage server chosen by
// the tracker. When meta is non-empty it is attached after the upload.
func (c *Client) UploadFile(ctx context.Context, r io.Reader, size int64, ext string, meta MetaData) (StorePath, error) {
	return c.UploadFileToGroup(ctx, "", r, size, ext, meta)
}

// UploadFileToGroup is UploadFile restricted to one group. An empty group
// lets the tracker choose.
func (c *Client) UploadFileToGroup(ctx context.Context, group string, r io.Reader, size int64, ext string, meta MetaData) (StorePath, error) {
	if size < 0 {
		return StorePath{}, fmt.Errorf("fdfs: invalid file size %d", size)
	}
	node, err := c.queryStore(ctx, group)
	if err != nil {
		return StorePath{}, fmt.Errorf("query store: %w", err)
	}

	var sp StorePath
	err = c.withStorage(ctx, node.Addr, func(cn net.Conn) error {
		fixed := make([]byte, 1+pkgLenSize+fileExtNameLen)
		fixed[0] = node.PathIndex
		putInt64(fixed[1:], size)
		copy(fixed[1+pkgLenSize:], normalizeExt(ext))
		if err := writeRequest(cn, cmdStorageUploadFile, int64(len(fixed))+size, fixed); err != nil {
			return err
		}
		if n, err := io.CopyN(cn, r, size); err != nil {
			return fmt.Errorf("send file content (%d of %d bytes): %w", n, size, err)
		}
		h, err := readResponse(cn, cmdStorageUploadFile, cmdStorageResp)
		if err != nil {
			return err
		}
		b, err := readBody(cn, h, groupNameLen+1)
		if err != nil {
			return err
		}
		sp = StorePath{Group: trimField(b[:groupNameLen]), Path: string(b[groupNameLen:])}
		return nil
	})
	if err != nil {
		return StorePath{}, fmt.Errorf("upload file: %w", err)
	}

	if len(meta) > 0 {
		if err := c.setMetadataOn(ctx, node.Addr, sp, meta, MetadataOverwrite); err != nil {
			return sp, fmt.Errorf("set metadata of %s: %w", sp, err)
		}
	}
	return sp, nil
}

// DownloadFile returns the whole content of a stored file.
func (c *Client) DownloadFile(ctx context.Context, group, path string) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := c.DownloadFileTo(ctx, group, path, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DownloadFileTo streams a stored file into w and returns the number of
// bytes written.
func (c *Client) DownloadFileTo(ctx context.Context, group, path string, w io.Writer) (int64, error) {
	node, err := c.queryStorage(ctx, cmdQueryFetchOne, group, path)
	if err != nil {
		return 0, fmt.Errorf("query fetch: %w", err)
	}

	var n int64
	err = c.withStorage(ctx, node.Addr, func(cn net.Conn) error {
		body := make([]byte, 2*pkgLenSize, 2*pkgLenSize+groupNameLen+len(path))
		// offset 0, length 0: whole file
		body = append(body, fixedField(group, groupNameLen)...)
		body = append(body, path...)
		if err := writeRequest(cn, cmdStorageDownloadFile, int64(len(body)), body); err != nil {
			return err
		}
		h, err := readResponse(cn, cmdStorageDownloadFile, cmdStorageResp)
		if err != nil {
			return err
		}
		n, err = io.CopyN(w, cn, h.length)
		if err != nil {
			return fmt.Errorf("receive file content (%d of %d bytes): %w", n, h.length, err)
		}
		return nil
	})
	if err != nil {
		return n, fmt.Errorf("download %s/%s: %w", group, path, err)
	}
	return n, nil
}

// DeleteFile removes a stored file.
func (c *Client) DeleteFile(ctx context.Context, group, path string) error {
	node, err := c.queryStorage(ctx, cmdQueryUpdate, group, path)
	if err != nil {
		return fmt.Errorf("query update: %w", err)
	}
	err = c.withStorage(ctx, node.Addr, func(cn net.Conn) error {
		body := append(fixedField(group, groupNameLen), path...)
		if err := writeRequest(cn, cmdStorageDeleteFile, int64(len(body)), body); err != nil {
			return err
		}
		h, err := readResponse(cn, cmdStorageDeleteFile, cmdStorageResp)
		if err != nil {
			return err
		}
		_, err = readBody(cn, h, 0)
		return err
	})
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", group, path, err)
	}
	return nil
}

// GetMetadata returns the metadata attached to a stored file.
func (c *Client) GetMetadata(ctx context.Context, group, path string) (MetaData, error) {
	node, err := c.queryStorage(ctx, cmdQueryFetchOne, group, path)
	if err != nil {
		return nil, fmt.Errorf("query fetch: %w", err)
	}

	var meta MetaData
	err = c.withStorage(ctx, node.Addr, func(cn net.Conn) error {
		body := append(fixedField(group, groupNameLen), path...)
		if err := writeRequest(cn, cmdStorageGetMetadata, int64(len(body)), body); err != nil {
			return err
		}
		h, err := readResponse(cn, cmdStorageGetMetadata, cmdStorageResp)
		if err != nil {
			return err
		}
		b, err := readBody(cn, h, 0)
		if err != nil {
			return err
		}
		meta = decodeMetaData(b)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("get metadata of %s/%s: %w", group, path, err)
	}
	return meta, nil
}

// SetMetadata overwrites or merges the metadata of a stored file.
func (c *Client) SetMetadata(ctx context.Context, group, path string, meta MetaData, flag MetadataFlag) error {
	node, err := c.queryStorage(ctx, cmdQueryUpdate, group, path)
	if err != nil {
		return fmt.Errorf("query update: %w", err)
	}
	return c.setMetadataOn(ctx, node.Addr, StorePath{Group: group, Path: path}, meta, flag)
}

func (c *Client) setMetadataOn(ctx context.Context, addr string, sp StorePath, meta MetaData, flag MetadataFlag) error {
	return c.withStorage(ctx, addr, func(cn net.Conn) error {
		encoded := meta.encode()
		body := make([]byte, 2*pkgLenSize+1, 2*pkgLenSize+1+groupNameLen+len(sp.Path)+len(encoded))
		putInt64(body, int64(len(sp.Path)))
		putInt64(body[pkgLenSize:], int64(len(encoded)))
		body[2*pkgLenSize] = byte(flag)
		body = append(body, fixedField(sp.Group, groupNameLen)...)
		body = append(body, sp.Path...)
		body = append(body, encoded...)
		if err := writeRequest(cn, cmdStorageSetMetadata, int64(len(body)), body); err != nil {
			return err
		}
		h, err := readResponse(cn, cmdStorageSetMetadata, cmdStorageResp)
		if err != nil {
			return err
		}
		_, err = readBody(cn, h, 0)
		return err
	})
}

// QueryFileInfo returns size, creation time and checksum of a stored file.
func (c *Client) QueryFileInfo(ctx context.Context, group, path string) (*FileInfo, error) {
	node, err := c.queryStorage(ctx, cmdQueryFetchOne, group, path)
	if err != nil {
		return nil, fmt.Errorf("query fetch: %w", err)
	}

	var info *FileInfo
	err = c.withStorage(ctx, node.Addr, func(cn net.Conn) error {
		body := append(fixedField(group, groupNameLen), path...)
		if err := writeRequest(cn, cmdStorageQueryFileInfo, int64(len(body)), body); err != nil {
			return err
		}
		h, err := readResponse(cn, cmdStorageQueryFileInfo, cmdStorageResp)
		if err != nil {
			return err
		}
		b, err := readBody(cn, h, fileInfoBodyLen)
		if err != nil {
			return err
		}
		info = &FileInfo{
			Size:      getInt64(b),
			CreatedAt: time.Unix(getInt64(b[pkgLenSize:]), 0),
			CRC32:     uint32(getInt64(b[2*pkgLenSize:])),
			SourceIP:  trimField(b[3*pkgLenSize:]),
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("query file info of %s/%s: %w", group, path, err)
	}
	return info, nil
}

// ActiveTest checks that at least one tracker answers.
func (c *Client) ActiveTest(ctx context.Context) error {
	return c.withTracker(ctx, func(cn net.Conn) error {
		if err := writeRequest(cn, cmdActiveTest, 0, nil); err != nil {
			return err
		}
		_, err := readResponse(cn, cmdActiveTest, cmdTrackerResp)
		return err
	})
}

// withTracker runs fn on a tracker connection, moving on to the next
// tracker when one cannot be reached.
func (c *Client) withTracker(ctx context.Context, fn func(net.Conn) error) error {
	var lastErr error
	for i := 0; i < c.trackers.size(); i++ {
		addr := c.trackers.pick()
		cn, err := c.pools.get(ctx, addr)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, ErrPoolClosed) {
				return err
			}
			c.trackers.markFailed(addr)
			lastErr = err
			continue
		}
		c.trackers.markOK(addr)
		return c.run(ctx, cn, fn)
	}
	return fmt.Errorf("no tracker available: %w", lastErr)
}

func (c *Client) withStorage(ctx context.Context, addr string, fn func(net.Conn) error) error {
	cn, err := c.pools.get(ctx, addr)
	if err != nil {
		return err
	}
	return c.run(ctx, cn, fn)
}

// run executes one request/response exchange under the socket timeout.
// Cancelling ctx interrupts blocked I/O by expiring the deadline.
func (c *Client) run(ctx context.Context, cn *conn, fn func(net.Conn) error) error {
	deadline := time.Now().Add(c.cfg.SoTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = cn.SetDeadline(deadline)
	stop := context.AfterFunc(ctx, func() {
		_ = cn.SetDeadline(time.Now())
	})

	err := fn(cn)
	stopped := stop()

	var perr *ProtocolError
	broken := (err != nil && !errors.As(err, &perr)) || !stopped
	c.pools.put(cn, broken)
	if err != nil && ctx.Err() != nil {
		return fmt.Errorf("%w: %v", ctx.Err(), err)
	}
	return err
}

func normalizeExt(ext string) string {
	ext = strings.TrimPrefix(strings.TrimSpace(ext), ".")
	if len(ext) > fileExtNameLen {
		ext = ext[:fileExtNameLen]
	}
	return ext
}
