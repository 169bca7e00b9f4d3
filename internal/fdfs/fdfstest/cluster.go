// Package fdfstest runs an in-process FastDFS tracker and storage server
// for tests. A single listener answers both roles and every tracker query
// points back at it.
package fdfstest

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
)

// Group is the group every file is stored in.
const Group = "group1"

// Values reported by the file info command.
const (
	CRC32     = 0x1234abcd
	CreatedAt = 1597132800
)

const (
	headerLen    = 10
	pkgLenSize   = 8
	groupNameLen = 16
	ipAddrLen    = 15
	extNameLen   = 6
	fileInfoLen  = 3*pkgLenSize + ipAddrLen + 1

	cmdResp           = 100
	cmdStoreWithout   = 101
	cmdFetchOne       = 102
	cmdUpdate         = 103
	cmdStoreWithGroup = 104
	cmdActiveTest     = 111
	cmdQuit           = 82
	cmdUpload         = 11
	cmdDelete         = 12
	cmdSetMetadata    = 13
	cmdDownload       = 14
	cmdGetMetadata    = 15
	cmdQueryFileInfo  = 22

	metadataOverwrite = 'O'
	metadataRecordSep = "\x01"
	metadataFieldSep  = "\x02"

	errnoNotFound = byte(syscall.ENOENT)
	errnoInvalid  = byte(syscall.EINVAL)
)

type file struct {
	data []byte
	meta map[string]string
}

// Cluster is a fake FastDFS cluster listening on 127.0.0.1.
type Cluster struct {
	ln       net.Listener
	accepted atomic.Int32

	mu    sync.Mutex
	files map[string]*file
	seq   int
}

// NewCluster starts a Cluster that is shut down when the test ends.
func NewCluster(t testing.TB) *Cluster {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("fdfstest: listen: %v", err)
	}
	c := &Cluster{ln: ln, files: make(map[string]*file)}
	go c.acceptLoop()
	t.Cleanup(func() { _ = ln.Close() })
	return c
}

// Addr returns the host:port to use as tracker address.
func (c *Cluster) Addr() string { return c.ln.Addr().String() }

// Accepted returns how many connections were accepted so far.
func (c *Cluster) Accepted() int { return int(c.accepted.Load()) }

// FileCount returns the number of stored files.
func (c *Cluster) FileCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.files)
}

func (c *Cluster) acceptLoop() {
	for {
		conn, err := c.ln.Accept()
		if err != nil {
			return
		}
		c.accepted.Add(1)
		go c.serve(conn)
	}
}

func (c *Cluster) serve(conn net.Conn) {
	defer conn.Close()
	var hdr [headerLen]byte
	for {
		if _, err := io.ReadFull(conn, hdr[:]); err != nil {
			return
		}
		body := make([]byte, binary.BigEndian.Uint64(hdr[:8]))
		if _, err := io.ReadFull(conn, body); err != nil {
			return
		}
		if hdr[8] == cmdQuit {
			return
		}
		resp, status := c.handle(hdr[8], body)

		out := make([]byte, headerLen, headerLen+len(resp))
		binary.BigEndian.PutUint64(out, uint64(len(resp)))
		out[8] = cmdResp
		out[9] = status
		if _, err := conn.Write(append(out, resp...)); err != nil {
			return
		}
	}
}

func (c *Cluster) handle(cmd byte, body []byte) ([]byte, byte) {
	host, portStr, _ := net.SplitHostPort(c.Addr())
	port, _ := strconv.ParseUint(portStr, 10, 64)
	self := append(field(Group, groupNameLen), field(host, ipAddrLen)...)
	self = binary.BigEndian.AppendUint64(self, port)

	c.mu.Lock()
	defer c.mu.Unlock()

	switch cmd {
	case cmdActiveTest:
		return nil, 0
	case cmdStoreWithout:
		return append(self, 0), 0
	case cmdStoreWithGroup:
		if trim(body[:groupNameLen]) != Group {
			return nil, errnoNotFound
		}
		return append(self, 0), 0
	case cmdFetchOne, cmdUpdate:
		return self, 0
	case cmdUpload:
		size := binary.BigEndian.Uint64(body[1:])
		ext := trim(body[1+pkgLenSize : 1+pkgLenSize+extNameLen])
		data := body[1+pkgLenSize+extNameLen:]
		if uint64(len(data)) != size {
			return nil, errnoInvalid
		}
		c.seq++
		path := fmt.Sprintf("M00/00/00/file%04d", c.seq)
		if ext != "" {
			path += "." + ext
		}
		c.files[path] = &file{data: append([]byte(nil), data...), meta: map[string]string{}}
		return append(field(Group, groupNameLen), path...), 0
	case cmdDownload:
		f, ok := c.files[string(body[2*pkgLenSize+groupNameLen:])]
		if !ok {
			return nil, errnoNotFound
		}
		return f.data, 0
	case cmdDelete:
		path := string(body[groupNameLen:])
		if _, ok := c.files[path]; !ok {
			return nil, errnoNotFound
		}
		delete(c.files, path)
		return nil, 0
	case cmdGetMetadata:
		f, ok := c.files[string(body[groupNameLen:])]
		if !ok {
			return nil, errnoNotFound
		}
		return encodeMeta(f.meta), 0
	case cmdSetMetadata:
		nameLen := int(binary.BigEndian.Uint64(body))
		off := 2*pkgLenSize + 1 + groupNameLen
		f, ok := c.files[string(body[off:off+nameLen])]
		if !ok {
			return nil, errnoNotFound
		}
		if body[2*pkgLenSize] == metadataOverwrite {
			f.meta = map[string]string{}
		}
		for k, v := range decodeMeta(body[off+nameLen:]) {
			f.meta[k] = v
		}
		return nil, 0
	case cmdQueryFileInfo:
		f, ok := c.files[string(body[groupNameLen:])]
		if !ok {
			return nil, errnoNotFound
		}
		b := make([]byte, 0, fileInfoLen)
		b = binary.BigEndian.AppendUint64(b, uint64(len(f.data)))
		b = binary.BigEndian.AppendUint64(b, CreatedAt)
		b = binary.BigEndian.AppendUint64(b, CRC32)
		return append(b, field(host, ipAddrLen+1)...), 0
	}
	return nil, errnoInvalid
}

func field(s string, n int) []byte {
	b := make([]byte, n)
	copy(b, s)
	return b
}

func trim(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

func encodeMeta(m map[string]string) []byte {
	recs := make([]string, 0, len(m))
	for k, v := range m {
		recs = append(recs, k+metadataFieldSep+v)
	}
	return []byte(strings.Join(recs, metadataRecordSep))
}

func decodeMeta(b []byte) map[string]string {
	m := map[string]string{}
	for _, rec := range strings.Split(string(b), metadataRecordSep) {
		if k, v, ok := strings.Cut(rec, metadataFieldSep); ok {
			m[k] = v
		}
	}
	return m
}
