// Package fdfs is a minimal client for the FastDFS tracker/storage protocol.
//
// Every request and response starts with a 10 byte header: an 8 byte
// big-endian body length, a command byte and a status byte. A non-zero
// status in a response is a server-side errno.
package fdfs

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"syscall"
)

const (
	headerLen      = 10
	pkgLenSize     = 8
	groupNameLen   = 16
	ipAddrLen      = 15
	fileExtNameLen = 6

	trackerQueryStoreBodyLen = groupNameLen + ipAddrLen + pkgLenSize + 1
	trackerQueryFetchBodyLen = groupNameLen + ipAddrLen + pkgLenSize
	fileInfoBodyLen          = 3*pkgLenSize + ipAddrLen + 1
)

// Tracker commands.
const (
	cmdTrackerResp               byte = 100
	cmdQueryStoreWithoutGroupOne byte = 101
	cmdQueryFetchOne             byte = 102
	cmdQueryUpdate               byte = 103
	cmdQueryStoreWithGroupOne    byte = 104
	cmdActiveTest                byte = 111
	cmdQuit                      byte = 82
)

// Storage commands.
const (
	cmdStorageResp          byte = 100
	cmdStorageUploadFile    byte = 11
	cmdStorageDeleteFile    byte = 12
	cmdStorageSetMetadata   byte = 13
	cmdStorageDownloadFile  byte = 14
	cmdStorageGetMetadata   byte = 15
	cmdStorageQueryFileInfo byte = 22
)

// MetadataFlag selects how SetMetadata combines with existing metadata.
type MetadataFlag byte

const (
	// MetadataOverwrite replaces all existing metadata.
	MetadataOverwrite MetadataFlag = 'O'
	// MetadataMerge adds or updates keys, keeping the rest.
	MetadataMerge MetadataFlag = 'M'
)

var (
	// ErrFileNotFound is matched by a ProtocolError carrying ENOENT.
	ErrFileNotFound = errors.New("fdfs: file not found")
	// ErrNoTracker is returned when the client was built without trackers.
	ErrNoTracker = errors.New("fdfs: no tracker server configured")
	// ErrShortResponse is returned when a response body is smaller than its fixed part.
	ErrShortResponse = errors.New("fdfs: response body too short")
)

// ProtocolError is a non-zero status returned by a tracker or storage server.
type ProtocolError struct {
	Cmd    byte
	Status byte
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("fdfs: command %d failed with status %d (%s)", e.Cmd, e.Status, syscall.Errno(e.Status).Error())
}

// Is reports ENOENT as ErrFileNotFound.
func (e *ProtocolError) Is(target error) bool {
	return target == ErrFileNotFound && e.Status == byte(syscall.ENOENT)
}

type header struct {
	length int64
	cmd    byte
	status byte
}

func (h header) encode() []byte {
	b := make([]byte, headerLen)
	binary.BigEndian.PutUint64(b, uint64(h.length))
	b[8] = h.cmd
	b[9] = h.status
	return b
}

func readHeader(r io.Reader) (header, error) {
	var b [headerLen]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return header{}, fmt.Errorf("read header: %w", err)
	}
	return header{
		length: int64(binary.BigEndian.Uint64(b[:8])),
		cmd:    b[8],
		status: b[9],
	}, nil
}

// writeRequest sends a header announcing bodyLen bytes followed by the
// fixed part of the body. Callers stream any remaining body bytes themselves.
func writeRequest(w io.Writer, cmd byte, bodyLen int64, fixed []byte) error {
	buf := make([]byte, 0, headerLen+len(fixed))
	buf = append(buf, header{length: bodyLen, cmd: cmd}.encode()...)
	buf = append(buf, fixed...)
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("write request %d: %w", cmd, err)
	}
	return nil
}

// readResponse reads a response header and validates it against the
// request command that produced it. On a server error status the body is
// drained so the connection stays usable, and a *ProtocolError is returned.
func readResponse(r io.Reader, reqCmd, respCmd byte) (header, error) {
	h, err := readHeader(r)
	if err != nil {
		return h, err
	}
	if h.cmd != respCmd {
		return h, fmt.Errorf("fdfs: unexpected response command %d, want %d", h.cmd, respCmd)
	}
	if h.length < 0 {
		return h, fmt.Errorf("fdfs: negative body length %d", h.length)
	}
	if h.status != 0 {
		if h.length > 0 {
			if _, err := io.CopyN(io.Discard, r, h.length); err != nil {
				return h, fmt.Errorf("drain error body: %w", err)
			}
		}
		return h, &ProtocolError{Cmd: reqCmd, Status: h.status}
	}
	return h, nil
}

// readBody reads the whole response body, which must be at least min bytes.
func readBody(r io.Reader, h header, min int) ([]byte, error) {
	if h.length < int64(min) {
		return nil, fmt.Errorf("%w: got %d bytes, want at least %d", ErrShortResponse, h.length, min)
	}
	b := make([]byte, h.length)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return b, nil
}

func putInt64(b []byte, v int64) {
	binary.BigEndian.PutUint64(b, uint64(v))
}

func getInt64(b []byte) int64 {
	return int64(binary.BigEndian.Uint64(b))
}

// fixedField pads or truncates s to exactly n bytes.
func fixedField(s string, n int) []byte {
	b := make([]byte, n)
	copy(b, s)
	return b
}

// trimField strips the NUL padding of a fixed width field.
func trimField(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(bytes.TrimSpace(b))
}
