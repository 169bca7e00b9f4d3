package fdfs

import (
	"bytes"
	"errors"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrackerLocator_RoundRobin(t *testing.T) {
	l := newTrackerLocator([]string{"a:1", "b:1", "c:1"}, time.Minute)
	var got []string
	for i := 0; i < 4; i++ {
		got = append(got, l.pick())
	}
	assert.Equal(t, []string{"a:1", "b:1", "c:1", "a:1"}, got)
}

func TestTrackerLocator_SkipsFailedUntilRetry(t *testing.T) {
	now := time.Unix(1000, 0)
	l := newTrackerLocator([]string{"a:1", "b:1"}, 30*time.Second)
	l.now = func() time.Time { return now }

	l.markFailed("a:1")
	assert.Equal(t, "b:1", l.pick())
	assert.Equal(t, "b:1", l.pick())

	now = now.Add(31 * time.Second)
	assert.Equal(t, "a:1", l.pick())

	l.markFailed("b:1")
	l.markOK("b:1")
	assert.Equal(t, "b:1", l.pick())
}

func TestTrackerLocator_AllDown(t *testing.T) {
	now := time.Unix(1000, 0)
	l := newTrackerLocator([]string{"a:1", "b:1"}, 30*time.Second)
	l.now = func() time.Time { return now }

	l.markFailed("b:1")
	now = now.Add(time.Second)
	l.markFailed("a:1")

	assert.Equal(t, "b:1", l.pick())
}

func TestReadResponse_DrainsErrorBody(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(header{length: 3, cmd: cmdStorageResp, status: byte(syscall.ENOENT)}.encode())
	buf.WriteString("xyz")
	buf.Write(header{cmd: cmdStorageResp}.encode())

	_, err := readResponse(&buf, cmdStorageDownloadFile, cmdStorageResp)
	require.ErrorIs(t, err, ErrFileNotFound)
	assert.Contains(t, err.Error(), "command 14")

	h, err := readResponse(&buf, cmdActiveTest, cmdStorageResp)
	require.NoError(t, err)
	assert.Equal(t, int64(0), h.length)
}

func TestReadResponse_UnexpectedCommand(t *testing.T) {
	buf := bytes.NewReader(header{cmd: 42}.encode())
	_, err := readResponse(buf, cmdActiveTest, cmdTrackerResp)
	require.Error(t, err)
	var perr *ProtocolError
	assert.False(t, errors.As(err, &perr))
}

func TestReadBody_Short(t *testing.T) {
	_, err := readBody(bytes.NewReader(make([]byte, 10)), header{length: 10}, trackerQueryStoreBodyLen)
	assert.ErrorIs(t, err, ErrShortResponse)
}

func TestProtocolError_NotFoundOnlyForENOENT(t *testing.T) {
	assert.ErrorIs(t, &ProtocolError{Cmd: 14, Status: 2}, ErrFileNotFound)
	assert.NotErrorIs(t, &ProtocolError{Cmd: 14, Status: 22}, ErrFileNotFound)
}
