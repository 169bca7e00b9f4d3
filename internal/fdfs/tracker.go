package fdfs

import (
	"context"
	"net"
	"strconv"
	"sync"
	"time"
)

// storageNode is a storage server picked by a tracker for one operation.
type storageNode struct {
	Group     string
	Addr      string
	PathIndex byte
}

// trackerLocator hands out tracker addresses round-robin. A tracker that
// could not be reached is skipped until retryAfter has passed, unless
// every tracker is down.
type trackerLocator struct {
	retryAfter time.Duration
	now        func() time.Time

	mu        sync.Mutex
	addrs     []string
	next      int
	downUntil map[string]time.Time
}

func newTrackerLocator(addrs []string, retryAfter time.Duration) *trackerLocator {
	return &trackerLocator{
		retryAfter: retryAfter,
		now:        time.Now,
		addrs:      append([]string(nil), addrs...),
		downUntil:  make(map[string]time.Time),
	}
}

func (l *trackerLocator) pick() string {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	n := len(l.addrs)
	for i := 0; i < n; i++ {
		addr := l.addrs[(l.next+i)%n]
		if until, down := l.downUntil[addr]; !down || !now.Before(until) {
			l.next = (l.next + i + 1) % n
			return addr
		}
	}

	// All down: try the one that has been down the longest.
	best := l.addrs[0]
	for _, addr := range l.addrs[1:] {
		if l.downUntil[addr].Before(l.downUntil[best]) {
			best = addr
		}
	}
	return best
}

func (l *trackerLocator) markFailed(addr string) {
	l.mu.Lock()
	l.downUntil[addr] = l.now().Add(l.retryAfter)
	l.mu.Unlock()
}

func (l *trackerLocator) markOK(addr string) {
	l.mu.Lock()
	delete(l.downUntil, addr)
	l.mu.Unlock()
}

func (l *trackerLocator) size() int {
	return len(l.addrs)
}

func (c *Client) queryStore(ctx context.Context, group string) (*storageNode, error) {
	var node *storageNode
	err := c.withTracker(ctx, func(cn net.Conn) error {
		cmd := cmdQueryStoreWithoutGroupOne
		var body []byte
		if group != "" {
			cmd = cmdQueryStoreWithGroupOne
			body = fixedField(group, groupNameLen)
		}
		if err := writeRequest(cn, cmd, int64(len(body)), body); err != nil {
			return err
		}
		h, err := readResponse(cn, cmd, cmdTrackerResp)
		if err != nil {
			return err
		}
		b, err := readBody(cn, h, trackerQueryStoreBodyLen)
		if err != nil {
			return err
		}
		node = &storageNode{
			Group:     trimField(b[:groupNameLen]),
			Addr:      hostPort(b[groupNameLen:groupNameLen+ipAddrLen], b[groupNameLen+ipAddrLen:]),
			PathIndex: b[trackerQueryStoreBodyLen-1],
		}
		return nil
	})
	return node, err
}

// queryStorage asks a tracker which storage server to use for reading
// (cmdQueryFetchOne) or modifying (cmdQueryUpdate) an existing file.
func (c *Client) queryStorage(ctx context.Context, cmd byte, group, path string) (*storageNode, error) {
	var node *storageNode
	err := c.withTracker(ctx, func(cn net.Conn) error {
		body := append(fixedField(group, groupNameLen), path...)
		if err := writeRequest(cn, cmd, int64(len(body)), body); err != nil {
			return err
		}
		h, err := readResponse(cn, cmd, cmdTrackerResp)
		if err != nil {
			return err
		}
		b, err := readBody(cn, h, trackerQueryFetchBodyLen)
		if err != nil {
			return err
		}
		node = &storageNode{
			Group: trimField(b[:groupNameLen]),
			Addr:  hostPort(b[groupNameLen:groupNameLen+ipAddrLen], b[groupNameLen+ipAddrLen:]),
		}
		return nil
	})
	return node, err
}

func hostPort(ip, port []byte) string {
	return net.JoinHostPort(trimField(ip), strconv.FormatInt(getInt64(port[:pkgLenSize]), 10))
}
