package stream_test

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/upwatch/upwatch/internal/stream"
)

// fakeRedis is a minimal RESP server: it records everything the client
// sends, rejects the protocol handshake so the client stays on RESP2, and
// answers XREADGROUP with a null array (an empty stream).
type fakeRedis struct {
	ln   net.Listener
	mu   sync.Mutex
	wire bytes.Buffer
}

func newFakeRedis(t *testing.T) *fakeRedis {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	f := &fakeRedis{ln: ln}
	go f.serve()
	t.Cleanup(func() { _ = ln.Close() })
	return f
}

func (f *fakeRedis) serve() {
	for {
		conn, err := f.ln.Accept()
		if err != nil {
			return
		}
		go f.handle(conn)
	}
}

func (f *fakeRedis) handle(conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	for {
		// go-redis pipelines commands (e.g. the CLIENT SETINFO pair after
		// HELLO) in one packet, so parse RESP arrays command-by-command and
		// emit exactly one reply per command.
		raw, err := readCommand(r)
		if err != nil {
			return
		}
		f.mu.Lock()
		f.wire.Write(raw)
		f.mu.Unlock()

		req := strings.ToLower(string(raw))
		switch {
		case strings.Contains(req, "xreadgroup"):
			_, _ = conn.Write([]byte("*-1\r\n"))
		case strings.Contains(req, "ping"):
			_, _ = conn.Write([]byte("+PONG\r\n"))
		default:
			_, _ = conn.Write([]byte("-ERR unknown command\r\n"))
		}
	}
}

// readCommand consumes one RESP command (an array of bulk strings) and
// returns the raw bytes it occupied on the wire.
func readCommand(r *bufio.Reader) ([]byte, error) {
	var raw bytes.Buffer
	header, err := r.ReadBytes('\n')
	if err != nil {
		return nil, err
	}
	raw.Write(header)
	line := strings.TrimRight(string(header), "\r\n")
	if !strings.HasPrefix(line, "*") {
		return raw.Bytes(), nil
	}
	n, err := strconv.Atoi(line[1:])
	if err != nil {
		return nil, err
	}
	for i := 0; i < n; i++ {
		sizeLine, err := r.ReadBytes('\n')
		if err != nil {
			return nil, err
		}
		raw.Write(sizeLine)
		size, err := strconv.Atoi(strings.TrimRight(strings.TrimPrefix(string(sizeLine), "$"), "\r\n"))
		if err != nil {
			return nil, err
		}
		payload := make([]byte, size+2) // payload plus trailing \r\n
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil, err
		}
		raw.Write(payload)
	}
	return raw.Bytes(), nil
}

func (f *fakeRedis) sent() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return strings.ToLower(f.wire.String())
}

func TestReadGroup_EmptyStreamReturnsImmediately(t *testing.T) {
	srv := newFakeRedis(t)

	client := stream.NewClient(stream.Config{Addr: srv.ln.Addr().String()})
	defer client.Close()

	type readResult struct {
		entries []stream.Entry
		err     error
	}
	done := make(chan readResult, 1)
	go func() {
		entries, err := client.ReadGroup(context.Background(), "upwatch:status", "status-processors", "consumer-1", 10, 0)
		done <- readResult{entries, err}
	}()

	select {
	case res := <-done:
		require.NoError(t, res.err)
		assert.Nil(t, res.entries, "an empty poll must yield a nil slice")
	case <-time.After(3 * time.Second):
		t.Fatal("ReadGroup blocked on an empty stream instead of returning")
	}

	sent := srv.sent()
	assert.Contains(t, sent, "xreadgroup")
	assert.NotContains(t, sent, "block",
		"a polling read must not send BLOCK; BLOCK 0 waits forever on an empty stream")
}
