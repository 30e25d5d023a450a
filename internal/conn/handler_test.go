package conn

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resp-kv/internal/command"
	"resp-kv/internal/config"
	"resp-kv/internal/store"
)

func testHandler(t *testing.T) *Handler {
	t.Helper()
	log := logrus.NewEntry(logrus.New())
	st := store.New(log)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go st.Run(ctx)

	cfg := &config.Config{Host: "0.0.0.0", Port: 6379, Role: config.Role{ReplID: "0123456789012345678901234567890123456789"}}
	dispatcher := command.NewDispatcher(st, nil, cfg, log)
	return NewHandler(dispatcher, log)
}

func TestServeEndToEndPingGetSet(t *testing.T) {
	h := testHandler(t)
	clientSide, serverSide := net.Pipe()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		h.Serve(ctx, serverSide)
		close(done)
	}()

	w := bufio.NewWriter(clientSide)
	r := bufio.NewReader(clientSide)

	write := func(s string) {
		_, err := w.WriteString(s)
		require.NoError(t, err)
		require.NoError(t, w.Flush())
	}
	expect := func(n int) string {
		buf := make([]byte, n)
		_, err := ioReadFull(r, buf)
		require.NoError(t, err)
		return string(buf)
	}

	write("*1\r\n$4\r\nPING\r\n")
	assert.Equal(t, "+PONG\r\n", expect(len("+PONG\r\n")))

	write("*3\r\n$3\r\nSET\r\n$3\r\nfoo\r\n$3\r\nbar\r\n")
	assert.Equal(t, "+OK\r\n", expect(len("+OK\r\n")))

	write("*2\r\n$3\r\nGET\r\n$3\r\nfoo\r\n")
	assert.Equal(t, "$3\r\nbar\r\n", expect(len("$3\r\nbar\r\n")))

	write("*2\r\n$3\r\nGET\r\n$6\r\nabsent\r\n")
	assert.Equal(t, "$-1\r\n", expect(len("$-1\r\n")))

	clientSide.Close()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not exit after client closed")
	}
}

func TestServeSetPxZeroThenExpires(t *testing.T) {
	h := testHandler(t)
	clientSide, serverSide := net.Pipe()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Serve(ctx, serverSide)
	defer clientSide.Close()

	w := bufio.NewWriter(clientSide)
	r := bufio.NewReader(clientSide)

	_, err := w.WriteString("*5\r\n$3\r\nSET\r\n$1\r\nk\r\n$1\r\nv\r\n$2\r\nPX\r\n$1\r\n0\r\n")
	require.NoError(t, err)
	require.NoError(t, w.Flush())
	buf := make([]byte, len("+OK\r\n"))
	_, err = ioReadFull(r, buf)
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)

	_, err = w.WriteString("*2\r\n$3\r\nGET\r\n$1\r\nk\r\n")
	require.NoError(t, err)
	require.NoError(t, w.Flush())
	buf = make([]byte, len("$-1\r\n"))
	_, err = ioReadFull(r, buf)
	require.NoError(t, err)
	assert.Equal(t, "$-1\r\n", string(buf))
}

func ioReadFull(r *bufio.Reader, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
