package replication

import (
	"bufio"
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resp-kv/internal/resp"
	"resp-kv/internal/store"
)

// fakePrimary answers the four-step handshake and a FULLRESYNC RDB frame,
// then hands the caller the raw server-side conn to script the ingest phase.
func fakePrimary(t *testing.T) (addr string, serverConn chan net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	serverConn = make(chan net.Conn, 1)

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer ln.Close()
		r := bufio.NewReader(conn)

		for i := 0; i < 4; i++ {
			if _, err := resp.Decode(r); err != nil {
				return
			}
			switch i {
			case 3:
				conn.Write([]byte("+FULLRESYNC abcdefghijklmnopqrstuvwxyz0123456789abcd 0\r\n"))
			default:
				conn.Write([]byte("+OK\r\n"))
			}
		}
		conn.Write([]byte("$0\r\n"))
		serverConn <- conn
	}()

	return ln.Addr().String(), serverConn
}

func TestHandshakeCompletes(t *testing.T) {
	addr, _ := fakePrimary(t)
	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	c := NewClient(host, port, 6380, logrus.NewEntry(logrus.New()))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err = c.Handshake(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), c.BytesReceived)
}

func TestIngestAppliesReplicatedSet(t *testing.T) {
	addr, conns := fakePrimary(t)
	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	c := NewClient(host, port, 6380, logrus.NewEntry(logrus.New()))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, c.Handshake(ctx))

	primaryConn := <-conns
	primaryConn.Write(resp.EncodeArrayOfStrings("SET", "foo", "bar"))

	st := store.New(logrus.NewEntry(logrus.New()))
	ingestCtx, ingestCancel := context.WithCancel(context.Background())
	go st.Run(ingestCtx)
	defer ingestCancel()

	ingestErrCh := make(chan error, 1)
	ingestCtx2, ingestCancel2 := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer ingestCancel2()
	go func() {
		ingestErrCh <- c.Ingest(ingestCtx2, st)
	}()

	time.Sleep(100 * time.Millisecond)

	got, ok, err := st.Get(context.Background(), "foo")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "bar", string(got))

	<-ingestErrCh
}

// TestIngestAckExcludesGetAckBytesEvenWhenCoalesced writes a SET immediately
// followed by REPLCONF GETACK * in a single Write call, so both frames
// typically land in one TCP segment and one bufio Fill — the scenario that
// defeated socket-level byte counting: the ACK must report only the SET
// frame's length, never the GETACK frame's own bytes.
func TestIngestAckExcludesGetAckBytesEvenWhenCoalesced(t *testing.T) {
	addr, conns := fakePrimary(t)
	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	c := NewClient(host, port, 6380, logrus.NewEntry(logrus.New()))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, c.Handshake(ctx))

	primaryConn := <-conns
	setFrame := resp.EncodeArrayOfStrings("SET", "foo", "bar")
	getAckFrame := resp.EncodeArrayOfStrings("REPLCONF", "GETACK", "*")
	primaryConn.Write(append(append([]byte{}, setFrame...), getAckFrame...))

	st := store.New(logrus.NewEntry(logrus.New()))
	ingestCtx, ingestCancel := context.WithCancel(context.Background())
	go st.Run(ingestCtx)
	defer ingestCancel()

	ingestCtx2, ingestCancel2 := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer ingestCancel2()
	go c.Ingest(ingestCtx2, st)

	r := bufio.NewReader(primaryConn)
	primaryConn.SetReadDeadline(time.Now().Add(time.Second))
	ack, err := resp.Decode(r)
	require.NoError(t, err)
	args, err := ack.StrArgs()
	require.NoError(t, err)
	require.Len(t, args, 3)
	assert.Equal(t, "REPLCONF", args[0])
	assert.Equal(t, "ACK", args[1])
	assert.Equal(t, strconv.Itoa(len(setFrame)), args[2])
}
