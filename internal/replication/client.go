package replication

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"resp-kv/internal/resp"
	"resp-kv/internal/store"
)

// Client is the replica-side connection to a primary: it performs the
// handshake once, then owns the stream exclusively for the Ingest loop's
// lifetime (spec §4.5 — a replica's stream has exactly one reader, ever).
type Client struct {
	primaryHost string
	primaryPort int
	listenPort  int

	log *logrus.Entry

	conn   net.Conn
	reader *bufio.Reader
	writer *bufio.Writer

	// BytesReceived is the running count of command-stream bytes consumed
	// since the post-handshake offset reset to 0, tracked so REPLCONF ACK
	// reports the byte count as of just before the triggering GETACK.
	BytesReceived uint64
}

// NewClient constructs a replica-side client. listenPort is this replica's
// own listening port, announced via REPLCONF during handshake.
func NewClient(primaryHost string, primaryPort, listenPort int, log *logrus.Entry) *Client {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Client{
		primaryHost: primaryHost,
		primaryPort: primaryPort,
		listenPort:  listenPort,
		log:         log.WithField("component", "replication-client"),
	}
}

// Handshake dials the primary and executes PING, REPLCONF listening-port,
// REPLCONF capa psync2, PSYNC ? -1 in sequence, discarding the RDB payload
// that follows FULLRESYNC (spec §1 — RDB parsing is out of scope; the
// payload is read and dropped, not applied to the store).
func (c *Client) Handshake(ctx context.Context) error {
	dialer := net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(c.primaryHost, strconv.Itoa(c.primaryPort)))
	if err != nil {
		return fmt.Errorf("replication: dialing primary: %w", err)
	}
	c.conn = conn
	c.reader = bufio.NewReader(conn)
	c.writer = bufio.NewWriter(conn)

	steps := [][]string{
		{"PING"},
		{"REPLCONF", "listening-port", strconv.Itoa(c.listenPort)},
		{"REPLCONF", "capa", "psync2"},
		{"PSYNC", "?", "-1"},
	}
	for _, args := range steps {
		if err := c.send(args); err != nil {
			return err
		}
		reply, err := resp.Decode(c.reader)
		if err != nil {
			return fmt.Errorf("replication: handshake reply: %w", err)
		}
		c.log.WithField("step", args[0]).WithField("reply", reply.Str).Debug("handshake step complete")
	}

	if err := c.readRDB(); err != nil {
		return fmt.Errorf("replication: reading RDB payload: %w", err)
	}

	c.BytesReceived = 0
	c.log.Info("handshake complete, entering ingest loop")
	return nil
}

func (c *Client) send(args []string) error {
	if _, err := c.writer.Write(resp.EncodeArrayOfStrings(args...)); err != nil {
		return fmt.Errorf("replication: writing %v: %w", args, err)
	}
	return c.writer.Flush()
}

// readRDB consumes the $<len>\r\n<payload> frame FULLRESYNC sends, which
// has no trailing CRLF.
func (c *Client) readRDB() error {
	v, err := resp.DecodeRaw(c.reader)
	if err != nil {
		return err
	}
	c.log.WithField("bytes", len(v.Bulk)).Debug("discarded RDB payload")
	return nil
}

// Ingest runs until ctx is cancelled or the primary connection closes,
// applying every SET it receives to store and answering REPLCONF GETACK *
// with the byte count received up to (not including) the GETACK command
// itself, per spec §4.5.
func (c *Client) Ingest(ctx context.Context, st *store.Store) error {
	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		c.conn.Close()
		close(done)
	}()
	defer func() {
		select {
		case <-done:
		default:
			c.conn.Close()
		}
	}()

	for {
		v, err := resp.Decode(c.reader)
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("replication: ingest decode: %w", err)
		}
		if v.IsEndOfStream() {
			return nil
		}
		n := wireLen(v)
		if v.IsBareNewline() {
			c.BytesReceived += n
			continue
		}

		args, err := v.StrArgs()
		if err != nil || len(args) == 0 {
			c.BytesReceived += n
			continue
		}

		switch upper(args[0]) {
		case "SET":
			c.applySet(ctx, st, args)
			c.BytesReceived += n
		case "PING":
			c.BytesReceived += n
		case "REPLCONF":
			if len(args) >= 2 && upper(args[1]) == "GETACK" {
				if err := c.replyAck(); err != nil {
					return err
				}
			}
			c.BytesReceived += n
		default:
			c.BytesReceived += n
		}
	}
}

func (c *Client) applySet(ctx context.Context, st *store.Store, args []string) {
	if len(args) < 3 {
		return
	}
	opts := store.SetOptions{}
	for i := 3; i < len(args)-1; i++ {
		switch upper(args[i]) {
		case "PX":
			ms, err := strconv.ParseInt(args[i+1], 10, 64)
			if err == nil {
				exp := time.Now().Add(time.Duration(ms) * time.Millisecond)
				opts.ExpiresAt = &exp
			}
		case "EX":
			sec, err := strconv.ParseInt(args[i+1], 10, 64)
			if err == nil {
				exp := time.Now().Add(time.Duration(sec) * time.Second)
				opts.ExpiresAt = &exp
			}
		}
	}
	if _, _, err := st.Set(ctx, args[1], []byte(args[2]), opts); err != nil {
		c.log.WithError(err).Warn("failed to apply replicated SET")
	}
}

func (c *Client) replyAck() error {
	return c.send([]string{"REPLCONF", "ACK", strconv.FormatUint(c.BytesReceived, 10)})
}

// wireLen reports how many bytes v occupies on the wire, by re-encoding it
// in canonical RESP form rather than counting bytes pulled off the socket.
// The socket-read count is unusable here: bufio.Reader fills its buffer in
// arbitrarily sized chunks, so a single Decode call's underlying reads can
// span into a following frame (or consume zero bytes, for a frame that
// arrived already buffered) — re-encoding is exact because every frame this
// stream carries was itself produced by resp.EncodeArrayOfStrings, which
// has exactly one canonical wire representation.
func wireLen(v resp.Value) uint64 {
	switch v.Kind {
	case resp.KindBareNewline:
		return 1
	case resp.KindEndOfStream:
		return 0
	default:
		b, err := resp.AppendEncoded(nil, v)
		if err != nil {
			return 0
		}
		return uint64(len(b))
	}
}

func upper(s string) string {
	out := make([]byte, len(s))
	for i := 0; i < len(s); i++ {
		b := s[i]
		if b >= 'a' && b <= 'z' {
			b -= 'a' - 'A'
		}
		out[i] = b
	}
	return string(out)
}
