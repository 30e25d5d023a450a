// Package replication implements both halves of the replication fabric: the
// primary-side registry of connected replicas (this file) and the
// replica-side handshake and ingest loop (client.go).
package replication

import (
	"bufio"
	"context"
	"net"
	"time"

	"github.com/sirupsen/logrus"

	"resp-kv/internal/resp"
)

// replicaConn is one registered replica. It is owned exclusively by the
// Registry actor goroutine, except for the brief window a GetAck probe
// spawns a goroutine that writes the probe to it and reads the reply (§4.4).
type replicaConn struct {
	host, port     string
	conn           net.Conn
	writer         *bufio.Writer
	reader         *bufio.Reader
	bytesForwarded uint64
}

// Registry is the primary-side replica registry actor.
type Registry struct {
	cmds chan registryCommand
	log  *logrus.Entry
}

// NewRegistry constructs a Registry; call Run in its own goroutine before
// issuing requests.
func NewRegistry(log *logrus.Entry) *Registry {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Registry{
		cmds: make(chan registryCommand, 100),
		log:  log.WithField("component", "replication-registry"),
	}
}

type registryCommand interface {
	apply(reg *Registry, replicas map[string]*replicaConn)
}

// Run is the actor loop.
func (r *Registry) Run(ctx context.Context) {
	replicas := make(map[string]*replicaConn)
	for {
		select {
		case <-ctx.Done():
			r.log.Info("replication registry stopping")
			return
		case c := <-r.cmds:
			c.apply(r, replicas)
		}
	}
}

func (r *Registry) send(ctx context.Context, c registryCommand) error {
	select {
	case r.cmds <- c:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ---- SaveStream ----

type saveStreamCmd struct {
	host, port string
	conn       net.Conn
}

func (c *saveStreamCmd) apply(r *Registry, replicas map[string]*replicaConn) {
	key := net.JoinHostPort(c.host, c.port)
	if existing, ok := replicas[key]; ok {
		existing.conn.Close()
	}
	replicas[key] = &replicaConn{
		host:   c.host,
		port:   c.port,
		conn:   c.conn,
		writer: bufio.NewWriter(c.conn),
		reader: bufio.NewReader(c.conn),
	}
	r.log.WithField("replica", key).Info("replica registered")
}

// SaveStream registers a freshly handshook replica, transferring ownership
// of conn to the registry. Idempotent on host:port.
func (r *Registry) SaveStream(ctx context.Context, host, port string, conn net.Conn) error {
	return r.send(ctx, &saveStreamCmd{host: host, port: port, conn: conn})
}

// ---- Broadcast ----

type broadcastCmd struct {
	args []string
}

func (c *broadcastCmd) apply(r *Registry, replicas map[string]*replicaConn) {
	wire := resp.EncodeArrayOfStrings(c.args...)
	for key, rc := range replicas {
		if _, err := rc.writer.Write(wire); err != nil {
			r.log.WithField("replica", key).WithError(err).Warn("replica write failed, removing")
			rc.conn.Close()
			delete(replicas, key)
			continue
		}
		if err := rc.writer.Flush(); err != nil {
			r.log.WithField("replica", key).WithError(err).Warn("replica flush failed, removing")
			rc.conn.Close()
			delete(replicas, key)
			continue
		}
		rc.bytesForwarded += uint64(len(wire))
	}
}

// Broadcast re-serializes args as a RESP array and writes it to every
// registered replica, in registration-map iteration order; a replica whose
// write fails is dropped silently (not reported to the client). Broadcast
// must be sent (and have returned from the channel send) before the
// triggering client write is acknowledged, per the ordering invariant in
// spec §5(iii) — callers achieve this by calling Broadcast synchronously
// ahead of writing the client's reply.
func (r *Registry) Broadcast(ctx context.Context, args []string) error {
	return r.send(ctx, &broadcastCmd{args: args})
}

// ---- CountReplicas ----

type countReplicasCmd struct {
	reply chan int
}

func (c *countReplicasCmd) apply(_ *Registry, replicas map[string]*replicaConn) {
	c.reply <- len(replicas)
}

func (r *Registry) CountReplicas(ctx context.Context) (int, error) {
	reply := make(chan int, 1)
	if err := r.send(ctx, &countReplicasCmd{reply: reply}); err != nil {
		return 0, err
	}
	select {
	case n := <-reply:
		return n, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// ---- GetAck ----

var getAckProbe = resp.EncodeArrayOfStrings("REPLCONF", "GETACK", "*")

type getAckCmd struct {
	minAck  int
	timeout time.Duration
	reply   chan int
}

func (c *getAckCmd) apply(r *Registry, replicas map[string]*replicaConn) {
	if c.minAck <= 0 || len(replicas) == 0 {
		c.reply <- 0
		return
	}

	deadline := time.Now().Add(c.timeout)
	results := make(chan bool, len(replicas))
	for key, rc := range replicas {
		go r.probeAck(key, rc, deadline, results)
	}

	acked := 0
	remaining := len(replicas)
	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()

	for remaining > 0 && acked < c.minAck {
		select {
		case ok := <-results:
			remaining--
			if ok {
				acked++
			}
		case <-timer.C:
			remaining = 0
		}
	}
	c.reply <- acked
}

// probeAck writes REPLCONF GETACK * to one replica and waits (bounded by
// deadline) for its REPLCONF ACK <n> reply. A replica that fails to answer
// in time contributes zero acks but is NOT removed from the registry. Both
// the probe write and the reply read carry the same deadline, so the
// goroutine returns with a timeout error once it passes; the registry's own
// timer does not wait for it. A read still in flight at that moment and a
// later Broadcast's write to rc.writer are safe: reads and writes on the
// same net.Conn from different goroutines don't race each other, only
// concurrent writes (or concurrent reads) would.
func (r *Registry) probeAck(key string, rc *replicaConn, deadline time.Time, results chan<- bool) {
	rc.conn.SetWriteDeadline(deadline)
	if _, err := rc.writer.Write(getAckProbe); err != nil || rc.writer.Flush() != nil {
		results <- false
		return
	}
	rc.conn.SetReadDeadline(deadline)
	defer rc.conn.SetReadDeadline(time.Time{})

	v, err := resp.Decode(rc.reader)
	if err != nil || v.Kind != resp.KindArray {
		results <- false
		return
	}
	args, err := v.StrArgs()
	if err != nil || len(args) != 3 {
		results <- false
		return
	}
	r.log.WithField("replica", key).WithField("ack", args[2]).Debug("received REPLCONF ACK")
	results <- true
}

// GetAck polls every registered replica for an ack via REPLCONF GETACK *,
// returning the count that answered within timeout or once minAck is
// reached, whichever comes first. minAck <= 0 returns 0 immediately.
func (r *Registry) GetAck(ctx context.Context, minAck int, timeout time.Duration) (int, error) {
	reply := make(chan int, 1)
	if err := r.send(ctx, &getAckCmd{minAck: minAck, timeout: timeout, reply: reply}); err != nil {
		return 0, err
	}
	select {
	case n := <-reply:
		return n, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}
