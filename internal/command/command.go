// Package command classifies parsed RESP arrays into the command vocabulary
// and dispatches each to the store actor and, for writes, the replication
// registry — the generalized, channel-actor-aware counterpart to the
// teacher's register*Commands/executeCommand dispatch table.
package command

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"

	"resp-kv/internal/config"
	"resp-kv/internal/replication"
	"resp-kv/internal/resp"
	"resp-kv/internal/store"
)

// Session holds the per-connection dispatch state that is NOT part of the
// shared keyspace: the MULTI queue and the REPLCONF listening-port a
// replica announced during its handshake. Owned exclusively by the
// connection goroutine that created it; never shared.
type Session struct {
	InTx          bool
	TxQueue       [][]string
	Host          string
	ListeningPort string
}

// Result is what Execute hands back to the connection loop.
type Result struct {
	Reply resp.Value

	// Upgrade is true only for a successful PSYNC: the caller must write
	// rdbsnap.EmptyDatabase() as a RawBytes frame right after Reply, then
	// register the connection with the registry and stop reading.
	Upgrade bool
}

// Dispatcher wires the store and (primary-only) replication registry to
// the command vocabulary.
type Dispatcher struct {
	Store    *store.Store
	Registry *replication.Registry // nil when this process is a replica
	Config   *config.Config
	log      *logrus.Entry
}

// NewDispatcher builds a Dispatcher. Registry may be nil (replica role).
func NewDispatcher(st *store.Store, reg *replication.Registry, cfg *config.Config, log *logrus.Entry) *Dispatcher {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Dispatcher{Store: st, Registry: reg, Config: cfg, log: log.WithField("component", "dispatcher")}
}

var writeCommands = map[string]bool{
	"SET": true, "DEL": true, "EXPIRE": true, "PEXPIRE": true,
	"FLUSHALL": true, "XADD": true,
}

// Execute classifies and runs one command for sess, honoring the MULTI
// queueing rule in spec §4.3: while a transaction is open, anything other
// than MULTI/EXEC/DISCARD is queued and replied to with +QUEUED instead of
// run immediately.
func (d *Dispatcher) Execute(ctx context.Context, sess *Session, args []string) (Result, error) {
	if len(args) == 0 {
		return Result{Reply: resp.ErrorValue("ERR unknown command")}, nil
	}
	name := strings.ToUpper(args[0])

	if sess.InTx && name != "MULTI" && name != "EXEC" && name != "DISCARD" {
		sess.TxQueue = append(sess.TxQueue, args)
		return Result{Reply: resp.SimpleString("QUEUED")}, nil
	}

	return d.dispatchOne(ctx, sess, name, args)
}

// dispatchOne runs a single command unconditionally — used both by Execute
// for the immediate case and by handleExec for each queued command.
func (d *Dispatcher) dispatchOne(ctx context.Context, sess *Session, name string, args []string) (Result, error) {
	var (
		result Result
		err    error
	)

	switch name {
	case "PING":
		result, err = d.handlePing(args)
	case "ECHO":
		result, err = d.handleEcho(args)
	case "SET":
		result, err = d.handleSet(ctx, args)
	case "GET":
		result, err = d.handleGet(ctx, args)
	case "DEL":
		result, err = d.handleDel(ctx, args)
	case "EXISTS":
		result, err = d.handleExists(ctx, args)
	case "EXPIRE":
		result, err = d.handleExpire(ctx, args, false)
	case "PEXPIRE":
		result, err = d.handleExpire(ctx, args, true)
	case "TTL":
		result, err = d.handleTTL(ctx, args, false)
	case "PTTL":
		result, err = d.handleTTL(ctx, args, true)
	case "FLUSHALL":
		result, err = d.handleFlushAll(ctx)
	case "INFO":
		result, err = d.handleInfo(args)
	case "REPLCONF":
		result, err = d.handleReplconf(sess, args)
	case "PSYNC":
		result, err = d.handlePsync(args)
	case "WAIT":
		result, err = d.handleWait(ctx, args)
	case "CONFIG":
		result, err = d.handleConfig(args)
	case "KEYS":
		result, err = d.handleKeys(ctx, args)
	case "TYPE":
		result, err = d.handleType(ctx, args)
	case "XADD":
		result, err = d.handleXAdd(ctx, args)
	case "XRANGE":
		result, err = d.handleXRange(ctx, args)
	case "MULTI":
		result, err = d.handleMulti(sess)
	case "EXEC":
		result, err = d.handleExec(ctx, sess)
	case "DISCARD":
		result, err = d.handleDiscard(sess)
	default:
		result = Result{Reply: resp.ErrorValue("ERR unknown command '" + args[0] + "'")}
	}
	if err != nil {
		return Result{}, err
	}

	if writeCommands[name] {
		if markErr := d.Store.MarkMutation(ctx); markErr != nil {
			d.log.WithError(markErr).Warn("failed to mark mutation")
		}
		if d.Registry != nil {
			if bErr := d.Registry.Broadcast(ctx, args); bErr != nil {
				d.log.WithError(bErr).Warn("failed to broadcast write to replicas")
			}
		}
	}

	return result, nil
}
