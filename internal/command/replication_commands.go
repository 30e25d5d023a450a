package command

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"resp-kv/internal/resp"
)

func (d *Dispatcher) handleInfo(args []string) (Result, error) {
	var sb strings.Builder
	sb.WriteString("# Replication\r\n")
	if d.Config.Role.IsReplica {
		sb.WriteString("role:slave\r\n")
	} else {
		sb.WriteString("role:master\r\n")
		sb.WriteString(fmt.Sprintf("master_replid:%s\r\n", d.Config.Role.ReplID))
		sb.WriteString(fmt.Sprintf("master_repl_offset:%d\r\n", d.Config.Role.ReplOffset))
	}
	return Result{Reply: resp.BulkStringFromString(sb.String())}, nil
}

// handleReplconf answers REPLCONF listening-port/capa during a replica's
// handshake. GETACK is never dispatched here in practice — that exchange
// happens directly between replication.Registry.probeAck and
// replication.Client.Ingest on the upgraded connection, bypassing this
// dispatcher entirely — but is handled defensively all the same.
func (d *Dispatcher) handleReplconf(sess *Session, args []string) (Result, error) {
	if len(args) < 2 {
		return Result{Reply: resp.ErrorValue("ERR wrong number of arguments for 'replconf' command")}, nil
	}
	switch strings.ToLower(args[1]) {
	case "listening-port":
		if len(args) != 3 {
			return Result{Reply: resp.ErrorValue("ERR syntax error")}, nil
		}
		sess.ListeningPort = args[2]
		return Result{Reply: resp.SimpleString("OK")}, nil
	case "capa":
		return Result{Reply: resp.SimpleString("OK")}, nil
	case "getack":
		return Result{Reply: resp.SimpleString("OK")}, nil
	default:
		return Result{Reply: resp.SimpleString("OK")}, nil
	}
}

// handlePsync answers PSYNC ? -1 with FULLRESYNC; the caller must still
// write the RDB RawBytes frame and register the connection with the
// registry, since this dispatcher never touches the raw net.Conn.
func (d *Dispatcher) handlePsync(args []string) (Result, error) {
	if d.Registry == nil || d.Config.Role.IsReplica {
		return Result{Reply: resp.ErrorValue("ERR PSYNC is only supported on a primary")}, nil
	}
	reply := resp.SimpleString(fmt.Sprintf("FULLRESYNC %s %d", d.Config.Role.ReplID, d.Config.Role.ReplOffset))
	return Result{Reply: reply, Upgrade: true}, nil
}

func (d *Dispatcher) handleWait(ctx context.Context, args []string) (Result, error) {
	if len(args) != 3 {
		return Result{Reply: resp.ErrorValue("ERR wrong number of arguments for 'wait' command")}, nil
	}
	if d.Registry == nil {
		return Result{Reply: resp.Integer(0)}, nil
	}
	minAck, err := strconv.Atoi(args[1])
	if err != nil {
		return Result{Reply: resp.ErrorValue("ERR value is not an integer or out of range")}, nil
	}
	timeoutMs, err := strconv.Atoi(args[2])
	if err != nil {
		return Result{Reply: resp.ErrorValue("ERR value is not an integer or out of range")}, nil
	}
	acked, err := d.Registry.GetAck(ctx, minAck, time.Duration(timeoutMs)*time.Millisecond)
	if err != nil {
		return Result{}, err
	}
	return Result{Reply: resp.Integer(int64(acked))}, nil
}
