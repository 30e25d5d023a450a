package command

import (
	"context"
	"strings"

	"resp-kv/internal/resp"
)

// handleMulti opens a transaction frame on sess, per spec §4.3/§9: a plain
// per-connection queue, no shared storage. Nested MULTI is rejected, same
// as real Redis.
func (d *Dispatcher) handleMulti(sess *Session) (Result, error) {
	if sess.InTx {
		return Result{Reply: resp.ErrorValue("ERR MULTI calls can not be nested")}, nil
	}
	sess.InTx = true
	sess.TxQueue = nil
	return Result{Reply: resp.SimpleString("OK")}, nil
}

// handleExec drains sess's queue, executing each command in order through
// the same dispatchOne path Execute uses directly — so queued writes still
// mark mutations and broadcast to replicas exactly as if issued
// immediately, per the ordering invariants in spec §5.
func (d *Dispatcher) handleExec(ctx context.Context, sess *Session) (Result, error) {
	if !sess.InTx {
		return Result{Reply: resp.ErrorValue("ERR EXEC without MULTI")}, nil
	}
	queue := sess.TxQueue
	sess.InTx = false
	sess.TxQueue = nil

	replies := make([]resp.Value, len(queue))
	for i, queued := range queue {
		name := strings.ToUpper(queued[0])
		result, err := d.dispatchOne(ctx, sess, name, queued)
		if err != nil {
			return Result{}, err
		}
		replies[i] = result.Reply
	}
	return Result{Reply: resp.Array(replies)}, nil
}

func (d *Dispatcher) handleDiscard(sess *Session) (Result, error) {
	if !sess.InTx {
		return Result{Reply: resp.ErrorValue("ERR DISCARD without MULTI")}, nil
	}
	sess.InTx = false
	sess.TxQueue = nil
	return Result{Reply: resp.SimpleString("OK")}, nil
}
