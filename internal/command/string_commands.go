package command

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"resp-kv/internal/resp"
	"resp-kv/internal/store"
)

func (d *Dispatcher) handlePing(args []string) (Result, error) {
	if len(args) > 1 {
		return Result{Reply: resp.BulkStringFromString(args[1])}, nil
	}
	return Result{Reply: resp.SimpleString("PONG")}, nil
}

func (d *Dispatcher) handleEcho(args []string) (Result, error) {
	if len(args) != 2 {
		return Result{Reply: resp.ErrorValue("ERR wrong number of arguments for 'echo' command")}, nil
	}
	return Result{Reply: resp.BulkStringFromString(args[1])}, nil
}

// handleSet parses SET <k> <v> [PX <ms>|EX <s>] [GET], spec §6.1.
func (d *Dispatcher) handleSet(ctx context.Context, args []string) (Result, error) {
	if len(args) < 3 {
		return Result{Reply: resp.ErrorValue("ERR wrong number of arguments for 'set' command")}, nil
	}
	key, value := args[1], args[2]

	opts := store.SetOptions{}
	for i := 3; i < len(args); i++ {
		switch strings.ToUpper(args[i]) {
		case "PX":
			if i+1 >= len(args) {
				return Result{Reply: resp.ErrorValue("ERR syntax error")}, nil
			}
			ms, err := strconv.ParseInt(args[i+1], 10, 64)
			if err != nil {
				return Result{Reply: resp.ErrorValue("ERR value is not an integer or out of range")}, nil
			}
			exp := time.Now().Add(time.Duration(ms) * time.Millisecond)
			opts.ExpiresAt = &exp
			i++
		case "EX":
			if i+1 >= len(args) {
				return Result{Reply: resp.ErrorValue("ERR syntax error")}, nil
			}
			sec, err := strconv.ParseInt(args[i+1], 10, 64)
			if err != nil {
				return Result{Reply: resp.ErrorValue("ERR value is not an integer or out of range")}, nil
			}
			exp := time.Now().Add(time.Duration(sec) * time.Second)
			opts.ExpiresAt = &exp
			i++
		case "GET":
			opts.ReturnOld = true
		default:
			return Result{Reply: resp.ErrorValue("ERR syntax error")}, nil
		}
	}

	prior, hadPrior, err := d.Store.Set(ctx, key, []byte(value), opts)
	if err != nil {
		return Result{}, err
	}
	if opts.ReturnOld {
		if hadPrior {
			return Result{Reply: resp.BulkString(prior)}, nil
		}
		return Result{Reply: resp.NullBulkString()}, nil
	}
	return Result{Reply: resp.SimpleString("OK")}, nil
}

func (d *Dispatcher) handleGet(ctx context.Context, args []string) (Result, error) {
	if len(args) != 2 {
		return Result{Reply: resp.ErrorValue("ERR wrong number of arguments for 'get' command")}, nil
	}
	value, ok, err := d.Store.Get(ctx, args[1])
	if err != nil {
		return Result{}, err
	}
	if !ok {
		return Result{Reply: resp.NullBulkString()}, nil
	}
	return Result{Reply: resp.BulkString(value)}, nil
}

func (d *Dispatcher) handleDel(ctx context.Context, args []string) (Result, error) {
	if len(args) < 2 {
		return Result{Reply: resp.ErrorValue("ERR wrong number of arguments for 'del' command")}, nil
	}
	n, err := d.Store.Del(ctx, args[1:]...)
	if err != nil {
		return Result{}, err
	}
	return Result{Reply: resp.Integer(int64(n))}, nil
}

func (d *Dispatcher) handleExists(ctx context.Context, args []string) (Result, error) {
	if len(args) < 2 {
		return Result{Reply: resp.ErrorValue("ERR wrong number of arguments for 'exists' command")}, nil
	}
	n, err := d.Store.Exists(ctx, args[1:]...)
	if err != nil {
		return Result{}, err
	}
	return Result{Reply: resp.Integer(int64(n))}, nil
}

func (d *Dispatcher) handleExpire(ctx context.Context, args []string, millis bool) (Result, error) {
	if len(args) != 3 {
		return Result{Reply: resp.ErrorValue(fmt.Sprintf("ERR wrong number of arguments for '%s' command", strings.ToLower(args[0])))}, nil
	}
	n, err := strconv.ParseInt(args[2], 10, 64)
	if err != nil {
		return Result{Reply: resp.ErrorValue("ERR value is not an integer or out of range")}, nil
	}
	var expiry time.Time
	if millis {
		expiry = time.Now().Add(time.Duration(n) * time.Millisecond)
	} else {
		expiry = time.Now().Add(time.Duration(n) * time.Second)
	}
	ok, err := d.Store.Expire(ctx, args[1], expiry)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		return Result{Reply: resp.Integer(0)}, nil
	}
	return Result{Reply: resp.Integer(1)}, nil
}

func (d *Dispatcher) handleTTL(ctx context.Context, args []string, millis bool) (Result, error) {
	if len(args) != 2 {
		return Result{Reply: resp.ErrorValue(fmt.Sprintf("ERR wrong number of arguments for '%s' command", strings.ToLower(args[0])))}, nil
	}
	remaining, hasTTL, exists, err := d.Store.TTL(ctx, args[1])
	if err != nil {
		return Result{}, err
	}
	if !exists {
		return Result{Reply: resp.Integer(-2)}, nil
	}
	if !hasTTL {
		return Result{Reply: resp.Integer(-1)}, nil
	}
	if millis {
		return Result{Reply: resp.Integer(remaining.Milliseconds())}, nil
	}
	return Result{Reply: resp.Integer(int64(remaining.Seconds()))}, nil
}

func (d *Dispatcher) handleFlushAll(ctx context.Context) (Result, error) {
	if err := d.Store.FlushAll(ctx); err != nil {
		return Result{}, err
	}
	return Result{Reply: resp.SimpleString("OK")}, nil
}
