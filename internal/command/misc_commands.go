package command

import (
	"context"
	"strconv"
	"strings"

	"resp-kv/internal/resp"
)

// handleConfig answers CONFIG GET <key>. Only the parameters this server
// actually has are recognized; anything else returns an empty array, the
// same shape real Redis uses for an unknown parameter name.
func (d *Dispatcher) handleConfig(args []string) (Result, error) {
	if len(args) != 3 || strings.ToUpper(args[1]) != "GET" {
		return Result{Reply: resp.ErrorValue("ERR wrong number of arguments for 'config|get' command")}, nil
	}
	key := strings.ToLower(args[2])
	switch key {
	case "port":
		return Result{Reply: resp.Array([]resp.Value{
			resp.BulkStringFromString(key),
			resp.BulkStringFromString(strconv.Itoa(d.Config.Port)),
		})}, nil
	default:
		return Result{Reply: resp.Array(nil)}, nil
	}
}

func (d *Dispatcher) handleKeys(ctx context.Context, args []string) (Result, error) {
	if len(args) != 2 {
		return Result{Reply: resp.ErrorValue("ERR wrong number of arguments for 'keys' command")}, nil
	}
	keys, err := d.Store.Keys(ctx, args[1])
	if err != nil {
		return Result{}, err
	}
	items := make([]resp.Value, len(keys))
	for i, k := range keys {
		items[i] = resp.BulkStringFromString(k)
	}
	return Result{Reply: resp.Array(items)}, nil
}

func (d *Dispatcher) handleType(ctx context.Context, args []string) (Result, error) {
	if len(args) != 2 {
		return Result{Reply: resp.ErrorValue("ERR wrong number of arguments for 'type' command")}, nil
	}
	kind, err := d.Store.Type(ctx, args[1])
	if err != nil {
		return Result{}, err
	}
	return Result{Reply: resp.SimpleString(kind)}, nil
}
