package command

import (
	"context"

	"resp-kv/internal/resp"
)

func (d *Dispatcher) handleXAdd(ctx context.Context, args []string) (Result, error) {
	if len(args) < 5 || len(args)%2 != 1 {
		return Result{Reply: resp.ErrorValue("ERR wrong number of arguments for 'xadd' command")}, nil
	}
	key, id := args[1], args[2]
	fields := args[3:]
	assigned, err := d.Store.XAdd(ctx, key, id, fields)
	if err != nil {
		return Result{Reply: resp.ErrorValue(err.Error())}, nil
	}
	return Result{Reply: resp.BulkStringFromString(assigned)}, nil
}

func (d *Dispatcher) handleXRange(ctx context.Context, args []string) (Result, error) {
	if len(args) != 4 {
		return Result{Reply: resp.ErrorValue("ERR wrong number of arguments for 'xrange' command")}, nil
	}
	key, start, end := args[1], args[2], args[3]
	entries, err := d.Store.XRange(ctx, key, start, end)
	if err != nil {
		return Result{Reply: resp.ErrorValue(err.Error())}, nil
	}

	items := make([]resp.Value, len(entries))
	for i, e := range entries {
		fields := make([]resp.Value, len(e.Fields))
		for j, f := range e.Fields {
			fields[j] = resp.BulkStringFromString(f)
		}
		items[i] = resp.Array([]resp.Value{
			resp.BulkStringFromString(e.ID),
			resp.Array(fields),
		})
	}
	return Result{Reply: resp.Array(items)}, nil
}
