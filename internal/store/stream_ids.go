package store

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var errWrongType = errors.New("WRONGTYPE Operation against a key holding the wrong kind of value")

// autoStreamID assigns the next "<unix-ms>-<seq>" id, matching real Redis's
// auto-id scheme closely enough for single-node use (no cluster-wide clock
// coordination is in scope).
func autoStreamID(existing []StreamEntry) string {
	ms := time.Now().UnixMilli()
	seq := int64(0)
	if len(existing) > 0 {
		lastMs, lastSeq, ok := parseStreamID(existing[len(existing)-1].ID)
		if ok && lastMs == ms {
			seq = lastSeq + 1
		}
	}
	return fmt.Sprintf("%d-%d", ms, seq)
}

func parseStreamID(id string) (ms int64, seq int64, ok bool) {
	parts := strings.SplitN(id, "-", 2)
	msVal, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, 0, false
	}
	if len(parts) == 1 {
		return msVal, 0, true
	}
	seqVal, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return 0, 0, false
	}
	return msVal, seqVal, true
}

func streamIDInRange(id, start, end string) bool {
	ms, seq, ok := parseStreamID(id)
	if !ok {
		return false
	}
	if start != "-" {
		sms, sseq, ok := parseStreamID(start)
		if ok && (ms < sms || (ms == sms && seq < sseq)) {
			return false
		}
	}
	if end != "+" {
		ems, eseq, ok := parseStreamID(end)
		if ok && (ms > ems || (ms == ems && seq > eseq)) {
			return false
		}
	}
	return true
}
