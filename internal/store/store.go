// Package store implements the keyspace actor: a single goroutine that owns
// the entire keyspace exclusively and serves every other component through
// buffered request/reply channels. No mutex ever guards the map — mutation
// order is simply the order messages arrive on the command channel.
package store

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"resp-kv/internal/globmatch"
)

// EntryKind distinguishes the value shapes the store can hold.
type EntryKind int

const (
	KindString EntryKind = iota
	KindStream
)

func (k EntryKind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindStream:
		return "stream"
	default:
		return "none"
	}
}

// StreamEntry is one XADD-appended record.
type StreamEntry struct {
	ID     string
	Fields []string // flattened key/value pairs, in insertion order
}

// Entry is one keyspace slot.
type Entry struct {
	Payload   []byte
	ExpiresAt *time.Time
	Kind      EntryKind
	Stream    []StreamEntry
}

func (e *Entry) expired(now time.Time) bool {
	return e.ExpiresAt != nil && !now.Before(*e.ExpiresAt)
}

// SetOptions captures SET's optional modifiers.
type SetOptions struct {
	ExpiresAt *time.Time // nil means no expiry
	ReturnOld bool
}

// Store is the keyspace actor. Construct with New, then run Run in its own
// goroutine before issuing any request.
type Store struct {
	cmds chan command
	log  *logrus.Entry
}

// New creates a Store with the spec's suggested channel capacity of 100.
func New(log *logrus.Entry) *Store {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Store{
		cmds: make(chan command, 100),
		log:  log.WithField("component", "store"),
	}
}

// Run is the actor loop. It must be started exactly once, typically via
// `go store.Run(ctx)`, before the Store is usable. Run returns when ctx is
// cancelled, after which further sends on the command channel block
// forever — callers are expected to stop sending once they observe ctx.Done.
func (s *Store) Run(ctx context.Context) {
	data := make(map[string]*Entry)
	lastWasMutation := false

	for {
		select {
		case <-ctx.Done():
			s.log.Info("store actor stopping")
			return
		case c := <-s.cmds:
			lastWasMutation = c.apply(data, lastWasMutation)
		}
	}
}

// command is the internal message envelope; apply runs inside the actor
// goroutine only and returns the new lastWasMutation flag.
type command interface {
	apply(data map[string]*Entry, lastWasMutation bool) bool
}

func (s *Store) send(ctx context.Context, c command) error {
	select {
	case s.cmds <- c:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ---- Set ----

type setCmd struct {
	key   string
	value []byte
	opts  SetOptions
	reply chan setReply
}

type setReply struct {
	prior []byte
	had   bool
}

func (c *setCmd) apply(data map[string]*Entry, _ bool) bool {
	var prior []byte
	var had bool
	if old, ok := data[c.key]; ok && !old.expired(time.Now()) {
		prior, had = old.Payload, true
	}
	data[c.key] = &Entry{Payload: c.value, ExpiresAt: c.opts.ExpiresAt, Kind: KindString}
	if c.reply != nil {
		c.reply <- setReply{prior: prior, had: had}
	}
	return true
}

// Set inserts or fully replaces key. Expiry is never inherited from a prior
// entry: an absent opts.ExpiresAt means the new entry never expires, even if
// the key previously had a TTL.
func (s *Store) Set(ctx context.Context, key string, value []byte, opts SetOptions) (prior []byte, hadPrior bool, err error) {
	reply := make(chan setReply, 1)
	if err := s.send(ctx, &setCmd{key: key, value: value, opts: opts, reply: reply}); err != nil {
		return nil, false, err
	}
	select {
	case r := <-reply:
		return r.prior, r.had, nil
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

// ---- Get ----

type getCmd struct {
	key   string
	reply chan getReply
}

type getReply struct {
	value []byte
	ok    bool
}

func (c *getCmd) apply(data map[string]*Entry, lastWasMutation bool) bool {
	e, ok := data[c.key]
	if ok && e.expired(time.Now()) {
		delete(data, c.key)
		ok = false
	}
	var v getReply
	if ok && e.Kind == KindString {
		v = getReply{value: e.Payload, ok: true}
	}
	if c.reply != nil {
		c.reply <- v
	}
	return lastWasMutation
}

// Get returns the current value, or ok=false if absent or expired. A read
// that observes an expired entry lazily evicts it.
func (s *Store) Get(ctx context.Context, key string) (value []byte, ok bool, err error) {
	reply := make(chan getReply, 1)
	if err := s.send(ctx, &getCmd{key: key, reply: reply}); err != nil {
		return nil, false, err
	}
	select {
	case r := <-reply:
		return r.value, r.ok, nil
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

// ---- Del / Exists ----

type delCmd struct {
	keys  []string
	reply chan int
}

func (c *delCmd) apply(data map[string]*Entry, _ bool) bool {
	removed := 0
	now := time.Now()
	for _, k := range c.keys {
		if e, ok := data[k]; ok && !e.expired(now) {
			removed++
		}
		delete(data, k)
	}
	if c.reply != nil {
		c.reply <- removed
	}
	return removed > 0
}

// Del removes keys, returning the count actually present (and not already
// expired) beforehand.
func (s *Store) Del(ctx context.Context, keys ...string) (removed int, err error) {
	reply := make(chan int, 1)
	if err := s.send(ctx, &delCmd{keys: keys, reply: reply}); err != nil {
		return 0, err
	}
	select {
	case n := <-reply:
		return n, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

type existsCmd struct {
	keys  []string
	reply chan int
}

func (c *existsCmd) apply(data map[string]*Entry, lastWasMutation bool) bool {
	now := time.Now()
	count := 0
	for _, k := range c.keys {
		if e, ok := data[k]; ok {
			if e.expired(now) {
				delete(data, k)
				continue
			}
			count++
		}
	}
	if c.reply != nil {
		c.reply <- count
	}
	return lastWasMutation
}

// Exists counts how many of keys are present (and unexpired).
func (s *Store) Exists(ctx context.Context, keys ...string) (count int, err error) {
	reply := make(chan int, 1)
	if err := s.send(ctx, &existsCmd{keys: keys, reply: reply}); err != nil {
		return 0, err
	}
	select {
	case n := <-reply:
		return n, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// ---- Expire ----

type expireCmd struct {
	key    string
	expiry time.Time
	reply  chan bool
}

func (c *expireCmd) apply(data map[string]*Entry, _ bool) bool {
	e, ok := data[c.key]
	if ok && e.expired(time.Now()) {
		delete(data, c.key)
		ok = false
	}
	if ok {
		t := c.expiry
		e.ExpiresAt = &t
	}
	if c.reply != nil {
		c.reply <- ok
	}
	return ok
}

// Expire re-stamps key's expiry without touching its payload. Returns false
// if the key does not exist.
func (s *Store) Expire(ctx context.Context, key string, expiry time.Time) (ok bool, err error) {
	reply := make(chan bool, 1)
	if err := s.send(ctx, &expireCmd{key: key, expiry: expiry, reply: reply}); err != nil {
		return false, err
	}
	select {
	case v := <-reply:
		return v, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// ---- TTL ----

type ttlCmd struct {
	key   string
	reply chan ttlReply
}

type ttlReply struct {
	remaining time.Duration
	hasTTL    bool
	exists    bool
}

func (c *ttlCmd) apply(data map[string]*Entry, lastWasMutation bool) bool {
	var out ttlReply
	if e, ok := data[c.key]; ok {
		if e.expired(time.Now()) {
			delete(data, c.key)
		} else {
			out.exists = true
			if e.ExpiresAt != nil {
				out.hasTTL = true
				out.remaining = time.Until(*e.ExpiresAt)
			}
		}
	}
	if c.reply != nil {
		c.reply <- out
	}
	return lastWasMutation
}

// TTL reports the remaining lifetime of key.
func (s *Store) TTL(ctx context.Context, key string) (remaining time.Duration, hasTTL bool, exists bool, err error) {
	reply := make(chan ttlReply, 1)
	if err := s.send(ctx, &ttlCmd{key: key, reply: reply}); err != nil {
		return 0, false, false, err
	}
	select {
	case r := <-reply:
		return r.remaining, r.hasTTL, r.exists, nil
	case <-ctx.Done():
		return 0, false, false, ctx.Err()
	}
}

// ---- Keys ----

type keysCmd struct {
	pattern string
	reply   chan []string
}

func (c *keysCmd) apply(data map[string]*Entry, lastWasMutation bool) bool {
	now := time.Now()
	var out []string
	for k, e := range data {
		if e.expired(now) {
			delete(data, k)
			continue
		}
		if globmatch.Match(c.pattern, k) {
			out = append(out, k)
		}
	}
	if c.reply != nil {
		c.reply <- out
	}
	return lastWasMutation
}

// Keys returns every key matching the glob pattern. Iteration order is
// unspecified.
func (s *Store) Keys(ctx context.Context, pattern string) ([]string, error) {
	reply := make(chan []string, 1)
	if err := s.send(ctx, &keysCmd{pattern: pattern, reply: reply}); err != nil {
		return nil, err
	}
	select {
	case ks := <-reply:
		return ks, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ---- Type ----

type typeCmd struct {
	key   string
	reply chan string
}

func (c *typeCmd) apply(data map[string]*Entry, lastWasMutation bool) bool {
	result := "none"
	if e, ok := data[c.key]; ok {
		if e.expired(time.Now()) {
			delete(data, c.key)
		} else {
			result = e.Kind.String()
		}
	}
	if c.reply != nil {
		c.reply <- result
	}
	return lastWasMutation
}

// Type returns "string", "stream", or "none".
func (s *Store) Type(ctx context.Context, key string) (string, error) {
	reply := make(chan string, 1)
	if err := s.send(ctx, &typeCmd{key: key, reply: reply}); err != nil {
		return "", err
	}
	select {
	case t := <-reply:
		return t, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// ---- Streams (XADD / XRANGE) ----

type xaddCmd struct {
	key    string
	id     string
	fields []string
	reply  chan xaddReply
}

type xaddReply struct {
	id  string
	err error
}

func (c *xaddCmd) apply(data map[string]*Entry, _ bool) bool {
	e, ok := data[c.key]
	if !ok || e.expired(time.Now()) {
		e = &Entry{Kind: KindStream}
		data[c.key] = e
	}
	if e.Kind != KindStream {
		if c.reply != nil {
			c.reply <- xaddReply{err: errWrongType}
		}
		return false
	}
	id := c.id
	if id == "*" {
		id = autoStreamID(e.Stream)
	}
	e.Stream = append(e.Stream, StreamEntry{ID: id, Fields: c.fields})
	if c.reply != nil {
		c.reply <- xaddReply{id: id}
	}
	return true
}

// XAdd appends a new entry to the stream at key, creating it if absent.
// id == "*" auto-assigns a monotonically increasing millisecond-sequence id.
func (s *Store) XAdd(ctx context.Context, key, id string, fields []string) (string, error) {
	reply := make(chan xaddReply, 1)
	if err := s.send(ctx, &xaddCmd{key: key, id: id, fields: fields, reply: reply}); err != nil {
		return "", err
	}
	select {
	case r := <-reply:
		return r.id, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

type xrangeCmd struct {
	key, start, end string
	reply           chan []StreamEntry
}

func (c *xrangeCmd) apply(data map[string]*Entry, lastWasMutation bool) bool {
	var out []StreamEntry
	if e, ok := data[c.key]; ok && e.Kind == KindStream && !e.expired(time.Now()) {
		for _, se := range e.Stream {
			if streamIDInRange(se.ID, c.start, c.end) {
				out = append(out, se)
			}
		}
	}
	if c.reply != nil {
		c.reply <- out
	}
	return lastWasMutation
}

// XRange returns entries with id between start and end inclusive ("-" and
// "+" mean the open ends of the stream).
func (s *Store) XRange(ctx context.Context, key, start, end string) ([]StreamEntry, error) {
	reply := make(chan []StreamEntry, 1)
	if err := s.send(ctx, &xrangeCmd{key: key, start: start, end: end, reply: reply}); err != nil {
		return nil, err
	}
	select {
	case r := <-reply:
		return r, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ---- MarkMutation / WasLastWrite ----

type markMutationCmd struct{}

func (markMutationCmd) apply(_ map[string]*Entry, _ bool) bool { return true }

// MarkMutation records that the most recently handled command was a write,
// independent of the Set/Del/Expire/XAdd/FlushAll path. The dispatcher calls
// it after every write command (SET, DEL, EXPIRE, PEXPIRE, FLUSHALL, XADD),
// whatever that command's own message already recorded.
func (s *Store) MarkMutation(ctx context.Context) error {
	return s.send(ctx, markMutationCmd{})
}

type wasLastWriteCmd struct {
	reply chan bool
}

func (c *wasLastWriteCmd) apply(_ map[string]*Entry, lastWasMutation bool) bool {
	if c.reply != nil {
		c.reply <- lastWasMutation
	}
	return false
}

// WasLastWrite reports whether the most recently completed command mutated
// the keyspace, then resets the flag (mirrors the upstream actor: each read
// of the flag consumes it).
func (s *Store) WasLastWrite(ctx context.Context) (bool, error) {
	reply := make(chan bool, 1)
	if err := s.send(ctx, &wasLastWriteCmd{reply: reply}); err != nil {
		return false, err
	}
	select {
	case v := <-reply:
		return v, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// FlushAll drops every key. Exposed for the FLUSHALL command handler.
type flushCmd struct{ reply chan struct{} }

func (c *flushCmd) apply(data map[string]*Entry, _ bool) bool {
	for k := range data {
		delete(data, k)
	}
	if c.reply != nil {
		c.reply <- struct{}{}
	}
	return true
}

func (s *Store) FlushAll(ctx context.Context) error {
	reply := make(chan struct{}, 1)
	if err := s.send(ctx, &flushCmd{reply: reply}); err != nil {
		return err
	}
	select {
	case <-reply:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
