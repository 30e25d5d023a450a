package command

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resp-kv/internal/config"
	"resp-kv/internal/resp"
	"resp-kv/internal/store"
)

func testDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	log := logrus.NewEntry(logrus.New())
	st := store.New(log)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go st.Run(ctx)

	cfg := &config.Config{Host: "0.0.0.0", Port: 6379, Role: config.Role{IsReplica: false, ReplID: "0123456789012345678901234567890123456789"}}
	return NewDispatcher(st, nil, cfg, log)
}

func TestPing(t *testing.T) {
	d := testDispatcher(t)
	res, err := d.Execute(context.Background(), &Session{}, []string{"PING"})
	require.NoError(t, err)
	assert.Equal(t, resp.SimpleString("PONG"), res.Reply)
}

func TestSetThenGet(t *testing.T) {
	d := testDispatcher(t)
	sess := &Session{}
	ctx := context.Background()

	res, err := d.Execute(ctx, sess, []string{"SET", "foo", "bar"})
	require.NoError(t, err)
	assert.Equal(t, resp.SimpleString("OK"), res.Reply)

	res, err = d.Execute(ctx, sess, []string{"GET", "foo"})
	require.NoError(t, err)
	assert.Equal(t, resp.BulkString([]byte("bar")), res.Reply)
}

func TestGetAbsentReturnsNull(t *testing.T) {
	d := testDispatcher(t)
	res, err := d.Execute(context.Background(), &Session{}, []string{"GET", "absent"})
	require.NoError(t, err)
	assert.Equal(t, resp.NullBulkString(), res.Reply)
}

func TestSetPxZeroExpiresImmediately(t *testing.T) {
	d := testDispatcher(t)
	sess := &Session{}
	ctx := context.Background()

	_, err := d.Execute(ctx, sess, []string{"SET", "k", "v", "PX", "0"})
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	res, err := d.Execute(ctx, sess, []string{"GET", "k"})
	require.NoError(t, err)
	assert.Equal(t, resp.NullBulkString(), res.Reply)
}

func TestUnknownCommand(t *testing.T) {
	d := testDispatcher(t)
	res, err := d.Execute(context.Background(), &Session{}, []string{"BOGUS"})
	require.NoError(t, err)
	assert.Equal(t, resp.KindError, res.Reply.Kind)
}

func TestMultiExecQueuesAndRunsInOrder(t *testing.T) {
	d := testDispatcher(t)
	sess := &Session{}
	ctx := context.Background()

	res, err := d.Execute(ctx, sess, []string{"MULTI"})
	require.NoError(t, err)
	assert.Equal(t, resp.SimpleString("OK"), res.Reply)

	res, err = d.Execute(ctx, sess, []string{"SET", "a", "1"})
	require.NoError(t, err)
	assert.Equal(t, resp.SimpleString("QUEUED"), res.Reply)

	res, err = d.Execute(ctx, sess, []string{"GET", "a"})
	require.NoError(t, err)
	assert.Equal(t, resp.SimpleString("QUEUED"), res.Reply)

	res, err = d.Execute(ctx, sess, []string{"EXEC"})
	require.NoError(t, err)
	require.Equal(t, resp.KindArray, res.Reply.Kind)
	require.Len(t, res.Reply.Array, 2)
	assert.Equal(t, resp.SimpleString("OK"), res.Reply.Array[0])
	assert.Equal(t, resp.BulkString([]byte("1")), res.Reply.Array[1])

	assert.False(t, sess.InTx)
}

func TestExecWithoutMultiErrors(t *testing.T) {
	d := testDispatcher(t)
	res, err := d.Execute(context.Background(), &Session{}, []string{"EXEC"})
	require.NoError(t, err)
	assert.Equal(t, resp.KindError, res.Reply.Kind)
}

func TestDiscardDropsQueue(t *testing.T) {
	d := testDispatcher(t)
	sess := &Session{}
	ctx := context.Background()

	_, err := d.Execute(ctx, sess, []string{"MULTI"})
	require.NoError(t, err)
	_, err = d.Execute(ctx, sess, []string{"SET", "a", "1"})
	require.NoError(t, err)

	res, err := d.Execute(ctx, sess, []string{"DISCARD"})
	require.NoError(t, err)
	assert.Equal(t, resp.SimpleString("OK"), res.Reply)
	assert.Empty(t, sess.TxQueue)
}

func TestKeysOnEmptyKeyspace(t *testing.T) {
	d := testDispatcher(t)
	res, err := d.Execute(context.Background(), &Session{}, []string{"KEYS", "*"})
	require.NoError(t, err)
	require.Equal(t, resp.KindArray, res.Reply.Kind)
	assert.Empty(t, res.Reply.Array)
}

func TestWaitWithoutRegistryReturnsZero(t *testing.T) {
	d := testDispatcher(t)
	res, err := d.Execute(context.Background(), &Session{}, []string{"WAIT", "0", "100"})
	require.NoError(t, err)
	assert.Equal(t, resp.Integer(0), res.Reply)
}

func TestPsyncUpgradeFlag(t *testing.T) {
	d := testDispatcher(t)
	res, err := d.Execute(context.Background(), &Session{}, []string{"PSYNC", "?", "-1"})
	require.NoError(t, err)
	assert.Equal(t, resp.KindError, res.Reply.Kind, "no registry wired in this dispatcher, PSYNC must be refused")
	assert.False(t, res.Upgrade, "a refused PSYNC must not request the replica upgrade")
}

func TestXAddAutoIDThenXRange(t *testing.T) {
	d := testDispatcher(t)
	sess := &Session{}
	ctx := context.Background()

	res, err := d.Execute(ctx, sess, []string{"XADD", "stream", "*", "field", "value"})
	require.NoError(t, err)
	require.Equal(t, resp.KindBulkString, res.Reply.Kind)
	assert.NotEmpty(t, string(res.Reply.Bulk))

	res, err = d.Execute(ctx, sess, []string{"XRANGE", "stream", "-", "+"})
	require.NoError(t, err)
	require.Len(t, res.Reply.Array, 1)
}
