// Package conn implements the per-connection pipeline: parse one RESP
// value, classify and dispatch it, write the reply, repeat — including the
// one-way PSYNC transition that hands a connection's stream off to the
// replication registry.
package conn

import (
	"bufio"
	"context"
	"io"
	"net"
	"time"

	"github.com/sirupsen/logrus"

	"resp-kv/internal/command"
	"resp-kv/internal/rdbsnap"
	"resp-kv/internal/resp"
)

const idleReadTimeout = 5 * time.Minute

// Handler drives one accepted connection end to end.
type Handler struct {
	dispatcher *command.Dispatcher
	log        *logrus.Entry
}

// NewHandler builds a Handler bound to a shared Dispatcher.
func NewHandler(dispatcher *command.Dispatcher, log *logrus.Entry) *Handler {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Handler{dispatcher: dispatcher, log: log}
}

// Serve runs the parse/dispatch/respond loop for nc until it closes, a
// framing error occurs, or the connection is upgraded to a replica stream
// via PSYNC (at which point Serve returns normally, having already handed
// the net.Conn to the replication registry).
func (h *Handler) Serve(ctx context.Context, nc net.Conn) {
	// upgraded is set just before nc's ownership transfers to the
	// replication registry (PSYNC). The registry keeps writing to nc long
	// after Serve returns, so the deferred close below must not fire in
	// that case.
	upgraded := false
	defer func() {
		if !upgraded {
			nc.Close()
		}
	}()

	host, _, err := net.SplitHostPort(nc.RemoteAddr().String())
	if err != nil {
		host = nc.RemoteAddr().String()
	}
	log := h.log.WithField("remote", nc.RemoteAddr().String())

	reader := bufio.NewReader(nc)
	writer := bufio.NewWriter(nc)
	sess := &command.Session{Host: host}

	for {
		nc.SetReadDeadline(time.Now().Add(idleReadTimeout))

		v, err := resp.Decode(reader)
		if err != nil {
			if err != io.EOF {
				log.WithError(err).Debug("framing error, closing connection")
			}
			return
		}
		if v.IsEndOfStream() {
			return
		}
		if v.IsBareNewline() {
			continue
		}

		args, err := v.StrArgs()
		if err != nil {
			log.WithError(err).Debug("non-array top-level value, closing connection")
			return
		}
		if len(args) == 0 {
			continue
		}

		result, err := h.dispatcher.Execute(ctx, sess, args)
		if err != nil {
			log.WithError(err).Warn("dispatch failed, closing connection")
			return
		}

		if err := resp.Encode(writer, result.Reply); err != nil {
			log.WithError(err).Debug("write failed, closing connection")
			return
		}

		if !result.Upgrade {
			if err := writer.Flush(); err != nil {
				log.WithError(err).Debug("flush failed, closing connection")
				return
			}
			continue
		}

		if _, err := writer.Write(rawRDBFrame()); err != nil {
			log.WithError(err).Warn("failed to write RDB payload to new replica")
			return
		}
		if err := writer.Flush(); err != nil {
			log.WithError(err).Warn("failed to flush RDB payload to new replica")
			return
		}

		log.WithField("listening_port", sess.ListeningPort).Info("replica upgraded, handing stream to registry")
		upgraded = true
		if saveErr := h.dispatcher.Registry.SaveStream(ctx, host, sess.ListeningPort, nc); saveErr != nil {
			log.WithError(saveErr).Warn("failed to register replica stream")
			nc.Close()
		}
		return
	}
}

func rawRDBFrame() []byte {
	payload := rdbsnap.EmptyDatabase()
	b, _ := resp.AppendEncoded(nil, resp.RawBytes(payload))
	return b
}
