package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"resp-kv/internal/command"
	"resp-kv/internal/config"
	"resp-kv/internal/conn"
	"resp-kv/internal/replication"
	"resp-kv/internal/store"
)

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	entry := logrus.NewEntry(log)

	cfg, err := config.ParseArgs()
	if err != nil {
		entry.WithError(err).Fatal("invalid configuration")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st := store.New(entry)
	go st.Run(ctx)

	var registry *replication.Registry
	if !cfg.Role.IsReplica {
		registry = replication.NewRegistry(entry)
		go registry.Run(ctx)
	}

	dispatcher := command.NewDispatcher(st, registry, cfg, entry)
	handler := conn.NewHandler(dispatcher, entry)
	srv := conn.NewServer(cfg.Host, cfg.Port, handler, entry)

	if cfg.Role.IsReplica {
		go runReplicaIngest(ctx, cfg, st, entry)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		entry.Info("shutting down")
		cancel()
	}()

	entry.WithField("role", roleName(cfg)).Info("starting resp-kv server")
	if err := srv.Run(ctx); err != nil {
		entry.WithError(err).Fatal("server exited")
	}
}

// runReplicaIngest performs the one-time handshake against the primary and
// then applies its replication stream until ctx is cancelled. A handshake
// failure aborts the process, per spec §7: a replica cannot function
// without its primary.
func runReplicaIngest(ctx context.Context, cfg *config.Config, st *store.Store, log *logrus.Entry) {
	client := replication.NewClient(cfg.Role.PrimaryHost, cfg.Role.PrimaryPort, cfg.Port, log)
	if err := client.Handshake(ctx); err != nil {
		log.WithError(err).Fatal("replica handshake with primary failed")
	}
	if err := client.Ingest(ctx, st); err != nil {
		log.WithError(err).Error("replica ingest loop terminated")
	}
}

func roleName(cfg *config.Config) string {
	if cfg.Role.IsReplica {
		return "replica"
	}
	return "primary"
}
