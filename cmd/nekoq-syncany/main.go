package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/gops/agent"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	syncany "github.com/meidoworks/nekoq-syncany"
	"github.com/meidoworks/nekoq-syncany/config"
	"github.com/meidoworks/nekoq-syncany/internal/checkpoint"
	"github.com/meidoworks/nekoq-syncany/internal/docstore"
	"github.com/meidoworks/nekoq-syncany/internal/iface"
	"github.com/meidoworks/nekoq-syncany/internal/replication"
	"github.com/meidoworks/nekoq-syncany/internal/service"
	"github.com/meidoworks/nekoq-syncany/internal/storage"
	"github.com/meidoworks/nekoq-syncany/logging"
)

var _configFile string

func init() {
	flag.StringVar(&_configFile, "config", "syncany.toml", "-config=syncany.toml")
}

type closers []func() error

func (c *closers) add(f func() error) {
	*c = append(*c, f)
}

func (c closers) closeAll(log *logrus.Entry) {
	for i := len(c) - 1; i >= 0; i-- {
		if err := c[i](); err != nil {
			log.WithError(err).Warn("close failed")
		}
	}
}

func main() {
	flag.Parse()

	cfg, err := config.Load(_configFile)
	if err != nil {
		logging.Logger().WithError(err).Fatal("load config failed")
	}
	level := cfg.Log.Level
	if cfg.Main.Debug && level == "" {
		level = "debug"
	}
	if err := logging.Setup(logging.Options{
		Level:         level,
		Format:        cfg.Log.Format,
		File:          cfg.Log.File,
		MaxDays:       cfg.Log.MaxDays,
		MaxFileSize:   cfg.Log.MaxFileSize,
		MaxFilePerDay: cfg.Log.MaxFilePerDay,
	}); err != nil {
		logging.Logger().WithError(err).Fatal("setup logging failed")
	}
	log := logging.Module("main")

	// init gops
	if cfg.Main.Gops {
		if err := agent.Listen(agent.Options{}); err != nil {
			log.WithError(err).Fatal("start gops agent failed")
		}
	}

	var cs closers
	src, docs, err := buildSource(cfg, &cs)
	if err != nil {
		log.WithError(err).Fatal("build source failed")
	}
	cps, err := buildCheckpointStore(cfg, &cs)
	if err != nil {
		log.WithError(err).Fatal("build checkpoint store failed")
	}

	manager := syncany.NewManager(&syncany.ManagerConfig{
		Source:          src,
		CheckpointStore: cps,
		SinkFactory: func(replicationId string) (syncany.SinkFunc, error) {
			return syncany.NewHttpSink(&syncany.HttpSinkConfig{
				Url:            cfg.Sink.Url,
				ReplicationId:  replicationId,
				AccessPassword: cfg.Sink.AccessPassword,
				Timeout:        cfg.Sink.Timeout,
			})
		},
		BatchSize:      cfg.Sync.BatchSize,
		ProgressBuffer: cfg.Sync.ProgressBuffer,
	})

	// resp
	if cfg.Resp.Enable {
		rs := service.NewResp2Service(&service.RespServiceConfig{Addr: cfg.Resp.Listener})
		replication.Resp2SyncHandler{Source: src, Checkpoints: cps}.Register(rs)
		if err := rs.Startup(); err != nil {
			log.WithError(err).Fatal("start resp service failed")
		}
		cs.add(rs.Close)
		log.WithField("addr", rs.Addr().String()).Info("resp service started")
	}

	// http
	if cfg.Http.Enable {
		ep := syncany.NewHttpEndpoint(cfg.Http.Listener, manager, cfg.Http.EnableAuth, cfg.Http.AccessPassword)
		if docs != nil {
			service.NewHttpServiceContainer(ep.Server()).SetupDocumentStore(docs)
		}
		if err := ep.Startup(); err != nil {
			log.WithError(err).Fatal("start http endpoint failed")
		}
		cs.add(func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return ep.Server().Stop(ctx)
		})
		log.WithField("addr", ep.Addr()).Info("http endpoint started")
	}

	if lister, ok := cps.(*checkpoint.KVStore); ok {
		if ids, err := lister.ReplicationIds(); err == nil {
			log.WithField("replications", ids).Info("checkpoints found")
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	go periodicSync(ctx, manager, cfg, logging.Module("scheduler"))

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigs
	log.WithField("signal", sig.String()).Info("signal received, shutting down")

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	manager.CancelAll(shutdownCtx)
	shutdownCancel()
	cs.closeAll(log)
}

func buildSource(cfg *config.Config, cs *closers) (iface.Source, iface.DocumentStore, error) {
	switch cfg.Source.Provider {
	case config.SourceDisk:
		store, err := docstore.NewDiskStore(&docstore.DiskStoreConfig{
			DataFolder: cfg.Source.DataFolder,
			WalFolder:  cfg.Source.WalFolder,
		})
		if err != nil {
			return nil, nil, err
		}
		if err := store.Initialize(); err != nil {
			return nil, nil, err
		}
		cs.add(store.Close)
		return store, store, nil
	case config.SourceMem:
		store := syncany.NewMemStore()
		return store, store, nil
	case config.SourceResp:
		client := replication.NewResp2Client(cfg.Source.Addr)
		cs.add(client.Close)
		return client, nil, nil
	default:
		return nil, nil, errors.Errorf("unknown source provider: %s", cfg.Source.Provider)
	}
}

func buildCheckpointStore(cfg *config.Config, cs *closers) (iface.CheckpointStore, error) {
	switch cfg.Checkpoint.Provider {
	case config.CheckpointKV:
		kv, err := storage.NewDiskvStorage(&storage.DiskvStorageConfig{Folder: cfg.Checkpoint.Folder})
		if err != nil {
			return nil, err
		}
		return checkpoint.NewKVStore(kv), nil
	case config.CheckpointSQLite:
		s, err := checkpoint.OpenSQLite(cfg.Checkpoint.Path)
		if err != nil {
			return nil, err
		}
		if err := s.Init(context.Background()); err != nil {
			_ = s.Close()
			return nil, err
		}
		cs.add(s.Close)
		return s, nil
	case config.CheckpointRedis:
		s := checkpoint.NewRedisStore(&checkpoint.RedisStoreConfig{
			Addr:     cfg.Checkpoint.Addr,
			Password: cfg.Checkpoint.Password,
			DB:       cfg.Checkpoint.DB,
			Prefix:   cfg.Checkpoint.Prefix,
		})
		cs.add(s.Close)
		return s, nil
	case config.CheckpointResp:
		client := replication.NewResp2Client(cfg.Checkpoint.Addr)
		cs.add(client.Close)
		return client, nil
	case config.CheckpointMem:
		return checkpoint.NewMemStore(), nil
	default:
		return nil, errors.Errorf("unknown checkpoint provider: %s", cfg.Checkpoint.Provider)
	}
}

// periodicSync runs every configured replication, then again every
// interval until ctx is done. A replication still running at the next tick
// is skipped.
func periodicSync(ctx context.Context, m *syncany.Manager, cfg *config.Config, log *logrus.Entry) {
	if len(cfg.Sync.Replications) == 0 {
		return
	}
	runAll := func() {
		for _, id := range cfg.Sync.Replications {
			r, err := m.Start(ctx, id)
			if errors.Is(err, syncany.ErrReplicationRunning) {
				log.WithField("replication_id", id).Debug("still running, skip")
				continue
			}
			if err != nil {
				log.WithError(err).WithField("replication_id", id).Error("start replication failed")
				continue
			}
			go func(r *syncany.Replication) {
				for p := range r.Progress() {
					log.WithFields(logrus.Fields{
						"replication_id": r.ReplicationId(),
						"seq":            p.LastSequence,
						"docs":           p.DocsWritten,
					}).Debug("progress")
				}
			}(r)
		}
	}

	runAll()
	if cfg.Sync.Interval == 0 {
		return
	}
	ticker := time.NewTicker(cfg.Sync.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runAll()
		}
	}
}
