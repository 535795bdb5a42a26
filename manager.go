package syncany

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/meidoworks/nekoq-syncany/logging"
)

type ManagerConfig struct {
	Source          Source
	CheckpointStore CheckpointStore
	// SinkFactory builds the sink of a replication id.
	SinkFactory func(replicationId string) (SinkFunc, error)

	BatchSize      int
	ProgressBuffer int
}

// Manager runs at most one replication per replication id against a shared
// source and checkpoint store.
type Manager struct {
	sync.Mutex

	config  *ManagerConfig
	running map[string]*Replication
	last    map[string]*Replication

	log *logrus.Entry
}

func NewManager(config *ManagerConfig) *Manager {
	return &Manager{
		config:  config,
		running: make(map[string]*Replication),
		last:    make(map[string]*Replication),
		log:     logging.Module("manager"),
	}
}

// Start launches a replication of id. It fails with ErrReplicationRunning
// while a previous run of the same id is not terminal.
func (m *Manager) Start(ctx context.Context, id string) (*Replication, error) {
	if id == "" {
		return nil, &ConfigurationError{Field: "ReplicationId", Err: ErrMissingReplicationId}
	}

	m.Lock()
	defer m.Unlock()

	if r, ok := m.running[id]; ok {
		select {
		case <-r.Done():
		default:
			return nil, ErrReplicationRunning
		}
	}
	if m.config.SinkFactory == nil {
		return nil, &ConfigurationError{Field: "sink", Err: ErrMissingSink}
	}
	sink, err := m.config.SinkFactory(id)
	if err != nil {
		return nil, err
	}
	r, err := StartSync(ctx, m.config.Source, m.config.CheckpointStore, sink, Options{
		ReplicationId:  id,
		BatchSize:      m.config.BatchSize,
		ProgressBuffer: m.config.ProgressBuffer,
		Logger:         logging.Module("syncany"),
	})
	if err != nil {
		return nil, err
	}
	m.running[id] = r
	m.last[id] = r
	go m.reap(id, r)
	return r, nil
}

func (m *Manager) reap(id string, r *Replication) {
	<-r.Done()
	m.Lock()
	defer m.Unlock()
	if m.running[id] == r {
		delete(m.running, id)
	}
	m.log.WithField("replication_id", id).WithField("status", r.Result().Status).Debug("replication finished")
}

// Cancel requests cancellation of the running replication of id.
func (m *Manager) Cancel(id string) error {
	m.Lock()
	r, ok := m.running[id]
	m.Unlock()
	if !ok {
		return ErrNotFound
	}
	r.Cancel()
	return nil
}

// Get returns the latest replication started for id, running or not.
func (m *Manager) Get(id string) (*Replication, bool) {
	m.Lock()
	defer m.Unlock()
	r, ok := m.last[id]
	return r, ok
}

func (m *Manager) Status(ctx context.Context, id string) (SyncState, error) {
	return SyncStatus(ctx, m.config.Source, m.config.CheckpointStore, id)
}

// CancelAll cancels every running replication and waits for them to stop.
func (m *Manager) CancelAll(ctx context.Context) {
	m.Lock()
	runs := make([]*Replication, 0, len(m.running))
	for _, r := range m.running {
		runs = append(runs, r)
	}
	m.Unlock()

	for _, r := range runs {
		r.Cancel()
	}
	for _, r := range runs {
		_, _ = r.Wait(ctx)
	}
}
