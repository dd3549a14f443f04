// Package indexmanager owns the stores open in a process and exposes their
// operations with tracing, metrics, backups and scheduled maintenance.
package indexmanager

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sushant-115/gojostore/core/indexedstore"
	"github.com/sushant-115/gojostore/core/indexing/btree"
	"github.com/sushant-115/gojostore/core/storage_engine/common"
	flushmanager "github.com/sushant-115/gojostore/core/write_engine/flush_manager"
	"github.com/sushant-115/gojostore/core/write_engine/pagestore"
	internaltelemetry "github.com/sushant-115/gojostore/internal/telemetry"
	"github.com/sushant-115/gojostore/pkg/config"
	"github.com/sushant-115/gojostore/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
)

// BackupResult describes one finished backup.
type BackupResult struct {
	Store  string
	Path   string
	Digest string
	Bytes  int64
}

// StoreManager opens stores by name under the configured data directory and
// keeps them in its Registry until closed.
type StoreManager struct {
	mu       sync.Mutex
	cfg      config.StoreConfig
	registry *indexedstore.Registry
	logger   *zap.Logger
	tracer   trace.Tracer
	metrics  *internaltelemetry.StoreMetrics
	cron     *cron.Cron
	now      func() time.Time
}

// NewStoreManager builds a manager. A nil tel disables tracing and metrics.
func NewStoreManager(cfg config.StoreConfig, tel *telemetry.Telemetry, logger *zap.Logger) (*StoreManager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var tracer trace.Tracer = nooptrace.NewTracerProvider().Tracer("")
	var meter metric.Meter = noop.NewMeterProvider().Meter("")
	if tel != nil {
		tracer, meter = tel.Tracer, tel.Meter
	}
	metrics, err := internaltelemetry.NewStoreMetrics(meter)
	if err != nil {
		return nil, fmt.Errorf("failed to create store metrics: %w", err)
	}
	return &StoreManager{
		cfg:      cfg,
		registry: indexedstore.NewRegistry(),
		logger:   logger.Named("store_manager"),
		tracer:   tracer,
		metrics:  metrics,
		now:      time.Now,
	}, nil
}

// Registry returns the registry of open stores.
func (m *StoreManager) Registry() *indexedstore.Registry { return m.registry }

// Path resolves a store name against the data directory.
func (m *StoreManager) Path(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(m.cfg.DataDir, name)
}

// Open opens (creating if needed) the named store. Opening a store that is
// already open fails with flushmanager.ErrStoreAlreadyOpen.
func (m *StoreManager) Open(ctx context.Context, name string) (s *indexedstore.IndexedStore, err error) {
	ctx, span, start := m.startOp(ctx, "Open", name)
	defer func() { m.endOp(ctx, span, start, "Open", name, err) }()

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.open(ctx, name)
}

func (m *StoreManager) open(ctx context.Context, name string) (*indexedstore.IndexedStore, error) {
	path := m.Path(name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, flushmanager.NewError(flushmanager.KeyIndexedStoreOpen, flushmanager.ErrIO, err)
	}
	s, err := indexedstore.Open(path, m.registry, m.logger)
	if err != nil {
		return nil, err
	}
	m.metrics.OpenStoresUpDownCounter.Add(ctx, 1)
	m.logger.Info("Store opened", zap.String("store", path))
	return s, nil
}

// Get returns the named store if it is open.
func (m *StoreManager) Get(name string) (*indexedstore.IndexedStore, bool) {
	s := m.registry.Find(m.Path(name))
	return s, s != nil
}

// use returns the named store, opening it when it is not open yet.
func (m *StoreManager) use(ctx context.Context, name string) (*indexedstore.IndexedStore, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s := m.registry.Find(m.Path(name)); s != nil {
		return s, nil
	}
	return m.open(ctx, name)
}

// Close commits and closes the named store. Closing a store that is not open
// does nothing.
func (m *StoreManager) Close(ctx context.Context, name string) (err error) {
	ctx, span, start := m.startOp(ctx, "Close", name)
	defer func() { m.endOp(ctx, span, start, "Close", name, err) }()

	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.Get(name)
	if !ok {
		return nil
	}
	return m.close(ctx, s)
}

func (m *StoreManager) close(ctx context.Context, s *indexedstore.IndexedStore) error {
	err := s.Close()
	m.metrics.OpenStoresUpDownCounter.Add(ctx, -1)
	if err != nil {
		m.logger.Error("Store close failed", zap.String("store", s.Name()), zap.Error(err))
		return err
	}
	m.logger.Info("Store closed", zap.String("store", s.Name()))
	return nil
}

// CloseAll closes every open store and returns all close errors joined.
func (m *StoreManager) CloseAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var errs []error
	for _, s := range m.registry.Stores() {
		errs = append(errs, m.close(ctx, s))
	}
	return errors.Join(errs...)
}

// --- Object operations ---

func (m *StoreManager) CreateObject(ctx context.Context, name string, value []byte) (id indexedstore.ObjectID, err error) {
	ctx, span, start := m.startOp(ctx, "CreateObject", name)
	defer func() { m.endOp(ctx, span, start, "CreateObject", name, err) }()

	s, err := m.use(ctx, name)
	if err != nil {
		return 0, err
	}
	return s.CreateObject(value)
}

func (m *StoreManager) GetObject(ctx context.Context, name string, id indexedstore.ObjectID) (value []byte, err error) {
	ctx, span, start := m.startOp(ctx, "GetObject", name)
	defer func() { m.endOp(ctx, span, start, "GetObject", name, err) }()

	s, err := m.use(ctx, name)
	if err != nil {
		return nil, err
	}
	return s.GetObject(id)
}

func (m *StoreManager) UpdateObject(ctx context.Context, name string, id indexedstore.ObjectID, value []byte) (err error) {
	ctx, span, start := m.startOp(ctx, "UpdateObject", name)
	defer func() { m.endOp(ctx, span, start, "UpdateObject", name, err) }()

	s, err := m.use(ctx, name)
	if err != nil {
		return err
	}
	return s.UpdateObject(id, value)
}

func (m *StoreManager) RemoveObject(ctx context.Context, name string, id indexedstore.ObjectID) (err error) {
	ctx, span, start := m.startOp(ctx, "RemoveObject", name)
	defer func() { m.endOp(ctx, span, start, "RemoveObject", name, err) }()

	s, err := m.use(ctx, name)
	if err != nil {
		return err
	}
	return s.RemoveObject(id)
}

// --- Index operations ---

func (m *StoreManager) CreateIndex(ctx context.Context, name, index string) (err error) {
	ctx, span, start := m.startOp(ctx, "CreateIndex", name)
	defer func() { m.endOp(ctx, span, start, "CreateIndex", name, err) }()

	s, err := m.use(ctx, name)
	if err != nil {
		return err
	}
	_, err = s.CreateIndex(index)
	return err
}

func (m *StoreManager) RemoveIndex(ctx context.Context, name, index string) (err error) {
	ctx, span, start := m.startOp(ctx, "RemoveIndex", name)
	defer func() { m.endOp(ctx, span, start, "RemoveIndex", name, err) }()

	s, err := m.use(ctx, name)
	if err != nil {
		return err
	}
	return s.RemoveIndex(index)
}

func (m *StoreManager) IndexNames(ctx context.Context, name string) (names []string, err error) {
	ctx, span, start := m.startOp(ctx, "IndexNames", name)
	defer func() { m.endOp(ctx, span, start, "IndexNames", name, err) }()

	s, err := m.use(ctx, name)
	if err != nil {
		return nil, err
	}
	return s.IndexNames()
}

// withIndex runs fn against the named index of the named store.
func (m *StoreManager) withIndex(ctx context.Context, name, index string, fn func(ix *btree.Index) error) error {
	s, err := m.use(ctx, name)
	if err != nil {
		return err
	}
	ix, err := s.GetIndex(index)
	if err != nil {
		return err
	}
	return fn(ix)
}

// IndexInsert adds key -> id to the named index.
func (m *StoreManager) IndexInsert(ctx context.Context, name, index string, key []byte, id indexedstore.ObjectID) (err error) {
	ctx, span, start := m.startOp(ctx, "IndexInsert", name)
	defer func() { m.endOp(ctx, span, start, "IndexInsert", name, err) }()

	return m.withIndex(ctx, name, index, func(ix *btree.Index) error {
		return ix.InsertItem(key, id)
	})
}

// IndexMatch returns the ids stored under keys starting with prefix.
func (m *StoreManager) IndexMatch(ctx context.Context, name, index string, prefix []byte) (ids []indexedstore.ObjectID, err error) {
	ctx, span, start := m.startOp(ctx, "IndexMatch", name)
	defer func() { m.endOp(ctx, span, start, "IndexMatch", name, err) }()

	err = m.withIndex(ctx, name, index, func(ix *btree.Index) error {
		ids, err = ix.ObjectIdentifiersMatching(prefix)
		return err
	})
	return ids, err
}

// IndexRemove removes every entry whose key equals key and returns how many
// were removed.
func (m *StoreManager) IndexRemove(ctx context.Context, name, index string, key []byte) (removed int, err error) {
	ctx, span, start := m.startOp(ctx, "IndexRemove", name)
	defer func() { m.endOp(ctx, span, start, "IndexRemove", name, err) }()

	err = m.withIndex(ctx, name, index, func(ix *btree.Index) error {
		removed, err = ix.RemoveAllEqual(key)
		return err
	})
	return removed, err
}

// --- Transactions and maintenance ---

func (m *StoreManager) Commit(ctx context.Context, name string) (err error) {
	ctx, span, start := m.startOp(ctx, "Commit", name)
	defer func() { m.endOp(ctx, span, start, "Commit", name, err) }()

	s, err := m.use(ctx, name)
	if err != nil {
		return err
	}
	return m.commit(ctx, s)
}

func (m *StoreManager) commit(ctx context.Context, s *indexedstore.IndexedStore) error {
	before, err := s.Stats()
	if err != nil {
		return err
	}
	if err := s.Commit(); err != nil {
		return err
	}
	after, err := s.Stats()
	if err != nil {
		return err
	}
	if written := after.FileWrites - before.FileWrites; written > 0 {
		m.metrics.CommittedPagesCounter.Add(ctx, written, metric.WithAttributes(attribute.String("store.name", s.Name())))
		m.logger.Debug("Store committed", zap.String("store", s.Name()), zap.Int64("pages", written))
	}
	return nil
}

func (m *StoreManager) Rollback(ctx context.Context, name string) (err error) {
	ctx, span, start := m.startOp(ctx, "Rollback", name)
	defer func() { m.endOp(ctx, span, start, "Rollback", name, err) }()

	s, err := m.use(ctx, name)
	if err != nil {
		return err
	}
	return s.Rollback()
}

func (m *StoreManager) Stats(ctx context.Context, name string) (stats pagestore.Stats, err error) {
	ctx, span, start := m.startOp(ctx, "Stats", name)
	defer func() { m.endOp(ctx, span, start, "Stats", name, err) }()

	s, err := m.use(ctx, name)
	if err != nil {
		return pagestore.Stats{}, err
	}
	return s.Stats()
}

// Backup copies the committed store file into the backup directory. The
// store is locked for the duration of the copy.
func (m *StoreManager) Backup(ctx context.Context, name string) (res BackupResult, err error) {
	ctx, span, start := m.startOp(ctx, "Backup", name)
	defer func() { m.endOp(ctx, span, start, "Backup", name, err) }()

	s, err := m.use(ctx, name)
	if err != nil {
		return BackupResult{}, err
	}
	return m.backup(ctx, s)
}

func (m *StoreManager) backup(ctx context.Context, s *indexedstore.IndexedStore) (BackupResult, error) {
	bcfg := m.cfg.Backup
	dir := bcfg.Dir
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(m.cfg.DataDir, dir)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return BackupResult{}, flushmanager.NewError(flushmanager.KeyBackup, flushmanager.ErrIO, err)
	}
	base := strings.TrimSuffix(filepath.Base(s.Name()), filepath.Ext(s.Name()))
	target := filepath.Join(dir, fmt.Sprintf("%s-%s.bak", base, m.now().UTC().Format("20060102T150405.000000000")))
	if bcfg.Compress {
		target += ".xz"
	}

	res := BackupResult{Store: s.Name(), Path: target}
	err := s.Snapshot(func(path string) error {
		info, err := os.Stat(path)
		if err != nil {
			return err
		}
		res.Bytes = info.Size()
		res.Digest, err = common.CopyThrottled(ctx, path, target, common.CopyOptions{
			RateBytesPerSec: bcfg.RateBytesPerSec,
			Compress:        bcfg.Compress,
		})
		return err
	})
	if err != nil {
		m.logger.Error("Backup failed", zap.String("store", s.Name()), zap.Error(err))
		return BackupResult{}, flushmanager.NewError(flushmanager.KeyBackup, flushmanager.ErrIO, err)
	}
	m.metrics.BackupBytesCounter.Add(ctx, res.Bytes, metric.WithAttributes(attribute.String("store.name", s.Name())))
	m.logger.Info("Backup written",
		zap.String("store", s.Name()),
		zap.String("path", target),
		zap.String("blake3", res.Digest),
		zap.Int64("bytes", res.Bytes),
	)
	return res, nil
}

// CommitAll commits every open store.
func (m *StoreManager) CommitAll(ctx context.Context) error {
	var errs []error
	for _, s := range m.registry.Stores() {
		errs = append(errs, m.commit(ctx, s))
	}
	return errors.Join(errs...)
}

// BackupAll backs up every open store.
func (m *StoreManager) BackupAll(ctx context.Context) ([]BackupResult, error) {
	var (
		results []BackupResult
		errs    []error
	)
	for _, s := range m.registry.Stores() {
		res, err := m.backup(ctx, s)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		results = append(results, res)
	}
	return results, errors.Join(errs...)
}
