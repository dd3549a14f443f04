package indexmanager

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sushant-115/gojostore/pkg/config"
	"go.uber.org/zap"
)

// StartScheduler registers the configured commit and backup jobs and starts
// running them. Empty schedules register nothing.
func (m *StoreManager) StartScheduler() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cron != nil {
		return fmt.Errorf("scheduler already started")
	}
	c := cron.New(cron.WithParser(config.CronParser), cron.WithLocation(time.UTC))

	if expr := m.cfg.Backup.CommitSchedule; expr != "" {
		if _, err := c.AddFunc(expr, func() {
			if err := m.CommitAll(context.Background()); err != nil {
				m.logger.Error("Scheduled commit failed", zap.Error(err))
			}
		}); err != nil {
			return fmt.Errorf("commit schedule %q: %w", expr, err)
		}
	}
	if expr := m.cfg.Backup.Schedule; expr != "" {
		if _, err := c.AddFunc(expr, func() {
			results, err := m.BackupAll(context.Background())
			if err != nil {
				m.logger.Error("Scheduled backup failed", zap.Error(err))
			}
			m.logger.Info("Scheduled backup finished", zap.Int("stores", len(results)))
		}); err != nil {
			return fmt.Errorf("backup schedule %q: %w", expr, err)
		}
	}

	c.Start()
	m.cron = c
	m.logger.Info("Scheduler started", zap.Int("jobs", len(c.Entries())))
	return nil
}

// Stop halts the scheduler and waits for running jobs to finish.
func (m *StoreManager) Stop() {
	m.mu.Lock()
	c := m.cron
	m.cron = nil
	m.mu.Unlock()
	if c == nil {
		return
	}
	<-c.Stop().Done()
	m.logger.Info("Scheduler stopped")
}
