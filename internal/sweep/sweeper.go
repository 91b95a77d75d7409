// Package sweep schedules the daily reminder pass. The scheduler is the
// only place the engine is driven by the wall clock; everything below it
// takes time as an explicit argument.
package sweep

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fieldops/storealert/internal/engine"
	"github.com/fieldops/storealert/pkg/utils"
)

// SweeperConfig holds sweep scheduler configuration
type SweeperConfig struct {
	Enabled  bool
	RunAt    string // daily run time, "HH:MM"
	Location *time.Location
}

// Status is a snapshot of the scheduler for health endpoints
type Status struct {
	Enabled   bool                `json:"enabled"`
	Running   bool                `json:"running"`
	NextRunAt time.Time           `json:"next_run_at,omitempty"`
	LastRunAt time.Time           `json:"last_run_at,omitempty"`
	LastRun   *engine.SweepResult `json:"last_run,omitempty"`
	RunCount  int64               `json:"run_count"`
}

// Sweeper runs the reminder sweep once per day at the configured local time
type Sweeper struct {
	engine *engine.Engine
	config *SweeperConfig
	logger *logrus.Logger

	mu        sync.Mutex
	running   bool
	nextRunAt time.Time
	lastRunAt time.Time
	lastRun   *engine.SweepResult
	runCount  int64

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSweeper creates a new sweep scheduler
func NewSweeper(eng *engine.Engine, config *SweeperConfig) (*Sweeper, error) {
	if config == nil {
		config = &SweeperConfig{}
	}
	if config.RunAt == "" {
		config.RunAt = "06:00"
	}
	if config.Location == nil {
		config.Location = time.UTC
	}
	if _, _, err := parseRunAt(config.RunAt); err != nil {
		return nil, err
	}

	return &Sweeper{
		engine: eng,
		config: config,
		logger: utils.GetLogger(),
	}, nil
}

// Start launches the scheduler loop. Returns immediately when disabled.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.config.Enabled {
		s.logger.Info("Reminder sweep scheduler disabled")
		return nil
	}
	if s.running {
		return utils.NewAppError(utils.ErrCodeInternal, "Sweeper already running", "")
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true

	s.wg.Add(1)
	go s.loop(runCtx)

	s.logger.WithFields(logrus.Fields{
		"run_at":   s.config.RunAt,
		"timezone": s.config.Location.String(),
	}).Info("Reminder sweep scheduler started")

	return nil
}

// Stop shuts the scheduler down and waits for an in-flight pass to finish
func (s *Sweeper) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	s.wg.Wait()

	s.logger.Info("Reminder sweep scheduler stopped")
	return nil
}

// RunOnce executes a single sweep pass immediately, outside the schedule.
// Used by the manual trigger endpoint.
func (s *Sweeper) RunOnce(ctx context.Context) (*engine.SweepResult, error) {
	now := time.Now().In(s.config.Location)
	result, err := s.engine.Sweep(ctx, now)
	if err != nil {
		return nil, err
	}
	s.recordRun(now, result)
	return result, nil
}

// GetStatus returns the current scheduler state
func (s *Sweeper) GetStatus() *Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	return &Status{
		Enabled:   s.config.Enabled,
		Running:   s.running,
		NextRunAt: s.nextRunAt,
		LastRunAt: s.lastRunAt,
		LastRun:   s.lastRun,
		RunCount:  s.runCount,
	}
}

func (s *Sweeper) loop(ctx context.Context) {
	defer s.wg.Done()

	for {
		next := s.nextRun(time.Now().In(s.config.Location))

		s.mu.Lock()
		s.nextRunAt = next
		s.mu.Unlock()

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		now := time.Now().In(s.config.Location)
		result, err := s.engine.Sweep(ctx, now)
		if err != nil {
			s.logger.WithError(err).Error("Scheduled reminder sweep failed")
			continue
		}
		s.recordRun(now, result)
	}
}

// nextRun computes the next occurrence of the configured HH:MM after now
func (s *Sweeper) nextRun(now time.Time) time.Time {
	hour, minute, _ := parseRunAt(s.config.RunAt)

	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, s.config.Location)
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

func (s *Sweeper) recordRun(at time.Time, result *engine.SweepResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastRunAt = at
	s.lastRun = result
	s.runCount++
}

func parseRunAt(runAt string) (hour, minute int, err error) {
	if _, perr := fmt.Sscanf(runAt, "%d:%d", &hour, &minute); perr != nil {
		return 0, 0, utils.NewAppError(utils.ErrCodeConfiguration,
			"Invalid sweep run_at, expected HH:MM", runAt)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, utils.NewAppError(utils.ErrCodeConfiguration,
			"Invalid sweep run_at, expected HH:MM", runAt)
	}
	return hour, minute, nil
}
