/**
 * @description
 * Cron scheduler for the invoice batch job and the reconciliation job.
 */
package app

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// SchedulerState is the lifecycle of the invoice batch job.
type SchedulerState string

const (
	StateIdle    SchedulerState = "idle"
	StateRunning SchedulerState = "running"
	StateStopped SchedulerState = "stopped"
)

// SchedulerConfig controls job cadence. A zero interval disables the job.
type SchedulerConfig struct {
	IssueInterval     time.Duration
	IssueDuration     time.Duration
	ReconcileInterval time.Duration
}

// Scheduler manages the cron jobs.
type Scheduler struct {
	cron       *cron.Cron
	chain      cron.Chain
	issuer     *Issuer
	reconciler *Reconciler
	logger     *slog.Logger
	config     SchedulerConfig
	now        func() time.Time

	mu         sync.Mutex
	state      SchedulerState
	endTime    time.Time
	issueEntry cron.EntryID

	// initial tracks the first batch, which runs outside cron.
	initial sync.WaitGroup
}

// NewScheduler creates a new scheduler instance. issuer or reconciler may be nil.
func NewScheduler(issuer *Issuer, reconciler *Reconciler, logger *slog.Logger, cfg SchedulerConfig) *Scheduler {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	// SkipIfStillRunning coalesces ticks that fire while a previous run is still going.
	chain := cron.NewChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger))

	return &Scheduler{
		cron:       cron.New(cron.WithChain(cron.Recover(cronLogger))),
		chain:      chain,
		issuer:     issuer,
		reconciler: reconciler,
		logger:     logger,
		config:     cfg,
		now:        time.Now,
		state:      StateIdle,
	}
}

// Start issues the first batch immediately, registers the periodic jobs and starts cron.
func (s *Scheduler) Start() {
	if s.issuer != nil && s.config.IssueInterval > 0 {
		issueJob := s.chain.Then(cron.FuncJob(s.issueTick))

		s.mu.Lock()
		s.endTime = s.now().Add(s.config.IssueDuration)
		s.state = StateRunning
		s.issueEntry = s.cron.Schedule(cron.Every(s.config.IssueInterval), issueJob)
		endTime := s.endTime
		s.mu.Unlock()

		s.initial.Add(1)
		go func() {
			defer s.initial.Done()
			issueJob.Run()
		}()
		s.logger.Info("scheduled invoice batch job", "interval", s.config.IssueInterval.String(), "until", endTime.UTC().Format(time.RFC3339))
	}

	if s.reconciler != nil && s.config.ReconcileInterval > 0 {
		s.cron.Schedule(cron.Every(s.config.ReconcileInterval), s.chain.Then(cron.FuncJob(s.reconciler.Tick)))
		s.logger.Info("scheduled reconciliation job", "interval", s.config.ReconcileInterval.String())
	}

	s.cron.Start()
}

// issueTick runs one batch, or retires the job once the issuing window has closed.
func (s *Scheduler) issueTick() {
	s.mu.Lock()
	if s.state != StateRunning {
		s.mu.Unlock()
		return
	}
	if s.now().After(s.endTime) {
		s.state = StateStopped
		s.cron.Remove(s.issueEntry)
		s.mu.Unlock()
		s.logger.Info("invoice batch window closed, job removed")
		return
	}
	s.mu.Unlock()

	s.issuer.Tick()
}

// State returns the batch job state and the end of its issuing window.
func (s *Scheduler) State() (SchedulerState, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.endTime
}

// Stop halts the scheduler. The returned context is done once running jobs, including
// the first batch, finish.
func (s *Scheduler) Stop() context.Context {
	s.mu.Lock()
	if s.state == StateRunning {
		s.state = StateStopped
	}
	s.mu.Unlock()

	cronDone := s.cron.Stop()
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-cronDone.Done()
		s.initial.Wait()
		cancel()
	}()
	return ctx
}
