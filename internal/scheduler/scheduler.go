// Package scheduler runs synchronization rounds over the configured
// communities with bounded parallelism.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/JakeFAU/fedisync/internal/clock"
	"github.com/JakeFAU/fedisync/internal/feed"
	"github.com/JakeFAU/fedisync/internal/metrics"
	"github.com/JakeFAU/fedisync/internal/notify"
	"github.com/JakeFAU/fedisync/internal/settings"
	"github.com/JakeFAU/fedisync/internal/status"
)

const (
	// ServiceName prefixes lifecycle notifications.
	ServiceName = "fedisync"
	// MaxParallel caps the number of communities processed at once.
	MaxParallel = 4
	// DefaultScanDelayMinutes separates rounds when unset.
	DefaultScanDelayMinutes = 10
)

// CommunitySource lists the communities to synchronize.
type CommunitySource interface {
	ListCommunities(ctx context.Context) ([]feed.Community, error)
}

// Processor performs the work for one community.
type Processor interface {
	Process(ctx context.Context, community feed.Community) error
}

// Notifier receives operator-facing events.
type Notifier interface {
	Push(ctx context.Context, title, body string, severity notify.Severity)
}

// Scheduler alternates rounds and cooldowns until its context ends.
type Scheduler struct {
	communities CommunitySource
	processor   Processor
	registry    *status.Registry
	settings    settings.Reader
	notifier    Notifier
	clock       clock.Clock
	logger      *zap.Logger

	cpus      func() int
	delayUnit time.Duration
}

// New wires a Scheduler.
func New(
	communities CommunitySource,
	processor Processor,
	registry *status.Registry,
	store settings.Reader,
	notifier Notifier,
	clk clock.Clock,
	logger *zap.Logger,
) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clk == nil {
		clk = clock.System{}
	}
	return &Scheduler{
		communities: communities,
		processor:   processor,
		registry:    registry,
		settings:    store,
		notifier:    notifier,
		clock:       clk,
		logger:      logger,
		cpus:        runtime.NumCPU,
		delayUnit:   time.Minute,
	}
}

// Run emits the startup event, loops over rounds and cooldowns until ctx is
// canceled, then emits the shutdown event.
func (s *Scheduler) Run(ctx context.Context) {
	title := ServiceName + " Information"
	s.notifier.Push(ctx, title, ServiceName+" service started!", notify.SeverityInformation)
	defer s.notifier.Push(context.WithoutCancel(ctx), title, ServiceName+" service stopped!", notify.SeverityInformation)

	for ctx.Err() == nil {
		s.safeRound(ctx)
		if ctx.Err() != nil {
			return
		}
		s.Cooldown(ctx)
	}
}

// safeRound reports unexpected round failures at Critical and keeps the
// loop alive.
func (s *Scheduler) safeRound(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.critical(ctx, fmt.Errorf("round panicked: %v", r))
		}
	}()
	if err := s.RunRound(ctx); err != nil && ctx.Err() == nil {
		s.critical(ctx, err)
	}
}

// RunRound processes every community once. Disabled sync and empty
// community lists end the round immediately. Cancellation of the round
// scope stops dispatch and is not an error.
func (s *Scheduler) RunRound(ctx context.Context) error {
	if !settings.Bool(ctx, s.settings, settings.SyncEnabled, true) {
		s.logger.Debug("sync disabled, skipping round")
		return nil
	}
	communities, err := s.communities.ListCommunities(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("list communities: %w", err)
	}
	if len(communities) == 0 {
		s.logger.Debug("no communities configured, skipping round")
		return nil
	}

	ordered := make([]feed.Community, len(communities))
	copy(ordered, communities)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Name < ordered[j].Name })

	start := s.clock.Now()
	roundCtx := s.registry.BeginRound(ctx, len(ordered), start)
	metrics.SetRoundProgress(0)
	limit := s.Limit(ctx)
	s.logger.Info("round started", zap.Int("communities", len(ordered)), zap.Int("parallel", limit))

	sem := semaphore.NewWeighted(int64(limit))
	var wg sync.WaitGroup
	for _, community := range ordered {
		if roundCtx.Err() != nil {
			break
		}
		if err := sem.Acquire(roundCtx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(c feed.Community) {
			defer wg.Done()
			defer sem.Release(1)
			s.work(roundCtx, c)
		}(community)
	}
	wg.Wait()

	outcome := "completed"
	if roundCtx.Err() != nil {
		outcome = "canceled"
		if ctx.Err() == nil {
			s.notifier.Push(ctx, ServiceName+" Information", "Canceled processing.", notify.SeverityDebug)
		}
	}
	metrics.ObserveRound(outcome, s.clock.Now().Sub(start))
	s.logger.Info("round finished",
		zap.String("outcome", outcome),
		zap.Int64("completed", s.registry.Round().Percent),
	)
	return nil
}

// work processes one community inside its own scope. The scan entry is
// removed and the round counter advanced whatever the outcome.
func (s *Scheduler) work(roundCtx context.Context, community feed.Community) {
	scanCtx, ok := s.registry.StartScan(roundCtx, community, s.clock.Now())
	if !ok {
		s.logger.Warn("community already being processed", zap.String("origin", community.OriginURL))
		metrics.SetRoundProgress(s.registry.IncrementPercent())
		return
	}
	metrics.IncActiveScans()
	defer func() {
		metrics.DecActiveScans()
		s.registry.FinishScan(community)
		metrics.SetRoundProgress(s.registry.IncrementPercent())
	}()
	defer func() {
		if r := recover(); r != nil {
			metrics.ObserveScan("panicked")
			s.notifier.Push(roundCtx,
				fmt.Sprintf("There was a problem while processing the community %q", community.Name),
				fmt.Sprintf("panic: %v (community %q at %s)", r, community.Name, community.OriginURL),
				notify.SeverityCritical)
		}
	}()

	err := s.processor.Process(scanCtx, community)
	switch {
	case err == nil:
		metrics.ObserveScan("succeeded")
	case errors.Is(err, context.Canceled) || scanCtx.Err() != nil:
		metrics.ObserveScan("canceled")
		s.logger.Debug(fmt.Sprintf("Canceled processing of %q community from %q.", community.Name, community.OriginURL))
	default:
		metrics.ObserveScan("failed")
		s.notifier.Push(roundCtx,
			fmt.Sprintf("There was a problem while processing the community %q", community.Name),
			fmt.Sprintf("%v (community %q at %s)", err, community.Name, community.OriginURL),
			notify.SeverityError)
	}
}

// Cooldown waits for the configured delay or until the round scope is
// canceled by an operator.
func (s *Scheduler) Cooldown(ctx context.Context) {
	minutes := settings.Int(ctx, s.settings, settings.ScanDelayMinutes, DefaultScanDelayMinutes)
	if minutes < 0 {
		minutes = 0
	}
	delay := time.Duration(minutes) * s.delayUnit
	waitCtx := s.registry.BeginCooldown(ctx, s.clock.Now().Add(delay))
	metrics.SetRoundProgress(status.Idle)

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-waitCtx.Done():
		if ctx.Err() == nil {
			s.notifier.Push(ctx, ServiceName+" Information", "Canceled processing delay.", notify.SeverityDebug)
		}
	}
}

// Limit returns the configured parallelism clamped to [1, min(4, CPUs)].
func (s *Scheduler) Limit(ctx context.Context) int {
	upper := min(MaxParallel, s.cpus())
	if upper < 1 {
		upper = 1
	}
	configured := settings.Int(ctx, s.settings, settings.ParallelPostFetch, upper)
	return max(1, min(configured, upper))
}

func (s *Scheduler) critical(ctx context.Context, err error) {
	s.notifier.Push(ctx, ServiceName+" Critical", fmt.Sprintf("Error in processing loop: %v", err), notify.SeverityCritical)
}
