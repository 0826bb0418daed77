// Package scheduler drives the background jobs: a cron table for cleanups,
// nightly maintenance and training, plus the adaptive sync loop that re-arms
// itself from the engine's backoff interval.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"sales-pulse/internal/bus"
	"sales-pulse/internal/cache"
	"sales-pulse/internal/config"
	"sales-pulse/internal/forecast"
	"sales-pulse/internal/logger"
	"sales-pulse/internal/query"
	"sales-pulse/internal/store"
	"sales-pulse/internal/syncer"
)

const (
	// initialSyncDelay gives the HTTP server a moment to come up before the
	// first order cycle.
	initialSyncDelay = 10 * time.Second
	// syncCycleBudget bounds one cycle; a cold backlog crawl can take a while.
	syncCycleBudget = 10 * time.Minute

	staleClientAge    = 10 * time.Minute
	conversationAge   = 30 * time.Minute
	historyRetention  = 30 // days of inventory snapshots
	predictionHorizon = 45 // days of kept forecast rows
	inactiveUserAge   = 45 * 24 * time.Hour
)

// milestoneThresholds are announced highest-first so a single big day jumps
// straight to the top one it crossed.
var milestoneThresholds = []float64{100, 90, 75, 50}

// Pruner drops stale entries and reports how many were dropped. The API's
// conversation store satisfies it.
type Pruner interface {
	Prune(maxIdle time.Duration) int
}

// Scheduler owns the cron table and the sync loop goroutine.
type Scheduler struct {
	cron *cron.Cron

	store         *store.Store
	bus           *bus.Bus
	cache         *cache.Cache
	query         *query.Engine
	sync          *syncer.Engine
	forecast      *forecast.Forecaster
	conversations Pruner

	stop chan struct{}
	done chan struct{}

	now func() time.Time
}

// New builds the job table. Overlapping triggers of the same job are dropped
// with a warning, never queued.
func New(st *store.Store, b *bus.Bus, c *cache.Cache, q *query.Engine, sy *syncer.Engine, f *forecast.Forecaster, conversations Pruner) (*Scheduler, error) {
	s := &Scheduler{
		cron: cron.New(
			cron.WithLocation(config.Kyiv),
			cron.WithChain(cron.SkipIfStillRunning(cronLogger{})),
		),
		store:         st,
		bus:           b,
		cache:         c,
		query:         q,
		sync:          sy,
		forecast:      f,
		conversations: conversations,
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
		now:           time.Now,
	}

	jobs := []struct {
		spec string
		name string
		fn   func()
	}{
		{"*/10 * * * *", "cleanup", s.cleanupJob},
		{"0 * * * *", "hourly prune", s.hourlyPruneJob},
		{"30 23 * * *", "nightly", s.nightlyJob},
		{"0 4 * * *", "user revocation", s.revokeJob},
	}
	for _, j := range jobs {
		if _, err := s.cron.AddFunc(j.spec, j.fn); err != nil {
			return nil, fmt.Errorf("schedule %s: %w", j.name, err)
		}
	}
	return s, nil
}

// Start launches the cron table and the adaptive sync loop.
func (s *Scheduler) Start() {
	s.cron.Start()
	go s.syncLoop()
	logger.Info("Scheduler", fmt.Sprintf("%d jobs scheduled, sync loop arms in %s", len(s.cron.Entries()), initialSyncDelay))
}

// Stop halts the sync loop and waits for any running cron job to finish.
func (s *Scheduler) Stop() {
	close(s.stop)
	<-s.cron.Stop().Done()
	<-s.done
}

// syncLoop runs order cycles forever, re-arming the timer with the engine's
// current backoff interval after each one.
func (s *Scheduler) syncLoop() {
	defer close(s.done)
	timer := time.NewTimer(initialSyncDelay)
	defer timer.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-timer.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), syncCycleBudget)
		_, err := s.sync.RunOnce(ctx)
		cancel()
		if err != nil && !errors.Is(err, syncer.ErrAlreadyRunning) {
			logger.Warn("Scheduler", fmt.Sprintf("Sync cycle failed: %v", err))
		}
		s.bus.BroadcastAll(bus.EventSyncStatus, s.sync.Status())

		timer.Reset(s.sync.NextInterval())
	}
}

// cleanupJob evicts idle WS clients, prunes chat context and clears the
// aggregate cache.
func (s *Scheduler) cleanupJob() {
	evicted := s.bus.CleanupStale(staleClientAge)
	pruned := 0
	if s.conversations != nil {
		pruned = s.conversations.Prune(conversationAge)
	}
	s.cache.Flush()
	if evicted > 0 || pruned > 0 {
		logger.Info("Scheduler", fmt.Sprintf("Cleanup evicted %d clients, pruned %d conversations", evicted, pruned))
	}
}

func (s *Scheduler) hourlyPruneJob() {
	if _, err := s.store.PruneInventoryHistory(historyRetention); err != nil {
		logger.Error("Scheduler", fmt.Sprintf("Inventory history prune failed: %v", err))
	}
	if _, err := s.store.PruneStalePredictions(predictionHorizon); err != nil {
		logger.Error("Scheduler", fmt.Sprintf("Prediction prune failed: %v", err))
	}
}

// nightlyJob rebuilds the derived layers from scratch, snapshots inventory,
// refreshes the learned seasonality and kicks off training. Each step logs
// its own failure and the job moves on; a broken step must not starve the
// rest of the night.
func (s *Scheduler) nightlyJob() {
	logger.Section("Nightly maintenance")

	s.checkMilestones()

	if err := s.store.RefreshSilverOrders(nil); err != nil {
		logger.Error("Scheduler", fmt.Sprintf("Silver rebuild failed: %v", err))
	} else {
		if _, err := s.store.RefreshUTMSilver(); err != nil {
			logger.Error("Scheduler", fmt.Sprintf("UTM refresh failed: %v", err))
		}
		if err := s.store.RefreshGold(); err != nil {
			logger.Error("Scheduler", fmt.Sprintf("Gold refresh failed: %v", err))
		}
	}

	if _, err := s.store.RecordInventorySnapshot(); err != nil {
		logger.Error("Scheduler", fmt.Sprintf("Inventory snapshot failed: %v", err))
	}
	if err := s.store.RecomputeSeasonalIndices(); err != nil {
		logger.Error("Scheduler", fmt.Sprintf("Seasonal recompute failed: %v", err))
	}
	if err := s.store.RecomputeWeeklyPatterns(); err != nil {
		logger.Error("Scheduler", fmt.Sprintf("Weekly pattern recompute failed: %v", err))
	}
	if err := s.store.RecomputeGrowthMetrics(); err != nil {
		logger.Error("Scheduler", fmt.Sprintf("Growth recompute failed: %v", err))
	}

	s.cache.Flush()

	if status, err := s.forecast.TrainAsync(store.SalesTypeRetail); err != nil {
		logger.Error("Scheduler", fmt.Sprintf("Training kickoff failed: %v", err))
	} else {
		logger.Info("Scheduler", fmt.Sprintf("Nightly training: %s", status))
	}
}

func (s *Scheduler) revokeJob() {
	n, err := s.store.RevokeInactiveUsers(inactiveUserAge)
	if err != nil {
		logger.Error("Scheduler", fmt.Sprintf("User revocation failed: %v", err))
		return
	}
	if n > 0 {
		logger.Warn("Scheduler", fmt.Sprintf("Revoked %d inactive users", n))
	}
}

// checkMilestones announces the highest goal-progress threshold newly crossed
// this period, once per (period, sales type).
func (s *Scheduler) checkMilestones() {
	day := s.now().In(config.Kyiv)
	periodStart := time.Date(day.Year(), day.Month(), 1, 0, 0, 0, 0, config.Kyiv).Format("2006-01-02")

	goals, err := s.store.ListGoals(query.GoalPeriodMonth, "")
	if err != nil {
		logger.Error("Scheduler", fmt.Sprintf("Milestone check failed: %v", err))
		return
	}

	for _, g := range goals {
		if g.PeriodStart != periodStart {
			continue
		}
		p, err := s.query.Progress(query.GoalPeriodMonth, g.SalesType)
		if err != nil || !p.HasGoal {
			continue
		}

		var crossed float64
		for _, th := range milestoneThresholds {
			if p.Percent >= th {
				crossed = th
				break
			}
		}
		if crossed == 0 {
			continue
		}

		key := store.MetaMilestone + ":" + g.SalesType
		if prevPeriod, prevTh := s.lastMilestone(key); prevPeriod == periodStart && prevTh >= crossed {
			continue
		}
		mark := fmt.Sprintf("%s:%.0f", periodStart, crossed)
		if err := s.store.SetSyncMeta(key, mark); err != nil {
			logger.Error("Scheduler", fmt.Sprintf("Milestone mark failed: %v", err))
			continue
		}

		s.bus.BroadcastAll(bus.EventMilestoneReached, map[string]interface{}{
			"period_type":  g.PeriodType,
			"period_start": g.PeriodStart,
			"sales_type":   g.SalesType,
			"milestone":    crossed,
			"percent":      p.Percent,
			"actual":       p.Actual,
			"target":       p.Target,
		})
		logger.Success("Scheduler", fmt.Sprintf("Milestone %.0f%% reached for %s %s goal", crossed, g.PeriodStart, g.SalesType))
	}
}

// lastMilestone parses a stored "period:threshold" mark; zeros when absent
// or malformed.
func (s *Scheduler) lastMilestone(key string) (string, float64) {
	v, ok, err := s.store.GetSyncMeta(key)
	if err != nil || !ok {
		return "", 0
	}
	i := strings.LastIndex(v, ":")
	if i < 0 {
		return "", 0
	}
	th, err := strconv.ParseFloat(v[i+1:], 64)
	if err != nil {
		return "", 0
	}
	return v[:i], th
}

// cronLogger routes the cron chain's messages into the service log. The only
// traffic here is SkipIfStillRunning announcing a dropped trigger.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	if len(keysAndValues) > 0 {
		msg = fmt.Sprintf("%s %v", msg, keysAndValues)
	}
	logger.Warn("Scheduler", msg)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	logger.Error("Scheduler", fmt.Sprintf("%s: %v %v", msg, err, keysAndValues))
}
