// Package forecast trains a gradient-boosted revenue model and serves
// walk-forward daily predictions for the rest of the current month. Training
// and evaluation are CPU-bound and run on one dedicated worker goroutine;
// request handlers only enqueue work or read finished artifacts.
package forecast

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"sales-pulse/internal/config"
	"sales-pulse/internal/logger"
	"sales-pulse/internal/store"
)

const (
	// seriesWindowDays bounds the training series; older days carry little
	// signal for next-month revenue and slow the exact-greedy splitter.
	seriesWindowDays = 780

	// minTrainIndex is the first row whose 28-day lag and rolling windows
	// are fully populated. Earlier rows train on zero-heavy columns.
	minTrainIndex = 28

	// minTrainRows is the floor of usable rows below which training refuses
	// to produce a model.
	minTrainRows = 90

	// valWindowDays is the held-out tail used for early stopping and the
	// day-of-week correction.
	valWindowDays = 60

	// evalFolds is how many trailing calendar months walk-forward CV scores.
	evalFolds = 3
)

// Statuses returned by training, prediction and evaluation entry points.
const (
	StatusOK               = "ok"
	StatusInsufficientData = "insufficient_data"
	StatusTrainingStarted  = "training_started"
	StatusAlreadyTraining  = "already_training"
	StatusEvaluating       = "evaluating"
)

// ErrNotReady means no model has been trained or restored yet.
var ErrNotReady = errors.New("forecast model not trained")

const (
	jobTrain    = "train"
	jobEvaluate = "evaluate"
)

type job struct {
	kind      string
	salesType string
}

// Forecaster owns the model, its on-disk artifacts and the worker goroutine.
type Forecaster struct {
	store   *store.Store
	dataDir string

	// Observe, when set, receives each finished training run's result
	// (trained, insufficient_data, error).
	Observe func(result string)

	jobs chan job
	busy atomic.Bool
	done chan struct{}

	mu   sync.RWMutex
	art  *artifacts
	eval *EvalResult

	now func() time.Time
}

// New restores saved artifacts when present and starts the worker. A missing
// model is not an error: the forecaster stays not ready until Train runs.
func New(st *store.Store, dataDir string) *Forecaster {
	f := &Forecaster{
		store:   st,
		dataDir: dataDir,
		jobs:    make(chan job, 1),
		done:    make(chan struct{}),
		now:     time.Now,
	}
	art, err := loadArtifacts(dataDir)
	switch {
	case err != nil:
		logger.Warn("FORECAST", fmt.Sprintf("stored model not loaded: %v", err))
	case art != nil:
		f.art = art
		logger.Info("FORECAST", fmt.Sprintf("model restored: %s, trained %s",
			art.Model.SalesType, art.Model.TrainedAt.Format("2006-01-02 15:04")))
	}
	go f.worker()
	return f
}

// Ready reports whether a model is loaded and predictions can be produced.
func (f *Forecaster) Ready() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.art != nil
}

// TrainAsync enqueues a training run and returns immediately. Only one
// training or evaluation job runs at a time; a second request while the
// worker is busy gets StatusAlreadyTraining.
func (f *Forecaster) TrainAsync(salesType string) (string, error) {
	st, err := normalizeSalesType(salesType)
	if err != nil {
		return "", err
	}
	if !f.busy.CompareAndSwap(false, true) {
		return StatusAlreadyTraining, nil
	}
	f.jobs <- job{kind: jobTrain, salesType: st}
	return StatusTrainingStarted, nil
}

// EvaluateAsync enqueues walk-forward CV on the worker. The finished result
// is available from LastEvaluation.
func (f *Forecaster) EvaluateAsync(salesType string) (string, error) {
	st, err := normalizeSalesType(salesType)
	if err != nil {
		return "", err
	}
	if !f.busy.CompareAndSwap(false, true) {
		return StatusAlreadyTraining, nil
	}
	f.jobs <- job{kind: jobEvaluate, salesType: st}
	return StatusEvaluating, nil
}

// LastEvaluation returns the most recent CV result, or nil if none ran yet.
func (f *Forecaster) LastEvaluation() *EvalResult {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.eval
}

// Close stops the worker after any job in flight finishes.
func (f *Forecaster) Close() {
	close(f.done)
}

func (f *Forecaster) worker() {
	for {
		select {
		case <-f.done:
			return
		case j := <-f.jobs:
			f.run(j)
			f.busy.Store(false)
		}
	}
}

func (f *Forecaster) run(j job) {
	started := time.Now()
	switch j.kind {
	case jobTrain:
		res, err := f.Train(j.salesType)
		if err != nil {
			logger.Error("FORECAST", fmt.Sprintf("training failed: %v", err))
			f.observe("error")
			return
		}
		if res.Status != StatusOK {
			logger.Warn("FORECAST", fmt.Sprintf("training skipped: %s (%d usable rows)", res.Status, res.Rows))
			f.observe(res.Status)
			return
		}
		f.observe("trained")
		logger.Success("FORECAST", fmt.Sprintf("trained %s model: %d rows, %d rounds, val MAE %.0f, clip %.3f in %s",
			res.SalesType, res.Rows, res.Rounds, res.ValidationMAE, res.ClipRatio, time.Since(started).Round(time.Second)))
		// Fresh model, refresh the stored horizon right away so the
		// dashboard trend picks it up without waiting for a request.
		if _, err := f.Forecast(j.salesType); err != nil {
			logger.Warn("FORECAST", fmt.Sprintf("post-train forecast failed: %v", err))
		}
	case jobEvaluate:
		res, err := f.Evaluate(j.salesType)
		if err != nil {
			logger.Error("FORECAST", fmt.Sprintf("evaluation failed: %v", err))
			return
		}
		f.mu.Lock()
		f.eval = res
		f.mu.Unlock()
		logger.Info("FORECAST", fmt.Sprintf("evaluated %s model: %d folds, avg WAPE %.1f%% in %s",
			res.SalesType, len(res.Folds), res.Summary.AvgWAPE, time.Since(started).Round(time.Second)))
	}
}

func (f *Forecaster) observe(result string) {
	if f.Observe != nil {
		f.Observe(result)
	}
}

// loadSeries builds the zero-filled daily revenue series from the first sale
// in the window through today. The series ends today on purpose: the first
// walk-forward day reads it as lag_1.
func (f *Forecaster) loadSeries(salesType string) ([]time.Time, []float64, error) {
	nowKyiv := f.now().In(config.Kyiv)
	since := nowKyiv.AddDate(0, 0, -seriesWindowDays).Format("2006-01-02")

	rows, err := f.store.DailyRevenueSeries(salesType, since)
	if err != nil {
		return nil, nil, err
	}
	if len(rows) == 0 {
		return nil, nil, nil
	}

	byDate := make(map[string]float64, len(rows))
	for _, r := range rows {
		byDate[r.Date] = r.Revenue
	}

	// Parsed in UTC on purpose: Kyiv DST would make some local days 23 or
	// 25 hours long and break the day-step arithmetic.
	start, err := time.Parse("2006-01-02", rows[0].Date)
	if err != nil {
		return nil, nil, fmt.Errorf("bad series date %q: %w", rows[0].Date, err)
	}
	end, err := time.Parse("2006-01-02", nowKyiv.Format("2006-01-02"))
	if err != nil {
		return nil, nil, err
	}

	var dates []time.Time
	var values []float64
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		dates = append(dates, d)
		values = append(values, byDate[d.Format("2006-01-02")])
	}
	return dates, values, nil
}

// normalizeSalesType defaults to retail, the sales type the dashboard runs on.
func normalizeSalesType(s string) (string, error) {
	switch s {
	case "":
		return store.SalesTypeRetail, nil
	case store.SalesTypeRetail, store.SalesTypeB2B, store.SalesTypeAll:
		return s, nil
	}
	return "", fmt.Errorf("unknown sales type %q", s)
}
