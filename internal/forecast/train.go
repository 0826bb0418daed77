package forecast

import (
	"fmt"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"sales-pulse/internal/logger"
)

// TrainResult reports one training run.
type TrainResult struct {
	Status         string     `json:"status"`
	SalesType      string     `json:"sales_type"`
	Rows           int        `json:"rows"`
	Rounds         int        `json:"rounds"`
	ClipRatio      float64    `json:"clip_ratio"`
	ValidationMAE  float64    `json:"validation_mae"`
	ValidationMAPE float64    `json:"validation_mape"`
	DOWCorrections [7]float64 `json:"dow_corrections"`
	TrainedAt      string     `json:"trained_at"`
}

// Train loads the series, fits a fresh model and replaces both the on-disk
// artifacts and the served model. Runs on the worker goroutine in production;
// tests call it directly.
func (f *Forecaster) Train(salesType string) (*TrainResult, error) {
	st, err := normalizeSalesType(salesType)
	if err != nil {
		return nil, err
	}

	dates, values, err := f.loadSeries(st)
	if err != nil {
		return nil, fmt.Errorf("load series: %w", err)
	}

	tr, rows := trainOnSeries(dates, values, st, loadParams(f.dataDir), f.now().UTC())
	if tr == nil {
		return &TrainResult{Status: StatusInsufficientData, SalesType: st, Rows: rows}, nil
	}

	if err := saveArtifacts(f.dataDir, tr); err != nil {
		logger.Warn("FORECAST", fmt.Sprintf("artifacts not saved: %v", err))
	}

	f.mu.Lock()
	f.art = tr
	f.mu.Unlock()

	return &TrainResult{
		Status:         StatusOK,
		SalesType:      st,
		Rows:           rows,
		Rounds:         len(tr.Model.Trees),
		ClipRatio:      tr.ClipRatio,
		ValidationMAE:  tr.Model.ValidationMAE,
		ValidationMAPE: tr.Model.ValidationMAPE,
		DOWCorrections: tr.DOW,
		TrainedAt:      tr.Model.TrainedAt.Format(time.RFC3339),
	}, nil
}

// trainOnSeries runs the winsorize + boost + day-of-week pipeline on an
// in-memory series. Shared by Train and the CV folds. Returns nil when fewer
// than minTrainRows usable rows exist; the int is the usable count either way.
func trainOnSeries(dates []time.Time, values []float64, salesType string, p trainParams, trainedAt time.Time) (*artifacts, int) {
	usable := len(values) - minTrainIndex
	if usable < minTrainRows {
		if usable < 0 {
			usable = 0
		}
		return nil, usable
	}

	matrix := buildMatrix(dates, values)

	// Validation is the series tail so early stopping scores the same
	// regime the model is about to predict.
	valFrom := len(values) - valWindowDays
	var trainX, valX [][]float64
	var trainY, valY []float64
	for i := minTrainIndex; i < len(values); i++ {
		if i >= valFrom {
			valX = append(valX, matrix[i])
			valY = append(valY, values[i])
		} else {
			trainX = append(trainX, matrix[i])
			trainY = append(trainY, values[i])
		}
	}

	clipped, clipRatio := winsorize(trainY)
	model, _ := fitBoosted(trainX, clipped, valX, valY, clipRatio, p)
	dow := dowCorrections(model, clipRatio, valX, valY)

	model.SalesType = salesType
	model.TrainedAt = trainedAt
	model.ValidationMAE, model.ValidationMAPE = validationScores(model, clipRatio, dow, valX, valY)

	return &artifacts{Model: model, ClipRatio: clipRatio, DOW: dow}, usable
}

// winsorize caps training targets at their 99th percentile and returns the
// clip ratio that restores the expected level at prediction time. Spike-free
// data clips nothing and keeps the ratio at 1.0.
func winsorize(raw []float64) ([]float64, float64) {
	sorted := append([]float64(nil), raw...)
	sort.Float64s(sorted)
	limit := stat.Quantile(0.99, stat.Empirical, sorted, nil)

	clipped := make([]float64, len(raw))
	for i, v := range raw {
		if v > limit {
			clipped[i] = limit
		} else {
			clipped[i] = v
		}
	}

	rawMean := stat.Mean(raw, nil)
	clipMean := stat.Mean(clipped, nil)
	if clipMean <= 0 || rawMean <= clipMean {
		return clipped, 1.0
	}
	return clipped, rawMean / clipMean
}

// dowCorrections computes the per-weekday multiplicative residual on the
// validation tail. Weekdays without samples stay at the neutral 1.0.
func dowCorrections(m *boostedModel, clipRatio float64, valX [][]float64, valY []float64) [7]float64 {
	var sumActual, sumPred [7]float64
	var count [7]int
	for i, row := range valX {
		d := int(row[0]) // day_of_week is the first feature column
		sumActual[d] += valY[i]
		sumPred[d] += m.predict(row) * clipRatio
		count[d]++
	}

	var dow [7]float64
	for d := range dow {
		dow[d] = 1
		if count[d] == 0 || sumPred[d] <= 0 {
			continue
		}
		dow[d] = clampRange(sumActual[d]/sumPred[d], 0.70, 1.30)
	}
	return dow
}

// validationScores reports MAE and MAPE of the fully corrected predictor,
// the same multiplier chain walk-forward prediction applies.
func validationScores(m *boostedModel, clipRatio float64, dow [7]float64, valX [][]float64, valY []float64) (mae, mape float64) {
	if len(valY) == 0 {
		return 0, 0
	}
	var absSum, pctSum float64
	pctDays := 0
	for i, row := range valX {
		p := correctedPrediction(m, clipRatio, dow, row)
		diff := p - valY[i]
		if diff < 0 {
			diff = -diff
		}
		absSum += diff
		if valY[i] > 0 {
			pctSum += diff / valY[i] * 100
			pctDays++
		}
	}
	mae = absSum / float64(len(valY))
	if pctDays > 0 {
		mape = pctSum / float64(pctDays)
	}
	return mae, mape
}

// correctedPrediction applies the post-model multiplier chain: clip ratio,
// then the day-of-week correction, then the non-negativity clamp.
func correctedPrediction(m *boostedModel, clipRatio float64, dow [7]float64, row []float64) float64 {
	v := m.predict(row) * clipRatio * dow[int(row[0])]
	if v < 0 {
		return 0
	}
	return v
}

// clampRange bounds v to [lo, hi].
func clampRange(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
