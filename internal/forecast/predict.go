package forecast

import (
	"fmt"
	"time"

	"sales-pulse/internal/logger"
	"sales-pulse/internal/store"
)

// ForecastPoint is one predicted day.
type ForecastPoint struct {
	Date             string  `json:"date"`
	PredictedRevenue float64 `json:"predicted_revenue"`
}

// ForecastResult is the remainder-of-month forecast.
type ForecastResult struct {
	Status      string          `json:"status"`
	SalesType   string          `json:"sales_type"`
	Points      []ForecastPoint `json:"daily_predictions"`
	Total       float64         `json:"total"`
	ModelMAE    float64         `json:"model_mae"`
	ModelMAPE   float64         `json:"model_mape"`
	GeneratedAt string          `json:"generated_at"`
}

// Forecast predicts every remaining day of the current month and persists the
// batch so the trend endpoint and restarts can serve it without the model.
// The loaded model only serves the sales type it was trained on.
func (f *Forecaster) Forecast(salesType string) (*ForecastResult, error) {
	st, err := normalizeSalesType(salesType)
	if err != nil {
		return nil, err
	}

	f.mu.RLock()
	art := f.art
	f.mu.RUnlock()
	if art == nil || art.Model.SalesType != st {
		return nil, ErrNotReady
	}

	dates, values, err := f.loadSeries(st)
	if err != nil {
		return nil, fmt.Errorf("load series: %w", err)
	}
	if len(dates) == 0 {
		return &ForecastResult{Status: StatusInsufficientData, SalesType: st}, nil
	}

	// The series ends today; the horizon is tomorrow through month-end.
	points := walkForward(art, dates, values, monthEnd(dates[len(dates)-1]))

	res := &ForecastResult{
		Status:      StatusOK,
		SalesType:   st,
		Points:      points,
		ModelMAE:    art.Model.ValidationMAE,
		ModelMAPE:   art.Model.ValidationMAPE,
		GeneratedAt: f.now().UTC().Format(time.RFC3339),
	}

	preds := make([]store.Prediction, len(points))
	for i, pt := range points {
		res.Total += pt.PredictedRevenue
		preds[i] = store.Prediction{
			PredictionDate:   pt.Date,
			SalesType:        st,
			PredictedRevenue: pt.PredictedRevenue,
			ModelMAE:         art.Model.ValidationMAE,
			ModelMAPE:        art.Model.ValidationMAPE,
		}
	}
	if len(preds) > 0 {
		if _, err := f.store.SavePredictions(preds); err != nil {
			logger.Warn("FORECAST", fmt.Sprintf("predictions not persisted: %v", err))
		}
	}
	return res, nil
}

// walkForward predicts every day after the series end through to, feeding
// each prediction back into the series so the next day's lags see it.
func walkForward(art *artifacts, dates []time.Time, values []float64, to time.Time) []ForecastPoint {
	dates = append([]time.Time(nil), dates...)
	values = append([]float64(nil), values...)

	var out []ForecastPoint
	for d := dates[len(dates)-1].AddDate(0, 0, 1); !d.After(to); d = d.AddDate(0, 0, 1) {
		i := len(values)
		dates = append(dates, d)
		row := featureRow(dates, values, i)
		v := correctedPrediction(art.Model, art.ClipRatio, art.DOW, row)
		out = append(out, ForecastPoint{Date: d.Format("2006-01-02"), PredictedRevenue: v})
		values = append(values, v)
	}
	return out
}

// monthEnd returns the last day of d's month.
func monthEnd(d time.Time) time.Time {
	return time.Date(d.Year(), d.Month(), 1, 0, 0, 0, 0, d.Location()).AddDate(0, 1, -1)
}
