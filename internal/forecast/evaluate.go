package forecast

import (
	"fmt"
	"math"
	"time"
)

// FoldMetrics scores one held-out calendar month.
type FoldMetrics struct {
	Fold           int     `json:"fold"`
	StartDate      string  `json:"start_date"`
	EndDate        string  `json:"end_date"`
	Days           int     `json:"days"`
	MAE            float64 `json:"mae"`
	MAPE           float64 `json:"mape"`
	WAPE           float64 `json:"wape"`
	Naive7dMAE     float64 `json:"naive_7d_mae"`
	Naive7dWAPE    float64 `json:"naive_7d_wape"`
	WeekdayAvgMAE  float64 `json:"weekday_avg_12w_mae"`
	WeekdayAvgWAPE float64 `json:"weekday_avg_12w_wape"`
}

// EvalSummary averages the folds and counts where the model won.
type EvalSummary struct {
	Folds             int     `json:"folds"`
	AvgMAE            float64 `json:"avg_mae"`
	AvgMAPE           float64 `json:"avg_mape"`
	AvgWAPE           float64 `json:"avg_wape"`
	AvgNaive7dWAPE    float64 `json:"avg_naive_7d_wape"`
	AvgWeekdayAvgWAPE float64 `json:"avg_weekday_avg_12w_wape"`
	ModelBeatsNaive   int     `json:"model_beats_naive"`
}

// EvalResult is the walk-forward CV report.
type EvalResult struct {
	Status      string        `json:"status"`
	SalesType   string        `json:"sales_type"`
	Folds       []FoldMetrics `json:"folds"`
	Summary     EvalSummary   `json:"summary"`
	EvaluatedAt string        `json:"evaluated_at"`
}

// Evaluate runs walk-forward CV over the trailing complete months. Each fold
// trains only on data strictly before the fold, then predicts the whole month
// the same way production prediction does. Runs on the worker goroutine in
// production; tests call it directly.
func (f *Forecaster) Evaluate(salesType string) (*EvalResult, error) {
	st, err := normalizeSalesType(salesType)
	if err != nil {
		return nil, err
	}
	dates, values, err := f.loadSeries(st)
	if err != nil {
		return nil, fmt.Errorf("load series: %w", err)
	}
	return evaluateSeries(dates, values, st, loadParams(f.dataDir), evalFolds, f.now().UTC()), nil
}

func evaluateSeries(dates []time.Time, values []float64, salesType string, p trainParams, folds int, evaluatedAt time.Time) *EvalResult {
	res := &EvalResult{
		Status:      StatusInsufficientData,
		SalesType:   salesType,
		EvaluatedAt: evaluatedAt.Format(time.RFC3339),
	}
	if len(dates) == 0 {
		return res
	}

	last := dates[len(dates)-1]
	currentMonth := time.Date(last.Year(), last.Month(), 1, 0, 0, 0, 0, last.Location())

	for k := folds; k >= 1; k-- {
		foldStart := currentMonth.AddDate(0, -k, 0)
		foldEnd := foldStart.AddDate(0, 1, -1)

		i0 := dayIndex(dates, foldStart)
		iEnd := dayIndex(dates, foldEnd)
		if i0 <= 0 || iEnd < 0 {
			continue
		}

		art, _ := trainOnSeries(dates[:i0], values[:i0], salesType, p, evaluatedAt)
		if art == nil {
			continue
		}

		points := walkForward(art, dates[:i0], values[:i0], foldEnd)
		pred := make([]float64, len(points))
		for j, pt := range points {
			pred[j] = pt.PredictedRevenue
		}
		actual := values[i0 : i0+len(pred)]

		naive := naive7dBaseline(values, i0, len(pred))
		weekday := weekdayAvgBaseline(dates, values, i0, len(pred))

		res.Folds = append(res.Folds, FoldMetrics{
			Fold:           folds - k + 1,
			StartDate:      foldStart.Format("2006-01-02"),
			EndDate:        foldEnd.Format("2006-01-02"),
			Days:           len(pred),
			MAE:            maeOf(pred, actual),
			MAPE:           mapeOf(pred, actual),
			WAPE:           wapeOf(pred, actual),
			Naive7dMAE:     maeOf(naive, actual),
			Naive7dWAPE:    wapeOf(naive, actual),
			WeekdayAvgMAE:  maeOf(weekday, actual),
			WeekdayAvgWAPE: wapeOf(weekday, actual),
		})
	}

	if len(res.Folds) == 0 {
		return res
	}
	res.Status = StatusOK
	res.Summary = summarize(res.Folds)
	return res
}

// dayIndex locates a UTC-midnight date in the contiguous series, -1 when it
// falls outside.
func dayIndex(dates []time.Time, d time.Time) int {
	if len(dates) == 0 {
		return -1
	}
	i := int(d.Sub(dates[0]).Hours() / 24)
	if i < 0 || i >= len(dates) {
		return -1
	}
	return i
}

// naive7dBaseline repeats the revenue from seven days prior. Like the model
// it never reads actuals inside the fold: once the lookback crosses the fold
// start it feeds on its own predictions, which repeats the last pre-fold week.
func naive7dBaseline(values []float64, i0, days int) []float64 {
	out := make([]float64, days)
	for j := range out {
		if k := i0 + j - 7; k < i0 {
			if k >= 0 {
				out[j] = values[k]
			}
		} else {
			out[j] = out[j-7]
		}
	}
	return out
}

// weekdayAvgBaseline predicts each fold day with the mean of the same weekday
// over the 12 weeks before the fold.
func weekdayAvgBaseline(dates []time.Time, values []float64, i0, days int) []float64 {
	var sum [7]float64
	var count [7]int
	lo := i0 - 84
	if lo < 0 {
		lo = 0
	}
	for k := lo; k < i0; k++ {
		w := int(dates[k].Weekday())
		sum[w] += values[k]
		count[w]++
	}

	out := make([]float64, days)
	for j := range out {
		w := int(dates[i0+j].Weekday())
		if count[w] > 0 {
			out[j] = sum[w] / float64(count[w])
		}
	}
	return out
}

func summarize(folds []FoldMetrics) EvalSummary {
	s := EvalSummary{Folds: len(folds)}
	for _, f := range folds {
		s.AvgMAE += f.MAE
		s.AvgMAPE += f.MAPE
		s.AvgWAPE += f.WAPE
		s.AvgNaive7dWAPE += f.Naive7dWAPE
		s.AvgWeekdayAvgWAPE += f.WeekdayAvgWAPE
		if f.WAPE < f.Naive7dWAPE {
			s.ModelBeatsNaive++
		}
	}
	n := float64(len(folds))
	s.AvgMAE /= n
	s.AvgMAPE /= n
	s.AvgWAPE /= n
	s.AvgNaive7dWAPE /= n
	s.AvgWeekdayAvgWAPE /= n
	return s
}

// maeOf is mean absolute error.
func maeOf(pred, actual []float64) float64 {
	if len(actual) == 0 {
		return 0
	}
	var sum float64
	for i := range actual {
		sum += math.Abs(pred[i] - actual[i])
	}
	return sum / float64(len(actual))
}

// mapeOf is mean absolute percentage error over days with actual > 0.
func mapeOf(pred, actual []float64) float64 {
	var sum float64
	days := 0
	for i := range actual {
		if actual[i] > 0 {
			sum += math.Abs(pred[i]-actual[i]) / actual[i] * 100
			days++
		}
	}
	if days == 0 {
		return 0
	}
	return sum / float64(days)
}

// wapeOf is the absolute-error sum over the actual sum, as a percent. Less
// sensitive than MAPE to near-zero days.
func wapeOf(pred, actual []float64) float64 {
	var errSum, actSum float64
	for i := range actual {
		errSum += math.Abs(pred[i] - actual[i])
		actSum += actual[i]
	}
	if actSum <= 0 {
		return 0
	}
	return errSum / actSum * 100
}
