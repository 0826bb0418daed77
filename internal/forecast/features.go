package forecast

import (
	"math"
	"time"

	"gonum.org/v1/gonum/stat"
)

// featureCount is fixed: train and predict must agree on the matrix shape,
// and stored models refuse to load against a different feature list.
const featureCount = 31

// FeatureNames returns the model inputs in column order.
func FeatureNames() []string {
	return []string{
		"day_of_week", "month", "day_of_month", "week_of_year", "quarter",
		"month_sin", "month_cos", "dow_sin", "dow_cos", "dom_sin", "dom_cos",
		"is_weekend", "is_month_start", "is_month_end",
		"lag_1", "lag_2", "lag_3", "lag_7", "lag_14", "lag_28", "lag_365",
		"diff_1",
		"rolling_mean_7", "rolling_mean_14", "rolling_mean_28",
		"rolling_std_7", "rolling_min_7", "rolling_max_7",
		"ratio_7_28", "yoy_ratio", "trend_index",
	}
}

// featureRow computes the model inputs for day i. Only values[j] with j < i
// are read, so the same function serves training rows and walk-forward days
// whose revenue is not known yet; dates[i] must already exist.
func featureRow(dates []time.Time, values []float64, i int) []float64 {
	d := dates[i]
	dow := float64(d.Weekday())
	month := float64(d.Month())
	dom := float64(d.Day())
	_, week := d.ISOWeek()
	quarter := float64((int(d.Month())-1)/3 + 1)

	row := make([]float64, 0, featureCount)
	row = append(row,
		dow, month, dom, float64(week), quarter,
		math.Sin(2*math.Pi*month/12), math.Cos(2*math.Pi*month/12),
		math.Sin(2*math.Pi*dow/7), math.Cos(2*math.Pi*dow/7),
		math.Sin(2*math.Pi*dom/31), math.Cos(2*math.Pi*dom/31),
		boolFeature(d.Weekday() == time.Saturday || d.Weekday() == time.Sunday),
		boolFeature(d.Day() == 1),
		boolFeature(d.AddDate(0, 0, 1).Day() == 1),
	)

	lag1 := lag(values, i, 1)
	row = append(row, lag1, lag(values, i, 2), lag(values, i, 3),
		lag(values, i, 7), lag(values, i, 14), lag(values, i, 28), lag(values, i, 365))
	row = append(row, lag1-lag(values, i, 2))

	mean7 := rollingMean(values, i, 7)
	mean28 := rollingMean(values, i, 28)
	row = append(row, mean7, rollingMean(values, i, 14), mean28)
	row = append(row, rollingStd(values, i, 7), rollingMin(values, i, 7), rollingMax(values, i, 7))

	ratio := 0.0
	if mean28 > 0 {
		ratio = mean7 / mean28
	}
	row = append(row, ratio, yoyRatio(values, i), float64(i))

	sanitizeRow(row)
	return row
}

// buildMatrix turns the whole series into one feature row per day. Rows
// before minTrainIndex carry zero-heavy lag columns; callers drop them.
func buildMatrix(dates []time.Time, values []float64) [][]float64 {
	rows := make([][]float64, len(values))
	for i := range values {
		rows[i] = featureRow(dates, values, i)
	}
	return rows
}

// sanitizeRow replaces NaN and Inf cells so the tree splitter always sees
// comparable numbers.
func sanitizeRow(row []float64) {
	for k, v := range row {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			row[k] = 0
		}
	}
}

func boolFeature(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// lag returns revenue n days before day i, 0 when the series is too short.
func lag(values []float64, i, n int) float64 {
	if i-n < 0 {
		return 0
	}
	return values[i-n]
}

// rollingMean averages the n days ending the day before i. Partial windows
// return 0 and stay confined to the warm-up rows training drops.
func rollingMean(values []float64, i, n int) float64 {
	if i-n < 0 {
		return 0
	}
	return stat.Mean(values[i-n:i], nil)
}

func rollingStd(values []float64, i, n int) float64 {
	if i-n < 0 {
		return 0
	}
	return stat.StdDev(values[i-n:i], nil)
}

func rollingMin(values []float64, i, n int) float64 {
	if i-n < 0 {
		return 0
	}
	min := values[i-n]
	for j := i - n + 1; j < i; j++ {
		if values[j] < min {
			min = values[j]
		}
	}
	return min
}

func rollingMax(values []float64, i, n int) float64 {
	if i-n < 0 {
		return 0
	}
	max := values[i-n]
	for j := i - n + 1; j < i; j++ {
		if values[j] > max {
			max = values[j]
		}
	}
	return max
}

// yoyRatio compares the trailing 7-day level with the same window a year
// earlier. Single-day ratios are too noisy across promo days, and series
// younger than a year get the neutral 1.0.
func yoyRatio(values []float64, i int) float64 {
	if i-365-7 < 0 {
		return 1
	}
	cur := rollingMean(values, i, 7)
	prev := stat.Mean(values[i-365-7:i-365], nil)
	if prev <= 0 {
		return 1
	}
	return cur / prev
}
