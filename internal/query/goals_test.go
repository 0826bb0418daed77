package query

import (
	"math"
	"testing"

	"sales-pulse/internal/store"
)

func TestNiceRound_Granularity(t *testing.T) {
	cases := []struct {
		in   float64
		want float64
	}{
		{0, 0},
		{-50, 0},
		{847, 850},
		{4_321, 4_300},
		{87_654, 88_000},
		{456_789, 460_000},
		{2_345_678, 2_350_000},
	}
	for _, c := range cases {
		if got := niceRound(c.in); got != c.want {
			t.Errorf("niceRound(%v) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestSplitByWeeks_Renormalizes(t *testing.T) {
	got := splitByWeeks(1000, map[int]float64{1: 0.3, 2: 0.3})
	if got[1] != 500 || got[2] != 500 {
		t.Errorf("splitByWeeks = %v, want 500/500 after renormalizing", got)
	}
	if splitByWeeks(1000, map[int]float64{}) != nil {
		t.Error("empty weights should yield nil")
	}
}

func TestSmartGoals_MonthSignals(t *testing.T) {
	e, st := newTestEngine(t) // today pinned to 2025-06-11

	lastYear := seedOrder(1, 1, 1, 90_000, "2024-06-15T09:00:00Z")
	lastYear.ManagerID = i64Ptr(4)
	recent := seedOrder(2, 1, 1, 9_000, "2025-05-01T09:00:00Z")
	recent.ManagerID = i64Ptr(4)
	mustSeed(t, st, []store.Order{lastYear, recent})
	rebuild(t, st)

	g, err := e.SmartGoals(GoalPeriodMonth, store.SalesTypeRetail)
	if err != nil {
		t.Fatalf("SmartGoals: %v", err)
	}
	if g.PeriodStart != "2025-06-01" {
		t.Errorf("periodStart = %q, want 2025-06-01", g.PeriodStart)
	}
	// No stored growth metrics yet: YoY falls back to 0, seasonal to 1.
	if g.YoYGrowth != 0 || g.SeasonalIndex != 1 {
		t.Errorf("fallbacks = yoy %v / seasonal %v, want 0 / 1", g.YoYGrowth, g.SeasonalIndex)
	}
	if g.LastYearBased != 90_000 {
		t.Errorf("lastYearBased = %v, want 90000", g.LastYearBased)
	}
	// 9000 over 90 days is 100/day, scaled to June's 30 days.
	if g.TrendBased != 3_000 {
		t.Errorf("trendBased = %v, want 3000", g.TrendBased)
	}
	if g.Suggested != 90_000 {
		t.Errorf("suggested = %v, want niceRound of the stronger signal", g.Suggested)
	}

	if len(g.WeeklyTargets) != 5 {
		t.Fatalf("weekly targets = %v, want 5 weeks", g.WeeklyTargets)
	}
	var sum float64
	for _, v := range g.WeeklyTargets {
		sum += v
	}
	if math.Abs(sum-g.Suggested) > 1 {
		t.Errorf("weekly targets sum = %v, want ~%v", sum, g.Suggested)
	}
	if g.WeeklyTargets[5] >= g.WeeklyTargets[1] {
		t.Errorf("week 5 target %v should be the short tail, below week 1's %v",
			g.WeeklyTargets[5], g.WeeklyTargets[1])
	}
}

func TestSmartGoals_RejectsBadPeriod(t *testing.T) {
	e, _ := newTestEngine(t)
	if _, err := e.SmartGoals("quarter", store.SalesTypeRetail); err == nil {
		t.Error("expected error for unknown period type")
	}
}

func TestProgress_MonthOnTrack(t *testing.T) {
	e, st := newTestEngine(t) // today pinned to 2025-06-11

	a := seedOrder(1, 1, 1, 10_000, "2025-06-05T09:00:00Z")
	a.ManagerID = i64Ptr(4)
	b := seedOrder(2, 1, 1, 14_000, "2025-06-10T09:00:00Z")
	b.ManagerID = i64Ptr(4)
	mustSeed(t, st, []store.Order{a, b})
	rebuild(t, st)

	if _, err := st.SaveGoal(store.RevenueGoal{
		PeriodType:    GoalPeriodMonth,
		PeriodStart:   "2025-06-01",
		SalesType:     store.SalesTypeRetail,
		TargetRevenue: 60_000,
	}); err != nil {
		t.Fatalf("SaveGoal: %v", err)
	}

	p, err := e.Progress(GoalPeriodMonth, store.SalesTypeRetail)
	if err != nil {
		t.Fatalf("Progress: %v", err)
	}
	if !p.HasGoal {
		t.Fatal("goal not found")
	}
	if p.Actual != 24_000 || p.Target != 60_000 {
		t.Errorf("actual/target = %v/%v, want 24000/60000", p.Actual, p.Target)
	}
	if p.Percent != 40 {
		t.Errorf("percent = %v, want 40", p.Percent)
	}
	if p.DaysElapsed != 11 || p.DaysTotal != 30 {
		t.Errorf("days = %d/%d, want 11/30", p.DaysElapsed, p.DaysTotal)
	}
	if p.ExpectedPercent != 36.67 {
		t.Errorf("expectedPercent = %v, want 36.67", p.ExpectedPercent)
	}
	if !p.OnTrack {
		t.Error("40% actual vs 36.67% expected should be on track")
	}
}

func TestProgress_WithoutGoalStillReportsActual(t *testing.T) {
	e, st := newTestEngine(t)

	a := seedOrder(1, 1, 1, 5_000, "2025-06-09T09:00:00Z")
	a.ManagerID = i64Ptr(4)
	mustSeed(t, st, []store.Order{a})
	rebuild(t, st)

	p, err := e.Progress(GoalPeriodWeek, store.SalesTypeRetail)
	if err != nil {
		t.Fatalf("Progress: %v", err)
	}
	if p.HasGoal {
		t.Error("no goal saved, HasGoal should be false")
	}
	if p.PeriodStart != "2025-06-09" {
		t.Errorf("week periodStart = %q, want Monday 2025-06-09", p.PeriodStart)
	}
	if p.Actual != 5_000 {
		t.Errorf("actual = %v, want 5000", p.Actual)
	}
	if p.DaysTotal != 7 || p.DaysElapsed != 3 {
		t.Errorf("days = %d/%d, want 3/7", p.DaysElapsed, p.DaysTotal)
	}
}
