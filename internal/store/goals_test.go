package store

import "testing"

func TestGoals_SaveIsUpsertPerPeriod(t *testing.T) {
	s := openTestStore(t)
	defer s.Close()

	id1, err := s.SaveGoal(RevenueGoal{PeriodType: "month", PeriodStart: "2025-06-01", SalesType: "retail", TargetRevenue: 100000})
	if err != nil {
		t.Fatalf("SaveGoal: %v", err)
	}
	if id1 <= 0 {
		t.Fatalf("SaveGoal id = %d", id1)
	}

	// Same period again: amount replaced, no duplicate row.
	if _, err := s.SaveGoal(RevenueGoal{PeriodType: "month", PeriodStart: "2025-06-01", SalesType: "retail", TargetRevenue: 120000}); err != nil {
		t.Fatalf("SaveGoal replace: %v", err)
	}

	goals, err := s.ListGoals("month", "retail")
	if err != nil {
		t.Fatalf("ListGoals: %v", err)
	}
	if len(goals) != 1 {
		t.Fatalf("goals = %d, want 1", len(goals))
	}
	if goals[0].TargetRevenue != 120000 {
		t.Errorf("target = %v, want 120000", goals[0].TargetRevenue)
	}
}

func TestGoals_SalesTypeDefaultsToRetail(t *testing.T) {
	s := openTestStore(t)
	defer s.Close()

	if _, err := s.SaveGoal(RevenueGoal{PeriodType: "week", PeriodStart: "2025-06-02", TargetRevenue: 25000}); err != nil {
		t.Fatalf("SaveGoal: %v", err)
	}
	goals, _ := s.ListGoals("week", "")
	if len(goals) != 1 || goals[0].SalesType != "retail" {
		t.Errorf("goals = %+v, want one retail goal", goals)
	}
}

func TestGoals_GetAndDelete(t *testing.T) {
	s := openTestStore(t)
	defer s.Close()

	id, err := s.SaveGoal(RevenueGoal{PeriodType: "month", PeriodStart: "2025-07-01", SalesType: "b2b", TargetRevenue: 50000})
	if err != nil {
		t.Fatalf("SaveGoal: %v", err)
	}

	g, ok, err := s.GetGoal("month", "2025-07-01", "b2b")
	if err != nil || !ok {
		t.Fatalf("GetGoal: ok=%v err=%v", ok, err)
	}
	if g.SalesType != "b2b" || g.TargetRevenue != 50000 {
		t.Errorf("goal = %+v", g)
	}

	deleted, err := s.DeleteGoal(id)
	if err != nil || !deleted {
		t.Fatalf("DeleteGoal: deleted=%v err=%v", deleted, err)
	}
	if _, ok, _ := s.GetGoal("month", "2025-07-01", "b2b"); ok {
		t.Error("goal should be gone after delete")
	}
	if deleted, _ := s.DeleteGoal(id); deleted {
		t.Error("second delete should report false")
	}
}

func TestGoals_ListFiltersBySalesType(t *testing.T) {
	s := openTestStore(t)
	defer s.Close()

	s.SaveGoal(RevenueGoal{PeriodType: "month", PeriodStart: "2025-06-01", SalesType: "retail", TargetRevenue: 1})
	s.SaveGoal(RevenueGoal{PeriodType: "month", PeriodStart: "2025-06-01", SalesType: "b2b", TargetRevenue: 2})

	all, _ := s.ListGoals("month", "all")
	if len(all) != 2 {
		t.Errorf("all goals = %d, want 2", len(all))
	}
	b2b, _ := s.ListGoals("month", "b2b")
	if len(b2b) != 1 || b2b[0].TargetRevenue != 2 {
		t.Errorf("b2b goals = %+v", b2b)
	}
}
