package query

import (
	"testing"

	"sales-pulse/internal/store"
)

// retailOrder is a seeded retail order with a buyer attached.
func retailOrder(id, buyer int64, total float64, orderedAt string) store.Order {
	o := seedOrder(id, 1, 1, total, orderedAt)
	o.ManagerID = i64Ptr(4)
	o.BuyerID = i64Ptr(buyer)
	return o
}

func TestCustomers_NewReturningAndRepeat(t *testing.T) {
	e, st := newTestEngine(t)

	mustSeed(t, st, []store.Order{
		// Buyer 200 bought before the window, so they return in June.
		retailOrder(1, 200, 50, "2025-05-01T09:00:00Z"),
		// Buyer 100's first-ever order lands inside the window, twice.
		retailOrder(2, 100, 100, "2025-06-05T09:00:00Z"),
		retailOrder(3, 100, 200, "2025-06-08T09:00:00Z"),
		retailOrder(4, 200, 300, "2025-06-09T09:00:00Z"),
	})
	rebuild(t, st)

	got, err := e.Customers(Params{
		StartDate: "2025-06-01", EndDate: "2025-06-30", SalesType: store.SalesTypeRetail,
	})
	if err != nil {
		t.Fatalf("Customers: %v", err)
	}
	if got.TotalCustomers != 2 {
		t.Errorf("totalCustomers = %d, want 2", got.TotalCustomers)
	}
	if got.NewCustomers != 1 {
		t.Errorf("newCustomers = %d, want 1 (buyer 100)", got.NewCustomers)
	}
	if got.ReturningCustomers != 1 {
		t.Errorf("returningCustomers = %d, want 1 (buyer 200)", got.ReturningCustomers)
	}
	if got.RepeatCustomers != 1 {
		t.Errorf("repeatCustomers = %d, want 1 (buyer 100 ordered twice in window)", got.RepeatCustomers)
	}
	if got.RepeatRate != 50 {
		t.Errorf("repeatRate = %v, want 50", got.RepeatRate)
	}
	if got.AvgOrdersPerCustomer != 1.5 {
		t.Errorf("avgOrdersPerCustomer = %v, want 1.5", got.AvgOrdersPerCustomer)
	}
	if got.AvgRevenuePerCustomer != 300 {
		t.Errorf("avgRevenuePerCustomer = %v, want 300", got.AvgRevenuePerCustomer)
	}
}

func TestCohortRetention_PercentByMonthOffset(t *testing.T) {
	e, st := newTestEngine(t)

	mustSeed(t, st, []store.Order{
		// May cohort: A comes back in June, B does not.
		retailOrder(1, 1, 100, "2025-05-03T09:00:00Z"),
		retailOrder(2, 2, 100, "2025-05-10T09:00:00Z"),
		retailOrder(3, 1, 50, "2025-06-02T09:00:00Z"),
		// June cohort: C only.
		retailOrder(4, 3, 80, "2025-06-05T09:00:00Z"),
	})
	rebuild(t, st)

	rows, err := e.CohortRetention(Params{
		StartDate: "2025-06-01", EndDate: "2025-06-30", SalesType: store.SalesTypeRetail,
	})
	if err != nil {
		t.Fatalf("CohortRetention: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("cohorts = %d, want 2", len(rows))
	}

	may := rows[0]
	if may.Cohort != "2025-05" || may.Size != 2 {
		t.Fatalf("may cohort = %s size %d, want 2025-05 size 2", may.Cohort, may.Size)
	}
	if len(may.Retention) != 2 || may.Retention[0] != 100 || may.Retention[1] != 50 {
		t.Errorf("may retention = %v, want [100 50]", may.Retention)
	}

	june := rows[1]
	if june.Cohort != "2025-06" || june.Size != 1 {
		t.Fatalf("june cohort = %s size %d, want 2025-06 size 1", june.Cohort, june.Size)
	}
	if len(june.Retention) != 1 || june.Retention[0] != 100 {
		t.Errorf("june retention = %v, want [100]", june.Retention)
	}
}

func TestEnhancedCohortRetention_RevenueDimension(t *testing.T) {
	e, st := newTestEngine(t)

	mustSeed(t, st, []store.Order{
		retailOrder(1, 1, 100, "2025-05-03T09:00:00Z"),
		retailOrder(2, 2, 100, "2025-05-10T09:00:00Z"),
		retailOrder(3, 1, 50, "2025-06-02T09:00:00Z"),
	})
	rebuild(t, st)

	rows, err := e.EnhancedCohortRetention(Params{
		StartDate: "2025-06-01", EndDate: "2025-06-30", SalesType: store.SalesTypeRetail,
	})
	if err != nil {
		t.Fatalf("EnhancedCohortRetention: %v", err)
	}
	may := rows[0]
	if may.CohortRevenue != 200 {
		t.Errorf("cohortRevenue = %v, want 200", may.CohortRevenue)
	}
	if len(may.RevenueRetention) != 2 || may.RevenueRetention[0] != 100 || may.RevenueRetention[1] != 25 {
		t.Errorf("revenue retention = %v, want [100 25]", may.RevenueRetention)
	}
	if len(may.CustomerRetention) != 2 || may.CustomerRetention[1] != 50 {
		t.Errorf("customer retention = %v, want [100 50]", may.CustomerRetention)
	}
}

func TestCohortLTV_CumulativePerCustomer(t *testing.T) {
	e, st := newTestEngine(t)

	mustSeed(t, st, []store.Order{
		retailOrder(1, 1, 100, "2025-05-03T09:00:00Z"),
		retailOrder(2, 2, 100, "2025-05-10T09:00:00Z"),
		retailOrder(3, 1, 50, "2025-06-02T09:00:00Z"),
	})
	rebuild(t, st)

	rows, err := e.CohortLTV(Params{
		StartDate: "2025-06-01", EndDate: "2025-06-30", SalesType: store.SalesTypeRetail,
	})
	if err != nil {
		t.Fatalf("CohortLTV: %v", err)
	}
	may := rows[0]
	// Month 0: 200 revenue / 2 buyers. Month 1: +50 cumulative.
	if len(may.CumulativeLTV) != 2 || may.CumulativeLTV[0] != 100 || may.CumulativeLTV[1] != 125 {
		t.Errorf("cumulative LTV = %v, want [100 125]", may.CumulativeLTV)
	}
}

func TestDaysToSecondPurchase_Buckets(t *testing.T) {
	e, st := newTestEngine(t)

	mustSeed(t, st, []store.Order{
		// A: second purchase after 14 days.
		retailOrder(1, 1, 100, "2025-06-01T09:00:00Z"),
		retailOrder(2, 1, 100, "2025-06-15T09:00:00Z"),
		// B: never came back.
		retailOrder(3, 2, 100, "2025-06-02T09:00:00Z"),
		// C: second purchase after 109 days, outside the window.
		retailOrder(4, 3, 100, "2025-06-03T09:00:00Z"),
		retailOrder(5, 3, 100, "2025-09-20T09:00:00Z"),
	})
	rebuild(t, st)

	got, err := e.DaysToSecondPurchase(Params{
		StartDate: "2025-06-01", EndDate: "2025-06-30", SalesType: store.SalesTypeRetail,
	})
	if err != nil {
		t.Fatalf("DaysToSecondPurchase: %v", err)
	}
	if got.TotalCustomers != 3 {
		t.Errorf("totalCustomers = %d, want 3 first-time buyers in June", got.TotalCustomers)
	}
	if got.CustomersWithSecond != 2 {
		t.Errorf("customersWithSecond = %d, want 2", got.CustomersWithSecond)
	}
	if got.ConversionRate != 66.67 {
		t.Errorf("conversionRate = %v, want 66.67", got.ConversionRate)
	}

	byLabel := map[string]int{}
	for _, b := range got.Buckets {
		byLabel[b.Label] = b.Count
	}
	if byLabel["0-30"] != 1 {
		t.Errorf("0-30 bucket = %d, want 1 (14-day gap)", byLabel["0-30"])
	}
	if byLabel["91-180"] != 1 {
		t.Errorf("91-180 bucket = %d, want 1 (109-day gap)", byLabel["91-180"])
	}
	if got.AvgDays != 61.5 {
		t.Errorf("avgDays = %v, want 61.5", got.AvgDays)
	}
}

func TestAtRiskCustomers_LapsedRepeatBuyersOnly(t *testing.T) {
	e, st := newTestEngine(t) // today pinned to 2025-06-11

	mustSeed(t, st, []store.Order{
		// A: repeat buyer, quiet for 102 days, big spender.
		retailOrder(1, 1, 600, "2025-01-15T09:00:00Z"),
		retailOrder(2, 1, 400, "2025-03-01T09:00:00Z"),
		// B: repeat buyer but recently active.
		retailOrder(3, 2, 500, "2025-02-01T09:00:00Z"),
		retailOrder(4, 2, 500, "2025-06-01T09:00:00Z"),
		// C: lapsed but only one order ever.
		retailOrder(5, 3, 900, "2025-02-10T09:00:00Z"),
	})
	rebuild(t, st)

	got, err := e.AtRiskCustomers(store.SalesTypeRetail, 60, 10)
	if err != nil {
		t.Fatalf("AtRiskCustomers: %v", err)
	}
	if got.Count != 1 {
		t.Fatalf("count = %d, want 1 (only buyer 1 qualifies)", got.Count)
	}
	c := got.Customers[0]
	if c.BuyerID != 1 || c.Orders != 2 || c.TotalRevenue != 1000 {
		t.Errorf("at-risk customer = %+v, want buyer 1 with 2 orders / 1000", c)
	}
	if c.LastOrder != "2025-03-01" {
		t.Errorf("lastOrder = %q, want 2025-03-01", c.LastOrder)
	}
	if c.DaysSinceLast != 102 {
		t.Errorf("daysSinceLast = %d, want 102", c.DaysSinceLast)
	}
}
