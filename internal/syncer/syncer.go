// Package syncer polls the KeyCRM feeds, lands pages in Bronze, and drives
// the Silver and Gold refreshes that follow. One cycle runs at a time; a
// trigger that arrives mid-cycle is dropped, not queued.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"sales-pulse/internal/bus"
	"sales-pulse/internal/cache"
	"sales-pulse/internal/config"
	"sales-pulse/internal/keycrm"
	"sales-pulse/internal/logger"
	"sales-pulse/internal/metrics"
	"sales-pulse/internal/store"
)

// ErrAlreadyRunning is returned when a cycle is triggered while another one
// is still in flight.
var ErrAlreadyRunning = errors.New("sync cycle already running")

// bootstrapWindow is how far back the first-ever order cycle reaches when no
// cursor exists yet. FullSync covers the deep history.
const bootstrapWindow = 7 * 24 * time.Hour

// orderCachePrefixes are the aggregate families invalidated after a cycle
// lands new orders. Stock syncs invalidate "stocks" separately.
var orderCachePrefixes = []string{
	"summary", "trend", "sources", "products", "customers", "traffic", "goals",
}

// Engine owns the sync loop state: the single-flight flag, the empty-cycle
// counter behind the adaptive interval, and the last-cycle snapshot served
// by Status.
type Engine struct {
	store   *store.Store
	crm     *keycrm.Client
	bus     *bus.Bus
	cache   *cache.Cache
	metrics *metrics.Metrics

	running atomic.Bool

	mu               sync.Mutex
	consecutiveEmpty int
	lastSyncAt       time.Time
	lastCount        int
	lastErr          string

	now func() time.Time
}

// New creates a sync engine over the given components.
func New(st *store.Store, crm *keycrm.Client, b *bus.Bus, c *cache.Cache, m *metrics.Metrics) *Engine {
	return &Engine{store: st, crm: crm, bus: b, cache: c, metrics: m, now: time.Now}
}

// CycleResult reports what one order cycle did.
type CycleResult struct {
	StartedAt  time.Time `json:"started_at"`
	Pages      int       `json:"pages"`
	Fetched    int       `json:"fetched"`
	Applied    int       `json:"applied"`
	Skipped    int       `json:"skipped"`
	Dropped    int       `json:"dropped"`
	SalesTypes []string  `json:"sales_types_touched,omitempty"`
	DateRange  string    `json:"date_range,omitempty"`
}

// RunOnce performs one order cycle: fetch pages updated since the stored
// cursor (minus a look-back), upsert each page before fetching the next,
// refresh Silver and Gold, publish orders_synced, advance the cursor to the
// cycle start. A concurrent trigger returns ErrAlreadyRunning.
func (e *Engine) RunOnce(ctx context.Context) (CycleResult, error) {
	if !e.running.CompareAndSwap(false, true) {
		e.metrics.ObserveSyncCycle("dropped", 0)
		return CycleResult{}, ErrAlreadyRunning
	}
	defer e.running.Store(false)

	start := e.now().UTC()
	since, err := e.orderCursor(start)
	if err != nil {
		e.finishCycle(start, CycleResult{}, err)
		return CycleResult{}, err
	}

	res, err := e.syncOrderWindow(ctx, start, since.Add(-config.SyncLookBack), since)
	e.finishCycle(start, res, err)
	return res, err
}

// orderCursor reads the order cursor, falling back to a short bootstrap
// window on the very first cycle.
func (e *Engine) orderCursor(start time.Time) (time.Time, error) {
	since, err := e.store.GetSyncTime(store.MetaOrders)
	if err != nil {
		return time.Time{}, err
	}
	if since.IsZero() {
		since = start.Add(-bootstrapWindow)
		logger.Warn("Sync", fmt.Sprintf("No order cursor, backfilling since %s", since.Format("2006-01-02")))
	}
	return since, nil
}

// syncOrderWindow pages through orders in [from, start], upserting page N
// before fetching page N+1 and stopping on a short page. notifyFrom bounds
// the rows reported downstream: the look-back slice below it is re-upserted
// silently.
func (e *Engine) syncOrderWindow(ctx context.Context, start, from, notifyFrom time.Time) (CycleResult, error) {
	res := CycleResult{StartedAt: start}
	var applied []store.Order

	for page := 1; ; page++ {
		orders, total, err := e.crm.ListOrders(ctx, page, from, start)
		if err != nil {
			return res, fmt.Errorf("orders page %d: %w", page, err)
		}
		if len(orders) == 0 {
			break
		}

		batch := make([]store.Order, 0, len(orders))
		var buyers []store.Buyer
		for _, o := range orders {
			batch = append(batch, mapOrder(o))
			if o.BuyerID != nil && o.BuyerName != "" {
				buyers = append(buyers, store.Buyer{ID: *o.BuyerID, FullName: o.BuyerName})
			}
		}
		// Buyer names ride on the order feed; there is no separate buyers feed.
		if len(buyers) > 0 {
			if _, err := e.store.UpsertBuyers(buyers); err != nil {
				return res, fmt.Errorf("buyers page %d: %w", page, err)
			}
		}
		up, err := e.store.UpsertOrders(batch)
		if err != nil {
			return res, fmt.Errorf("orders page %d: %w", page, err)
		}

		res.Pages++
		res.Fetched += len(orders)
		res.Applied += up.Applied
		res.Skipped += up.Skipped
		res.Dropped += up.Dropped
		applied = append(applied, up.AppliedOrders...)

		if len(orders) < keycrm.PageSize || res.Fetched >= total {
			break
		}
	}

	if res.Applied > 0 {
		if err := e.refreshAfterOrders(start); err != nil {
			return res, err
		}
		notified := ordersWithin(applied, notifyFrom, start)
		res.SalesTypes = salesTypesOf(notified)
		res.DateRange = dateRangeOf(notified)
		e.bus.BroadcastAll(bus.EventOrdersSynced, map[string]interface{}{
			"count":               len(notified),
			"sales_types_touched": res.SalesTypes,
			"date_range":          res.DateRange,
		})
	}

	if err := e.store.SetSyncTime(store.MetaOrders, start); err != nil {
		return res, err
	}
	return res, nil
}

// refreshAfterOrders re-derives Silver for the rows this cycle touched,
// refreshes Gold, and drops the aggregate caches they feed.
func (e *Engine) refreshAfterOrders(cycleStart time.Time) error {
	if err := e.store.RefreshSilverOrders(&cycleStart); err != nil {
		return fmt.Errorf("silver refresh: %w", err)
	}
	if _, err := e.store.RefreshUTMSilver(); err != nil {
		return fmt.Errorf("utm refresh: %w", err)
	}
	if err := e.store.RefreshGold(); err != nil {
		return fmt.Errorf("gold refresh: %w", err)
	}
	e.cache.Invalidate(orderCachePrefixes...)
	return nil
}

// finishCycle folds one cycle outcome into the engine counters and metrics.
func (e *Engine) finishCycle(start time.Time, res CycleResult, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.lastSyncAt = start
	e.lastCount = res.Applied
	if err != nil {
		e.lastErr = err.Error()
		e.consecutiveEmpty++
		e.metrics.ObserveSyncCycle("error", res.Applied)
		logger.Error("Sync", fmt.Sprintf("Cycle failed after %d pages: %v", res.Pages, err))
		return
	}

	e.lastErr = ""
	if res.Applied == 0 {
		e.consecutiveEmpty++
		e.metrics.ObserveSyncCycle("empty", 0)
		logger.Info("Sync", fmt.Sprintf("Cycle empty (%d fetched, %d skipped)", res.Fetched, res.Skipped))
		return
	}

	e.consecutiveEmpty = 0
	e.metrics.ObserveSyncCycle("applied", res.Applied)
	logger.Success("Sync", fmt.Sprintf("Applied %d orders over %d pages (%d skipped, %d dropped)",
		res.Applied, res.Pages, res.Skipped, res.Dropped))
}

// NextInterval returns the delay until the next cycle: base 300s, doubling
// per consecutive empty cycle past the first, capped at 1800s. During
// off-hours the cap doubles.
func (e *Engine) NextInterval() time.Duration {
	e.mu.Lock()
	k := e.consecutiveEmpty
	e.mu.Unlock()

	limit := config.SyncMaxInterval
	if config.OffHours(e.now()) {
		limit *= 2
	}
	interval := config.SyncBaseInterval
	for i := 1; i < k; i++ {
		interval *= 2
		if interval >= limit {
			return limit
		}
	}
	return interval
}

// Status is the sync-state snapshot served by /api/health and the
// sync_status event.
type Status struct {
	Running          bool      `json:"running"`
	LastSyncAt       time.Time `json:"last_sync_at"`
	LastCount        int       `json:"last_count"`
	ConsecutiveEmpty int       `json:"consecutive_empty"`
	NextIntervalSec  int       `json:"next_interval_sec"`
	LastError        string    `json:"last_error,omitempty"`
}

// Status reports the current engine state.
func (e *Engine) Status() Status {
	next := e.NextInterval()
	e.mu.Lock()
	defer e.mu.Unlock()
	return Status{
		Running:          e.running.Load(),
		LastSyncAt:       e.lastSyncAt,
		LastCount:        e.lastCount,
		ConsecutiveEmpty: e.consecutiveEmpty,
		NextIntervalSec:  int(next.Seconds()),
		LastError:        e.lastErr,
	}
}

// ordersWithin filters applied orders to those ordered inside [from, to].
// Look-back re-upserts fall outside and stay silent.
func ordersWithin(orders []store.Order, from, to time.Time) []store.Order {
	var out []store.Order
	for _, o := range orders {
		if o.OrderedAt.Before(from) || o.OrderedAt.After(to) {
			continue
		}
		out = append(out, o)
	}
	return out
}

// salesTypesOf returns the distinct sales types of the given orders, sorted.
func salesTypesOf(orders []store.Order) []string {
	seen := make(map[string]bool)
	for _, o := range orders {
		seen[store.SalesTypeFor(o.ManagerID, o.SourceID)] = true
	}
	types := make([]string, 0, len(seen))
	for t := range seen {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// dateRangeOf renders the Kyiv-local date span of the given orders as
// "YYYY-MM-DD..YYYY-MM-DD", collapsing a single day to one date.
func dateRangeOf(orders []store.Order) string {
	if len(orders) == 0 {
		return ""
	}
	min, max := orders[0].OrderedAt, orders[0].OrderedAt
	for _, o := range orders[1:] {
		if o.OrderedAt.Before(min) {
			min = o.OrderedAt
		}
		if o.OrderedAt.After(max) {
			max = o.OrderedAt
		}
	}
	lo, hi := store.KyivDate(min), store.KyivDate(max)
	if lo == hi {
		return lo
	}
	return lo + ".." + hi
}

// mapOrder converts a feed order to its Bronze shape.
func mapOrder(o keycrm.Order) store.Order {
	out := store.Order{
		ID:             o.ID,
		SourceID:       o.SourceID,
		StatusID:       o.StatusID,
		GrandTotal:     o.GrandTotal,
		OrderedAt:      o.OrderedAt.Time,
		CreatedAt:      o.CreatedAt.Time,
		UpdatedAt:      o.UpdatedAt.Time,
		BuyerID:        o.BuyerID,
		ManagerID:      o.ManagerID,
		ManagerComment: o.ManagerComment,
	}
	for _, p := range o.Products {
		out.Products = append(out.Products, store.OrderProduct{
			ID:        p.ID,
			ProductID: p.ProductID,
			Name:      p.Name,
			Quantity:  p.Quantity,
			PriceSold: p.PriceSold,
		})
	}
	return out
}
