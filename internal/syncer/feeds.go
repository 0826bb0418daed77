package syncer

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"sales-pulse/internal/bus"
	"sales-pulse/internal/keycrm"
	"sales-pulse/internal/logger"
	"sales-pulse/internal/store"
)

// expenseBootstrapWindow is how far back the first expense sync reaches.
const expenseBootstrapWindow = 30 * 24 * time.Hour

// fullSyncWindow is the order history FullSync pulls, matching the forecast
// training window.
const fullSyncWindow = 780 * 24 * time.Hour

// SyncProducts pages through the catalog feed and upserts it.
func (e *Engine) SyncProducts(ctx context.Context) (int, error) {
	start := e.now().UTC()
	count := 0
	for page := 1; ; page++ {
		products, total, err := e.crm.ListProducts(ctx, page)
		if err != nil {
			return count, fmt.Errorf("products page %d: %w", page, err)
		}
		if len(products) == 0 {
			break
		}
		batch := make([]store.Product, 0, len(products))
		for _, p := range products {
			batch = append(batch, mapProduct(p))
		}
		n, err := e.store.UpsertProducts(batch)
		if err != nil {
			return count, fmt.Errorf("products page %d: %w", page, err)
		}
		count += n
		if len(products) < keycrm.PageSize || count >= total {
			break
		}
	}

	if err := e.store.SetSyncTime(store.MetaProducts, start); err != nil {
		return count, err
	}
	e.cache.Invalidate("products")
	logger.Info("Sync", fmt.Sprintf("Catalog sync upserted %d products", count))
	return count, nil
}

// SyncStocks pages through the offer feed (stock state inlined), upserts
// offers and stocks, refreshes the SKU inventory view and publishes
// inventory_updated with the detected movements.
func (e *Engine) SyncStocks(ctx context.Context) (int, error) {
	start := e.now().UTC()
	count := 0
	var movements []store.StockMovement
	for page := 1; ; page++ {
		offers, total, err := e.crm.ListOffers(ctx, page)
		if err != nil {
			return count, fmt.Errorf("offers page %d: %w", page, err)
		}
		if len(offers) == 0 {
			break
		}

		offerBatch := make([]store.Offer, 0, len(offers))
		stockBatch := make([]store.Stock, 0, len(offers))
		for _, o := range offers {
			offerBatch = append(offerBatch, mapOffer(o))
			stockBatch = append(stockBatch, mapStock(o))
		}
		if _, err := e.store.UpsertOffers(offerBatch); err != nil {
			return count, fmt.Errorf("offers page %d: %w", page, err)
		}
		n, mv, err := e.store.UpsertStocks(stockBatch)
		if err != nil {
			return count, fmt.Errorf("stocks page %d: %w", page, err)
		}
		count += n
		movements = append(movements, mv...)

		if len(offers) < keycrm.PageSize || count >= total {
			break
		}
	}

	refreshed, err := e.store.RefreshSKUInventory()
	if err != nil {
		return count, fmt.Errorf("sku inventory refresh: %w", err)
	}
	e.cache.Invalidate("stocks")
	if err := e.store.SetSyncTime(store.MetaStocks, start); err != nil {
		return count, err
	}

	e.bus.BroadcastAll(bus.EventInventoryUpdated, map[string]interface{}{
		"offers":    count,
		"refreshed": refreshed,
		"movements": movements,
	})
	logger.Info("Sync", fmt.Sprintf("Stock sync upserted %d offers (%d movements)", count, len(movements)))
	return count, nil
}

// SyncExpenses pulls expenses created since the expense cursor, upserting
// the expense types seen along the way, and publishes expenses_updated.
func (e *Engine) SyncExpenses(ctx context.Context) (int, error) {
	start := e.now().UTC()
	since, err := e.store.GetSyncTime(store.MetaExpenses)
	if err != nil {
		return 0, err
	}
	if since.IsZero() {
		since = start.Add(-expenseBootstrapWindow)
	}

	count := 0
	for page := 1; ; page++ {
		expenses, total, err := e.crm.ListExpenses(ctx, page, since, start)
		if err != nil {
			return count, fmt.Errorf("expenses page %d: %w", page, err)
		}
		if len(expenses) == 0 {
			break
		}

		types := make(map[int64]string)
		batch := make([]store.Expense, 0, len(expenses))
		for _, ex := range expenses {
			batch = append(batch, mapExpense(ex))
			if ex.ExpenseTypeID != 0 && ex.TypeName != "" {
				types[ex.ExpenseTypeID] = ex.TypeName
			}
		}
		if len(types) > 0 {
			typeBatch := make([]store.ExpenseType, 0, len(types))
			for id, name := range types {
				typeBatch = append(typeBatch, store.ExpenseType{ID: id, Name: name})
			}
			if _, err := e.store.UpsertExpenseTypes(typeBatch); err != nil {
				return count, fmt.Errorf("expense types page %d: %w", page, err)
			}
		}
		n, err := e.store.UpsertExpenses(batch)
		if err != nil {
			return count, fmt.Errorf("expenses page %d: %w", page, err)
		}
		count += n

		if len(expenses) < keycrm.PageSize || count >= total {
			break
		}
	}

	if err := e.store.SetSyncTime(store.MetaExpenses, start); err != nil {
		return count, err
	}
	if count > 0 {
		e.bus.BroadcastAll(bus.EventExpensesUpdated, map[string]interface{}{"count": count})
	}
	logger.Info("Sync", fmt.Sprintf("Expense sync upserted %d records", count))
	return count, nil
}

// FullSync rebuilds the whole store from upstream: the independent reference
// feeds run concurrently, then catalog, stocks and the full order history in
// dependency order. Meant for an empty database or a manual reset.
func (e *Engine) FullSync(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer e.running.Store(false)

	start := e.now().UTC()
	logger.Section("Full sync")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return e.syncCategories(gctx) })
	g.Go(func() error { return e.syncManagers(gctx) })
	if err := g.Wait(); err != nil {
		e.recordError(err)
		return err
	}

	if _, err := e.SyncProducts(ctx); err != nil {
		e.recordError(err)
		return err
	}
	if _, err := e.SyncStocks(ctx); err != nil {
		e.recordError(err)
		return err
	}

	res, err := e.syncOrderWindow(ctx, start, start.Add(-fullSyncWindow), start.Add(-fullSyncWindow))
	e.finishCycle(start, res, err)
	if err != nil {
		return err
	}

	if _, err := e.SyncExpenses(ctx); err != nil {
		e.recordError(err)
		return err
	}

	if err := e.store.SetSyncTime(store.MetaFullSync, start); err != nil {
		return err
	}
	logger.Stats("Full sync orders", res.Applied)
	return nil
}

func (e *Engine) syncCategories(ctx context.Context) error {
	count := 0
	for page := 1; ; page++ {
		cats, total, err := e.crm.ListCategories(ctx, page)
		if err != nil {
			return fmt.Errorf("categories page %d: %w", page, err)
		}
		if len(cats) == 0 {
			break
		}
		batch := make([]store.Category, 0, len(cats))
		for _, c := range cats {
			batch = append(batch, store.Category{ID: c.ID, Name: c.Name, ParentID: c.ParentID})
		}
		n, err := e.store.UpsertCategories(batch)
		if err != nil {
			return fmt.Errorf("categories page %d: %w", page, err)
		}
		count += n
		if len(cats) < keycrm.PageSize || count >= total {
			break
		}
	}
	logger.Info("Sync", fmt.Sprintf("Upserted %d categories", count))
	return nil
}

func (e *Engine) syncManagers(ctx context.Context) error {
	count := 0
	for page := 1; ; page++ {
		managers, total, err := e.crm.ListManagers(ctx, page)
		if err != nil {
			return fmt.Errorf("managers page %d: %w", page, err)
		}
		if len(managers) == 0 {
			break
		}
		batch := make([]store.Manager, 0, len(managers))
		for _, m := range managers {
			batch = append(batch, store.Manager{ID: m.ID, Name: m.FullName})
		}
		n, err := e.store.UpsertManagers(batch)
		if err != nil {
			return fmt.Errorf("managers page %d: %w", page, err)
		}
		count += n
		if len(managers) < keycrm.PageSize || count >= total {
			break
		}
	}
	logger.Info("Sync", fmt.Sprintf("Upserted %d managers", count))
	return nil
}

// recordError notes a feed failure for Status without touching the
// empty-cycle counter; only order cycles drive the backoff.
func (e *Engine) recordError(err error) {
	e.mu.Lock()
	e.lastErr = err.Error()
	e.mu.Unlock()
}

func mapProduct(p keycrm.Product) store.Product {
	out := store.Product{ID: p.ID, Name: p.Name, CategoryID: p.CategoryID, Price: p.Price}
	if p.SKU != "" {
		sku := p.SKU
		out.SKU = &sku
	}
	if brand := p.Brand(); brand != "" {
		out.Brand = &brand
	}
	return out
}

func mapOffer(o keycrm.Offer) store.Offer {
	out := store.Offer{ID: o.ID, ProductID: o.ProductID}
	if o.SKU != "" {
		sku := o.SKU
		out.SKU = &sku
	}
	return out
}

func mapStock(o keycrm.Offer) store.Stock {
	return store.Stock{
		OfferID:        o.ID,
		SKU:            o.SKU,
		Price:          o.Price,
		PurchasedPrice: o.PurchasedPrice,
		Quantity:       o.Quantity,
		Reserve:        o.Reserve,
	}
}

func mapExpense(ex keycrm.Expense) store.Expense {
	out := store.Expense{ID: ex.ID, Amount: ex.Amount, CreatedAt: ex.CreatedAt.Time}
	if ex.ExpenseTypeID != 0 {
		id := ex.ExpenseTypeID
		out.ExpenseTypeID = &id
	}
	if ex.Description != "" {
		note := ex.Description
		out.Note = &note
	}
	return out
}
