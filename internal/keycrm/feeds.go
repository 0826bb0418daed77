package keycrm

import (
	"context"
	"net/url"
	"strconv"
	"time"
)

type ordersEnvelope struct {
	Data  []Order `json:"data"`
	Total int     `json:"total"`
}

type productsEnvelope struct {
	Data  []Product `json:"data"`
	Total int       `json:"total"`
}

type offersEnvelope struct {
	Data  []Offer `json:"data"`
	Total int     `json:"total"`
}

type categoriesEnvelope struct {
	Data  []Category `json:"data"`
	Total int        `json:"total"`
}

type managersEnvelope struct {
	Data  []Manager `json:"data"`
	Total int       `json:"total"`
}

type expensesEnvelope struct {
	Data  []Expense `json:"data"`
	Total int       `json:"total"`
}

func pageQuery(page int) url.Values {
	return url.Values{
		"page":  {strconv.Itoa(page)},
		"limit": {strconv.Itoa(PageSize)},
	}
}

// ListOrders fetches one page of orders created or updated inside [from, to],
// line items and manager included.
func (c *Client) ListOrders(ctx context.Context, page int, from, to time.Time) ([]Order, int, error) {
	q := pageQuery(page)
	q.Set("include", "products,manager")
	q.Set("filter[created_between]", betweenFilter(from, to))
	var env ordersEnvelope
	if err := c.getJSON(ctx, "/order", q, &env); err != nil {
		return nil, 0, err
	}
	return env.Data, env.Total, nil
}

// ListProducts fetches one catalog page with custom fields.
func (c *Client) ListProducts(ctx context.Context, page int) ([]Product, int, error) {
	q := pageQuery(page)
	q.Set("include", "custom_fields")
	var env productsEnvelope
	if err := c.getJSON(ctx, "/products", q, &env); err != nil {
		return nil, 0, err
	}
	return env.Data, env.Total, nil
}

// ListOffers fetches one page of offers with their stock state inlined.
func (c *Client) ListOffers(ctx context.Context, page int) ([]Offer, int, error) {
	q := pageQuery(page)
	q.Set("include", "stocks")
	var env offersEnvelope
	if err := c.getJSON(ctx, "/offers", q, &env); err != nil {
		return nil, 0, err
	}
	return env.Data, env.Total, nil
}

// ListCategories fetches one page of the category tree.
func (c *Client) ListCategories(ctx context.Context, page int) ([]Category, int, error) {
	var env categoriesEnvelope
	if err := c.getJSON(ctx, "/products/categories", pageQuery(page), &env); err != nil {
		return nil, 0, err
	}
	return env.Data, env.Total, nil
}

// ListManagers fetches one page of manager accounts.
func (c *Client) ListManagers(ctx context.Context, page int) ([]Manager, int, error) {
	var env managersEnvelope
	if err := c.getJSON(ctx, "/managers", pageQuery(page), &env); err != nil {
		return nil, 0, err
	}
	return env.Data, env.Total, nil
}

// ListExpenses fetches one page of expenses created inside [from, to].
func (c *Client) ListExpenses(ctx context.Context, page int, from, to time.Time) ([]Expense, int, error) {
	q := pageQuery(page)
	q.Set("filter[created_between]", betweenFilter(from, to))
	var env expensesEnvelope
	if err := c.getJSON(ctx, "/expenses", q, &env); err != nil {
		return nil, 0, err
	}
	return env.Data, env.Total, nil
}
