package keycrm

import (
	"encoding/json"
	"strings"
	"time"
)

// Time decodes both RFC3339 and the naive "2006-01-02 15:04:05" layout the
// feed mixes freely. Naive values are taken as UTC.
type Time struct {
	time.Time
}

func (t *Time) UnmarshalJSON(raw []byte) error {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return err
	}
	if s == "" {
		t.Time = time.Time{}
		return nil
	}
	if parsed, err := time.Parse(time.RFC3339, s); err == nil {
		t.Time = parsed
		return nil
	}
	parsed, err := time.Parse("2006-01-02 15:04:05", s)
	if err != nil {
		t.Time = time.Time{}
		return nil
	}
	t.Time = parsed.UTC()
	return nil
}

// idRef is a nested object whose only interesting part is the id (plus the
// display name when present).
type idRef struct {
	ID       int64  `json:"id"`
	FullName string `json:"full_name"`
}

// Order is one order record as delivered by the feed.
type Order struct {
	ID             int64          `json:"id"`
	SourceID       int            `json:"source_id"`
	StatusID       int            `json:"status_id"`
	GrandTotal     float64        `json:"grand_total"`
	OrderedAt      Time           `json:"ordered_at"`
	CreatedAt      Time           `json:"created_at"`
	UpdatedAt      Time           `json:"updated_at"`
	ManagerComment string         `json:"manager_comment"`
	Products       []OrderProduct `json:"products"`

	BuyerID     *int64
	BuyerName   string
	ManagerID   *int64
	ManagerName string
}

func (o *Order) UnmarshalJSON(raw []byte) error {
	type plain Order
	aux := struct {
		*plain
		BuyerIDField   *int64 `json:"buyer_id"`
		ManagerIDField *int64 `json:"manager_id"`
		Buyer          *idRef `json:"buyer"`
		Manager        *idRef `json:"manager"`
	}{plain: (*plain)(o)}
	if err := json.Unmarshal(raw, &aux); err != nil {
		return err
	}

	// Flat id wins; the nested object is the fallback shape.
	switch {
	case aux.BuyerIDField != nil:
		o.BuyerID = aux.BuyerIDField
	case aux.Buyer != nil && aux.Buyer.ID != 0:
		id := aux.Buyer.ID
		o.BuyerID = &id
	}
	if aux.Buyer != nil {
		o.BuyerName = aux.Buyer.FullName
	}
	switch {
	case aux.ManagerIDField != nil:
		o.ManagerID = aux.ManagerIDField
	case aux.Manager != nil && aux.Manager.ID != 0:
		id := aux.Manager.ID
		o.ManagerID = &id
	}
	if aux.Manager != nil {
		o.ManagerName = aux.Manager.FullName
	}
	return nil
}

// Version returns the record's change timestamp, falling back to created_at
// when the feed omits updated_at.
func (o Order) Version() time.Time {
	if !o.UpdatedAt.IsZero() {
		return o.UpdatedAt.Time
	}
	return o.CreatedAt.Time
}

// OrderProduct is one order line item.
type OrderProduct struct {
	ID        int64   `json:"id"`
	ProductID *int64  `json:"product_id"`
	Name      string  `json:"name"`
	Quantity  int     `json:"quantity"`
	PriceSold float64 `json:"price_sold"`
}

// CustomField is one catalog custom field; brand rides in these.
type CustomField struct {
	UUID  string `json:"uuid"`
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Product is one catalog record.
type Product struct {
	ID           int64         `json:"id"`
	Name         string        `json:"name"`
	CategoryID   *int64        `json:"category_id"`
	SKU          string        `json:"sku"`
	Price        float64       `json:"price"`
	CustomFields []CustomField `json:"custom_fields"`
}

// Brand resolves the brand custom field by its stable uuid, falling back to
// the localized field name.
func (p Product) Brand() string {
	for _, f := range p.CustomFields {
		if f.UUID == "CT_1002" {
			return strings.TrimSpace(f.Value)
		}
	}
	for _, f := range p.CustomFields {
		if strings.EqualFold(f.Name, "Бренд") || strings.EqualFold(f.Name, "Brand") {
			return strings.TrimSpace(f.Value)
		}
	}
	return ""
}

// Offer is one product variation with its current stock state inlined.
type Offer struct {
	ID             int64    `json:"id"`
	ProductID      int64    `json:"product_id"`
	SKU            string   `json:"sku"`
	Price          float64  `json:"price"`
	PurchasedPrice *float64 `json:"purchased_price"`
	Quantity       int      `json:"quantity"`
	Reserve        int      `json:"reserve"`
}

// Category is one node of the category tree.
type Category struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	ParentID *int64 `json:"parent_id"`
}

// Manager is one CRM manager account.
type Manager struct {
	ID       int64  `json:"id"`
	FullName string `json:"full_name"`
}

// Expense is one operating expense record.
type Expense struct {
	ID            int64   `json:"id"`
	ExpenseTypeID int64   `json:"expense_type_id"`
	TypeName      string  `json:"type_name"`
	Amount        float64 `json:"amount"`
	Description   string  `json:"description"`
	CreatedAt     Time    `json:"created_at"`
}

func (e *Expense) UnmarshalJSON(raw []byte) error {
	type plain Expense
	aux := struct {
		*plain
		ExpenseType *struct {
			ID   int64  `json:"id"`
			Name string `json:"name"`
		} `json:"expense_type"`
	}{plain: (*plain)(e)}
	if err := json.Unmarshal(raw, &aux); err != nil {
		return err
	}
	if e.ExpenseTypeID == 0 && aux.ExpenseType != nil {
		e.ExpenseTypeID = aux.ExpenseType.ID
	}
	if e.TypeName == "" && aux.ExpenseType != nil {
		e.TypeName = aux.ExpenseType.Name
	}
	return nil
}
