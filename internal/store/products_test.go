package store

import "testing"

func TestCategoryWithDescendants(t *testing.T) {
	s := openTestStore(t)
	defer s.Close()

	root := int64(1)
	skincare := int64(2)
	if _, err := s.UpsertCategories([]Category{
		{ID: 1, Name: "All"},
		{ID: 2, Name: "Skincare", ParentID: &root},
		{ID: 3, Name: "Creams", ParentID: &skincare},
		{ID: 4, Name: "Serums", ParentID: &skincare},
		{ID: 5, Name: "Accessories", ParentID: &root},
	}); err != nil {
		t.Fatalf("UpsertCategories: %v", err)
	}

	ids, err := s.CategoryWithDescendants(2)
	if err != nil {
		t.Fatalf("CategoryWithDescendants: %v", err)
	}
	got := make(map[int64]bool, len(ids))
	for _, id := range ids {
		got[id] = true
	}
	if len(ids) != 3 || !got[2] || !got[3] || !got[4] {
		t.Errorf("subtree of 2 = %v, want {2,3,4}", ids)
	}
	if got[5] {
		t.Error("sibling category leaked into the subtree")
	}

	// A leaf returns only itself; an unknown id yields an empty set.
	if ids, _ := s.CategoryWithDescendants(3); len(ids) != 1 || ids[0] != 3 {
		t.Errorf("leaf subtree = %v, want [3]", ids)
	}
	if ids, _ := s.CategoryWithDescendants(999); len(ids) != 0 {
		t.Errorf("unknown subtree = %v, want empty", ids)
	}
}

func TestUpsertProducts_ReplacesFields(t *testing.T) {
	s := openTestStore(t)
	defer s.Close()

	if _, err := s.UpsertProducts([]Product{{ID: 501, Name: "Day Cream", Price: 40}}); err != nil {
		t.Fatalf("UpsertProducts: %v", err)
	}
	if _, err := s.UpsertProducts([]Product{{ID: 501, Name: "Day Cream v2", Brand: strPtr("Lumi"), Price: 45}}); err != nil {
		t.Fatalf("UpsertProducts update: %v", err)
	}

	var name, brand string
	var price float64
	if err := s.sql.QueryRow("SELECT name, COALESCE(brand, ''), price FROM products WHERE id = 501").
		Scan(&name, &brand, &price); err != nil {
		t.Fatalf("read product: %v", err)
	}
	if name != "Day Cream v2" || brand != "Lumi" || price != 45 {
		t.Errorf("product = %q/%q/%v", name, brand, price)
	}

	var n int
	s.sql.QueryRow("SELECT COUNT(*) FROM products").Scan(&n)
	if n != 1 {
		t.Errorf("product count = %d, want 1", n)
	}
}
