package config

import "testing"

func TestSelectedOnlyTables(t *testing.T) {
	o := Options{OnlyTables: []string{"customers", "orders"}}
	if !o.Selected("customers") {
		t.Error("customers should be selected")
	}
	if o.Selected("invoices") {
		t.Error("invoices should not be selected when only-tables is set and excludes it")
	}
}

func TestSelectedIncludingPrefix(t *testing.T) {
	o := Options{Including: []string{"cust_*"}}
	if !o.Selected("cust_orders") {
		t.Error("cust_orders should match the cust_* pattern")
	}
	if o.Selected("invoices") {
		t.Error("invoices should not match the cust_* pattern")
	}
}

func TestSelectedExcludingWins(t *testing.T) {
	o := Options{Excluding: []string{"tmp_*"}}
	if o.Selected("tmp_staging") {
		t.Error("tmp_staging should be excluded")
	}
	if !o.Selected("customers") {
		t.Error("customers should not be excluded")
	}
}

func TestSelectedCombinesAllThreeFilters(t *testing.T) {
	o := Options{
		OnlyTables: []string{"cust_orders", "cust_archive"},
		Including:  []string{"cust_*"},
		Excluding:  []string{"cust_archive"},
	}
	if !o.Selected("cust_orders") {
		t.Error("cust_orders passes all three filters")
	}
	if o.Selected("cust_archive") {
		t.Error("cust_archive is explicitly excluded")
	}
}

func TestDefaultOptionsConcurrentBatches(t *testing.T) {
	o := DefaultOptions()
	if o.ConcurrentBatches != 10 {
		t.Errorf("want default concurrent batches 10, got %d", o.ConcurrentBatches)
	}
}
