package engine

import (
	"errors"
	"testing"
)

func TestHandoffs_PutGet(t *testing.T) {
	h := NewHandoffs()

	if err := h.Put("download", "online_transaction.csv"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	value, ok := h.Get("download")
	if !ok || value != "online_transaction.csv" {
		t.Errorf("expected online_transaction.csv, got %q (ok=%v)", value, ok)
	}

	if _, ok := h.Get("transform"); ok {
		t.Error("transform should not have a value")
	}
}

func TestHandoffs_WriteOnce(t *testing.T) {
	h := NewHandoffs()
	_ = h.Put("download", "first.csv")

	err := h.Put("download", "second.csv")
	if !errors.Is(err, ErrHandoffExists) {
		t.Errorf("expected ErrHandoffExists, got %v", err)
	}

	value, _ := h.Get("download")
	if value != "first.csv" {
		t.Errorf("value should stay first.csv, got %s", value)
	}
}

func TestHandoffs_SnapshotIsolation(t *testing.T) {
	h := NewHandoffs()
	_ = h.Put("download", "a.csv")

	view := h.Snapshot()
	_ = h.Put("transform", "out.parquet")

	if _, ok := view.Get("transform"); ok {
		t.Error("snapshot should not see values written later")
	}
	if view.Len() != 1 {
		t.Errorf("expected 1 value in snapshot, got %d", view.Len())
	}
	if h.Len() != 2 {
		t.Errorf("expected 2 values in store, got %d", h.Len())
	}
}

func TestHandoffView_Require(t *testing.T) {
	view := NewHandoffView(map[string]string{"download": "a.csv"})

	value, err := view.Require("download")
	if err != nil || value != "a.csv" {
		t.Errorf("expected a.csv, got %q, %v", value, err)
	}

	_, err = view.Require("transform")
	if !errors.Is(err, ErrHandoffNotFound) {
		t.Errorf("expected ErrHandoffNotFound, got %v", err)
	}
}

func TestHandoffs_Independent(t *testing.T) {
	first := NewHandoffs()
	second := NewHandoffs()

	_ = first.Put("download", "run1.csv")

	if _, ok := second.Get("download"); ok {
		t.Error("values must not leak between stores")
	}
}
