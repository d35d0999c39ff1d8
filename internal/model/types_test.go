package model

import "testing"

func TestChangeToken_CopiesInput(t *testing.T) {
	// Given: A token built from a caller-owned slice
	ids := []int64{1, 2, 3}
	token := NewChangeToken(ids)

	// When: The caller mutates its slice afterwards
	ids[0] = 99

	// Then: The token is unaffected
	got := token.IDs()
	if got[0] != 1 {
		t.Errorf("expected token to copy ids, got %v", got)
	}
}

func TestChangeToken_IDsReturnsCopy(t *testing.T) {
	token := NewChangeToken([]int64{7, 8})

	first := token.IDs()
	first[0] = 99

	if second := token.IDs(); second[0] != 7 {
		t.Errorf("expected IDs to return a fresh copy, got %v", second)
	}
}

func TestChangeToken_Empty(t *testing.T) {
	if !NewChangeToken(nil).Empty() {
		t.Error("expected empty token")
	}
	if NewChangeToken([]int64{1}).Empty() {
		t.Error("expected non-empty token")
	}
}
