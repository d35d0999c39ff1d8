package validation

import "testing"

func TestCollector_AccumulatesErrors(t *testing.T) {
	var c Collector
	if c.HasErrors() {
		t.Error("fresh collector should have no errors")
	}

	c.Add(nil)
	if c.HasErrors() {
		t.Error("nil errors must be ignored")
	}

	c.Add(&ValidationError{Field: "limit", Message: "must be an integer"})
	c.Add(&ValidationError{Field: "type", Message: "must not be empty"})
	if !c.HasErrors() || len(c.Errors()) != 2 {
		t.Fatalf("expected 2 errors, got %+v", c.Errors())
	}
	if got := c.Summary(); got != "limit: must be an integer; type: must not be empty" {
		t.Errorf("unexpected summary %q", got)
	}
}

func TestNonNegativeInt(t *testing.T) {
	tests := []struct {
		value   string
		def     int
		want    int
		wantErr bool
	}{
		{"", 10, 10, false},
		{"0", 10, 0, false},
		{"42", 10, 42, false},
		{"-1", 10, 0, true},
		{"abc", 10, 0, true},
		{"1.5", 10, 0, true},
	}
	for _, tc := range tests {
		got, err := NonNegativeInt("limit", tc.value, tc.def)
		if (err != nil) != tc.wantErr {
			t.Errorf("%q: unexpected error state %v", tc.value, err)
			continue
		}
		if err == nil && got != tc.want {
			t.Errorf("%q: expected %d, got %d", tc.value, tc.want, got)
		}
	}
}

func TestRequireNonEmpty(t *testing.T) {
	if err := RequireNonEmpty("type", "Patient"); err != nil {
		t.Errorf("expected nil for non-empty value, got %+v", err)
	}
	if err := RequireNonEmpty("type", ""); err == nil {
		t.Error("expected error for empty value")
	}
}
