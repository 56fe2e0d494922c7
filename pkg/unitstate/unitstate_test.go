package unitstate

import "testing"

func TestNormalizeUnit(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"nginx", "nginx.service"},
		{"nginx.service", "nginx.service"},
		{"backup.timer", "backup.timer"},
		{"dev-sda1.mount", "dev-sda1.mount"},
	}
	for _, c := range cases {
		if got := normalizeUnit(c.in); got != c.want {
			t.Errorf("normalizeUnit(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestHealthy(t *testing.T) {
	if !(UnitStatus{Active: "active", Load: "loaded"}).Healthy() {
		t.Error("active unit should be healthy")
	}
	if (UnitStatus{Active: "inactive", Load: "loaded"}).Healthy() {
		t.Error("inactive unit should not be healthy")
	}
	if (UnitStatus{Active: "active", Load: "not-found"}).Healthy() {
		t.Error("not-found unit should not be healthy")
	}
	if !(UnitStatus{Active: "unknown", Sub: "not-found", Load: "not-found"}).NotFound() {
		t.Error("not-found load state should report NotFound")
	}
}
