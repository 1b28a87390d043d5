package main

import "testing"

func TestComma(t *testing.T) {
	tests := map[int64]string{
		0:          "0",
		999:        "999",
		1000:       "1,000",
		1234567:    "1,234,567",
		-98765:     "-98,765",
		1000000000: "1,000,000,000",
	}
	for in, want := range tests {
		if got := comma(in); got != want {
			t.Fatalf("comma(%d) = %q want %q", in, got, want)
		}
	}
}

func TestCompactAndPercent(t *testing.T) {
	if got := compact(500); got != "500" {
		t.Fatalf("compact(500) = %q", got)
	}
	if got := compact(25_000); got != "25.0k" {
		t.Fatalf("compact(25000) = %q", got)
	}
	if got := compact(3_400_000); got != "3.4M" {
		t.Fatalf("compact(3400000) = %q", got)
	}
	if got := formatPercent(0.0125); got != "1.25%" {
		t.Fatalf("formatPercent = %q", got)
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("  steady-hand  ", 20); got != "steady-hand" {
		t.Fatalf("truncate trimmed = %q", got)
	}
	if got := truncate("precision-master-upgrade", 10); got != "precisi..." {
		t.Fatalf("truncate = %q", got)
	}
}
