package fingerprint

import (
	"strings"
	"testing"

	"github.com/kozaktomas/face-finder/internal/database"
)

func TestCanonicalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "Fest", "Fest"},
		{"trims whitespace", "  Fest \t", "Fest"},
		{"keeps case", "FEST", "FEST"},
		{"whitespace only is unset", "   ", ""},
		{"composes NFD", "Jir\u030Ci", "Ji\u0159i"},
		{"drops control chars", "Fe\x00st\n", "Fest"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := Canonicalize(tc.in); got != tc.want {
				t.Errorf("Canonicalize(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestKey_Format(t *testing.T) {
	probe := []byte("probe")
	key := Key(probe, database.Filters{Event: "Fest", Date: "2024-01-01"})

	want := "search:" + ContentHash(probe) + ":Fest:2024-01-01::"
	if key != want {
		t.Errorf("Key() = %q, want %q", key, want)
	}
	if len(ContentHash(probe)) != 64 {
		t.Errorf("expected 256-bit hex hash, got %d chars", len(ContentHash(probe)))
	}
}

func TestKey_Deterministic(t *testing.T) {
	probe := []byte{0xFF, 0xD8, 0xFF, 0x00}
	a := Key(probe, database.Filters{Event: " Fest ", District: "North"})
	b := Key(probe, database.Filters{Event: "Fest", District: "North"})
	if a != b {
		t.Errorf("canonically equal filters produced different keys: %q vs %q", a, b)
	}
}

func TestKey_Distinguishes(t *testing.T) {
	probe := []byte("probe")
	keys := map[string]database.Filters{}
	cases := []database.Filters{
		{},
		{Event: "Fest"},
		{Date: "Fest"},
		{Department: "Fest"},
		{District: "Fest"},
		{Event: "fest"},
		{Event: "a:b"},
		{Event: "a", Date: "b"},
		{Event: "a%3Ab"},
	}
	for _, f := range cases {
		k := Key(probe, f)
		if prev, ok := keys[k]; ok {
			t.Errorf("filters %+v and %+v share key %q", prev, f, k)
		}
		keys[k] = f
	}

	if Key([]byte("one"), database.Filters{}) == Key([]byte("two"), database.Filters{}) {
		t.Error("different probes produced the same key")
	}
}

func TestKey_SegmentCount(t *testing.T) {
	key := Key([]byte("x"), database.Filters{Event: "a:b:c", District: "d/e"})
	if n := strings.Count(key, ":"); n != 5 {
		t.Errorf("expected 5 separators, got %d in %q", n, key)
	}
}
