package api

import "testing"

func TestNormalizeNumber(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"15551234567", "15551234567", true},
		{"+1 (555) 123-4567", "15551234567", true},
		{" 44.20.7946.0958 ", "442079460958", true},
		{"123456", "123456", true},
		{"12345", "", false},
		{"1234567890123456", "", false},
		{"++15551234567", "", false},
		{"1555-abc-4567", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		got, err := normalizeNumber(tc.in)
		if tc.ok && err != nil {
			t.Fatalf("normalizeNumber(%q): unexpected error %v", tc.in, err)
		}
		if !tc.ok && err == nil {
			t.Fatalf("normalizeNumber(%q): expected error, got %q", tc.in, got)
		}
		if got != tc.want {
			t.Fatalf("normalizeNumber(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
