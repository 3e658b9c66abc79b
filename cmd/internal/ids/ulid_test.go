package ids

import (
	"testing"
	"time"
)

func TestNewULID_UniqueAndValid(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	seen := make(map[string]struct{}, 512)

	for i := 0; i < 512; i++ {
		id, err := NewULID(now)
		if err != nil {
			t.Fatalf("NewULID: %v", err)
		}
		if len(id) != 26 {
			t.Fatalf("len(id)=%d want 26", len(id))
		}
		if !Valid(id) {
			t.Fatalf("Valid(%q)=false", id)
		}
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = struct{}{}
	}
}

func TestValid_RejectsPathLikeInput(t *testing.T) {
	t.Parallel()

	cases := []string{"", "../../etc/passwd", "01HZZZZZZZZZZZZZZZZZZZZZZ", "not-a-ulid-at-all-0000000000"}
	for _, in := range cases {
		if Valid(in) {
			t.Fatalf("Valid(%q)=true want false", in)
		}
	}
}
