package comments

import "testing"

func TestNewStateTarget(t *testing.T) {
	tests := []struct {
		reported int64
		fraction float64
		want     int
	}{
		{100, 0.9, 90},
		{101, 0.9, 90},
		{7, 1.0, 7},
		{0, 0.9, 0},
		{1, 0.9, 0},
	}
	for _, tt := range tests {
		if got := NewState(tt.reported, tt.fraction).Target; got != tt.want {
			t.Errorf("NewState(%d, %v).Target = %d, want %d", tt.reported, tt.fraction, got, tt.want)
		}
	}
}

func TestNextRetryBudget(t *testing.T) {
	s := NewState(100, 1)
	var d Decision
	for i := 1; i <= 2; i++ {
		s, d = s.Next(Observation{Kind: Failed})
		if d.Action != Retry {
			t.Fatalf("failure %d: expected retry, got %v", i, d.Action)
		}
		if s.Page != 0 {
			t.Fatalf("failed page must be retried in place, page=%d", s.Page)
		}
	}
	s, d = s.Next(Observation{Kind: Failed})
	if d.Action != Stop || d.Reason != StopRetryBudget {
		t.Fatalf("third failure: expected retry-budget stop, got %+v", d)
	}
	if s.Errors != MaxTransientErrors {
		t.Fatalf("expected %d errors, got %d", MaxTransientErrors, s.Errors)
	}
}

func TestNextRetryCounterResets(t *testing.T) {
	s := NewState(100, 1)
	s, _ = s.Next(Observation{Kind: Failed})
	s, _ = s.Next(Observation{Kind: Failed})
	s, d := s.Next(Observation{Kind: Page, NewTopLevel: 5})
	if d.Action != Advance || s.Errors != 0 {
		t.Fatalf("success should reset errors: %+v %+v", s, d)
	}
	s, _ = s.Next(Observation{Kind: Failed})
	s, d = s.Next(Observation{Kind: Failed})
	if d.Action != Retry || s.Errors != 2 {
		t.Fatalf("expected 2 fresh failures to retry, got %+v %+v", s, d)
	}

	// an empty page is a successful fetch too
	s, _ = s.Next(Observation{Kind: Empty})
	if s.Errors != 0 {
		t.Fatalf("empty page should reset errors, got %d", s.Errors)
	}
}

func TestNextEmptyBudget(t *testing.T) {
	s := NewState(100, 1)
	var d Decision
	for i := 1; i <= 2; i++ {
		s, d = s.Next(Observation{Kind: Empty})
		if d.Action != Advance || s.Page != i {
			t.Fatalf("empty %d: expected advance to page %d, got %+v page=%d", i, i, d, s.Page)
		}
	}
	s, d = s.Next(Observation{Kind: Empty})
	if d.Action != Stop || d.Reason != StopEmptyBudget {
		t.Fatalf("third empty page: expected empty-budget stop, got %+v", d)
	}
}

func TestNextEmptyCounterResets(t *testing.T) {
	s := NewState(100, 1)
	seq := []Observation{
		{Kind: Empty},
		{Kind: Empty},
		{Kind: Page, NewTopLevel: 3},
		{Kind: Empty},
		{Kind: Empty},
	}
	var d Decision
	for i, o := range seq {
		s, d = s.Next(o)
		if d.Action == Stop {
			t.Fatalf("step %d: unexpected stop %+v", i, d)
		}
	}
	if s.Empty != 2 {
		t.Fatalf("expected 2 consecutive empties, got %d", s.Empty)
	}
}

func TestNextCoverageBeforeStall(t *testing.T) {
	s := NewState(10, 0.9) // target 9
	s, d := s.Next(Observation{Kind: Page, NewTopLevel: 4, NewReplies: 3})
	if d.Action != Advance {
		t.Fatalf("7 < 9 should advance, got %+v", d)
	}
	s, d = s.Next(Observation{Kind: Page, NewTopLevel: 1, NewReplies: 1})
	if d.Reason != StopCoverage || s.Total != 9 {
		t.Fatalf("expected coverage stop at 9, got %+v total=%d", d, s.Total)
	}

	// zero target: coverage wins even when nothing new arrived
	z := NewState(0, 0.9)
	_, d = z.Next(Observation{Kind: Page})
	if d.Reason != StopCoverage {
		t.Fatalf("zero target should stop on coverage, got %+v", d)
	}
}

func TestNextStall(t *testing.T) {
	s := NewState(1000, 1)
	s, _ = s.Next(Observation{Kind: Page, NewTopLevel: 20, NewReplies: 5})
	s, d := s.Next(Observation{Kind: Page, NewTopLevel: 0})
	if d.Action != Stop || d.Reason != StopStall {
		t.Fatalf("expected stall stop, got %+v", d)
	}
	if s.Coverage() != 2.5 {
		t.Fatalf("expected 2.5%% coverage, got %v", s.Coverage())
	}
}

func TestNextDoesNotMutateReceiver(t *testing.T) {
	s := NewState(100, 1)
	_, _ = s.Next(Observation{Kind: Page, NewTopLevel: 10})
	if s.Page != 0 || s.Total != 0 {
		t.Fatalf("receiver mutated: %+v", s)
	}
}

// A finite upstream that never shrinks must always terminate on coverage or stall.
func TestNextTerminatesOnFiniteUpstream(t *testing.T) {
	tests := []struct {
		name     string
		reported int64
		pages    []Observation
	}{
		{"exact coverage", 30, []Observation{{Kind: Page, NewTopLevel: 10, NewReplies: 5}, {Kind: Page, NewTopLevel: 10, NewReplies: 5}}},
		{"under-reported replies", 500, []Observation{{Kind: Page, NewTopLevel: 20}, {Kind: Page, NewTopLevel: 20}, {Kind: Page, NewTopLevel: 3}}},
		{"pagination wraps", 80, []Observation{{Kind: Page, NewTopLevel: 20}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewState(tt.reported, 1)
			var d Decision
			for i := 0; i < 100; i++ {
				o := Observation{Kind: Page} // exhausted upstream repeats itself
				if i < len(tt.pages) {
					o = tt.pages[i]
				}
				s, d = s.Next(o)
				if d.Action == Stop {
					break
				}
			}
			if d.Action != Stop {
				t.Fatal("did not terminate")
			}
			if d.Reason != StopCoverage && d.Reason != StopStall {
				t.Fatalf("unexpected reason %s", d.Reason)
			}
			if d.Reason == StopCoverage && s.Total < s.Target {
				t.Fatalf("coverage stop below target: %d < %d", s.Total, s.Target)
			}
		})
	}
}
