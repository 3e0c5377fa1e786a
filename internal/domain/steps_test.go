package domain

import "testing"

func TestStepIndexFollowsFixedOrder(t *testing.T) {
	for i, step := range Steps {
		if got := StepIndex(step); got != i {
			t.Fatalf("expected index %d for %s, got %d", i, step, got)
		}
	}
	if got := StepIndex("made-up"); got != -1 {
		t.Fatalf("expected -1 for unknown step, got %d", got)
	}
}

func TestClampStageIndex(t *testing.T) {
	if got := ClampStageIndex(-3); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
	if got := ClampStageIndex(99); got != len(Steps)-1 {
		t.Fatalf("expected %d, got %d", len(Steps)-1, got)
	}
	if got := ClampStageIndex(2); got != 2 {
		t.Fatalf("expected 2, got %d", got)
	}
}

func TestSessionUpdateAppliesOnlySuppliedFields(t *testing.T) {
	s := Session{IsOpen: true, GroupName: "Acme", TotalTeams: 6, CurrentStageIndex: 1}
	open := false
	idx := 3
	merged := SessionUpdate{IsOpen: &open, CurrentStageIndex: &idx}.Apply(s)

	if merged.IsOpen || merged.CurrentStageIndex != 3 {
		t.Fatalf("expected supplied fields applied, got %+v", merged)
	}
	if merged.GroupName != "Acme" || merged.TotalTeams != 6 {
		t.Fatalf("expected untouched fields preserved, got %+v", merged)
	}
}

func TestNormalizeDefaults(t *testing.T) {
	s := Session{CurrentStageIndex: -1}.Normalize()
	if s.TotalTeams != DefaultTotalTeams {
		t.Fatalf("expected default totalTeams %d, got %d", DefaultTotalTeams, s.TotalTeams)
	}
	if s.CurrentStageIndex != 0 {
		t.Fatalf("expected stage index floored at 0, got %d", s.CurrentStageIndex)
	}
}
