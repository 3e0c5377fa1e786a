package domain

// StepID identifies one phase of the simulation. The enumeration is fixed and
// shared by every session; the admin's stage gate indexes into it.
type StepID string

const (
	StepIntro             StepID = "intro"
	StepFactFinding       StepID = "fact-finding"
	StepProblemDefinition StepID = "problem-definition"
	StepRootCause         StepID = "root-cause"
	StepSolution          StepID = "solution"
	StepReport            StepID = "report"
)

// Steps is the ordered list of simulation phases.
var Steps = []StepID{
	StepIntro,
	StepFactFinding,
	StepProblemDefinition,
	StepRootCause,
	StepSolution,
	StepReport,
}

// FirstStep is the default step assigned to a learner at join time.
const FirstStep = StepIntro

// StepIndex returns the position of the step in the fixed order,
// or -1 if the identifier is unknown.
func StepIndex(step StepID) int {
	for i, s := range Steps {
		if s == step {
			return i
		}
	}
	return -1
}

// ValidStep reports whether the identifier belongs to the fixed enumeration.
func ValidStep(step StepID) bool {
	return StepIndex(step) >= 0
}

// ClampStageIndex bounds an admin-supplied stage index to the step list.
func ClampStageIndex(idx int) int {
	if idx < 0 {
		return 0
	}
	if idx > len(Steps)-1 {
		return len(Steps) - 1
	}
	return idx
}
