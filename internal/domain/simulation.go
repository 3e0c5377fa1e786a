package domain

// ProblemDefinition holds the two-sided problem statement from stage two.
type ProblemDefinition struct {
	HumanIssue      string `json:"humanIssue"`
	ProductionIssue string `json:"productionIssue"`
}

// RootCause captures the five-whys chain and the open cause lists.
type RootCause struct {
	Whys           []string `json:"whys"`
	DirectCauses   []string `json:"directCauses"`
	IndirectCauses []string `json:"indirectCauses"`
}

// Solutions separates immediate countermeasures from preventive ones.
type Solutions struct {
	Immediate  []string `json:"immediate"`
	Prevention []string `json:"prevention"`
}

// AnswerData is the free-form content a learner produces per step.
type AnswerData struct {
	Facts             []string          `json:"facts"`
	ProblemDefinition ProblemDefinition `json:"problemDefinition"`
	RootCause         RootCause         `json:"rootCause"`
	Solutions         Solutions         `json:"solutions"`
}

// SimulationState is pure client-local form state. Only CurrentStep is
// mirrored to the shared store for admin visibility.
type SimulationState struct {
	CurrentStep    StepID     `json:"currentStep"`
	TimeLeft       int        `json:"timeLeft"` // seconds
	IsTimerRunning bool       `json:"isTimerRunning"`
	Data           AnswerData `json:"data"`
}

// WhyCount is the depth of the five-whys chain.
const WhyCount = 5
