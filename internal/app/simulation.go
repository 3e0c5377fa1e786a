package app

import (
	"sync"

	"firesim-sync-service/internal/domain"
)

// DefaultTimeLimit is the exercise countdown budget when the scenario does
// not specify one: one hour.
const DefaultTimeLimit = 60 * 60

// Simulation is the client-local step state machine: current step, countdown,
// and the free-form answer data collected per stage. None of it is persisted
// to the shared store; only the current step is mirrored out for admin
// visibility, by whoever owns this state.
type Simulation struct {
	mu    sync.Mutex
	state domain.SimulationState
}

// NewSimulation builds the initial state for a scenario run.
func NewSimulation(scenario domain.Scenario) *Simulation {
	limit := scenario.TimeLimitSeconds
	if limit <= 0 {
		limit = DefaultTimeLimit
	}
	return &Simulation{
		state: domain.SimulationState{
			CurrentStep: domain.FirstStep,
			TimeLeft:    limit,
			Data: domain.AnswerData{
				RootCause: domain.RootCause{Whys: make([]string, domain.WhyCount)},
			},
		},
	}
}

// State returns a snapshot of the simulation state.
func (s *Simulation) State() domain.SimulationState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneState(s.state)
}

// Step returns the current step.
func (s *Simulation) Step() domain.StepID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.CurrentStep
}

// SetStep moves to the given step, bounded by the session's stage gate.
// A step past the gate is rejected without mutating local state; moving
// backwards is always allowed.
func (s *Simulation) SetStep(step domain.StepID, gate int) error {
	idx := domain.StepIndex(step)
	if idx < 0 {
		return domain.ErrUnknownStep
	}
	if idx > gate {
		return domain.ErrStageLocked
	}
	s.mu.Lock()
	s.state.CurrentStep = step
	s.mu.Unlock()
	return nil
}

// Advance moves to the next step if the gate permits it and returns the step
// arrived at.
func (s *Simulation) Advance(gate int) (domain.StepID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur := domain.StepIndex(s.state.CurrentStep)
	if cur >= len(domain.Steps)-1 {
		return s.state.CurrentStep, nil
	}
	if cur+1 > gate {
		return s.state.CurrentStep, domain.ErrStageLocked
	}
	s.state.CurrentStep = domain.Steps[cur+1]
	return s.state.CurrentStep, nil
}

// Retreat moves to the previous step; the gate never blocks going back.
func (s *Simulation) Retreat() domain.StepID {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur := domain.StepIndex(s.state.CurrentStep)
	if cur > 0 {
		s.state.CurrentStep = domain.Steps[cur-1]
	}
	return s.state.CurrentStep
}

// StartTimer begins the countdown.
func (s *Simulation) StartTimer() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.TimeLeft > 0 {
		s.state.IsTimerRunning = true
	}
}

// PauseTimer stops the countdown without resetting it.
func (s *Simulation) PauseTimer() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.IsTimerRunning = false
}

// Tick advances the countdown by one second and returns the remaining time.
// The clock floors at zero and stops itself there.
func (s *Simulation) Tick() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.state.IsTimerRunning {
		return s.state.TimeLeft
	}
	if s.state.TimeLeft > 0 {
		s.state.TimeLeft--
	}
	if s.state.TimeLeft == 0 {
		s.state.IsTimerRunning = false
	}
	return s.state.TimeLeft
}

// AddFact appends a collected fact.
func (s *Simulation) AddFact(fact string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Data.Facts = append(s.state.Data.Facts, fact)
}

// SetProblemDefinition records the two-sided problem statement.
func (s *Simulation) SetProblemDefinition(def domain.ProblemDefinition) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Data.ProblemDefinition = def
}

// SetWhy records one answer in the five-whys chain.
func (s *Simulation) SetWhy(i int, answer string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < 0 || i >= len(s.state.Data.RootCause.Whys) {
		return false
	}
	s.state.Data.RootCause.Whys[i] = answer
	return true
}

// AddDirectCause appends to the direct cause list.
func (s *Simulation) AddDirectCause(cause string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Data.RootCause.DirectCauses = append(s.state.Data.RootCause.DirectCauses, cause)
}

// AddIndirectCause appends to the indirect cause list.
func (s *Simulation) AddIndirectCause(cause string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Data.RootCause.IndirectCauses = append(s.state.Data.RootCause.IndirectCauses, cause)
}

// AddImmediateSolution appends a downstream countermeasure.
func (s *Simulation) AddImmediateSolution(solution string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Data.Solutions.Immediate = append(s.state.Data.Solutions.Immediate, solution)
}

// AddPreventionSolution appends an upstream preventive measure.
func (s *Simulation) AddPreventionSolution(solution string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Data.Solutions.Prevention = append(s.state.Data.Solutions.Prevention, solution)
}

func cloneState(st domain.SimulationState) domain.SimulationState {
	st.Data.Facts = append([]string(nil), st.Data.Facts...)
	st.Data.RootCause.Whys = append([]string(nil), st.Data.RootCause.Whys...)
	st.Data.RootCause.DirectCauses = append([]string(nil), st.Data.RootCause.DirectCauses...)
	st.Data.RootCause.IndirectCauses = append([]string(nil), st.Data.RootCause.IndirectCauses...)
	st.Data.Solutions.Immediate = append([]string(nil), st.Data.Solutions.Immediate...)
	st.Data.Solutions.Prevention = append([]string(nil), st.Data.Solutions.Prevention...)
	return st
}
