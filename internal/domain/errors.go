package domain

import "errors"

var (
	// ErrSessionNotFound is returned when a join code does not match any known
	// session. Closed sessions fail the same way, so a learner cannot probe
	// for codes the admin has closed.
	ErrSessionNotFound = errors.New("session not found")
	// ErrTeamOutOfRange indicates a team number outside [1, totalTeams].
	ErrTeamOutOfRange = errors.New("team number out of range")
	// ErrStageLocked indicates an attempt to advance past the admin-controlled gate.
	ErrStageLocked = errors.New("stage not yet opened by instructor")
	// ErrScenarioNotFound indicates the scenario content could not be loaded.
	ErrScenarioNotFound = errors.New("scenario not found")
	// ErrUnknownStep indicates a step identifier outside the fixed enumeration.
	ErrUnknownStep = errors.New("unknown step")
)
