package domain

// DefaultTotalTeams is assumed when a stored session omits the field.
const DefaultTotalTeams = 6

// MaxTotalTeams bounds the team count an admin may configure.
const MaxTotalTeams = 12

// Session is one instructor-run instance of the training exercise.
// Timestamps are epoch milliseconds and are assigned by the repository on write.
type Session struct {
	ID                string `json:"id,omitempty"`
	IsOpen            bool   `json:"isOpen"`
	GroupName         string `json:"groupName"`
	TotalTeams        int    `json:"totalTeams"`
	CurrentStageIndex int    `json:"currentStageIndex"`
	CreatedAt         int64  `json:"createdAt,omitempty"`
	UpdatedAt         int64  `json:"updatedAt,omitempty"`
}

// Normalize fills defaults for fields a stored record may omit.
func (s Session) Normalize() Session {
	if s.TotalTeams == 0 {
		s.TotalTeams = DefaultTotalTeams
	}
	if s.CurrentStageIndex < 0 {
		s.CurrentStageIndex = 0
	}
	return s
}

// SessionUpdate is a shallow-merge partial: nil fields are left untouched.
type SessionUpdate struct {
	IsOpen            *bool   `json:"isOpen,omitempty"`
	GroupName         *string `json:"groupName,omitempty"`
	TotalTeams        *int    `json:"totalTeams,omitempty"`
	CurrentStageIndex *int    `json:"currentStageIndex,omitempty"`
}

// Apply merges the non-nil fields onto the session.
func (u SessionUpdate) Apply(s Session) Session {
	if u.IsOpen != nil {
		s.IsOpen = *u.IsOpen
	}
	if u.GroupName != nil {
		s.GroupName = *u.GroupName
	}
	if u.TotalTeams != nil {
		s.TotalTeams = *u.TotalTeams
	}
	if u.CurrentStageIndex != nil {
		s.CurrentStageIndex = *u.CurrentStageIndex
	}
	return s
}

// Learner is a learner's registration within a session, including team
// assignment and live progress. Registrations are append-only from the
// client's perspective; only CurrentStep and LastActive change after join.
type Learner struct {
	ID          string `json:"id,omitempty"`
	Name        string `json:"name"`
	TeamID      int    `json:"teamId"`
	GroupName   string `json:"groupName"`
	CurrentStep StepID `json:"currentStep"`
	JoinedAt    int64  `json:"joinedAt"`
	LastActive  int64  `json:"lastActive,omitempty"`
}
