package domain

// ContextItem is a piece of situational material attached to a stage
// (an incident log excerpt, an interview, an email).
type ContextItem struct {
	Type    string `json:"type"` // "interview", "report", or "email"
	Source  string `json:"source"`
	Content string `json:"content"`
}

// StageContent describes one stage of a scenario: what the learners see,
// what they are meant to achieve, and the material they work from.
type StageContent struct {
	ID          StepID        `json:"id"`
	Title       string        `json:"title"`
	ShortTitle  string        `json:"shortTitle"`
	Description string        `json:"description"`
	Goal        string        `json:"goal"`
	Guide       string        `json:"guide"`
	Context     []ContextItem `json:"context,omitempty"`
}

// Briefing is the opening situation report shown before the first stage.
type Briefing struct {
	Date             string `json:"date"`
	Location         string `json:"location"`
	Incident         string `json:"incident"`
	HumanDamage      string `json:"humanDamage"`
	ProductionDamage string `json:"productionDamage"`
	Deadline         string `json:"deadline"`
	Client           string `json:"client"`
	Directive        string `json:"directive"`
}

// Scenario is the full content package for one training exercise: the
// briefing, the ordered stage material, and the shared info-card pool that
// gets partitioned across teams.
type Scenario struct {
	ID               string         `json:"id"`
	Briefing         Briefing       `json:"briefing"`
	Stages           []StageContent `json:"stages"`
	InfoCards        []string       `json:"infoCards,omitempty"`
	TimeLimitSeconds int            `json:"timeLimitSeconds"`
}

// CardsForTeam evenly partitions the scenario's info cards across totalTeams
// and returns the slice assigned to the given 1-based team. Cards that do not
// divide evenly are dropped from the tail.
func (s Scenario) CardsForTeam(teamID, totalTeams int) []string {
	if totalTeams <= 0 || teamID < 1 || teamID > totalTeams {
		return nil
	}
	perTeam := len(s.InfoCards) / totalTeams
	if perTeam == 0 {
		return nil
	}
	start := (teamID - 1) * perTeam
	return s.InfoCards[start : start+perTeam]
}
