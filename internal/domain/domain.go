package domain

import "encoding/json"

// Work item statuses. An item is created pending, claimed into in_progress,
// and ends in exactly one of iterating (superseded), approved, or failed.
const (
	StatusPending    = "pending"
	StatusInProgress = "in_progress"
	StatusIterating  = "iterating"
	StatusApproved   = "approved"
	StatusFailed     = "failed"
)

// Priority tiers. The tier partitions scheduling before the
// cost-of-delay/job-size ratio is considered.
const (
	PriorityHigh   = "high"
	PriorityNormal = "normal"
	PriorityLow    = "low"
)

// PriorityRank maps a tier to its scheduling rank (lower runs first).
// Unknown tiers sort last.
func PriorityRank(priority string) int {
	switch priority {
	case PriorityHigh:
		return 0
	case PriorityNormal:
		return 1
	case PriorityLow:
		return 2
	}
	return 3
}

// WorkItem is one attempt at producing and validating an artifact. Successive
// attempts chain through ParentID; the chain shares the original request.
type WorkItem struct {
	ID          string   `json:"id"`
	Domain      string   `json:"domain"`
	Kind        string   `json:"kind"`
	Spec        WorkSpec `json:"spec"`
	Priority    string   `json:"priority" enum:"high,normal,low"`
	CostOfDelay float64  `json:"cost_of_delay"`
	JobSize     float64  `json:"job_size"`
	Iteration   int      `json:"iteration"`
	ParentID    *string  `json:"parent_id,omitempty"`
	Status      string   `json:"status" enum:"pending,in_progress,iterating,approved,failed"`
	CreatedAt   string   `json:"created_at" format:"date-time"`
	UpdatedAt   string   `json:"updated_at" format:"date-time"`
}

// Terminal reports whether the item can no longer change status.
func (w WorkItem) Terminal() bool {
	switch w.Status {
	case StatusIterating, StatusApproved, StatusFailed:
		return true
	}
	return false
}

// UrgencyRatio is the weighted-shortest-job-first scheduling key.
// Callers must reject JobSize <= 0 before an item is stored.
func (w WorkItem) UrgencyRatio() float64 {
	return w.CostOfDelay / w.JobSize
}

// WorkSpec describes what an item should produce. Feedback accumulates the
// consolidated critique of earlier attempts in the same lineage.
type WorkSpec struct {
	Title              string   `json:"title"`
	Description        string   `json:"description,omitempty"`
	Components         []string `json:"components,omitempty"`
	AcceptanceCriteria []string `json:"acceptance_criteria,omitempty"`
	Feedback           []string `json:"feedback,omitempty"`
}

// MarshalSpec serializes a WorkSpec for storage.
func MarshalSpec(s WorkSpec) (string, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// UnmarshalSpec parses a stored spec; an empty payload yields a zero spec.
func UnmarshalSpec(raw string) (WorkSpec, error) {
	var s WorkSpec
	if raw == "" {
		return s, nil
	}
	err := json.Unmarshal([]byte(raw), &s)
	return s, err
}

// Artifact formats accepted from the generator.
const (
	FormatSVG   = "svg"
	FormatLaTeX = "latex"
	FormatHTML  = "html"
	FormatRaw   = "raw"
)

// Artifact is the produced output for one work item, one per item id.
type Artifact struct {
	ItemID     string `json:"item_id"`
	Code       string `json:"code"`
	Format     string `json:"format" enum:"svg,latex,html,raw"`
	ParseError string `json:"parse_error,omitempty"`
	UpdatedAt  string `json:"updated_at" format:"date-time"`
}

// Critic verdicts.
const (
	VerdictPass = "pass"
	VerdictFail = "fail"
)

// CriticResult is one critic's judgment of an artifact. Immutable once
// produced.
type CriticResult struct {
	AgentName string  `json:"agent_name"`
	Aspect    string  `json:"aspect"`
	Score     float64 `json:"score"`
	Verdict   string  `json:"verdict" enum:"pass,fail"`
	Feedback  string  `json:"feedback,omitempty"`
	Degraded  bool    `json:"degraded,omitempty"`
}

// Passed reports whether the critic's verdict is pass.
func (c CriticResult) Passed() bool { return c.Verdict == VerdictPass }

// ValidationResult is the aggregate decision for one iteration.
type ValidationResult struct {
	ItemID        string         `json:"item_id"`
	Iteration     int            `json:"iteration"`
	Results       []CriticResult `json:"results"`
	MasterScore   float64        `json:"master_score"`
	WeightedScore float64        `json:"weighted_score"`
	Approved      bool           `json:"approved"`
	Forced        bool           `json:"forced,omitempty"`
	Feedback      string         `json:"feedback,omitempty"`
	CreatedAt     string         `json:"created_at" format:"date-time"`
}

// Event is one append-only audit log entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	Domain     string `json:"domain,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// APIKey authenticates API callers; only the hash is stored.
type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
