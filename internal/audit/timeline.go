package audit

import "time"

// EntityDecision tags decision rows in audit_logs.
const EntityDecision = "rbac_decision"

// Stored action values for decision rows.
const (
	ActionAllow = "ALLOW"
	ActionDeny  = "DENY"
)

// Outcome filters the timeline by decision result.
type Outcome string

const (
	OutcomeAny     Outcome = ""
	OutcomeAllowed Outcome = "allowed"
	OutcomeDenied  Outcome = "denied"
)

// Valid reports whether o is a known outcome filter.
func (o Outcome) Valid() bool {
	switch o {
	case OutcomeAny, OutcomeAllowed, OutcomeDenied:
		return true
	}
	return false
}

func (o Outcome) storedAction() string {
	switch o {
	case OutcomeAllowed:
		return ActionAllow
	case OutcomeDenied:
		return ActionDeny
	}
	return ""
}

// TimelineFilters narrows the decision timeline. To is exclusive.
type TimelineFilters struct {
	From     time.Time
	To       time.Time
	UserID   *int64
	Resource string
	Outcome  Outcome
	Page     int
	PageSize int
}

// TimelineRow is one recorded access decision.
type TimelineRow struct {
	At                 time.Time `json:"at"`
	EventID            string    `json:"event_id"`
	UserID             int64     `json:"user_id"`
	Resource           string    `json:"resource"`
	Action             string    `json:"action"`
	Allowed            bool      `json:"allowed"`
	Reason             string    `json:"reason,omitempty"`
	PermissionCode     string    `json:"permission_code,omitempty"`
	Scope              string    `json:"scope,omitempty"`
	TargetDepartmentID *int64    `json:"target_department_id,omitempty"`
	TargetOwnerID      *int64    `json:"target_owner_id,omitempty"`
}

// PagingInfo holds simple page metadata.
type PagingInfo struct {
	Page     int  `json:"page"`
	PageSize int  `json:"page_size"`
	HasNext  bool `json:"has_next"`
	PrevPage int  `json:"prev_page,omitempty"`
	NextPage int  `json:"next_page,omitempty"`
}

// Result wraps a timeline page.
type Result struct {
	Rows   []TimelineRow `json:"rows"`
	Paging PagingInfo    `json:"paging"`
}
