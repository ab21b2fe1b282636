package domain

import "time"

// SecurityAction is the gate decision derived from a scanner verdict.
type SecurityAction string

const (
	ActionAccept SecurityAction = "accept"
	ActionFlag   SecurityAction = "flag"
	ActionReject SecurityAction = "reject"
)

// SpamVerdict is the opaque outcome of the external spam scorer.
type SpamVerdict struct {
	Checked bool           `json:"checked" bson:"checked"`
	Score   float64        `json:"score" bson:"score"`
	Action  SecurityAction `json:"action" bson:"action"`
	Flagged bool           `json:"flagged" bson:"flagged"`
}

// InjectionVerdict is the opaque outcome of the prompt-injection scanner.
type InjectionVerdict struct {
	Checked    bool           `json:"checked" bson:"checked"`
	Detected   bool           `json:"detected" bson:"detected"`
	RiskLevel  string         `json:"risk_level,omitempty" bson:"risk_level,omitempty"`
	Confidence float64        `json:"confidence,omitempty" bson:"confidence,omitempty"`
	Action     SecurityAction `json:"action" bson:"action"`
}

// Verdict combines both scans into the action the ingest pipeline applies.
// Reject wins over flag, flag over accept.
func (s *SecurityScan) Verdict() SecurityAction {
	action := ActionAccept
	if s == nil {
		return action
	}
	if s.Spam != nil && s.Spam.Checked {
		action = stronger(action, s.Spam.Action)
	}
	if s.PromptInjection != nil && s.PromptInjection.Checked {
		action = stronger(action, s.PromptInjection.Action)
	}
	return action
}

func stronger(a, b SecurityAction) SecurityAction {
	rank := map[SecurityAction]int{ActionAccept: 0, ActionFlag: 1, ActionReject: 2}
	if rank[b] > rank[a] {
		return b
	}
	return a
}

// BlockedEmail is a rejected inbound email kept in a separate ledger so it
// never surfaces through the normal inbox API. Entries expire after 90 days.
type BlockedEmail struct {
	EventID   string       `json:"event_id" bson:"event_id"`
	InboxID   string       `json:"inbox_id,omitempty" bson:"inbox_id,omitempty"`
	DomainID  string       `json:"domain_id,omitempty" bson:"domain_id,omitempty"`
	From      string       `json:"from" bson:"from"`
	Subject   string       `json:"subject,omitempty" bson:"subject,omitempty"`
	Reason    string       `json:"reason" bson:"reason"`
	Scan      SecurityScan `json:"scan" bson:"scan"`
	BlockedAt time.Time    `json:"-" bson:"blocked_at"`
	CreatedAt string       `json:"created_at" bson:"created_at"`
}

// BlockedRetention is how long rejected emails stay in the ledger before
// the TTL index removes them.
const BlockedRetention = 90 * 24 * time.Hour
