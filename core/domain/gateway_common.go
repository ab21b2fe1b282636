package domain

import "time"

// Timestamp format used for every persisted time field. All timestamps are
// stored as UTC ISO-8601 strings so that lexicographic string order matches
// chronological order (the thread resolver sorts on created_at as a string).
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// Timestamp formats t as a persisted timestamp string.
func Timestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// Now returns the current time as a persisted timestamp string.
func Now() string {
	return Timestamp(time.Now())
}

// ParseTimestamp parses a persisted timestamp string.
func ParseTimestamp(s string) (time.Time, error) {
	return time.Parse(TimestampLayout, s)
}

// Direction indicates whether a message entered or left the gateway.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// ParticipantRole identifies how an address participates in a message.
type ParticipantRole string

const (
	RoleFrom    ParticipantRole = "from"
	RoleTo      ParticipantRole = "to"
	RoleCc      ParticipantRole = "cc"
	RoleBcc     ParticipantRole = "bcc"
	RoleReplyTo ParticipantRole = "reply_to"
)

// Participant is one address on a message, in header order.
type Participant struct {
	Role     ParticipantRole `json:"role" bson:"role"`
	Identity string          `json:"identity" bson:"identity"`
}
