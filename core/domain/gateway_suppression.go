package domain

// SuppressionType classifies why an address is suppressed. Types are
// ranked: a higher-ranked suppression is never downgraded by a later
// lower-ranked write for the same address.
type SuppressionType string

const (
	SuppressionSoft      SuppressionType = "soft"
	SuppressionSpam      SuppressionType = "spam"
	SuppressionPermanent SuppressionType = "permanent"
	SuppressionHard      SuppressionType = "hard"
)

var suppressionRank = map[SuppressionType]int{
	SuppressionSoft:      1,
	SuppressionSpam:      2,
	SuppressionPermanent: 3,
	SuppressionHard:      4,
}

// Rank returns the authority rank of the suppression type.
func (t SuppressionType) Rank() int {
	return suppressionRank[t]
}

// TypesBelow returns every suppression type strictly weaker than t; the
// monotonic upsert only replaces a stored entry whose type is in this set.
func TypesBelow(t SuppressionType) []SuppressionType {
	out := make([]SuppressionType, 0, 3)
	for st, r := range suppressionRank {
		if r < t.Rank() {
			out = append(out, st)
		}
	}
	return out
}

// Suppression is one entry in the suppression list, keyed by normalized
// email address.
type Suppression struct {
	Email     string          `json:"email" bson:"email"`
	Type      SuppressionType `json:"type" bson:"type"`
	Reason    string          `json:"reason,omitempty" bson:"reason,omitempty"`
	Source    string          `json:"source,omitempty" bson:"source,omitempty"`
	OrgID     string          `json:"org_id,omitempty" bson:"org_id,omitempty"`
	CreatedAt string          `json:"created_at" bson:"created_at"`
	UpdatedAt string          `json:"updated_at" bson:"updated_at"`
}
