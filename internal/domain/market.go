package domain

import "time"

// MarketStatus represents the lifecycle state of a market. Markets are never
// deleted, only deactivated.
type MarketStatus string

const (
	MarketStatusActive   MarketStatus = "active"
	MarketStatusInactive MarketStatus = "inactive"
)

// Event groups one or more markets under a single Gamma event slug.
type Event struct {
	ID            int64      `json:"id"`
	Slug          string     `json:"slug"`
	Title         string     `json:"title"`
	Description   string     `json:"description"`
	StartDate     *time.Time `json:"start_date,omitempty"`
	EndDate       *time.Time `json:"end_date,omitempty"`
	EnableNegRisk bool       `json:"enable_neg_risk"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Market is a binary CTF condition plus its two derived positions and any
// external metadata. All identifiers are held in canonical lowercase hex:
// addresses as 0x + 40 hex, 32-byte values as 0x + 64 hex.
type Market struct {
	ID              int64        `json:"id"`
	EventID         *int64       `json:"event_id,omitempty"`
	Slug            string       `json:"slug"`
	ConditionID     string       `json:"condition_id"`
	QuestionID      string       `json:"question_id"`
	Oracle          string       `json:"oracle"`
	CollateralToken string       `json:"collateral_token"`
	YesTokenID      string       `json:"yes_token_id"`
	NoTokenID       string       `json:"no_token_id"`
	EnableNegRisk   bool         `json:"enable_neg_risk"`
	Status          MarketStatus `json:"status"`
	Title           string       `json:"title"`
	Description     string       `json:"description"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

// TokenIDs returns the YES and NO token ids, skipping empty values.
func (m Market) TokenIDs() []string {
	ids := make([]string, 0, 2)
	if m.YesTokenID != "" {
		ids = append(ids, m.YesTokenID)
	}
	if m.NoTokenID != "" {
		ids = append(ids, m.NoTokenID)
	}
	return ids
}

// OutcomeFor reports which side of the market tokenID represents. Both sides
// are expected in canonical form.
func (m Market) OutcomeFor(tokenID string) Outcome {
	switch tokenID {
	case "":
		return OutcomeUnknown
	case m.YesTokenID:
		return OutcomeYes
	case m.NoTokenID:
		return OutcomeNo
	default:
		return OutcomeUnknown
	}
}
