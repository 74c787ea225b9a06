package polymarket

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// flexBool unmarshals from JSON bool or string ("true"/"false") so Gamma API
// responses work whether "active" is sent as bool or string.
type flexBool bool

func (f *flexBool) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*f = flexBool(b)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*f = flexBool(strings.EqualFold(s, "true") || s == "1")
	return nil
}

// TokenIDList holds clobTokenIds as raw strings. Gamma sends either a JSON
// array or a JSON-encoded string containing one, with elements as decimal
// strings or bare numbers.
type TokenIDList []string

func (l *TokenIDList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*l = nil
		return nil
	}
	if data[0] == '"' {
		var inner string
		if err := json.Unmarshal(data, &inner); err != nil {
			return err
		}
		inner = strings.TrimSpace(inner)
		if inner == "" {
			*l = nil
			return nil
		}
		data = []byte(inner)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw []any
	if err := dec.Decode(&raw); err != nil {
		return fmt.Errorf("clobTokenIds: %w", err)
	}
	out := make([]string, 0, len(raw))
	for i, v := range raw {
		switch t := v.(type) {
		case string:
			out = append(out, t)
		case json.Number:
			out = append(out, t.String())
		default:
			return fmt.Errorf("clobTokenIds[%d]: unexpected %T", i, v)
		}
	}
	*l = out
	return nil
}

// GammaEvent is an event as returned by the Gamma API. An event groups one
// or more related markets.
type GammaEvent struct {
	ID            string        `json:"id"`
	Slug          string        `json:"slug"`
	Title         string        `json:"title"`
	Description   string        `json:"description"`
	StartDate     string        `json:"startDate"`
	EndDate       string        `json:"endDate"`
	EnableNegRisk bool          `json:"enableNegRisk"`
	NegRisk       bool          `json:"negRisk"`
	Active        *flexBool     `json:"active"`
	Closed        bool          `json:"closed"`
	Markets       []GammaMarket `json:"markets"`
}

// Start parses StartDate; nil when absent or malformed.
func (e GammaEvent) Start() *time.Time { return parseGammaTime(e.StartDate) }

// End parses EndDate; nil when absent or malformed.
func (e GammaEvent) End() *time.Time { return parseGammaTime(e.EndDate) }

// GammaMarket is a market as returned by the Gamma API.
type GammaMarket struct {
	ID            string      `json:"id"`
	Slug          string      `json:"slug"`
	Question      string      `json:"question"`
	Description   string      `json:"description"`
	ConditionID   string      `json:"conditionId"`
	QuestionID    string      `json:"questionID"`
	ClobTokenIDs  TokenIDList `json:"clobTokenIds"`
	NegRisk       bool        `json:"negRisk"`
	EnableNegRisk bool        `json:"enableNegRisk"`
	Active        *flexBool   `json:"active"`
	Closed        bool        `json:"closed"`
}

// IsActive reports active && !closed. A missing active flag counts as true.
func (m GammaMarket) IsActive() bool {
	active := m.Active == nil || bool(*m.Active)
	return active && !m.Closed
}

// Title prefers the question and falls back to the description.
func (m GammaMarket) Title() string {
	if m.Question != "" {
		return m.Question
	}
	return m.Description
}

// SlugOrID falls back to the Gamma id when the slug is missing.
func (m GammaMarket) SlugOrID() string {
	if m.Slug != "" {
		return m.Slug
	}
	return m.ID
}

var gammaTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02",
}

func parseGammaTime(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range gammaTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}
