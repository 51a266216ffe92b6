package notation

import "strings"

// Highlight is a renderer-agnostic arrow or square annotation.
type Highlight struct {
	From  string `json:"from,omitempty"`
	To    string `json:"to,omitempty"`
	Color string `json:"color,omitempty"`
	Valid bool   `json:"valid"`
}

// TokenToHighlight accepts anything that starts like a coordinate move.
// It does not check legality.
func TokenToHighlight(token, color string) Highlight {
	t := strings.ToLower(strings.TrimSpace(token))
	if len(t) < 4 {
		return Highlight{}
	}
	from, to := t[0:2], t[2:4]
	if !isSquare(from) || !isSquare(to) {
		return Highlight{}
	}
	return Highlight{From: from, To: to, Color: color, Valid: true}
}
