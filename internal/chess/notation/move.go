// Package notation translates engine coordinate moves into human readable
// notation against a legal-move oracle.
package notation

import "strings"

// Move is a coordinate move such as e7e8q split into its parts.
type Move struct {
	From      string
	To        string
	Promotion byte
}

// TokenToMove slices a coordinate token. Malformed input yields ok == false.
func TokenToMove(token string) (Move, bool) {
	t := strings.ToLower(strings.TrimSpace(token))
	if len(t) != 4 && len(t) != 5 {
		return Move{}, false
	}
	from, to := t[0:2], t[2:4]
	if !isSquare(from) || !isSquare(to) || from == to {
		return Move{}, false
	}
	m := Move{From: from, To: to}
	if len(t) == 5 {
		if !isPromotionPiece(t[4]) {
			return Move{}, false
		}
		m.Promotion = t[4]
	}
	return m, true
}

// Token is the inverse of TokenToMove.
func (m Move) Token() string {
	if m.Promotion == 0 {
		return m.From + m.To
	}
	return m.From + m.To + string(m.Promotion)
}

func isSquare(s string) bool {
	return len(s) == 2 && s[0] >= 'a' && s[0] <= 'h' && s[1] >= '1' && s[1] <= '8'
}

func isPromotionPiece(c byte) bool {
	switch c {
	case 'q', 'r', 'b', 'n':
		return true
	}
	return false
}
