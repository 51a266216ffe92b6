package notation

// Translation is the notation prefix produced from a token sequence.
type Translation struct {
	SAN       []string
	Applied   []string
	Truncated bool
	// FEN is the position after the last applied move.
	FEN string
}

// TranslateSequence plays tokens on a private board opened from fen and stops
// at the first token that cannot be applied.
func TranslateSequence(oracle Oracle, fen string, tokens []string) Translation {
	out := Translation{
		SAN:     make([]string, 0, len(tokens)),
		Applied: make([]string, 0, len(tokens)),
		FEN:     fen,
	}
	if oracle == nil {
		out.Truncated = len(tokens) > 0
		return out
	}
	board, err := oracle.Open(fen)
	if err != nil {
		out.Truncated = len(tokens) > 0
		return out
	}
	for _, tok := range tokens {
		san, err := board.Play(tok)
		if err != nil {
			out.Truncated = true
			break
		}
		out.SAN = append(out.SAN, san)
		out.Applied = append(out.Applied, tok)
	}
	out.FEN = board.FEN()
	return out
}
