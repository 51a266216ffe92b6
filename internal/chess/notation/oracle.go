package notation

import (
	"errors"
	"fmt"
	"strings"

	nchess "github.com/corentings/chess/v2"

	"github.com/park285/cheese-coach/internal/chess/score"
)

var (
	ErrIllegalMove     = errors.New("illegal move")
	ErrInvalidPosition = errors.New("invalid position")
)

// StartPosition is accepted wherever a FEN is expected.
const StartPosition = "startpos"

type Outcome int

const (
	OutcomeNone Outcome = iota
	OutcomeWhiteWon
	OutcomeBlackWon
	OutcomeDraw
)

// Board is a private working copy of a position.
type Board interface {
	// Play applies a coordinate move and returns its SAN.
	Play(token string) (string, error)
	// PlaySAN applies a SAN move and returns its coordinate token.
	PlaySAN(san string) (string, error)
	FEN() string
	SideToMove() score.Side
	Outcome() Outcome
}

// Oracle hands out private boards. Moves played on one board never affect
// another board or the position it was opened from.
type Oracle interface {
	Open(fen string) (Board, error)
}

type ChessOracle struct{}

func NewChessOracle() ChessOracle { return ChessOracle{} }

func (ChessOracle) Open(fen string) (Board, error) {
	fen = strings.TrimSpace(fen)
	if fen == "" || fen == StartPosition {
		return &chessBoard{game: nchess.NewGame()}, nil
	}
	opt, err := nchess.FEN(fen)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidPosition, fen, err)
	}
	return &chessBoard{game: nchess.NewGame(opt)}, nil
}

type chessBoard struct {
	game *nchess.Game
}

func (b *chessBoard) Play(token string) (san string, err error) {
	if _, ok := TokenToMove(token); !ok {
		return "", fmt.Errorf("%w: malformed token %q", ErrIllegalMove, token)
	}
	defer func() {
		if r := recover(); r != nil {
			san, err = "", fmt.Errorf("%w: %q: %v", ErrIllegalMove, token, r)
		}
	}()
	before := b.game.Position()
	if err := b.game.PushNotationMove(strings.ToLower(strings.TrimSpace(token)), nchess.UCINotation{}, nil); err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrIllegalMove, token, err)
	}
	last := lastMove(b.game)
	if last == nil {
		return "", fmt.Errorf("%w: %q", ErrIllegalMove, token)
	}
	return nchess.AlgebraicNotation{}.Encode(before, last), nil
}

func (b *chessBoard) PlaySAN(san string) (token string, err error) {
	defer func() {
		if r := recover(); r != nil {
			token, err = "", fmt.Errorf("%w: %q: %v", ErrIllegalMove, san, r)
		}
	}()
	if err := b.game.PushNotationMove(strings.TrimSpace(san), nchess.AlgebraicNotation{}, nil); err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrIllegalMove, san, err)
	}
	last := lastMove(b.game)
	if last == nil {
		return "", fmt.Errorf("%w: %q", ErrIllegalMove, san)
	}
	return last.String(), nil
}

func (b *chessBoard) FEN() string { return b.game.FEN() }

func (b *chessBoard) SideToMove() score.Side {
	if b.game.Position().Turn() == nchess.Black {
		return score.Black
	}
	return score.White
}

func (b *chessBoard) Outcome() Outcome {
	switch b.game.Outcome() {
	case nchess.WhiteWon:
		return OutcomeWhiteWon
	case nchess.BlackWon:
		return OutcomeBlackWon
	case nchess.Draw:
		return OutcomeDraw
	default:
		return OutcomeNone
	}
}

func lastMove(game *nchess.Game) *nchess.Move {
	moves := game.Moves()
	if len(moves) == 0 {
		return nil
	}
	return moves[len(moves)-1]
}

// SideToMove reads the active colour field of a FEN without building a board.
func SideToMove(fen string) score.Side {
	fields := strings.Fields(fen)
	if len(fields) >= 2 && fields[1] == "b" {
		return score.Black
	}
	return score.White
}
