package uci

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/park285/cheese-coach/internal/chess/score"
)

var ErrNoSearchLimits = errors.New("no search limits specified")

type LineKind int

const (
	LineUnknown LineKind = iota
	LineID
	LineOption
	LineUCIOK
	LineReadyOK
	LineInfo
	LineBestMove
)

func (k LineKind) String() string {
	switch k {
	case LineID:
		return "id"
	case LineOption:
		return "option"
	case LineUCIOK:
		return "uciok"
	case LineReadyOK:
		return "readyok"
	case LineInfo:
		return "info"
	case LineBestMove:
		return "bestmove"
	default:
		return "unknown"
	}
}

// Classify looks only at the leading keyword, so unknown engine chatter is
// reported as LineUnknown instead of failing.
func Classify(line string) LineKind {
	line = strings.TrimSpace(line)
	head := line
	if i := strings.IndexAny(line, " \t"); i >= 0 {
		head = line[:i]
	}
	switch head {
	case "id":
		return LineID
	case "option":
		return LineOption
	case "uciok":
		return LineUCIOK
	case "readyok":
		return LineReadyOK
	case "info":
		return LineInfo
	case "bestmove":
		return LineBestMove
	default:
		return LineUnknown
	}
}

type ScoreKind int

const (
	ScoreNone ScoreKind = iota
	ScoreCP
	ScoreMate
)

type Bound int

const (
	BoundExact Bound = iota
	BoundLower
	BoundUpper
)

// Info is one tokenized "info" line. Scores are relative to the side to move.
type Info struct {
	Depth      int
	SelDepth   int
	MultiPV    int
	ScoreKind  ScoreKind
	ScoreValue int
	Bound      Bound
	Nodes      int64
	NPS        int64
	TimeMillis int
	HashFull   int
	PV         []string
	Text       string
}

// Eval returns the score carried by the line, if any.
func (i Info) Eval() (score.Eval, bool) {
	switch i.ScoreKind {
	case ScoreCP:
		return score.Centipawns(i.ScoreValue), true
	case ScoreMate:
		return score.MateIn(i.ScoreValue), true
	default:
		return score.Eval{}, false
	}
}

// ParseInfo tokenizes an info line. Unknown keys are skipped.
func ParseInfo(line string) (Info, bool) {
	parts := strings.Fields(line)
	if len(parts) == 0 || parts[0] != "info" {
		return Info{}, false
	}
	info := Info{MultiPV: 1}

	for i := 1; i < len(parts); i++ {
		switch parts[i] {
		case "depth":
			info.Depth, i = intArg(parts, i, info.Depth)
		case "seldepth":
			info.SelDepth, i = intArg(parts, i, info.SelDepth)
		case "multipv":
			info.MultiPV, i = intArg(parts, i, info.MultiPV)
		case "time":
			info.TimeMillis, i = intArg(parts, i, info.TimeMillis)
		case "hashfull":
			info.HashFull, i = intArg(parts, i, info.HashFull)
		case "nodes":
			info.Nodes, i = int64Arg(parts, i, info.Nodes)
		case "nps":
			info.NPS, i = int64Arg(parts, i, info.NPS)
		case "score":
			if info.ScoreKind != ScoreNone || i+2 >= len(parts) {
				continue
			}
			v, err := strconv.Atoi(parts[i+2])
			if err != nil {
				continue
			}
			switch parts[i+1] {
			case "cp":
				info.ScoreKind, info.ScoreValue = ScoreCP, v
			case "mate":
				info.ScoreKind, info.ScoreValue = ScoreMate, v
			default:
				continue
			}
			i += 2
			if i+1 < len(parts) {
				switch parts[i+1] {
				case "lowerbound":
					info.Bound = BoundLower
					i++
				case "upperbound":
					info.Bound = BoundUpper
					i++
				}
			}
		case "pv":
			info.PV = append([]string(nil), parts[i+1:]...)
			i = len(parts)
		case "string":
			info.Text = strings.Join(parts[i+1:], " ")
			i = len(parts)
		}
	}
	if info.MultiPV < 1 {
		info.MultiPV = 1
	}
	return info, true
}

func intArg(parts []string, i, cur int) (int, int) {
	if i+1 >= len(parts) {
		return cur, i
	}
	v, err := strconv.Atoi(parts[i+1])
	if err != nil {
		return cur, i
	}
	return v, i + 1
}

func int64Arg(parts []string, i int, cur int64) (int64, int) {
	if i+1 >= len(parts) {
		return cur, i
	}
	v, err := strconv.ParseInt(parts[i+1], 10, 64)
	if err != nil {
		return cur, i
	}
	return v, i + 1
}

// ParseBestMove reads "bestmove <move> [ponder <move>]". A "(none)" or
// "0000" move is reported as an empty best move with ok still true.
func ParseBestMove(line string) (best, ponder string, ok bool) {
	parts := strings.Fields(line)
	if len(parts) == 0 || parts[0] != "bestmove" {
		return "", "", false
	}
	if len(parts) >= 2 && parts[1] != "(none)" && parts[1] != "0000" {
		best = parts[1]
	}
	if len(parts) >= 4 && parts[2] == "ponder" {
		ponder = parts[3]
	}
	return best, ponder, true
}

type Limits struct {
	Depth          int
	MoveTimeMillis int
	NodeCap        int
}

func buildPositionCommand(fen string, moves []string) string {
	var sb strings.Builder
	if strings.TrimSpace(fen) == "" || fen == "startpos" {
		sb.WriteString("position startpos")
	} else {
		sb.WriteString("position fen ")
		sb.WriteString(strings.TrimSpace(fen))
	}
	if len(moves) > 0 {
		sb.WriteString(" moves ")
		sb.WriteString(strings.Join(moves, " "))
	}
	return sb.String()
}

func buildGoTokens(l Limits) ([]string, error) {
	args := []string{"go"}
	if l.Depth > 0 {
		args = append(args, "depth", strconv.Itoa(l.Depth))
	}
	if l.MoveTimeMillis > 0 {
		args = append(args, "movetime", strconv.Itoa(l.MoveTimeMillis))
	}
	if l.NodeCap > 0 {
		args = append(args, "nodes", strconv.Itoa(l.NodeCap))
	}
	if len(args) == 1 {
		return nil, ErrNoSearchLimits
	}
	return args, nil
}

func computeSearchTimeout(l Limits) time.Duration {
	if l.MoveTimeMillis > 0 {
		ms := l.MoveTimeMillis + 2000
		return time.Duration(ms) * time.Millisecond * 3
	}
	if l.Depth > 0 {
		base := time.Duration(l.Depth) * 300 * time.Millisecond
		if base < 6*time.Second {
			base = 6 * time.Second
		}
		if base > 20*time.Second {
			base = 20 * time.Second
		}
		return base
	}
	return 6 * time.Second
}
