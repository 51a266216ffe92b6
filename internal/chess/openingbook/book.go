// Package openingbook looks up polyglot book moves for the bot player.
package openingbook

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	chesslib "github.com/corentings/chess/v2"
)

type Result struct {
	Move   string
	Weight uint16
}

type Book struct {
	pb *chesslib.PolyglotBook
}

// Load opens a polyglot book file. An empty path returns a nil book, which
// never has a move.
func Load(path string) (*Book, error) {
	if strings.TrimSpace(path) == "" {
		return nil, nil
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open polyglot book %q: %w", path, err)
	}
	defer file.Close()
	return Read(file)
}

func Read(r io.Reader) (*Book, error) {
	pb, err := chesslib.LoadFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("load polyglot book: %w", err)
	}
	return &Book{pb: pb}, nil
}

// ResolvePath returns the configured book path, or the first default
// location that exists.
func ResolvePath(configured string) (string, error) {
	if configured != "" {
		if exists(configured) {
			return configured, nil
		}
		return "", fmt.Errorf("polyglot book points to missing file: %s", configured)
	}
	for _, candidate := range defaultBookPaths() {
		if exists(candidate) {
			return candidate, nil
		}
	}
	return "", nil
}

// Lookup returns the heaviest book move that is legal in the position.
func (b *Book) Lookup(fen string) (Result, bool, error) {
	if b == nil || b.pb == nil {
		return Result{}, false, nil
	}
	game, err := gameFromFEN(fen)
	if err != nil {
		return Result{}, false, err
	}

	hashStr, err := chesslib.NewZobristHasher().HashPosition(game.FEN())
	if err != nil {
		return Result{}, false, fmt.Errorf("compute polyglot hash: %w", err)
	}
	entries := b.pb.FindMoves(chesslib.ZobristHashToUint64(hashStr))

	var best Result
	for _, entry := range entries {
		pm := chesslib.DecodeMove(entry.Move).ToMove()
		move := pm.String()
		if entry.Weight <= best.Weight && best.Move != "" {
			continue
		}
		verify, err := gameFromFEN(fen)
		if err != nil {
			return Result{}, false, err
		}
		if err := verify.PushNotationMove(move, chesslib.UCINotation{}, nil); err != nil {
			continue
		}
		best = Result{Move: move, Weight: entry.Weight}
	}
	return best, best.Move != "", nil
}

func gameFromFEN(fen string) (*chesslib.Game, error) {
	if strings.TrimSpace(fen) == "" || fen == "startpos" {
		return chesslib.NewGame(), nil
	}
	option, err := chesslib.FEN(fen)
	if err != nil {
		return nil, fmt.Errorf("parse fen %q: %w", fen, err)
	}
	return chesslib.NewGame(option), nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func defaultBookPaths() []string {
	return []string{
		filepath.Join("resources", "opening", "book.bin"),
		filepath.Join("resources", "opening", "Cerebellum3Merge.bin"),
	}
}
