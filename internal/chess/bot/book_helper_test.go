package bot

import (
	"bytes"
	"encoding/binary"
	"testing"

	chesslib "github.com/corentings/chess/v2"

	"github.com/park285/cheese-coach/internal/chess/openingbook"
)

// startBook holds a single entry: e2e4 from the initial position.
func startBook(t *testing.T) *openingbook.Book {
	t.Helper()
	hashStr, err := chesslib.NewZobristHasher().HashPosition(chesslib.NewGame().FEN())
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	entry := struct {
		Key    uint64
		Move   uint16
		Weight uint16
		Learn  uint32
	}{chesslib.ZobristHashToUint64(hashStr), 4 | 3<<3 | 4<<6 | 1<<9, 1, 0}

	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.BigEndian, entry); err != nil {
		t.Fatalf("write entry: %v", err)
	}
	book, err := openingbook.Read(&buf)
	if err != nil {
		t.Fatalf("read book: %v", err)
	}
	return book
}
