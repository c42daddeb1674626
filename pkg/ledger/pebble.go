package ledger

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"

	"github.com/cockroachdb/pebble"
)

// PebbleBackend is the optional durable Backend, grounded on the teacher's
// pkg/storage/pebble_store.go key-prefix + gob-encoding pattern.
type PebbleBackend struct {
	db *pebble.DB
}

func OpenPebbleBackend(path string) (*PebbleBackend, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("ledger: open pebble at %q: %w", path, err)
	}
	return &PebbleBackend{db: db}, nil
}

func (s *PebbleBackend) Close() error { return s.db.Close() }

func blockKey(height uint64) []byte {
	key := make([]byte, 2+8)
	copy(key, "b:")
	binary.BigEndian.PutUint64(key[2:], height)
	return key
}

func encodeGob(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeGob(b []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(b)).Decode(v)
}

func (s *PebbleBackend) SaveBlock(b Block) error {
	val, err := encodeGob(b)
	if err != nil {
		return fmt.Errorf("ledger: encode block %d: %w", b.Header.BlockHeight, err)
	}
	return s.db.Set(blockKey(b.Header.BlockHeight), val, pebble.Sync)
}

// LoadAll replays every block in height order via a prefix iterator.
func (s *PebbleBackend) LoadAll() ([]Block, error) {
	lower := []byte("b:")
	upper := []byte("b;") // ';' == ':' + 1, exclusive upper bound over the "b:" prefix
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return nil, fmt.Errorf("ledger: iterate blocks: %w", err)
	}
	defer iter.Close()

	var blocks []Block
	for iter.First(); iter.Valid(); iter.Next() {
		var b Block
		if err := decodeGob(iter.Value(), &b); err != nil {
			return nil, fmt.Errorf("ledger: decode block: %w", err)
		}
		blocks = append(blocks, b)
	}
	return blocks, iter.Error()
}
