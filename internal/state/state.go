// Package state remembers which write payloads were already applied, so a
// re-run of the same input never mutates the remote side twice.
package state

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Store maps (stream, content hash) to the remote id it produced.
type Store interface {
	Lookup(ctx context.Context, stream, hash string) (remoteID string, ok bool, err error)
	Record(ctx context.Context, stream, hash, remoteID string) error
	// Flush makes every recorded entry durable.
	Flush() error
	Close() error
}

// Hash returns the hex SHA-256 of v's JSON encoding. encoding/json sorts map
// keys, so equal content always hashes equal.
func Hash(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encoding payload for hash: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Update is the final outcome of one input record.
type Update struct {
	Stream      string          `json:"stream"`
	Hash        string          `json:"hash,omitempty"`
	ID          string          `json:"id,omitempty"`
	Success     bool            `json:"success"`
	IsUpdated   bool            `json:"is_updated,omitempty"`
	Existing    bool            `json:"existing,omitempty"`
	ErrorKind   string          `json:"error_kind,omitempty"`
	Error       string          `json:"error,omitempty"`
	RemoteError json.RawMessage `json:"remote_error,omitempty"`
	Record      json.RawMessage `json:"record,omitempty"`
}
