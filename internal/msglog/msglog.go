// Package msglog appends opaque, ciphertext-only records to the message
// log file: one JSON object per line, plaintext never included, each
// append atomic at the record level.
package msglog

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/duskwire/duskwire/internal/codec"
)

// Entry is one line of the append-only log file.
type Entry struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Nonce     string `json:"nonce"`
	Entry     string `json:"entry"` // base64 ciphertext
	Timestamp string `json:"timestamp"`
}

// Log appends line-delimited JSON entries to a single file.
type Log struct {
	mu   sync.Mutex
	file *os.File
}

// Open opens (creating if necessary) the append-only log file at path.
func Open(path string) (*Log, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("msglog: opening %s: %w", path, err)
	}
	return &Log{file: f}, nil
}

// Append writes one record for a message sent from->to with the given
// nonce and ciphertext. now is injected so callers (and tests) control the
// timestamp deterministically.
func (l *Log) Append(from, to string, nonce [12]byte, ciphertext []byte, now time.Time) error {
	entry := Entry{
		From:      from,
		To:        to,
		Nonce:     codec.EncodeB64(nonce[:]),
		Entry:     codec.EncodeB64(ciphertext),
		Timestamp: now.UTC().Format(time.RFC3339Nano),
	}

	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("msglog: marshaling entry: %w", err)
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.file.Write(line); err != nil {
		return fmt.Errorf("msglog: writing entry: %w", err)
	}
	return nil
}

// Close closes the underlying file.
func (l *Log) Close() error {
	return l.file.Close()
}
