// Package wallet implements the append-only sink every claimed coin is
// recorded to: a human-readable timestamp header followed by a
// pretty-printed JSON record.
package wallet

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"cpen442miner/internal/mineerr"
)

// record is the JSON object written for each claimed coin.
type record struct {
	IDOfMiner string `json:"id_of_miner"`
	LastCoin  string `json:"last_coin"`
	CoinBlob  string `json:"coin_blob"`
}

// Wallet appends claimed coins to a file, opened once and kept open for
// the process lifetime.
type Wallet struct {
	id   string
	file *os.File
}

// New opens (creating if necessary) the wallet file in append mode. A
// failure here is meant to propagate to startup, not be swallowed.
func New(path, minerID string) (*Wallet, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, mineerr.NewIo(err)
	}
	return &Wallet{id: minerID, file: f}, nil
}

// Store appends one claimed-coin record: a "Mined on <timestamp>" header,
// the pretty-printed JSON record, and a trailing newline, synced before
// returning.
func (w *Wallet) Store(lastCoin string, blob []byte) error {
	header := fmt.Sprintf("\nMined on %s\n", time.Now().Format("2006-01-02 15:04:05"))
	if _, err := w.file.WriteString(header); err != nil {
		return mineerr.NewIo(err)
	}

	rec := record{
		IDOfMiner: w.id,
		LastCoin:  lastCoin,
		CoinBlob:  base64.StdEncoding.EncodeToString(blob),
	}

	enc, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return mineerr.NewIo(err)
	}
	if _, err := w.file.Write(enc); err != nil {
		return mineerr.NewIo(err)
	}
	if _, err := w.file.WriteString("\n"); err != nil {
		return mineerr.NewIo(err)
	}

	return mineerr.NewIo(w.file.Sync())
}

// Close closes the underlying file.
func (w *Wallet) Close() error {
	return w.file.Close()
}
