package wallet

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestStoreWritesHeaderAndJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wallet.json")

	w, err := New(path, "d41f33d21c5b2c49053c2b1cc2a8cc84")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer w.Close()

	if err := w.Store("00000000aabbccdd", []byte{0x01, 0x02, 0x03}); err != nil {
		t.Fatalf("Store: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}

	out := string(data)
	if !strings.Contains(out, "Mined on") {
		t.Error("expected header line")
	}
	if !strings.Contains(out, `"id_of_miner": "d41f33d21c5b2c49053c2b1cc2a8cc84"`) {
		t.Errorf("expected pretty-printed id_of_miner field, got: %s", out)
	}
	if !strings.Contains(out, `"last_coin": "00000000aabbccdd"`) {
		t.Errorf("expected last_coin field, got: %s", out)
	}
}

func TestStoreAppendsAcrossCalls(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wallet.json")

	w, err := New(path, "miner1")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer w.Close()

	if err := w.Store("aa", []byte{1}); err != nil {
		t.Fatalf("Store 1: %v", err)
	}
	if err := w.Store("bb", []byte{2}); err != nil {
		t.Fatalf("Store 2: %v", err)
	}

	data, _ := os.ReadFile(path)
	if strings.Count(string(data), "Mined on") != 2 {
		t.Fatalf("expected two append records, got: %s", data)
	}
}
