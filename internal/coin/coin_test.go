package coin

import (
	"encoding/hex"
	"testing"
	"time"
)

func TestHexStartsNZeroes(t *testing.T) {
	cases := []struct {
		hex  string
		n    int
		want bool
	}{
		{"00000000aabbccdd", 8, true},
		{"00000000aabbccdd", 9, false},
		{"aabbccdd00000000", 0, true},
		{"0000", 4, true},
	}
	for _, c := range cases {
		if got := HexStartsNZeroes(c.hex, c.n); got != c.want {
			t.Errorf("HexStartsNZeroes(%q, %d) = %v, want %v", c.hex, c.n, got, c.want)
		}
	}
}

func TestHashStartsNZeroesMatchesHexEncoding(t *testing.T) {
	b, err := hex.DecodeString("000000000002330fd125c706950f913b")
	if err != nil {
		t.Fatalf("DecodeString: %v", err)
	}
	if !HashStartsNZeroes(b, 11) {
		t.Fatal("expected 11 leading zero nibbles to hold")
	}
}

func TestHashStartsNZeroesOddCount(t *testing.T) {
	// 0x0F first byte: high nibble zero, low nibble set. n=1 should pass, n=2 should fail.
	b := []byte{0x0F, 0xFF}
	if !HashStartsNZeroes(b, 1) {
		t.Error("expected n=1 to hold for 0x0F leading byte")
	}
	if HashStartsNZeroes(b, 2) {
		t.Error("expected n=2 to fail for 0x0F leading byte")
	}
}

func TestHashStartsNZeroesAgreesWithHex(t *testing.T) {
	h := []byte{0x00, 0x00, 0x12, 0x34}
	hexStr := hex.EncodeToString(h)
	for n := 0; n <= 8; n++ {
		if HashStartsNZeroes(h, n) != HexStartsNZeroes(hexStr, n) {
			t.Errorf("n=%d: binary and hex predicates disagree", n)
		}
	}
}

func TestTimerCheckAndResetFiresOncePerPeriod(t *testing.T) {
	tm := NewTimer(20 * time.Millisecond)
	if tm.CheckAndReset() {
		t.Fatal("should not fire immediately")
	}
	time.Sleep(25 * time.Millisecond)
	if !tm.CheckAndReset() {
		t.Fatal("expected fire after period elapsed")
	}
	if tm.CheckAndReset() {
		t.Fatal("should not fire twice in a row without elapsing again")
	}
}

func TestTimerCheckAndResetRTCatchesUp(t *testing.T) {
	tm := NewTimer(10 * time.Millisecond)
	time.Sleep(35 * time.Millisecond)

	fires := 0
	for i := 0; i < 5; i++ {
		if tm.CheckAndResetRT() {
			fires++
		}
	}
	if fires < 3 {
		t.Fatalf("expected strict timer to catch up with >=3 fires after a 35ms gap on a 10ms period, got %d", fires)
	}
}
