package order

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestNonceTimestampMs(t *testing.T) {
	before := time.Now().UnixMilli()
	nonce, err := uuid.NewUUID()
	if err != nil {
		t.Fatalf("NewUUID: %v", err)
	}
	after := time.Now().UnixMilli()

	got, err := NonceTimestampMs(nonce)
	if err != nil {
		t.Fatalf("NonceTimestampMs: %v", err)
	}
	if got < uint64(before) || got > uint64(after) {
		t.Errorf("extracted %d, want within [%d, %d]", got, before, after)
	}
}

func TestNonceTimestampMsKnownValue(t *testing.T) {
	// A v1 UUID whose 60-bit timestamp is exactly the Unix epoch: ticks =
	// 122192928000000000 = 0x1b21dd213814000, laid out as time_low
	// 0x13814000, time_mid 0xdd21, time_hi 0x1b2 with version bits 0x1.
	nonce := uuid.MustParse("13814000-dd21-11b2-8080-808080808080")
	got, err := NonceTimestampMs(nonce)
	if err != nil {
		t.Fatalf("NonceTimestampMs: %v", err)
	}
	if got != 0 {
		t.Errorf("epoch nonce: got %d ms, want 0", got)
	}
}

func TestNonceTimestampMsRejectsOtherVersions(t *testing.T) {
	if _, err := NonceTimestampMs(uuid.New()); err != ErrNonceNotV1 {
		t.Errorf("v4 nonce: got %v, want ErrNonceNotV1", err)
	}
	if _, err := NonceTimestampMs(uuid.Nil); err != ErrNonceNotV1 {
		t.Errorf("nil nonce: got %v, want ErrNonceNotV1", err)
	}
}

func TestNonceTimestampMsRejectsPreUnix(t *testing.T) {
	// Version bits say v1 but the timestamp field is below the Unix offset.
	nonce := uuid.MustParse("00000001-0000-1000-8080-808080808080")
	if _, err := NonceTimestampMs(nonce); err != ErrNoncePredatesUnix {
		t.Errorf("got %v, want ErrNoncePredatesUnix", err)
	}
}

func TestNonceOrderingMatchesTime(t *testing.T) {
	a, err := uuid.NewUUID()
	if err != nil {
		t.Fatal(err)
	}
	time.Sleep(2 * time.Millisecond)
	b, err := uuid.NewUUID()
	if err != nil {
		t.Fatal(err)
	}
	ta, _ := NonceTimestampMs(a)
	tb, _ := NonceTimestampMs(b)
	if tb < ta {
		t.Errorf("later nonce has earlier timestamp: %d < %d", tb, ta)
	}
}
