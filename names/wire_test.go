package names

import (
	"testing"

	"github.com/code3hr/cyxnet/crypto"
)

func wireTestSender() crypto.PeerID {
	var id crypto.PeerID
	for i := range id {
		id[i] = 0xAB
	}
	return id
}

func TestAnnouncePayloadRoundTrip(t *testing.T) {
	record := signedRecord(t, testKeyPair(t, 0x01), "alice", recordTestTime())
	original := &AnnouncePayload{Sender: wireTestSender(), Hops: 3, Record: record}

	data, err := original.Serialize()
	if err != nil {
		t.Fatalf("Serialize failed: %v", err)
	}

	parsed, err := ParseAnnouncePayload(data)
	if err != nil {
		t.Fatalf("ParseAnnouncePayload failed: %v", err)
	}
	if parsed.Sender != original.Sender {
		t.Errorf("sender mismatch: got %s", parsed.Sender)
	}
	if parsed.Hops != 3 {
		t.Errorf("expected 3 hops, got %d", parsed.Hops)
	}
	if parsed.Record.Name != "alice" {
		t.Errorf("expected name alice, got %q", parsed.Record.Name)
	}
	if !parsed.Record.VerifySignature() {
		t.Error("record signature did not survive the round trip")
	}
}

func TestAnnouncePayloadRejectsShortData(t *testing.T) {
	if _, err := ParseAnnouncePayload(make([]byte, crypto.PeerIDSize)); err == nil {
		t.Error("expected error for payload without record")
	}
}

func TestAnnouncePayloadRejectsGarbageRecord(t *testing.T) {
	data := make([]byte, crypto.PeerIDSize+1)
	data = append(data, 0xFF, 0xFF, 0xFF)

	if _, err := ParseAnnouncePayload(data); err == nil {
		t.Error("expected error for garbage record bytes")
	}
}

func TestQueryPayloadRoundTrip(t *testing.T) {
	original := &QueryPayload{Sender: wireTestSender(), Name: "alice"}

	data, err := original.Serialize()
	if err != nil {
		t.Fatalf("Serialize failed: %v", err)
	}

	parsed, err := ParseQueryPayload(data)
	if err != nil {
		t.Fatalf("ParseQueryPayload failed: %v", err)
	}
	if parsed.Sender != original.Sender {
		t.Errorf("sender mismatch: got %s", parsed.Sender)
	}
	if parsed.Name != "alice" {
		t.Errorf("expected name alice, got %q", parsed.Name)
	}
}

func TestQueryPayloadRejectsEmptyName(t *testing.T) {
	original := &QueryPayload{Sender: wireTestSender(), Name: ""}
	if _, err := original.Serialize(); err == nil {
		t.Error("expected error serializing empty name")
	}

	sender := wireTestSender()
	data := append(sender[:], 0x00, 0x00)
	if _, err := ParseQueryPayload(data); err == nil {
		t.Error("expected error parsing zero-length name")
	}
}

func TestQueryPayloadRejectsTruncatedName(t *testing.T) {
	original := &QueryPayload{Sender: wireTestSender(), Name: "alice"}
	data, err := original.Serialize()
	if err != nil {
		t.Fatalf("Serialize failed: %v", err)
	}

	if _, err := ParseQueryPayload(data[:len(data)-2]); err == nil {
		t.Error("expected error for truncated name bytes")
	}
}

func TestResponsePayloadRoundTrip(t *testing.T) {
	record := signedRecord(t, testKeyPair(t, 0x02), "bob", recordTestTime())
	original := &ResponsePayload{Sender: wireTestSender(), Record: record}

	data, err := original.Serialize()
	if err != nil {
		t.Fatalf("Serialize failed: %v", err)
	}

	parsed, err := ParseResponsePayload(data)
	if err != nil {
		t.Fatalf("ParseResponsePayload failed: %v", err)
	}
	if parsed.Sender != original.Sender {
		t.Errorf("sender mismatch: got %s", parsed.Sender)
	}
	if parsed.Record.Name != "bob" || !parsed.Record.VerifySignature() {
		t.Errorf("record did not survive the round trip: %+v", parsed.Record)
	}
}

func TestResponsePayloadRejectsShortData(t *testing.T) {
	if _, err := ParseResponsePayload(make([]byte, 10)); err == nil {
		t.Error("expected error for short payload")
	}
}

func TestRevokePayloadRoundTrip(t *testing.T) {
	tombstone := signedRecord(t, testKeyPair(t, 0x03), "carol", recordTestTime())
	original := &RevokePayload{Sender: wireTestSender(), Hops: 2, Record: tombstone}

	data, err := original.Serialize()
	if err != nil {
		t.Fatalf("Serialize failed: %v", err)
	}

	parsed, err := ParseRevokePayload(data)
	if err != nil {
		t.Fatalf("ParseRevokePayload failed: %v", err)
	}
	if parsed.Hops != 2 {
		t.Errorf("expected 2 hops, got %d", parsed.Hops)
	}
	if parsed.Record.Name != "carol" {
		t.Errorf("expected name carol, got %q", parsed.Record.Name)
	}
}
