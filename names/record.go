package names

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/multiformats/go-varint"

	"github.com/code3hr/cyxnet/crypto"
)

var (
	errRecordTruncated   = errors.New("record truncated")
	errRecordMalformed   = errors.New("record malformed")
	errRecordNoTimestamp = errors.New("record has no timestamp")
)

// NameRecord is one name registration as it travels through gossip and
// the peer directory. RegisteredAt orders conflicting claims
// (last-writer-wins at every observer); for revocations it carries the
// revocation time instead. The signature covers name, owner and
// timestamp and verifies against Owner itself.
type NameRecord struct {
	Name         string
	Owner        crypto.PeerID
	RegisteredAt time.Time
	Signature    []byte
}

// Signed reports whether the record carries a signature.
func (r *NameRecord) Signed() bool {
	return len(r.Signature) > 0
}

// SignWith signs the record with the owner's identity key.
func (r *NameRecord) SignWith(keys *crypto.KeyPair) error {
	data, err := r.signedBytes()
	if err != nil {
		return err
	}
	r.Signature = keys.Sign(data)
	return nil
}

// VerifySignature checks the record's signature against its own
// claimed owner. The owner ID is the verification key, so no key
// distribution is involved.
func (r *NameRecord) VerifySignature() bool {
	if !r.Signed() {
		return false
	}
	data, err := r.signedBytes()
	if err != nil {
		return false
	}
	return crypto.Verify(r.Owner, data, r.Signature)
}

// Expired reports whether the record's lifetime has elapsed.
func (r *NameRecord) Expired(now time.Time, ttl time.Duration) bool {
	return now.Sub(r.RegisteredAt) >= ttl
}

// Supersedes reports whether r wins over other under last-writer-wins
// ordering. Identical timestamps break the tie toward the
// lexicographically smaller owner ID, so every observer converges on
// the same winner.
func (r *NameRecord) Supersedes(other *NameRecord) bool {
	if r.RegisteredAt.After(other.RegisteredAt) {
		return true
	}
	if r.RegisteredAt.Equal(other.RegisteredAt) {
		return r.Owner.Less(other.Owner)
	}
	return false
}

// signedBytes returns the canonical byte form covered by the
// signature: length-prefixed name, owner, millisecond timestamp.
func (r *NameRecord) signedBytes() ([]byte, error) {
	if len(r.Name) == 0 || len(r.Name) > MaxNameLength {
		return nil, errRecordMalformed
	}
	millis := r.RegisteredAt.UnixMilli()
	if millis < 0 {
		return nil, errRecordNoTimestamp
	}

	data := make([]byte, 0, 2+len(r.Name)+crypto.PeerIDSize+8)
	data = append(data, varint.ToUvarint(uint64(len(r.Name)))...)
	data = append(data, r.Name...)
	data = append(data, r.Owner[:]...)
	data = binary.BigEndian.AppendUint64(data, uint64(millis))
	return data, nil
}

// Marshal serializes the record for gossip payloads and directory
// storage: the signed bytes followed by the length-prefixed signature.
func (r *NameRecord) Marshal() ([]byte, error) {
	if len(r.Signature) != 0 && len(r.Signature) != crypto.SignatureSize {
		return nil, errRecordMalformed
	}
	data, err := r.signedBytes()
	if err != nil {
		return nil, err
	}
	data = append(data, varint.ToUvarint(uint64(len(r.Signature)))...)
	data = append(data, r.Signature...)
	return data, nil
}

// UnmarshalNameRecord parses a record, reporting how many bytes it
// consumed so callers can embed records inside larger payloads.
func UnmarshalNameRecord(data []byte) (*NameRecord, int, error) {
	nameLen, n, err := varint.FromUvarint(data)
	if err != nil {
		return nil, 0, fmt.Errorf("name length: %w", errRecordMalformed)
	}
	if nameLen == 0 || nameLen > MaxNameLength {
		return nil, 0, errRecordMalformed
	}
	offset := n
	if len(data) < offset+int(nameLen)+crypto.PeerIDSize+8 {
		return nil, 0, errRecordTruncated
	}

	record := &NameRecord{Name: string(data[offset : offset+int(nameLen)])}
	offset += int(nameLen)
	copy(record.Owner[:], data[offset:offset+crypto.PeerIDSize])
	offset += crypto.PeerIDSize
	millis := binary.BigEndian.Uint64(data[offset : offset+8])
	if millis > uint64(1)<<62 {
		return nil, 0, errRecordMalformed
	}
	record.RegisteredAt = time.UnixMilli(int64(millis)).UTC()
	offset += 8

	sigLen, n, err := varint.FromUvarint(data[offset:])
	if err != nil {
		return nil, 0, fmt.Errorf("signature length: %w", errRecordMalformed)
	}
	if sigLen != 0 && sigLen != crypto.SignatureSize {
		return nil, 0, errRecordMalformed
	}
	offset += n
	if len(data) < offset+int(sigLen) {
		return nil, 0, errRecordTruncated
	}
	if sigLen > 0 {
		record.Signature = make([]byte, sigLen)
		copy(record.Signature, data[offset:offset+int(sigLen)])
	}
	offset += int(sigLen)

	return record, offset, nil
}
