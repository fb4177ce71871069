package e2e

import (
	"context"
	"encoding/base64"
	"testing"
)

func newTestEncryptor(t *testing.T) *Encryptor {
	t.Helper()
	enc, err := NewEncryptor([]byte("test-master-secret"))
	if err != nil {
		t.Fatalf("NewEncryptor failed: %v", err)
	}
	return enc
}

func TestEncryptorRejectsEmptySecret(t *testing.T) {
	if _, err := NewEncryptor(nil); err == nil {
		t.Error("expected error for empty master secret")
	}
}

func TestEncryptOrderIsMonotonicPerSession(t *testing.T) {
	enc := newTestEncryptor(t)
	ctx := context.Background()

	for want := uint64(1); want <= 3; want++ {
		res, err := enc.EncryptNotifPayload(ctx, "session-a", []byte("payload"), nil)
		if err != nil {
			t.Fatalf("encrypt failed: %v", err)
		}
		if res.Order != want {
			t.Errorf("order = %d, want %d", res.Order, want)
		}
	}

	// A different session keeps its own counter.
	res, err := enc.EncryptNotifPayload(ctx, "session-b", []byte("payload"), nil)
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}
	if res.Order != 1 {
		t.Errorf("fresh session order = %d, want 1", res.Order)
	}
}

func TestEncryptSizeRejectionConsumesOrder(t *testing.T) {
	enc := newTestEncryptor(t)
	ctx := context.Background()

	reject := func(string) bool { return false }
	res, err := enc.EncryptNotifPayload(ctx, "session-a", []byte("payload"), reject)
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}
	if !res.SizeExceeded {
		t.Error("rejecting validator should set SizeExceeded")
	}
	if res.Ciphertext == "" {
		t.Error("rejected result should still carry the ciphertext")
	}

	res2, err := enc.EncryptNotifPayload(ctx, "session-a", []byte("smaller"), nil)
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}
	if res2.Order != res.Order+1 {
		t.Errorf("order after rejection = %d, want %d", res2.Order, res.Order+1)
	}
}

func TestEncryptOutput(t *testing.T) {
	enc := newTestEncryptor(t)
	ctx := context.Background()

	first, err := enc.EncryptNotifPayload(ctx, "session-a", []byte("payload"), nil)
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}
	second, err := enc.EncryptNotifPayload(ctx, "session-a", []byte("payload"), nil)
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}
	if first.Ciphertext == second.Ciphertext {
		t.Error("identical plaintexts must not produce identical ciphertexts")
	}
	if _, err := base64.StdEncoding.DecodeString(first.Ciphertext); err != nil {
		t.Errorf("ciphertext is not valid base64: %v", err)
	}
}

func TestEncryptRequiresCryptoID(t *testing.T) {
	enc := newTestEncryptor(t)
	if _, err := enc.EncryptNotifPayload(context.Background(), "", []byte("payload"), nil); err == nil {
		t.Error("expected error for empty crypto ID")
	}
}
