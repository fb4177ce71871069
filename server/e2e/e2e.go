// Package e2e implements the end-to-end notification payload encryptor.
// Each device has its own crypto session identified by a crypto ID; a
// session carries a symmetric key and a strictly monotonic payload
// order. Recipients use the order to detect dropped or replayed
// notification payloads, so an order value, once consumed, is never
// reused even when the resulting ciphertext is later discarded for
// being oversized.
package e2e

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"
	"sync"

	"golang.org/x/crypto/nacl/secretbox"

	"github.com/ferrychat/ferry/server/push"
)

type session struct {
	mu    sync.Mutex
	key   [32]byte
	order uint64
}

// Encryptor implements push.EncryptAPI over NaCl secretbox. Session keys
// are derived from a master secret and the crypto ID.
type Encryptor struct {
	mu       sync.Mutex
	master   []byte
	sessions map[string]*session
}

// NewEncryptor creates an encryptor. The master secret must be non-empty
// and is never logged.
func NewEncryptor(master []byte) (*Encryptor, error) {
	if len(master) == 0 {
		return nil, errors.New("e2e: empty master secret")
	}
	return &Encryptor{
		master:   append([]byte(nil), master...),
		sessions: make(map[string]*session),
	}, nil
}

func (e *Encryptor) sessionFor(cryptoID string) *session {
	e.mu.Lock()
	defer e.mu.Unlock()
	if s := e.sessions[cryptoID]; s != nil {
		return s
	}
	s := &session{key: sha256.Sum256(append(append([]byte(nil), e.master...), cryptoID...))}
	e.sessions[cryptoID] = s
	return s
}

// EncryptNotifPayload encrypts one payload under the device's session
// key and assigns it the next session order. When sizeOK rejects the
// ciphertext, the result is returned with SizeExceeded set so the caller
// can re-encrypt a smaller payload; the rejected order stays consumed.
func (e *Encryptor) EncryptNotifPayload(ctx context.Context, cryptoID string,
	plaintext []byte, sizeOK push.SizeValidator) (*push.EncryptResult, error) {

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if cryptoID == "" {
		return nil, errors.New("e2e: empty crypto ID")
	}

	var nonce [24]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, err
	}

	s := e.sessionFor(cryptoID)
	s.mu.Lock()
	defer s.mu.Unlock()

	s.order++
	sealed := secretbox.Seal(nonce[:], plaintext, &nonce, &s.key)
	ciphertext := base64.StdEncoding.EncodeToString(sealed)

	res := &push.EncryptResult{Ciphertext: ciphertext, Order: s.order}
	if sizeOK != nil && !sizeOK(ciphertext) {
		res.SizeExceeded = true
	}
	return res, nil
}
