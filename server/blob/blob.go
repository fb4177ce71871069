// Package blob stores oversized notification payloads in S3-compatible
// object storage. Uploaded payloads are encrypted with a fresh one-off
// key before leaving the process; clients receive the key inside their
// own end-to-end encrypted pointer notification together with a
// single-use holder token granting them the download.
package blob

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"io"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"golang.org/x/crypto/nacl/secretbox"

	"github.com/ferrychat/ferry/server/push"
)

// Config is the object storage connection config.
type Config struct {
	Endpoint  string `json:"endpoint"`
	AccessKey string `json:"access_key"`
	SecretKey string `json:"secret_key"`
	Bucket    string `json:"bucket"`
	UseSSL    bool   `json:"use_ssl"`
}

// objects is the slice of the object storage API the store needs.
type objects interface {
	put(ctx context.Context, key string, payload []byte) error
	get(ctx context.Context, key string) ([]byte, error)
}

// minioObjects backs the store with an S3-compatible bucket.
type minioObjects struct {
	client *minio.Client
	bucket string
}

func (m *minioObjects) put(ctx context.Context, key string, payload []byte) error {
	_, err := m.client.PutObject(ctx, m.bucket, key, bytes.NewReader(payload), int64(len(payload)),
		minio.PutObjectOptions{ContentType: "application/octet-stream"})
	return err
}

func (m *minioObjects) get(ctx context.Context, key string) ([]byte, error) {
	obj, err := m.client.GetObject(ctx, m.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	defer obj.Close()
	return io.ReadAll(obj)
}

// Store implements push.BlobAPI over an S3-compatible bucket.
type Store struct {
	objects objects
}

// NewStore connects to the object storage backend.
func NewStore(conf Config) (*Store, error) {
	if conf.Endpoint == "" || conf.Bucket == "" {
		return nil, errors.New("blob: endpoint and bucket are required")
	}
	client, err := minio.New(conf.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(conf.AccessKey, conf.SecretKey, ""),
		Secure: conf.UseSSL,
	})
	if err != nil {
		return nil, err
	}
	return &Store{objects: &minioObjects{client: client, bucket: conf.Bucket}}, nil
}

// UploadLargeNotifPayload encrypts the payload with a fresh key, uploads
// it keyed by ciphertext hash, and mints holderCount single-use holder
// tokens in stable order.
func (s *Store) UploadLargeNotifPayload(ctx context.Context, payload []byte,
	holderCount int) (*push.BlobDescriptor, error) {

	if holderCount <= 0 {
		return nil, errors.New("blob: holder count must be positive")
	}

	var key [32]byte
	if _, err := io.ReadFull(rand.Reader, key[:]); err != nil {
		return nil, err
	}
	var nonce [24]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, err
	}
	sealed := secretbox.Seal(nonce[:], payload, &nonce, &key)

	sum := sha256.Sum256(sealed)
	hash := hex.EncodeToString(sum[:])

	if err := s.objects.put(ctx, hash, sealed); err != nil {
		return nil, err
	}

	holders := make([]string, holderCount)
	for i := range holders {
		holders[i] = uuid.NewString()
	}
	return &push.BlobDescriptor{
		Hash:          hash,
		EncryptionKey: base64.StdEncoding.EncodeToString(key[:]),
		Holders:       holders,
	}, nil
}

// Fetch downloads and decrypts one stored payload. Used by the holder
// redemption endpoint.
func (s *Store) Fetch(ctx context.Context, hash, encryptionKey string) ([]byte, error) {
	rawKey, err := base64.StdEncoding.DecodeString(encryptionKey)
	if err != nil || len(rawKey) != 32 {
		return nil, errors.New("blob: malformed encryption key")
	}

	sealed, err := s.objects.get(ctx, hash)
	if err != nil {
		return nil, err
	}
	if len(sealed) < 24 {
		return nil, errors.New("blob: stored payload too short")
	}

	var key [32]byte
	copy(key[:], rawKey)
	var nonce [24]byte
	copy(nonce[:], sealed[:24])
	plaintext, ok := secretbox.Open(nil, sealed[24:], &nonce, &key)
	if !ok {
		return nil, errors.New("blob: payload decryption failed")
	}
	return plaintext, nil
}
