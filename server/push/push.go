// Package push contains the notify-decision and payload-preparation
// pipeline: deciding which devices must receive (or lose) a notification
// for a batch of new messages, and the shared types consumed by the
// platform payload shapers.
//
// The package also hosts the delivery handler registry; gateway adapters
// register themselves the same way storage adapters do, and the server
// dispatches prepared batches to every enabled handler.
package push

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"

	t "github.com/ferrychat/ferry/server/store/types"
)

// NotifyType is the per-(message, recipient) decision of the resolver.
type NotifyType int

const (
	// NotifyNone: the recipient is not notified at all.
	NotifyNone NotifyType = iota
	// NotifyRescind: a previously delivered notification is withdrawn.
	NotifyRescind
	// NotifySetUnread: unread-count bump only, no visual notification.
	NotifySetUnread
	// NotifyNotifAndSetUnread: visual notification plus unread bump.
	NotifyNotifAndSetUnread
)

func (nt NotifyType) String() string {
	switch nt {
	case NotifyRescind:
		return "rescind"
	case NotifySetUnread:
		return "setUnread"
	case NotifyNotifAndSetUnread:
		return "notifAndSetUnread"
	}
	return "none"
}

// ResolvedNotifTexts is already-localized notification text. Immutable
// once produced.
type ResolvedNotifTexts struct {
	Merged string `json:"merged,omitempty"`
	Body   string `json:"body,omitempty"`
	Title  string `json:"title,omitempty"`
	Prefix string `json:"prefix,omitempty"`
}

// PushUserInfo is the per-recipient aggregate built once per pass.
type PushUserInfo struct {
	Devices  []t.DeviceDef
	Messages []*t.Message
}

// TargetDevice addresses one device during payload preparation. BlobHolder
// is set only on the blob-offload re-encryption path.
type TargetDevice struct {
	CryptoID   string
	DeliveryID string
	BlobHolder string
}

// SenderDescriptor identifies the sending device (or keyserver) inside an
// encrypted envelope so the client can locate the right session.
type SenderDescriptor struct {
	KeyserverID    string `json:"keyserverID,omitempty"`
	SenderDeviceID string `json:"senderDeviceID,omitempty"`
}

// Notification is one platform-native payload, either fully plaintext or
// fully an encrypted envelope.
type Notification interface {
	// Platform the payload is shaped for.
	Platform() t.Platform
	// Render serializes the payload sans out-of-band headers. The result
	// is what platform byte ceilings are measured against.
	Render() ([]byte, error)
}

// TargetedNotification is the final per-device unit handed to gateway
// dispatchers.
type TargetedNotification struct {
	Notification Notification
	DeliveryID   string
	// EncryptionOrder is the per-crypto-session sequence number; zero for
	// plaintext notifications.
	EncryptionOrder uint64
	// EncryptedPayloadHash is set where the platform requires the
	// ciphertext digest alongside the payload.
	EncryptedPayloadHash string
}

// EncryptResult is what the encryption collaborator returns for one call.
type EncryptResult struct {
	// Ciphertext is the serialized encrypted envelope body.
	Ciphertext string
	// SizeExceeded is set when the size validator rejected the encrypted
	// candidate; Ciphertext is still populated.
	SizeExceeded bool
	// Order increases monotonically within one crypto session.
	Order uint64
}

// SizeValidator decides whether an encrypted candidate still fits once
// wrapped in the final envelope.
type SizeValidator func(ciphertext string) bool

// EncryptAPI is the end-to-end encryption collaborator.
type EncryptAPI interface {
	EncryptNotifPayload(ctx context.Context, cryptoID string, plaintext []byte, sizeOK SizeValidator) (*EncryptResult, error)
}

// BlobDescriptor describes one shared blob upload: N single-use holder
// tokens in stable order, one per requesting device.
type BlobDescriptor struct {
	Hash          string
	EncryptionKey string
	Holders       []string
}

// BlobAPI is the blob-storage collaborator used to offload payloads that
// exceed a platform ceiling even without embedded content.
type BlobAPI interface {
	UploadLargeNotifPayload(ctx context.Context, payload []byte, holderCount int) (*BlobDescriptor, error)
}

// MessageFetcher looks up a message by ID; used by reaction/edit notify
// resolution to learn the target message's author.
type MessageFetcher interface {
	FetchMessageByID(ctx context.Context, id string) (*t.Message, error)
}

// UnreadCounter supplies per-user unread counts for badge values.
type UnreadCounter interface {
	Unread(ctx context.Context, userID string) (int, error)
}

// NotifByteSize is the byte-size oracle shared by every platform shaper.
func NotifByteSize(serialized []byte) int {
	return len(serialized)
}

// EncryptedPayloadHash digests an encrypted payload for platforms that
// carry the digest next to the ciphertext.
func EncryptedPayloadHash(ciphertext string) string {
	sum := sha256.Sum256([]byte(ciphertext))
	return hex.EncodeToString(sum[:])
}

// GroupDevicesByPlatform buckets devices by platform and then by version
// key, so payload shaping runs once per bucket.
func GroupDevicesByPlatform(devices []t.DeviceDef) map[t.Platform]map[string][]TargetDevice {
	byPlatform := make(map[t.Platform]map[string][]TargetDevice)
	for _, dev := range devices {
		platform := dev.PlatformDetails.Platform
		byVersion := byPlatform[platform]
		if byVersion == nil {
			byVersion = make(map[string][]TargetDevice)
			byPlatform[platform] = byVersion
		}
		key := dev.PlatformDetails.VersionKey()
		byVersion[key] = append(byVersion[key], TargetDevice{
			CryptoID:   dev.CryptoID,
			DeliveryID: dev.DeliveryID,
		})
	}
	return byPlatform
}

// Delivery is one platform's share of a prepared pass, handed to gateway
// handlers.
type Delivery struct {
	Platform t.Platform
	// Notifications to deliver, including badge-only ones.
	Notifications []TargetedNotification
	// Rescinds withdraw previously shown notifications.
	Rescinds []TargetedNotification
}

// Handler is implemented by gateway adapters (FCM, stdout, ...).
type Handler interface {
	// Init initializes the handler. Returns false if the handler is
	// disabled by configuration.
	Init(jsonconf json.RawMessage) (bool, error)

	// IsReady checks if the handler is initialized.
	IsReady() bool

	// Push returns a channel the server sends prepared deliveries to.
	// The delivery is dropped if the channel blocks.
	Push() chan<- *Delivery

	// Stop terminates the handler's worker.
	Stop()
}

var handlers map[string]Handler

// Register a delivery handler. Called from handler packages' init().
func Register(name string, hnd Handler) {
	if handlers == nil {
		handlers = make(map[string]Handler)
	}

	if hnd == nil {
		panic("Register: push handler is nil")
	}
	if _, dup := handlers[name]; dup {
		panic("Register: called twice for handler " + name)
	}
	handlers[name] = hnd
}

type handlerConfig struct {
	Name   string          `json:"name"`
	Config json.RawMessage `json:"config"`
}

// Init initializes registered handlers from the server config.
func Init(jsconfig json.RawMessage) ([]string, error) {
	var config []handlerConfig

	if err := json.Unmarshal(jsconfig, &config); err != nil {
		return nil, errors.New("failed to parse push config: " + err.Error())
	}

	var enabled []string
	for _, cc := range config {
		if hnd := handlers[cc.Name]; hnd != nil {
			if ok, err := hnd.Init(cc.Config); err != nil {
				return nil, err
			} else if ok {
				enabled = append(enabled, cc.Name)
			}
		}
	}

	return enabled, nil
}

// Dispatch hands one platform delivery to every ready handler.
func Dispatch(dlv *Delivery) {
	if handlers == nil {
		return
	}

	for _, hnd := range handlers {
		if !hnd.IsReady() {
			continue
		}

		// Dispatch without delay or skip.
		select {
		case hnd.Push() <- dlv:
		default:
		}
	}
}

// Stop terminates all handlers.
func Stop() {
	if handlers == nil {
		return
	}

	for _, hnd := range handlers {
		if hnd.IsReady() {
			// Will potentially block.
			hnd.Stop()
		}
	}
}
