// Package fcm shapes push notification payloads for Android devices
// delivered through Firebase Cloud Messaging. FCM carries everything in
// a flat string-to-string data map which the client app renders itself,
// so unlike APNs there is no OS-interpreted alert envelope.
package fcm

import (
	"encoding/json"

	"github.com/ferrychat/ferry/server/push"
	t "github.com/ferrychat/ferry/server/store/types"
)

// MaxNotificationPayloadByteSize is the downstream FCM limit on the
// serialized data map.
const MaxNotificationPayloadByteSize = 4000

// Data is the flat payload map. FCM requires all values to be strings.
type Data struct {
	ID       string `json:"id,omitempty"`
	Badge    string `json:"badge,omitempty"`
	Body     string `json:"body,omitempty"`
	Title    string `json:"title,omitempty"`
	Prefix   string `json:"prefix,omitempty"`
	ThreadID string `json:"threadID,omitempty"`

	// CollapseKey is inlined only for clients that decrypt before
	// display; older clients dedupe on ID instead.
	CollapseKey  string `json:"collapseKey,omitempty"`
	MessageInfos string `json:"messageInfos,omitempty"`

	BadgeOnly       string `json:"badgeOnly,omitempty"`
	Rescind         string `json:"rescind,omitempty"`
	RescindID       string `json:"rescindID,omitempty"`
	SetUnreadStatus string `json:"setUnreadStatus,omitempty"`

	BlobHash      string `json:"blobHash,omitempty"`
	EncryptionKey string `json:"encryptionKey,omitempty"`
	BlobHolder    string `json:"blobHolder,omitempty"`

	push.SenderDescriptor
	EncryptedPayload string `json:"encryptedPayload,omitempty"`
	EncryptionFailed string `json:"encryptionFailed,omitempty"`
}

// Notification is one shaped Android notification. Priority travels as
// gateway metadata, not payload bytes.
type Notification struct {
	Data     Data
	Priority string `json:"-"`
}

func (n *Notification) Platform() t.Platform { return t.PlatformAndroid }

func (n *Notification) Render() ([]byte, error) {
	return json.Marshal(&n.Data)
}

func (n *Notification) fits() bool {
	raw, err := n.Render()
	if err != nil {
		return false
	}
	return push.NotifByteSize(raw) <= MaxNotificationPayloadByteSize
}
