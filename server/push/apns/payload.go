// Package apns shapes notifications for Apple push: iOS devices and the
// macOS desktop client. Payloads are subject to a hard 4096-byte ceiling
// measured on the serialized payload sans gateway headers.
package apns

import (
	"encoding/json"

	"github.com/ferrychat/ferry/server/push"
	t "github.com/ferrychat/ferry/server/store/types"
)

// MaxNotificationPayloadByteSize is the APNs payload ceiling. Part of the
// wire contract with the gateway; not configurable.
const MaxNotificationPayloadByteSize = 4096

// Bundle IDs the gateway routes by.
const (
	iosNotifTopic   = "chat.ferry.app"
	macosNotifTopic = "chat.ferry.desktop"
)

// Headers are gateway-level fields that stay outside the (possibly
// encrypted) payload; the gateway itself needs them for routing and
// collapsing.
type Headers struct {
	Topic      string `json:"apns-topic,omitempty"`
	ID         string `json:"apns-id,omitempty"`
	PushType   string `json:"apns-push-type,omitempty"`
	CollapseID string `json:"apns-collapse-id,omitempty"`
	Priority   string `json:"apns-priority,omitempty"`
}

// Alert is the visible alert body of an encrypted envelope placeholder.
type Alert struct {
	Body string `json:"body,omitempty"`
}

// APS is the aps dictionary of the payload. Alert holds either the
// merged notification string or an Alert placeholder value.
type APS struct {
	ThreadID       string `json:"thread-id,omitempty"`
	Badge          *int   `json:"badge,omitempty"`
	Alert          any    `json:"alert,omitempty"`
	Sound          string `json:"sound,omitempty"`
	MutableContent int    `json:"mutable-content,omitempty"`
}

// Notification is one Apple push payload, visual, rescind or badge-only,
// plaintext or encrypted envelope — never a mix of the two. Shaping
// steps copy the value instead of mutating it in place.
type Notification struct {
	platform t.Platform

	Headers Headers `json:"-"`
	APS     *APS    `json:"aps,omitempty"`

	ID       string `json:"id,omitempty"`
	ThreadID string `json:"threadID,omitempty"`

	// Visual plaintext fields.
	Body         string `json:"body,omitempty"`
	Title        string `json:"title,omitempty"`
	Prefix       string `json:"prefix,omitempty"`
	CollapseID   string `json:"collapseID,omitempty"`
	MessageInfos string `json:"messageInfos,omitempty"`

	// Fields moved inside the encrypted payload where the aps dictionary
	// is no longer readable by the client extension.
	Merged string `json:"merged,omitempty"`
	Badge  *int   `json:"badge,omitempty"`

	// Blob offload pointer fields.
	BlobHash      string `json:"blobHash,omitempty"`
	EncryptionKey string `json:"encryptionKey,omitempty"`
	BlobHolder    string `json:"blobHolder,omitempty"`

	// Rescind / badge-only fields.
	NotificationID      string `json:"notificationId,omitempty"`
	BackgroundNotifType string `json:"backgroundNotifType,omitempty"`
	SetUnreadStatus     bool   `json:"setUnreadStatus,omitempty"`

	// Encrypted envelope fields.
	push.SenderDescriptor
	EncryptedPayload string `json:"encryptedPayload,omitempty"`
	EncryptionFailed string `json:"encryptionFailed,omitempty"`
}

// Platform returns ios or macos depending on the bucket the payload was
// shaped for.
func (n *Notification) Platform() t.Platform {
	return n.platform
}

// Render serializes the payload sans the out-of-band gateway headers.
func (n *Notification) Render() ([]byte, error) {
	return json.Marshal(n)
}

func (n *Notification) fits() bool {
	serialized, err := n.Render()
	if err != nil {
		return false
	}
	return push.NotifByteSize(serialized) <= MaxNotificationPayloadByteSize
}

func notificationTopic(pd t.PlatformDetails) string {
	if pd.Platform == t.PlatformMacOS {
		return macosNotifTopic
	}
	return iosNotifTopic
}
