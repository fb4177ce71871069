// Package wns shapes push notification payloads for Windows desktop
// clients delivered through the Windows Notification Service. Desktop
// pushes are visual-only and never carry serialized messages, so the
// platform ceiling is checked but there is no blob offload path.
package wns

import (
	"context"
	"encoding/json"

	"golang.org/x/sync/errgroup"

	"github.com/ferrychat/ferry/server/logs"
	"github.com/ferrychat/ferry/server/push"
	t "github.com/ferrychat/ferry/server/store/types"
)

// MaxNotificationPayloadByteSize is the downstream WNS limit on the
// serialized payload.
const MaxNotificationPayloadByteSize = 5000

// Notification is one shaped Windows notification.
type Notification struct {
	Body        string `json:"body,omitempty"`
	Title       string `json:"title,omitempty"`
	Prefix      string `json:"prefix,omitempty"`
	ThreadID    string `json:"threadID,omitempty"`
	UnreadCount *int   `json:"unreadCount,omitempty"`

	push.SenderDescriptor
	EncryptedPayload string `json:"encryptedPayload,omitempty"`
	EncryptionFailed string `json:"encryptionFailed,omitempty"`
}

func (n *Notification) Platform() t.Platform { return t.PlatformWindows }

func (n *Notification) Render() ([]byte, error) {
	return json.Marshal(n)
}

// VisualInput carries everything needed to shape one visual notification
// for one version bucket of Windows clients.
type VisualInput struct {
	Sender      push.SenderDescriptor
	NotifTexts  push.ResolvedNotifTexts
	ThreadID    string
	UnreadCount *int
	Platform    t.PlatformDetails
	UniqueID    string
}

// CreateVisualNotification shapes one notification per device. Payloads
// over the WNS ceiling are logged but still delivered; the gateway
// rejection surfaces downstream.
func CreateVisualNotification(ctx context.Context, enc push.EncryptAPI,
	in *VisualInput, devices []push.TargetDevice) []push.TargetedNotification {

	notif := Notification{
		Body:        in.NotifTexts.Body,
		Title:       in.NotifTexts.Title,
		Prefix:      in.NotifTexts.Prefix,
		ThreadID:    in.ThreadID,
		UnreadCount: in.UnreadCount,
	}

	if !push.Supports(in.Platform, push.FeatureEncryptedWNSNotifs) {
		warnIfOversized(&notif, in.UniqueID)
		targeted := make([]push.TargetedNotification, len(devices))
		for i, dev := range devices {
			targeted[i] = push.TargetedNotification{Notification: &notif, DeliveryID: dev.DeliveryID}
		}
		return targeted
	}

	targeted := make([]push.TargetedNotification, len(devices))
	eg, egCtx := errgroup.WithContext(ctx)
	for i, dev := range devices {
		i, dev := i, dev
		eg.Go(func() error {
			targeted[i] = encryptNotification(egCtx, enc, in.Sender, dev, notif)
			warnIfOversized(targeted[i].Notification.(*Notification), in.UniqueID)
			return nil
		})
	}
	_ = eg.Wait()
	return targeted
}

func warnIfOversized(notif *Notification, notifID string) {
	raw, err := notif.Render()
	if err == nil && push.NotifByteSize(raw) > MaxNotificationPayloadByteSize {
		logs.Warning.Println("wns: notification", notifID, "exceeds payload ceiling:", len(raw), "bytes")
	}
}

func encryptNotification(ctx context.Context, enc push.EncryptAPI, sender push.SenderDescriptor,
	device push.TargetDevice, notif Notification) push.TargetedNotification {

	raw, err := notif.Render()
	if err == nil {
		var res *push.EncryptResult
		res, err = enc.EncryptNotifPayload(ctx, device.CryptoID, raw, nil)
		if err == nil {
			encrypted := &Notification{
				SenderDescriptor: sender,
				EncryptedPayload: res.Ciphertext,
			}
			return push.TargetedNotification{
				Notification:    encrypted,
				DeliveryID:      device.DeliveryID,
				EncryptionOrder: res.Order,
			}
		}
	}

	logs.Warning.Println("wns: notification encryption failed:", err)
	push.CountEncryptFailure()

	degraded := notif
	degraded.EncryptionFailed = "1"
	return push.TargetedNotification{Notification: &degraded, DeliveryID: device.DeliveryID}
}
