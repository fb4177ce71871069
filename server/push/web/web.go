// Package web shapes push notification payloads for browser sessions
// delivered through the web push gateway. Browser pushes are always
// visual; rescinds and badge updates are handled in-page by the service
// worker, so only the visual creator exists here.
package web

import (
	"context"
	"encoding/json"

	"golang.org/x/sync/errgroup"

	"github.com/ferrychat/ferry/server/logs"
	"github.com/ferrychat/ferry/server/push"
	t "github.com/ferrychat/ferry/server/store/types"
)

// Notification is one shaped browser notification. The ID stays outside
// the encrypted envelope so the service worker can dedupe before
// decrypting.
type Notification struct {
	ID          string `json:"id"`
	Body        string `json:"body,omitempty"`
	Title       string `json:"title,omitempty"`
	Prefix      string `json:"prefix,omitempty"`
	ThreadID    string `json:"threadID,omitempty"`
	UnreadCount *int   `json:"unreadCount,omitempty"`

	push.SenderDescriptor
	EncryptedPayload string `json:"encryptedPayload,omitempty"`
	EncryptionFailed string `json:"encryptionFailed,omitempty"`
}

func (n *Notification) Platform() t.Platform { return t.PlatformWeb }

func (n *Notification) Render() ([]byte, error) {
	return json.Marshal(n)
}

// VisualInput carries everything needed to shape one visual notification
// for one version bucket of browser sessions.
type VisualInput struct {
	Sender      push.SenderDescriptor
	NotifTexts  push.ResolvedNotifTexts
	ThreadID    string
	UnreadCount *int
	Platform    t.PlatformDetails
	UniqueID    string
}

// CreateVisualNotification shapes one notification per browser session.
// Web pushes have no platform byte ceiling, so there is no size
// degradation or blob offload.
func CreateVisualNotification(ctx context.Context, enc push.EncryptAPI,
	in *VisualInput, devices []push.TargetDevice) []push.TargetedNotification {

	notif := Notification{
		ID:          in.UniqueID,
		Body:        in.NotifTexts.Body,
		Title:       in.NotifTexts.Title,
		Prefix:      in.NotifTexts.Prefix,
		ThreadID:    in.ThreadID,
		UnreadCount: in.UnreadCount,
	}

	if !push.Supports(in.Platform, push.FeatureEncryptedWebNotifs) {
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
			return nil
		})
	}
	_ = eg.Wait()
	return targeted
}

func encryptNotification(ctx context.Context, enc push.EncryptAPI, sender push.SenderDescriptor,
	device push.TargetDevice, notif Notification) push.TargetedNotification {

	plaintext := notif
	plaintext.ID = ""

	raw, err := plaintext.Render()
	if err == nil {
		var res *push.EncryptResult
		res, err = enc.EncryptNotifPayload(ctx, device.CryptoID, raw, nil)
		if err == nil {
			encrypted := &Notification{
				ID:               notif.ID,
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

	logs.Warning.Println("web: notification encryption failed:", err)
	push.CountEncryptFailure()

	degraded := notif
	degraded.EncryptionFailed = "1"
	return push.TargetedNotification{Notification: &degraded, DeliveryID: device.DeliveryID}
}
