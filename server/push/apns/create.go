package apns

import (
	"context"
	"encoding/json"

	"github.com/ferrychat/ferry/server/push"
	t "github.com/ferrychat/ferry/server/store/types"
)

// VisualInput carries everything needed to shape one visual notification
// for one platform/version bucket of devices.
type VisualInput struct {
	Sender      push.SenderDescriptor
	NotifTexts  push.ResolvedNotifTexts
	Messages    []*t.Message
	ThreadID    string
	CollapseKey string
	BadgeOnly   bool
	UnreadCount *int
	Platform    t.PlatformDetails
	UniqueID    string
}

// CreateVisualNotification shapes, encrypts and size-bounds one visual
// notification for every device in the bucket. The candidate payload
// first embeds the serialized triggering messages; devices whose
// encrypted result exceeds the ceiling share one blob upload and get a
// re-encrypted pointer payload instead. Exactly one targeted
// notification is produced per device, possibly degraded, never zero.
func CreateVisualNotification(ctx context.Context, enc push.EncryptAPI, blob push.BlobAPI,
	in *VisualInput, devices []push.TargetDevice) []push.TargetedNotification {

	pd := in.Platform

	isNonCollapsibleText := in.CollapseKey == ""
	for _, msg := range in.Messages {
		if msg.Kind != t.KindText {
			isNonCollapsibleText = false
			break
		}
	}

	canDecryptAll := push.Supports(pd, push.FeatureDecryptAllNotifTypes)
	shouldEncrypt := canDecryptAll ||
		(pd.Platform == t.PlatformIOS && isNonCollapsibleText &&
			push.Supports(pd, push.FeatureDecryptNonCollapsibleText))

	aps := APS{ThreadID: in.ThreadID}
	if in.UnreadCount != nil {
		aps.Badge = in.UnreadCount
	}
	// macOS handles displaying the notification itself; an alert body
	// would make the OS display it a second time.
	if !in.BadgeOnly && pd.Platform != t.PlatformMacOS {
		aps.Alert = in.NotifTexts.Merged
		aps.Sound = "default"
	}
	if push.Supports(pd, push.FeatureMutableContent) {
		aps.MutableContent = 1
	}

	notif := Notification{
		platform: pd.Platform,
		Headers: Headers{
			Topic:    notificationTopic(pd),
			ID:       in.UniqueID,
			PushType: "alert",
		},
		APS:      &aps,
		ID:       in.UniqueID,
		ThreadID: in.ThreadID,
		Body:     in.NotifTexts.Body,
		Title:    in.NotifTexts.Title,
		Prefix:   in.NotifTexts.Prefix,
	}

	if in.CollapseKey != "" {
		if canDecryptAll {
			// Capable clients decrypt first and collapse on the inline
			// identifier.
			notif.CollapseID = in.CollapseKey
		} else {
			// The gateway must collapse on behalf of clients that cannot
			// decrypt, so the key stays in the outer header.
			notif.Headers.CollapseID = in.CollapseKey
		}
	}

	withMessageInfos := notif
	if serialized, err := json.Marshal(in.Messages); err == nil {
		withMessageInfos.MessageInfos = string(serialized)
	}

	if !shouldEncrypt {
		chosen := &withMessageInfos
		if !withMessageInfos.fits() {
			chosen = &notif
		}
		targeted := make([]push.TargetedNotification, len(devices))
		for i, dev := range devices {
			targeted[i] = push.TargetedNotification{Notification: chosen, DeliveryID: dev.DeliveryID}
		}
		return targeted
	}

	// The messageInfos field is not used on macOS, so the smaller payload
	// is encrypted directly.
	if pd.Platform == t.PlatformMacOS {
		results := prepareEncryptedVisual(ctx, enc, in.Sender, devices, notif, false, pd)
		targeted := make([]push.TargetedNotification, len(results))
		for i := range results {
			targeted[i] = push.TargetedNotification{
				Notification: results[i].notification,
				DeliveryID:   results[i].device.DeliveryID,
			}
		}
		return targeted
	}

	withInfos := prepareEncryptedVisual(ctx, enc, in.Sender, devices, withMessageInfos, true, pd)

	var oversized []push.TargetDevice
	for i := range withInfos {
		if withInfos[i].sizeExceeded {
			oversized = append(oversized, push.TargetDevice{
				CryptoID:   withInfos[i].device.CryptoID,
				DeliveryID: withInfos[i].device.DeliveryID,
			})
		}
	}

	if len(oversized) == 0 {
		targeted := make([]push.TargetedNotification, len(withInfos))
		for i := range withInfos {
			targeted[i] = withInfos[i].targeted()
		}
		return targeted
	}

	serialized, _ := withMessageInfos.Render()
	canQueryBlobService := push.Supports(pd, push.FeatureBlobServiceQueries)
	oversized, blobDesc := push.OffloadOversized(ctx, blob, serialized, oversized, canQueryBlobService, in.UniqueID)

	pointer := notif
	if blobDesc != nil {
		pointer.BlobHash = blobDesc.Hash
		pointer.EncryptionKey = blobDesc.EncryptionKey
	}

	withoutInfos := prepareEncryptedVisual(ctx, enc, in.Sender, oversized, pointer, false, pd)

	var targeted []push.TargetedNotification
	for i := range withInfos {
		if !withInfos[i].sizeExceeded {
			targeted = append(targeted, withInfos[i].targeted())
		}
	}
	for i := range withoutInfos {
		targeted = append(targeted, withoutInfos[i].targeted())
	}
	return targeted
}

// RescindInput addresses a previously delivered notification for
// withdrawal. RescindID must match the addressing of the original
// notification so the OS can locate it.
type RescindInput struct {
	Sender    push.SenderDescriptor
	RescindID string
	Badge     *int
	ThreadID  string
	Platform  t.PlatformDetails
}

// CreateRescindNotification builds the withdraw instruction for every
// device in the bucket. Rescinds never carry message content and are
// never subject to blob offload.
func CreateRescindNotification(ctx context.Context, enc push.EncryptAPI,
	in *RescindInput, devices []push.TargetDevice) []push.TargetedNotification {

	pd := in.Platform
	headers := Headers{Topic: notificationTopic(pd), PushType: "alert"}
	aps := APS{Badge: in.Badge}
	if push.Supports(pd, push.FeatureMutableContent) {
		aps.MutableContent = 1
	} else {
		// Without a mutable-content extension the rescind rides as a
		// background push the app processes itself.
		headers.PushType = "background"
		headers.Priority = "5"
	}

	notif := Notification{
		platform:            pd.Platform,
		Headers:             headers,
		APS:                 &aps,
		ThreadID:            in.ThreadID,
		NotificationID:      in.RescindID,
		BackgroundNotifType: "CLEAR",
		SetUnreadStatus:     true,
	}

	if !push.Supports(pd, push.FeatureEncryptedRescinds) {
		targeted := make([]push.TargetedNotification, len(devices))
		for i, dev := range devices {
			targeted[i] = push.TargetedNotification{Notification: &notif, DeliveryID: dev.DeliveryID}
		}
		return targeted
	}

	results := prepareEncryptedSilent(ctx, enc, in.Sender, devices, notif, pd)
	targeted := make([]push.TargetedNotification, len(results))
	for i := range results {
		targeted[i] = push.TargetedNotification{
			Notification: results[i].notification,
			DeliveryID:   results[i].device.DeliveryID,
		}
	}
	return targeted
}

// BadgeOnlyInput bumps the unread badge without showing anything.
type BadgeOnlyInput struct {
	Sender   push.SenderDescriptor
	Badge    *int
	ThreadID string
	Platform t.PlatformDetails
}

// CreateBadgeOnlyNotification builds the silent unread-count update for
// every device in the bucket.
func CreateBadgeOnlyNotification(ctx context.Context, enc push.EncryptAPI,
	in *BadgeOnlyInput, devices []push.TargetDevice) []push.TargetedNotification {

	pd := in.Platform
	shouldEncrypt := push.Supports(pd, push.FeatureEncryptedBadgeOnly)
	headers := Headers{Topic: notificationTopic(pd), PushType: "alert"}

	notif := Notification{platform: pd.Platform, Headers: headers}
	switch {
	case shouldEncrypt && in.ThreadID != "":
		notif.ThreadID = in.ThreadID
		notif.APS = &APS{MutableContent: 1}
	case shouldEncrypt && in.Badge != nil:
		notif.APS = &APS{Badge: in.Badge, MutableContent: 1}
	default:
		if in.Badge == nil {
			panic("apns: badge-only update needs either badge count or threadID")
		}
		notif.APS = &APS{Badge: in.Badge}
	}

	if !shouldEncrypt {
		targeted := make([]push.TargetedNotification, len(devices))
		for i, dev := range devices {
			targeted[i] = push.TargetedNotification{Notification: &notif, DeliveryID: dev.DeliveryID}
		}
		return targeted
	}

	results := prepareEncryptedSilent(ctx, enc, in.Sender, devices, notif, pd)
	targeted := make([]push.TargetedNotification, len(results))
	for i := range results {
		targeted[i] = results[i].targeted()
	}
	return targeted
}
