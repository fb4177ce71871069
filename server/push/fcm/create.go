package fcm

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/ferrychat/ferry/server/push"
	t "github.com/ferrychat/ferry/server/store/types"
)

// VisualInput carries everything needed to shape one visual notification
// for one version bucket of Android devices.
type VisualInput struct {
	Sender      push.SenderDescriptor
	NotifTexts  push.ResolvedNotifTexts
	Messages    []*t.Message
	ThreadID    string
	CollapseKey string
	UnreadCount *int
	Platform    t.PlatformDetails
	UniqueID    string
}

// CreateVisualNotification shapes, encrypts and size-bounds one visual
// notification per device. Devices whose encrypted payload exceeds the
// FCM ceiling share one blob upload and get a re-encrypted pointer
// payload; exactly one targeted notification is produced per device.
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
		(isNonCollapsibleText && push.Supports(pd, push.FeatureDecryptNonCollapsibleText))

	data := Data{
		ID:       in.UniqueID,
		Body:     in.NotifTexts.Body,
		Title:    in.NotifTexts.Title,
		Prefix:   in.NotifTexts.Prefix,
		ThreadID: in.ThreadID,
	}
	if in.UnreadCount != nil {
		data.Badge = strconv.Itoa(*in.UnreadCount)
	}
	if in.CollapseKey != "" {
		if canDecryptAll {
			data.CollapseKey = in.CollapseKey
		} else {
			// Clients that cannot decrypt before display dedupe on the
			// notification ID, so the collapse key takes its place.
			data.ID = in.CollapseKey
		}
	}

	notif := Notification{Data: data, Priority: "high"}

	withMessageInfos := notif
	if serialized, err := json.Marshal(in.Messages); err == nil {
		withMessageInfos.Data.MessageInfos = string(serialized)
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

	withInfos := prepareEncrypted(ctx, enc, in.Sender, devices, withMessageInfos, true)

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
		pointer.Data.BlobHash = blobDesc.Hash
		pointer.Data.EncryptionKey = blobDesc.EncryptionKey
	}

	withoutInfos := prepareEncrypted(ctx, enc, in.Sender, oversized, pointer, false)

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
// withdrawal on Android.
type RescindInput struct {
	Sender    push.SenderDescriptor
	RescindID string
	Badge     *int
	ThreadID  string
	Platform  t.PlatformDetails
}

// CreateRescindNotification builds the withdraw instruction for every
// device in the bucket.
func CreateRescindNotification(ctx context.Context, enc push.EncryptAPI,
	in *RescindInput, devices []push.TargetDevice) []push.TargetedNotification {

	data := Data{
		Rescind:         "true",
		RescindID:       in.RescindID,
		SetUnreadStatus: "true",
		ThreadID:        in.ThreadID,
	}
	if in.Badge != nil {
		data.Badge = strconv.Itoa(*in.Badge)
	}
	notif := Notification{Data: data, Priority: "normal"}

	if !push.Supports(in.Platform, push.FeatureEncryptedRescinds) {
		targeted := make([]push.TargetedNotification, len(devices))
		for i, dev := range devices {
			targeted[i] = push.TargetedNotification{Notification: &notif, DeliveryID: dev.DeliveryID}
		}
		return targeted
	}

	results := prepareEncrypted(ctx, enc, in.Sender, devices, notif, false)
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

	shouldEncrypt := push.Supports(in.Platform, push.FeatureEncryptedBadgeOnly)

	data := Data{BadgeOnly: "1"}
	switch {
	case shouldEncrypt && in.ThreadID != "":
		data.ThreadID = in.ThreadID
	case in.Badge != nil:
		data.Badge = strconv.Itoa(*in.Badge)
	default:
		panic("fcm: badge-only update needs either badge count or threadID")
	}
	notif := Notification{Data: data, Priority: "normal"}

	if !shouldEncrypt {
		targeted := make([]push.TargetedNotification, len(devices))
		for i, dev := range devices {
			targeted[i] = push.TargetedNotification{Notification: &notif, DeliveryID: dev.DeliveryID}
		}
		return targeted
	}

	results := prepareEncrypted(ctx, enc, in.Sender, devices, notif, false)
	targeted := make([]push.TargetedNotification, len(results))
	for i := range results {
		targeted[i] = push.TargetedNotification{
			Notification: results[i].notification,
			DeliveryID:   results[i].device.DeliveryID,
		}
	}
	return targeted
}
