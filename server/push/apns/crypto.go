package apns

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/ferrychat/ferry/server/logs"
	"github.com/ferrychat/ferry/server/push"
	t "github.com/ferrychat/ferry/server/store/types"
)

// deviceNotification is the per-device outcome of one encryption pass.
type deviceNotification struct {
	device       push.TargetDevice
	notification *Notification
	sizeExceeded bool
	payloadHash  string
	order        uint64
}

func (dn *deviceNotification) targeted() push.TargetedNotification {
	return push.TargetedNotification{
		Notification:         dn.notification,
		DeliveryID:           dn.device.DeliveryID,
		EncryptionOrder:      dn.order,
		EncryptedPayloadHash: dn.payloadHash,
	}
}

// envelopeAPS is the aps dictionary of an encrypted envelope. Builds 254
// and later on the even-numbered release train render a placeholder
// alert until the extension rewrites the payload.
func envelopeAPS(pd t.PlatformDetails) *APS {
	aps := &APS{MutableContent: 1}
	if pd.CodeVersion >= 254 && pd.CodeVersion%2 == 0 {
		aps.Alert = Alert{Body: "ENCRYPTED"}
	}
	return aps
}

// encryptVisual encrypts one visual payload for one device. The alert
// string, badge and sound move inside the encrypted payload since the
// aps dictionary is unreadable to the gateway once encrypted. On an
// encryption error the device degrades to the plaintext payload with an
// encryptionFailed marker rather than being dropped.
func encryptVisual(ctx context.Context, enc push.EncryptAPI, sender push.SenderDescriptor,
	cryptoID string, notif Notification, validate bool, pd t.PlatformDetails, blobHolder string) deviceNotification {

	if notif.Headers.CollapseID != "" {
		// The collapse ID must ride inside the encrypted payload; a
		// header collapse ID on the encrypted path is a shaping bug.
		panic("apns: collapse header present on encrypted notification")
	}

	payload := notif
	payload.ID = ""
	payload.Headers = Headers{}
	payload.BlobHolder = blobHolder
	if aps := notif.APS; aps != nil {
		payload.APS = &APS{Sound: aps.Sound}
		if merged, ok := aps.Alert.(string); ok {
			payload.Merged = merged
		}
		payload.Badge = aps.Badge
	}

	plaintext, err := payload.Render()
	if err == nil {
		envNotif := Notification{
			platform:         notif.platform,
			Headers:          notif.Headers,
			APS:              envelopeAPS(pd),
			ID:               notif.ID,
			SenderDescriptor: sender,
		}

		var sizeOK push.SizeValidator
		if validate {
			sizeOK = func(ciphertext string) bool {
				candidate := envNotif
				candidate.EncryptedPayload = ciphertext
				return candidate.fits()
			}
		}

		var res *push.EncryptResult
		res, err = enc.EncryptNotifPayload(ctx, cryptoID, plaintext, sizeOK)
		if err == nil {
			envNotif.EncryptedPayload = res.Ciphertext
			return deviceNotification{
				notification: &envNotif,
				sizeExceeded: res.SizeExceeded,
				payloadHash:  push.EncryptedPayloadHash(res.Ciphertext),
				order:        res.Order,
			}
		}
	}

	logs.Warning.Println("apns: notification encryption failed:", err)
	push.CountEncryptFailure()
	degraded := notif
	degraded.EncryptionFailed = "1"
	return deviceNotification{
		notification: &degraded,
		sizeExceeded: validate && !degraded.fits(),
	}
}

// encryptSilent encrypts a rescind or badge-only payload. These are
// always small, so no size validation is performed.
func encryptSilent(ctx context.Context, enc push.EncryptAPI, sender push.SenderDescriptor,
	cryptoID string, notif Notification, pd t.PlatformDetails) deviceNotification {

	payload := notif
	payload.Headers = Headers{}
	if aps := notif.APS; aps != nil && aps.Badge != nil {
		payload.Badge = aps.Badge
		payload.APS = &APS{}
	} else {
		payload.APS = nil
	}

	plaintext, err := payload.Render()
	if err == nil {
		var res *push.EncryptResult
		res, err = enc.EncryptNotifPayload(ctx, cryptoID, plaintext, nil)
		if err == nil {
			return deviceNotification{
				notification: &Notification{
					platform:         notif.platform,
					Headers:          notif.Headers,
					APS:              envelopeAPS(pd),
					SenderDescriptor: sender,
					EncryptedPayload: res.Ciphertext,
				},
				payloadHash: push.EncryptedPayloadHash(res.Ciphertext),
				order:       res.Order,
			}
		}
	}

	logs.Warning.Println("apns: notification encryption failed:", err)
	push.CountEncryptFailure()
	degraded := notif
	degraded.EncryptionFailed = "1"
	return deviceNotification{notification: &degraded}
}

// prepareEncryptedVisual encrypts the payload for every device in the
// bucket. Calls for different devices run concurrently; each device is
// encrypted exactly once per call, keeping its session order intact.
func prepareEncryptedVisual(ctx context.Context, enc push.EncryptAPI, sender push.SenderDescriptor,
	devices []push.TargetDevice, notif Notification, validate bool, pd t.PlatformDetails) []deviceNotification {

	results := make([]deviceNotification, len(devices))
	eg, egCtx := errgroup.WithContext(ctx)
	for i, dev := range devices {
		i, dev := i, dev
		eg.Go(func() error {
			results[i] = encryptVisual(egCtx, enc, sender, dev.CryptoID, notif, validate, pd, dev.BlobHolder)
			results[i].device = dev
			return nil
		})
	}
	// Goroutines only record into their own slot; Wait cannot fail.
	_ = eg.Wait()
	return results
}

func prepareEncryptedSilent(ctx context.Context, enc push.EncryptAPI, sender push.SenderDescriptor,
	devices []push.TargetDevice, notif Notification, pd t.PlatformDetails) []deviceNotification {

	results := make([]deviceNotification, len(devices))
	eg, egCtx := errgroup.WithContext(ctx)
	for i, dev := range devices {
		i, dev := i, dev
		eg.Go(func() error {
			results[i] = encryptSilent(egCtx, enc, sender, dev.CryptoID, notif, pd)
			results[i].device = dev
			return nil
		})
	}
	_ = eg.Wait()
	return results
}
