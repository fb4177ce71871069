package fcm

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/ferrychat/ferry/server/logs"
	"github.com/ferrychat/ferry/server/push"
)

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

// encryptNotification encrypts everything in the data map except the
// notification ID, which the client needs in the clear to dedupe before
// it can decrypt. When validateSize is set, encrypted payloads over the
// FCM ceiling are flagged rather than dropped.
func encryptNotification(ctx context.Context, enc push.EncryptAPI, sender push.SenderDescriptor,
	device push.TargetDevice, notif Notification, validateSize bool) deviceNotification {

	plaintext := notif
	plaintext.Data.ID = ""
	if device.BlobHolder != "" {
		plaintext.Data.BlobHolder = device.BlobHolder
	}

	raw, err := plaintext.Render()
	if err == nil {
		var validate push.SizeValidator
		if validateSize {
			validate = func(ciphertext string) bool {
				candidate := Notification{
					Data: Data{
						ID:               notif.Data.ID,
						SenderDescriptor: sender,
						EncryptedPayload: ciphertext,
					},
					Priority: notif.Priority,
				}
				return candidate.fits()
			}
		}
		res, encErr := enc.EncryptNotifPayload(ctx, device.CryptoID, raw, validate)
		if encErr == nil {
			encrypted := &Notification{
				Data: Data{
					ID:               notif.Data.ID,
					SenderDescriptor: sender,
					EncryptedPayload: res.Ciphertext,
				},
				Priority: notif.Priority,
			}
			return deviceNotification{
				device:       device,
				notification: encrypted,
				sizeExceeded: res.SizeExceeded,
				payloadHash:  push.EncryptedPayloadHash(res.Ciphertext),
				order:        res.Order,
			}
		}
		err = encErr
	}

	logs.Warning.Println("fcm: notification encryption failed:", err)
	push.CountEncryptFailure()

	degraded := notif
	degraded.Data.EncryptionFailed = "1"
	return deviceNotification{
		device:       device,
		notification: &degraded,
		sizeExceeded: validateSize && !degraded.fits(),
	}
}

func prepareEncrypted(ctx context.Context, enc push.EncryptAPI, sender push.SenderDescriptor,
	devices []push.TargetDevice, notif Notification, validateSize bool) []deviceNotification {

	results := make([]deviceNotification, len(devices))
	eg, ectx := errgroup.WithContext(ctx)
	for i, dev := range devices {
		i, dev := i, dev
		eg.Go(func() error {
			results[i] = encryptNotification(ectx, enc, sender, dev, notif, validateSize)
			return nil
		})
	}
	_ = eg.Wait()
	return results
}
