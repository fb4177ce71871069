package push

import (
	"context"

	"github.com/ferrychat/ferry/server/logs"
)

// OffloadOversized performs the one shared blob upload for a bucket of
// devices whose encrypted payloads exceeded the platform ceiling.
//
// On success every device gets its own single-use holder token assigned
// positionally and the returned descriptor carries the blob hash and
// encryption key to embed in the pointer payload. When the bucket's
// clients cannot query the blob service, or the upload fails, the
// returned descriptor is nil and the devices come back without holders;
// the caller then degrades them to content-less payloads. A failed
// upload is logged exactly once per bucket.
func OffloadOversized(ctx context.Context, blob BlobAPI, payload []byte,
	devices []TargetDevice, canQueryBlobService bool, notifID string) ([]TargetDevice, *BlobDescriptor) {

	if len(devices) == 0 {
		return devices, nil
	}
	if !canQueryBlobService || blob == nil {
		return devices, nil
	}

	desc, err := blob.UploadLargeNotifPayload(ctx, payload, len(devices))
	if err != nil {
		logs.Warning.Printf("push: failed to upload payload of notification %s: %v", notifID, err)
		metricBlobUploads.WithLabelValues("error").Inc()
		return devices, nil
	}
	if desc == nil || desc.Hash == "" || desc.EncryptionKey == "" || len(desc.Holders) != len(devices) {
		logs.Warning.Printf("push: blob upload for notification %s returned unusable descriptor", notifID)
		metricBlobUploads.WithLabelValues("error").Inc()
		return devices, nil
	}
	metricBlobUploads.WithLabelValues("ok").Inc()

	withHolders := make([]TargetDevice, len(devices))
	for i, dev := range devices {
		dev.BlobHolder = desc.Holders[i]
		withHolders[i] = dev
	}
	return withHolders, desc
}
