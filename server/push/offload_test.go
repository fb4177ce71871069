package push

import (
	"context"
	"errors"
	"testing"
)

type fakeBlob struct {
	calls int
	desc  *BlobDescriptor
	err   error
}

func (fb *fakeBlob) UploadLargeNotifPayload(_ context.Context, _ []byte, holderCount int) (*BlobDescriptor, error) {
	fb.calls++
	if fb.err != nil {
		return nil, fb.err
	}
	if fb.desc != nil {
		return fb.desc, nil
	}
	holders := make([]string, holderCount)
	for i := range holders {
		holders[i] = "holder-" + string(rune('a'+i))
	}
	return &BlobDescriptor{Hash: "deadbeef", EncryptionKey: "key", Holders: holders}, nil
}

func offloadDevices() []TargetDevice {
	return []TargetDevice{
		{CryptoID: "c1", DeliveryID: "d1"},
		{CryptoID: "c2", DeliveryID: "d2"},
	}
}

func TestOffloadAssignsHoldersPositionally(tt *testing.T) {
	blob := &fakeBlob{}
	devices, desc := OffloadOversized(context.Background(), blob, []byte("payload"), offloadDevices(), true, "n1")
	if desc == nil {
		tt.Fatal("expected a descriptor")
	}
	if blob.calls != 1 {
		tt.Errorf("upload calls = %d, want 1", blob.calls)
	}
	for i, dev := range devices {
		if dev.BlobHolder != desc.Holders[i] {
			tt.Errorf("device %d holder = %q, want %q", i, dev.BlobHolder, desc.Holders[i])
		}
	}
	if devices[0].BlobHolder == devices[1].BlobHolder {
		tt.Error("holder tokens must be distinct per device")
	}
}

func TestOffloadSkipsIncapableClients(tt *testing.T) {
	blob := &fakeBlob{}
	devices, desc := OffloadOversized(context.Background(), blob, []byte("payload"), offloadDevices(), false, "n1")
	if desc != nil {
		tt.Error("expected no descriptor for incapable clients")
	}
	if blob.calls != 0 {
		tt.Errorf("upload calls = %d, want 0", blob.calls)
	}
	for _, dev := range devices {
		if dev.BlobHolder != "" {
			tt.Errorf("device %q unexpectedly has a holder", dev.DeliveryID)
		}
	}
}

func TestOffloadUploadFailure(tt *testing.T) {
	blob := &fakeBlob{err: errors.New("storage down")}
	devices, desc := OffloadOversized(context.Background(), blob, []byte("payload"), offloadDevices(), true, "n1")
	if desc != nil {
		tt.Error("expected no descriptor after failed upload")
	}
	if len(devices) != 2 {
		tt.Errorf("devices = %d, want both back", len(devices))
	}
}

func TestOffloadRejectsBadDescriptor(tt *testing.T) {
	blob := &fakeBlob{desc: &BlobDescriptor{Hash: "deadbeef", EncryptionKey: "key", Holders: []string{"only-one"}}}
	_, desc := OffloadOversized(context.Background(), blob, []byte("payload"), offloadDevices(), true, "n1")
	if desc != nil {
		tt.Error("descriptor with wrong holder count must be rejected")
	}
}

func TestOffloadNilBlobService(tt *testing.T) {
	devices, desc := OffloadOversized(context.Background(), nil, []byte("payload"), offloadDevices(), true, "n1")
	if desc != nil || len(devices) != 2 {
		tt.Error("nil blob service must be a no-op")
	}
}
