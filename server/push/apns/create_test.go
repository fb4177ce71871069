package apns

import (
	"context"
	"encoding/base64"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/ferrychat/ferry/server/logs"
	"github.com/ferrychat/ferry/server/push"
	t "github.com/ferrychat/ferry/server/store/types"
)

func TestMain(m *testing.M) {
	logs.Init()
	os.Exit(m.Run())
}

// fakeEncrypt produces a ciphertext proportional to the plaintext so
// size-exceeded behavior is controllable from test payload sizes.
type fakeEncrypt struct {
	mu     sync.Mutex
	orders map[string]uint64
}

func newFakeEncrypt() *fakeEncrypt {
	return &fakeEncrypt{orders: make(map[string]uint64)}
}

func (fe *fakeEncrypt) EncryptNotifPayload(_ context.Context, cryptoID string,
	plaintext []byte, sizeOK push.SizeValidator) (*push.EncryptResult, error) {

	fe.mu.Lock()
	fe.orders[cryptoID]++
	order := fe.orders[cryptoID]
	fe.mu.Unlock()

	res := &push.EncryptResult{
		Ciphertext: base64.StdEncoding.EncodeToString(plaintext),
		Order:      order,
	}
	if sizeOK != nil && !sizeOK(res.Ciphertext) {
		res.SizeExceeded = true
	}
	return res, nil
}

func visualInput(pd t.PlatformDetails, collapseKey, text string) *VisualInput {
	return &VisualInput{
		Sender:      push.SenderDescriptor{KeyserverID: "ks1"},
		NotifTexts:  push.ResolvedNotifTexts{Merged: text, Body: text, Title: "chat"},
		Messages:    []*t.Message{{ID: "m1", ThreadID: "th1", CreatorID: "alice", Kind: t.KindText, Text: text}},
		ThreadID:    "th1",
		CollapseKey: collapseKey,
		Platform:    pd,
		UniqueID:    "uid-1",
	}
}

func twoDevices() []push.TargetDevice {
	return []push.TargetDevice{
		{CryptoID: "c1", DeliveryID: "d1"},
		{CryptoID: "c2", DeliveryID: "d2"},
	}
}

func TestVisualPlaintextForOldClients(tt *testing.T) {
	pd := t.PlatformDetails{Platform: t.PlatformIOS, CodeVersion: 200}
	in := visualInput(pd, "collapse-1", "hello")

	targeted := CreateVisualNotification(context.Background(), newFakeEncrypt(), nil, in, twoDevices())
	if len(targeted) != 2 {
		tt.Fatalf("targeted = %d, want 2", len(targeted))
	}
	for _, tn := range targeted {
		notif := tn.Notification.(*Notification)
		if notif.EncryptedPayload != "" {
			tt.Error("old client should get plaintext")
		}
		if notif.MessageInfos == "" {
			tt.Error("fitting plaintext payload should embed message infos")
		}
		// The gateway collapses for clients that cannot decrypt.
		if notif.Headers.CollapseID != "collapse-1" {
			tt.Errorf("header collapse ID = %q", notif.Headers.CollapseID)
		}
		if notif.CollapseID != "" {
			tt.Errorf("inline collapse ID = %q, want empty", notif.CollapseID)
		}
		if tn.EncryptionOrder != 0 {
			tt.Error("plaintext notification must not carry an encryption order")
		}
	}
}

func TestVisualEncryptedForNewClients(tt *testing.T) {
	pd := t.PlatformDetails{Platform: t.PlatformIOS, CodeVersion: 300}
	in := visualInput(pd, "collapse-1", "hello")

	targeted := CreateVisualNotification(context.Background(), newFakeEncrypt(), nil, in, twoDevices())
	if len(targeted) != 2 {
		tt.Fatalf("targeted = %d, want 2", len(targeted))
	}
	for _, tn := range targeted {
		notif := tn.Notification.(*Notification)
		if notif.EncryptedPayload == "" {
			tt.Fatal("capable client should get an encrypted payload")
		}
		if notif.Headers.CollapseID != "" {
			tt.Error("collapse ID must not leak into the headers on the encrypted path")
		}
		if notif.Body != "" || notif.MessageInfos != "" {
			tt.Error("plaintext fields must not survive on the encrypted envelope")
		}
		if notif.KeyserverID != "ks1" {
			tt.Errorf("sender descriptor = %q", notif.KeyserverID)
		}
		if tn.EncryptionOrder == 0 {
			tt.Error("encrypted notification must carry its order")
		}
		if tn.EncryptedPayloadHash == "" {
			tt.Error("encrypted notification must carry the payload hash")
		}
	}
}

func TestVisualEnvelopePlaceholderAlert(tt *testing.T) {
	even := t.PlatformDetails{Platform: t.PlatformIOS, CodeVersion: 300}
	odd := t.PlatformDetails{Platform: t.PlatformIOS, CodeVersion: 301}

	evenAPS := envelopeAPS(even)
	if alert, ok := evenAPS.Alert.(Alert); !ok || alert.Body != "ENCRYPTED" {
		tt.Errorf("even build envelope alert = %+v", evenAPS.Alert)
	}
	oddAPS := envelopeAPS(odd)
	if oddAPS.Alert != nil {
		tt.Errorf("odd build envelope alert = %+v, want none", oddAPS.Alert)
	}
	if evenAPS.MutableContent != 1 || oddAPS.MutableContent != 1 {
		tt.Error("envelope must always be mutable")
	}
}

func TestVisualOversizedSharesOneBlobUpload(tt *testing.T) {
	pd := t.PlatformDetails{Platform: t.PlatformIOS, CodeVersion: 340}
	in := visualInput(pd, "", "hello")
	// The serialized messages, not the rendered texts, blow the ceiling.
	in.Messages[0].Text = strings.Repeat("x", 2*MaxNotificationPayloadByteSize)

	blob := &fakeBlob{}
	targeted := CreateVisualNotification(context.Background(), newFakeEncrypt(), blob, in, twoDevices())
	if blob.calls != 1 {
		tt.Errorf("blob uploads = %d, want exactly 1 for the bucket", blob.calls)
	}
	if len(targeted) != 2 {
		tt.Fatalf("targeted = %d, want 2", len(targeted))
	}
	seen := make(map[string]bool)
	for _, tn := range targeted {
		notif := tn.Notification.(*Notification)
		if notif.EncryptedPayload == "" {
			tt.Fatal("pointer payload should still be encrypted")
		}
		if !notif.fits() {
			tt.Error("pointer payload should fit the ceiling")
		}
		// Each device consumed two orders: one for the oversized
		// attempt, one for the pointer payload.
		if tn.EncryptionOrder != 2 {
			tt.Errorf("encryption order = %d, want 2", tn.EncryptionOrder)
		}
		if seen[tn.DeliveryID] {
			tt.Errorf("duplicate notification for device %q", tn.DeliveryID)
		}
		seen[tn.DeliveryID] = true
	}
}

func TestVisualOversizedBelowBlobFloorDegrades(tt *testing.T) {
	// Can decrypt but cannot query the blob service.
	pd := t.PlatformDetails{Platform: t.PlatformIOS, CodeVersion: 300}
	in := visualInput(pd, "", "hello")
	in.Messages[0].Text = strings.Repeat("x", 2*MaxNotificationPayloadByteSize)

	blob := &fakeBlob{}
	targeted := CreateVisualNotification(context.Background(), newFakeEncrypt(), blob, in, twoDevices())
	if blob.calls != 0 {
		tt.Errorf("blob uploads = %d, want 0 below the query floor", blob.calls)
	}
	if len(targeted) != 2 {
		tt.Fatalf("targeted = %d, want one content-less payload per device", len(targeted))
	}
}

func TestVisualBlobFailureNeverDropsDevices(tt *testing.T) {
	pd := t.PlatformDetails{Platform: t.PlatformIOS, CodeVersion: 340}
	in := visualInput(pd, "", "hello")
	in.Messages[0].Text = strings.Repeat("x", 2*MaxNotificationPayloadByteSize)

	blob := &fakeBlob{fail: true}
	targeted := CreateVisualNotification(context.Background(), newFakeEncrypt(), blob, in, twoDevices())
	if len(targeted) != 2 {
		tt.Fatalf("targeted = %d, want one per device despite upload failure", len(targeted))
	}
	for _, tn := range targeted {
		notif := tn.Notification.(*Notification)
		if notif.EncryptedPayload == "" {
			tt.Error("degraded payload should still be encrypted")
		}
	}
}

func TestVisualMacOSHasNoAlertBody(tt *testing.T) {
	pd := t.PlatformDetails{Platform: t.PlatformMacOS, CodeVersion: 40, MajorDesktopVersion: 8}
	in := visualInput(pd, "", "hello")

	targeted := CreateVisualNotification(context.Background(), newFakeEncrypt(), nil, in, twoDevices())
	if len(targeted) != 2 {
		tt.Fatalf("targeted = %d, want 2", len(targeted))
	}
	notif := targeted[0].Notification.(*Notification)
	if notif.APS == nil || notif.APS.Alert != nil {
		tt.Error("macOS renders the notification itself; the aps alert must stay empty")
	}
	if notif.Headers.Topic != macosNotifTopic {
		tt.Errorf("topic = %q, want %q", notif.Headers.Topic, macosNotifTopic)
	}
}

func TestRescindBackgroundForOldClients(tt *testing.T) {
	badge := 3
	pd := t.PlatformDetails{Platform: t.PlatformIOS, CodeVersion: 190}
	targeted := CreateRescindNotification(context.Background(), newFakeEncrypt(), &RescindInput{
		RescindID: "r1", Badge: &badge, ThreadID: "th1", Platform: pd,
	}, twoDevices())

	notif := targeted[0].Notification.(*Notification)
	if notif.Headers.PushType != "background" || notif.Headers.Priority != "5" {
		tt.Errorf("headers = %+v, want background priority 5", notif.Headers)
	}
	if notif.EncryptedPayload != "" {
		tt.Error("old client rescind should be plaintext")
	}
	if notif.NotificationID != "r1" || notif.BackgroundNotifType != "CLEAR" || !notif.SetUnreadStatus {
		tt.Errorf("rescind fields = %+v", notif)
	}
}

func TestRescindEncryptedForNewClients(tt *testing.T) {
	badge := 3
	pd := t.PlatformDetails{Platform: t.PlatformIOS, CodeVersion: 240}
	targeted := CreateRescindNotification(context.Background(), newFakeEncrypt(), &RescindInput{
		RescindID: "r1", Badge: &badge, ThreadID: "th1", Platform: pd,
	}, twoDevices())

	notif := targeted[0].Notification.(*Notification)
	if notif.EncryptedPayload == "" {
		tt.Error("capable client rescind should be encrypted")
	}
	if notif.NotificationID != "" {
		tt.Error("rescind ID must not survive outside the encrypted payload")
	}
}

func TestBadgeOnlyGating(tt *testing.T) {
	badge := 7
	old := t.PlatformDetails{Platform: t.PlatformIOS, CodeVersion: 200}
	targeted := CreateBadgeOnlyNotification(context.Background(), newFakeEncrypt(), &BadgeOnlyInput{
		Badge: &badge, Platform: old,
	}, twoDevices())
	notif := targeted[0].Notification.(*Notification)
	if notif.EncryptedPayload != "" {
		tt.Error("old client badge update should be plaintext")
	}
	if notif.APS == nil || notif.APS.Badge == nil || *notif.APS.Badge != 7 {
		tt.Errorf("aps badge = %+v", notif.APS)
	}

	capable := t.PlatformDetails{Platform: t.PlatformIOS, CodeVersion: 240}
	targeted = CreateBadgeOnlyNotification(context.Background(), newFakeEncrypt(), &BadgeOnlyInput{
		Badge: &badge, ThreadID: "th1", Platform: capable,
	}, twoDevices())
	notif = targeted[0].Notification.(*Notification)
	if notif.EncryptedPayload == "" {
		tt.Error("capable client badge update should be encrypted")
	}
}

type fakeBlob struct {
	calls int
	fail  bool
}

func (fb *fakeBlob) UploadLargeNotifPayload(_ context.Context, _ []byte, holderCount int) (*push.BlobDescriptor, error) {
	fb.calls++
	if fb.fail {
		return nil, context.DeadlineExceeded
	}
	holders := make([]string, holderCount)
	for i := range holders {
		holders[i] = "holder-" + strings.Repeat("x", i+1)
	}
	return &push.BlobDescriptor{Hash: "hash", EncryptionKey: "key", Holders: holders}, nil
}
