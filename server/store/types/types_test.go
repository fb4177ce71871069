package types

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestVersionKeyRoundTrip(t *testing.T) {
	cases := []PlatformDetails{
		{Platform: PlatformIOS, CodeVersion: 267, StateVersion: 75},
		{Platform: PlatformAndroid, CodeVersion: 228},
		{Platform: PlatformMacOS, CodeVersion: 47, MajorDesktopVersion: 9},
		{Platform: PlatformWindows, MajorDesktopVersion: 10},
		{Platform: PlatformWeb},
	}
	for _, pd := range cases {
		parsed, err := ParseVersionKey(pd.Platform, pd.VersionKey())
		if err != nil {
			t.Errorf("ParseVersionKey(%q) failed: %v", pd.VersionKey(), err)
			continue
		}
		if diff := cmp.Diff(pd, parsed); diff != "" {
			t.Errorf("version key round trip mismatch (-want +got):\n%s", diff)
		}
	}
}

func TestParseVersionKeyMalformed(t *testing.T) {
	for _, key := range []string{"", "1|2", "a|b|c", "1|2|3|4"} {
		if _, err := ParseVersionKey(PlatformIOS, key); err == nil {
			t.Errorf("ParseVersionKey(%q): expected error", key)
		}
	}
}

func TestMessageKindUnmarshalUnknown(t *testing.T) {
	var msg Message
	if err := json.Unmarshal([]byte(`{"id":"m1","type":99}`), &msg); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if msg.Kind != KindUnknown {
		t.Errorf("kind = %v, want KindUnknown", msg.Kind)
	}
	if msg.Kind.Known() {
		t.Error("KindUnknown must not report as known")
	}
}

func TestNotificationCollapseKey(t *testing.T) {
	add := &Message{
		Kind:            KindReaction,
		ThreadID:        "th1",
		CreatorID:       "alice",
		TargetMessageID: "m7",
		Reaction:        "👍",
		ReactionOp:      ReactionAdd,
	}
	remove := &Message{
		Kind:            KindReaction,
		ThreadID:        "th1",
		CreatorID:       "alice",
		TargetMessageID: "m7",
		Reaction:        "👍",
		ReactionOp:      ReactionRemove,
	}
	if add.NotificationCollapseKey() == "" {
		t.Fatal("reaction collapse key is empty")
	}
	if add.NotificationCollapseKey() != remove.NotificationCollapseKey() {
		t.Error("add and remove of the same reaction should collapse together")
	}

	text := &Message{Kind: KindText, ThreadID: "th1", CreatorID: "alice"}
	if key := text.NotificationCollapseKey(); key != "" {
		t.Errorf("text collapse key = %q, want empty", key)
	}
}
