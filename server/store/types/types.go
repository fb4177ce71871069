// Package types declares the data model shared by the push preparation
// pipeline: messages, threads, memberships and registered devices.
// Everything here is read-only from the pipeline's point of view; records
// are created by the chat backend and arrive as part of a pass request.
package types

import (
	"encoding/json"
	"errors"
	"strconv"
	"strings"
)

// Platform identifies the delivery gateway family a device talks to.
type Platform string

const (
	PlatformIOS     Platform = "ios"
	PlatformAndroid Platform = "android"
	PlatformWeb     Platform = "web"
	PlatformWindows Platform = "windows"
	PlatformMacOS   Platform = "macos"
)

// PlatformDetails describes the client build a device runs.
type PlatformDetails struct {
	Platform            Platform `json:"platform"`
	CodeVersion         int      `json:"codeVersion,omitempty"`
	StateVersion        int      `json:"stateVersion,omitempty"`
	MajorDesktopVersion int      `json:"majorDesktopVersion,omitempty"`
}

// VersionKey buckets devices that share identical payload-shaping behavior
// so shaping work is done once per bucket instead of once per device.
func (pd PlatformDetails) VersionKey() string {
	code := pd.CodeVersion
	if code == 0 {
		code = -1
	}
	state := pd.StateVersion
	if state == 0 {
		state = -1
	}
	desktop := pd.MajorDesktopVersion
	if desktop == 0 {
		desktop = -1
	}
	return strconv.Itoa(code) + "|" + strconv.Itoa(state) + "|" + strconv.Itoa(desktop)
}

// ErrMalformedVersionKey is returned when a version key string does not
// have the code|state|desktop shape produced by PlatformDetails.VersionKey.
var ErrMalformedVersionKey = errors.New("malformed version key")

// ParseVersionKey is the inverse of PlatformDetails.VersionKey.
func ParseVersionKey(platform Platform, key string) (PlatformDetails, error) {
	parts := strings.Split(key, "|")
	if len(parts) != 3 {
		return PlatformDetails{}, ErrMalformedVersionKey
	}
	nums := make([]int, 3)
	for i, part := range parts {
		num, err := strconv.Atoi(part)
		if err != nil {
			return PlatformDetails{}, ErrMalformedVersionKey
		}
		nums[i] = num
	}
	pd := PlatformDetails{Platform: platform}
	if nums[0] > 0 {
		pd.CodeVersion = nums[0]
	}
	if nums[1] > 0 {
		pd.StateVersion = nums[1]
	}
	if nums[2] > 0 {
		pd.MajorDesktopVersion = nums[2]
	}
	return pd, nil
}

// DeviceDef is a registered device of a recipient user.
type DeviceDef struct {
	// Identifies the end-to-end encryption session with this device.
	CryptoID string `json:"cryptoID"`
	// Identifies the gateway routing address. May equal CryptoID.
	DeliveryID string `json:"deliveryID"`
	// Client build information used for capability gating.
	PlatformDetails PlatformDetails `json:"platformDetails"`
}

// MessageKind enumerates the message types the resolver knows about.
// Kinds added by future backend versions deserialize to a value outside
// this set and must be treated as KindUnknown by consumers.
type MessageKind int

const (
	KindText MessageKind = iota
	KindCreateThread
	KindAddMembers
	KindCreateSubthread
	KindChangeSettings
	KindRemoveMembers
	KindChangeRole
	KindLeaveThread
	KindJoinThread
	KindCreateSidebar
	KindReaction
	KindEditMessage
	KindCompoundReaction

	// KindUnknown is never produced by the backend; it is the value
	// consumers should map unrecognized kinds to.
	KindUnknown MessageKind = -1
)

// Known reports whether the kind is part of the closed set above.
func (k MessageKind) Known() bool {
	return k >= KindText && k <= KindCompoundReaction
}

func (k MessageKind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindCreateThread:
		return "createThread"
	case KindAddMembers:
		return "addMembers"
	case KindCreateSubthread:
		return "createSubthread"
	case KindChangeSettings:
		return "changeSettings"
	case KindRemoveMembers:
		return "removeMembers"
	case KindChangeRole:
		return "changeRole"
	case KindLeaveThread:
		return "leaveThread"
	case KindJoinThread:
		return "joinThread"
	case KindCreateSidebar:
		return "createSidebar"
	case KindReaction:
		return "reaction"
	case KindEditMessage:
		return "editMessage"
	case KindCompoundReaction:
		return "compoundReaction"
	}
	return "unknown"
}

// ReactionOp says whether a reaction message adds or removes a reaction.
type ReactionOp string

const (
	ReactionAdd    ReactionOp = "add"
	ReactionRemove ReactionOp = "remove"
)

// Message is a single chat message as delivered in a pass request. The
// same JSON encoding is embedded verbatim into visual notification
// payloads so capable clients can render offline.
type Message struct {
	ID        string      `json:"id"`
	ThreadID  string      `json:"threadID"`
	CreatorID string      `json:"creatorID"`
	Kind      MessageKind `json:"type"`
	Time      int64       `json:"time"`

	// Text body for KindText and the replacement body for KindEditMessage.
	Text string `json:"text,omitempty"`

	// Target of a reaction or edit.
	TargetMessageID string `json:"targetMessageID,omitempty"`

	// KindReaction fields.
	Reaction   string     `json:"reaction,omitempty"`
	ReactionOp ReactionOp `json:"action,omitempty"`

	// KindCompoundReaction: per-emoji counts.
	Reactions map[string]int `json:"reactions,omitempty"`

	// Affected user IDs for member-change kinds.
	Members []string `json:"members,omitempty"`

	// New name for settings changes, sidebars and created threads.
	Name string `json:"name,omitempty"`
}

// NotificationCollapseKey returns the gateway collapse identifier for
// kinds whose notifications replace one another, or "" when each message
// stands on its own. A reaction add and its matching remove produce the
// same key so the OS can withdraw the earlier notification.
func (m *Message) NotificationCollapseKey() string {
	switch m.Kind {
	case KindReaction, KindCompoundReaction, KindEditMessage:
		return joinCollapseResult(strconv.Itoa(int(m.Kind)), m.ThreadID, m.CreatorID, m.TargetMessageID)
	case KindChangeSettings:
		return joinCollapseResult(strconv.Itoa(int(m.Kind)), m.ThreadID, m.Name)
	}
	return ""
}

// ThreadCollapseKey is the thread-scoped collapse token used when several
// messages in one thread merge into a single visual notification.
func ThreadCollapseKey(threadID string) string {
	return joinCollapseResult("thread", threadID)
}

func joinCollapseResult(parts ...string) string {
	return strings.Join(parts, "|")
}

// Member is one user's membership in a thread.
type Member struct {
	UserID string `json:"userID"`
	// Active is false once the user left or was removed.
	Active bool `json:"active"`
	// Visible is the thread-visibility permission bit.
	Visible bool `json:"visible"`
}

// Thread is the snapshot of a chat thread relevant to one pass.
type Thread struct {
	ID      string   `json:"id"`
	Name    string   `json:"name,omitempty"`
	Members []Member `json:"members"`
}

// ThreadSnapshot maps thread IDs to their pass-time snapshots.
type ThreadSnapshot map[string]*Thread

// DeviceRegistry maps user IDs to their registered devices.
type DeviceRegistry map[string][]DeviceDef

// UnmarshalJSON maps unrecognized numeric kinds to KindUnknown instead of
// failing, so message-type additions never break intake.
func (k *MessageKind) UnmarshalJSON(data []byte) error {
	var num int
	if err := json.Unmarshal(data, &num); err != nil {
		return err
	}
	kind := MessageKind(num)
	if !kind.Known() {
		kind = KindUnknown
	}
	*k = kind
	return nil
}

// MarshalJSON emits the numeric kind; KindUnknown round-trips as -1.
func (k MessageKind) MarshalJSON() ([]byte, error) {
	return json.Marshal(int(k))
}
