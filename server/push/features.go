package push

import (
	t "github.com/ferrychat/ferry/server/store/types"
)

// Feature names a notification capability gated by client build version.
type Feature int

const (
	// FeatureDecryptAllNotifTypes: the client can decrypt every
	// notification type, including collapsible ones.
	FeatureDecryptAllNotifTypes Feature = iota
	// FeatureDecryptNonCollapsibleText: the client can decrypt
	// notifications that carry only non-collapsible text messages.
	FeatureDecryptNonCollapsibleText
	// FeatureBlobServiceQueries: the client can fetch oversized payloads
	// from the blob service with a holder token.
	FeatureBlobServiceQueries
	// FeatureMutableContent: the client runs a notification service
	// extension that may mutate payloads before display.
	FeatureMutableContent
	// FeatureEncryptedRescinds: rescind payloads may be encrypted.
	FeatureEncryptedRescinds
	// FeatureEncryptedBadgeOnly: badge-only payloads may be encrypted.
	FeatureEncryptedBadgeOnly
	// FeatureEncryptedWebNotifs: browser clients decrypt notifications.
	FeatureEncryptedWebNotifs
	// FeatureEncryptedWNSNotifs: the Windows desktop shell decrypts
	// notifications.
	FeatureEncryptedWNSNotifs
)

// versionFloor is the minimum build required on each version track. A
// zero value means the track does not gate the feature; CodeVersion
// applies to native builds, WebVersion to the web app (standalone or
// inside a desktop shell, both reported through CodeVersion), and
// DesktopVersion to the desktop shell itself.
type versionFloor struct {
	CodeVersion    int
	WebVersion     int
	DesktopVersion int
}

// Floors are data, not inline conditionals: one row per (feature,
// platform). A platform absent from a feature's row set never supports
// that feature. These values are part of the compatibility contract with
// shipped clients and must not drift.
var featureFloors = map[Feature]map[t.Platform]versionFloor{
	FeatureDecryptAllNotifTypes: {
		t.PlatformIOS:     {CodeVersion: 267},
		t.PlatformAndroid: {CodeVersion: 267},
		t.PlatformMacOS:   {WebVersion: 47, DesktopVersion: 9},
	},
	FeatureDecryptNonCollapsibleText: {
		t.PlatformIOS:     {CodeVersion: 222},
		t.PlatformAndroid: {CodeVersion: 228},
	},
	FeatureBlobServiceQueries: {
		t.PlatformIOS:     {CodeVersion: 331},
		t.PlatformAndroid: {CodeVersion: 331},
	},
	FeatureMutableContent: {
		t.PlatformIOS:   {CodeVersion: 198},
		t.PlatformMacOS: {WebVersion: 47, DesktopVersion: 9},
	},
	FeatureEncryptedRescinds: {
		t.PlatformIOS:     {CodeVersion: 233},
		t.PlatformAndroid: {CodeVersion: 233},
		t.PlatformMacOS:   {WebVersion: 47, DesktopVersion: 9},
	},
	FeatureEncryptedBadgeOnly: {
		t.PlatformIOS:     {CodeVersion: 222},
		t.PlatformAndroid: {CodeVersion: 222},
		t.PlatformMacOS:   {WebVersion: 47, DesktopVersion: 9},
	},
	FeatureEncryptedWebNotifs: {
		t.PlatformWeb: {WebVersion: 43},
	},
	FeatureEncryptedWNSNotifs: {
		t.PlatformWindows: {DesktopVersion: 10},
	},
}

// Supports reports whether a device build clears every version floor of
// the feature on its platform. Devices below a floor get the feature's
// legacy behavior; in particular, clients too old to decrypt receive
// plaintext payloads. That direction is intentional backward
// compatibility and must be preserved.
func Supports(pd t.PlatformDetails, f Feature) bool {
	fl, ok := featureFloors[f][pd.Platform]
	if !ok {
		return false
	}
	if fl.CodeVersion > 0 && pd.CodeVersion < fl.CodeVersion {
		return false
	}
	if fl.WebVersion > 0 && pd.CodeVersion < fl.WebVersion {
		return false
	}
	if fl.DesktopVersion > 0 && pd.MajorDesktopVersion < fl.DesktopVersion {
		return false
	}
	return true
}
