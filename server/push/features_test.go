package push

import (
	"testing"

	t "github.com/ferrychat/ferry/server/store/types"
)

func TestSupports(tt *testing.T) {
	cases := []struct {
		name    string
		pd      t.PlatformDetails
		feature Feature
		want    bool
	}{
		{"ios at decrypt-all floor", t.PlatformDetails{Platform: t.PlatformIOS, CodeVersion: 267}, FeatureDecryptAllNotifTypes, true},
		{"ios below decrypt-all floor", t.PlatformDetails{Platform: t.PlatformIOS, CodeVersion: 266}, FeatureDecryptAllNotifTypes, false},
		{"android text floor", t.PlatformDetails{Platform: t.PlatformAndroid, CodeVersion: 228}, FeatureDecryptNonCollapsibleText, true},
		{"android below text floor", t.PlatformDetails{Platform: t.PlatformAndroid, CodeVersion: 227}, FeatureDecryptNonCollapsibleText, false},
		{"ios blob queries", t.PlatformDetails{Platform: t.PlatformIOS, CodeVersion: 331}, FeatureBlobServiceQueries, true},
		{"ios below blob floor", t.PlatformDetails{Platform: t.PlatformIOS, CodeVersion: 330}, FeatureBlobServiceQueries, false},
		{"macos both tracks clear", t.PlatformDetails{Platform: t.PlatformMacOS, CodeVersion: 47, MajorDesktopVersion: 9}, FeatureDecryptAllNotifTypes, true},
		{"macos web track too old", t.PlatformDetails{Platform: t.PlatformMacOS, CodeVersion: 46, MajorDesktopVersion: 9}, FeatureDecryptAllNotifTypes, false},
		{"macos shell track too old", t.PlatformDetails{Platform: t.PlatformMacOS, CodeVersion: 47, MajorDesktopVersion: 8}, FeatureDecryptAllNotifTypes, false},
		{"web encrypted floor", t.PlatformDetails{Platform: t.PlatformWeb, CodeVersion: 43}, FeatureEncryptedWebNotifs, true},
		{"web below encrypted floor", t.PlatformDetails{Platform: t.PlatformWeb, CodeVersion: 42}, FeatureEncryptedWebNotifs, false},
		{"windows encrypted floor", t.PlatformDetails{Platform: t.PlatformWindows, MajorDesktopVersion: 10}, FeatureEncryptedWNSNotifs, true},
		{"windows below encrypted floor", t.PlatformDetails{Platform: t.PlatformWindows, MajorDesktopVersion: 9}, FeatureEncryptedWNSNotifs, false},
		{"feature not gated on platform", t.PlatformDetails{Platform: t.PlatformWeb, CodeVersion: 999}, FeatureDecryptAllNotifTypes, false},
		{"mutable content ios", t.PlatformDetails{Platform: t.PlatformIOS, CodeVersion: 198}, FeatureMutableContent, true},
		{"encrypted rescinds android", t.PlatformDetails{Platform: t.PlatformAndroid, CodeVersion: 233}, FeatureEncryptedRescinds, true},
		{"encrypted badge-only ios", t.PlatformDetails{Platform: t.PlatformIOS, CodeVersion: 222}, FeatureEncryptedBadgeOnly, true},
	}
	for _, tc := range cases {
		if got := Supports(tc.pd, tc.feature); got != tc.want {
			tt.Errorf("%s: Supports = %v, want %v", tc.name, got, tc.want)
		}
	}
}
