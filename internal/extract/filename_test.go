package extract

import "testing"

func TestParseFilename(t *testing.T) {
	tests := []struct {
		filename    string
		wantName    string
		wantVersion string
	}{
		{"Instagram v402.0.0.ipa", "Instagram", "402.0.0"},
		{"TikTok_v42_0_1_Unlocked.ipa", "TikTok", "42.0.1"},
		{"App_v9_1_10_Pro.ipa", "App", "9.1.10"},
		{"Notability Plus 15.0.16.ipa", "Notability", "15.0.16"},
		{"Spotify v8.9.76 [tg@uploader].ipa", "Spotify", "8.9.76"},
		{"TikTok LRD v2.18.ipa", "TikTok", "2.18"},
		{"Instagram [tg@uploader].ipa", "Instagram", ""},
		{"YouTube_Premium_Subscription_Unlocked.ipa", "YouTube", ""},
		{"Photoshop_blatantly_cracked.ipa", "Photoshop", ""},
		{"Procreate_Patched_final.ipa", "Procreate", ""},
		{"Some_App_Name.ipa", "Some App Name", ""},
		{"plain.ipa", "plain", ""},
		{"", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			name, version := ParseFilename(tt.filename)
			if name != tt.wantName {
				t.Errorf("ParseFilename(%q) name = %q, want %q", tt.filename, name, tt.wantName)
			}
			if version != tt.wantVersion {
				t.Errorf("ParseFilename(%q) version = %q, want %q", tt.filename, version, tt.wantVersion)
			}
		})
	}
}

func TestCleanName(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bold markdown", "**Instagram**", "Instagram"},
		{"markdown link keeps text", "[Spotify](https://example.com)", "Spotify"},
		{"mod suffix", "YouTube (Premium)", "YouTube"},
		{"subscription suffix", "Notability (Subscription Unlocked)", "Notability"},
		{"emoji stripped", "\U0001F525TikTok\U0001F525", "TikTok"},
		{"doubled first word", "AppAuth AppAuth", "AppAuth"},
		{"doubled word drops trailing text", "Telegram Telegram Extra", "Telegram"},
		{"distinct words untouched", "Google Maps", "Google Maps"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CleanName(tt.in); got != tt.want {
				t.Errorf("CleanName(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestCleanMessage(t *testing.T) {
	in := "**Instagram 402.0.0** get it [here](https://t.me/chan/1)"
	want := "Instagram 402.0.0 get it here"
	if got := CleanMessage(in); got != want {
		t.Errorf("CleanMessage(%q) = %q, want %q", in, got, want)
	}
}
