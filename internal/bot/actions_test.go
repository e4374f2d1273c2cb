package bot

import "testing"

func TestDecodeAction(t *testing.T) {
	cases := []struct {
		data string
		ok   bool
		want Action
	}{
		{"dialog:new", true, Action{Kind: ActionNewDialog}},
		{"dialog:history", true, Action{Kind: ActionShowHistory}},
		{"mode:concise", true, Action{Kind: ActionSetMode, Mode: "concise"}},
		{"dialog:switch:01ABCDEF", true, Action{Kind: ActionSwitchDialog, DialogID: "01ABCDEF"}},
		{" dialog:new ", true, Action{Kind: ActionNewDialog}},
		{"mode:", false, Action{}},
		{"mode:a:b", false, Action{}},
		{"dialog:switch:", false, Action{}},
		{"dialog:switch:a:b", false, Action{}},
		{"dialog:unknown", false, Action{}},
		{"", false, Action{}},
		{"garbage", false, Action{}},
	}

	for _, tc := range cases {
		got, ok := DecodeAction(tc.data)
		if ok != tc.ok {
			t.Fatalf("DecodeAction(%q): ok=%v want %v", tc.data, ok, tc.ok)
		}
		if got != tc.want {
			t.Fatalf("DecodeAction(%q): got %#v want %#v", tc.data, got, tc.want)
		}
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	a, ok := DecodeAction(EncodeSwitchDialog("01HXYZ"))
	if !ok || a.Kind != ActionSwitchDialog || a.DialogID != "01HXYZ" {
		t.Fatalf("switch round trip failed: %#v", a)
	}
	a, ok = DecodeAction(EncodeSetMode("detailed"))
	if !ok || a.Kind != ActionSetMode || a.Mode != "detailed" {
		t.Fatalf("mode round trip failed: %#v", a)
	}
}
