package mqttsink

import "testing"

func TestSanitizeComponent_ReplacesStructuralCharacters(t *testing.T) {
	cases := map[string]string{
		"KOUN":        "KOUN",
		"a/b":         "a_b",
		"a+b":         "a_b",
		"a#b":         "a_b",
		"hello world": "hello_world",
		"multi  space": "multi_space",
	}
	for in, want := range cases {
		if got := sanitizeComponent(in); got != want {
			t.Errorf("sanitizeComponent(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestBuildTopic_DefaultTemplate(t *testing.T) {
	got := buildTopic("nwws", "KOUN", "TORTOP", "10313.6")
	want := "nwws/KOUN/TORTOP/10313.6"
	if got != want {
		t.Errorf("buildTopic() = %q, want %q", got, want)
	}
}

func TestBuildTopic_SanitizesEachComponent(t *testing.T) {
	got := buildTopic("nwws", "K/OUN", "TOR+TOP", "10313.6")
	want := "nwws/K_OUN/TOR_TOP/10313.6"
	if got != want {
		t.Errorf("buildTopic() = %q, want %q", got, want)
	}
}

func TestBuildTopic_NeverLeadingOrTrailingSlash(t *testing.T) {
	got := buildTopic("", "KOUN", "", "10313.6")
	if len(got) == 0 {
		t.Fatal("expected non-empty topic")
	}
	if got[0] == '/' || got[len(got)-1] == '/' {
		t.Errorf("buildTopic() = %q, has leading/trailing slash", got)
	}
}
