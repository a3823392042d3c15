package textutil

import "testing"

func TestSlug(t *testing.T) {
	tests := []struct {
		in   string
		max  int
		want string
	}{
		{"The Fox Learns to Fly", 0, "the-fox-learns-to-fly"},
		{"  Mixed_CASE.title  ", 0, "mixed-case-title"},
		{"!!!", 0, ""},
		{"a very long story title indeed", 10, "a-very-lon"},
		{"trailing---", 0, "trailing"},
	}
	for _, tc := range tests {
		if got := Slug(tc.in, tc.max); got != tc.want {
			t.Errorf("Slug(%q, %d) = %q, want %q", tc.in, tc.max, got, tc.want)
		}
	}
}

func TestTitleFromIdea(t *testing.T) {
	tests := []struct {
		in   string
		max  int
		want string
	}{
		{"a fox learns to fly over the city", 5, "A Fox Learns To Fly"},
		{"robot_dreams.of_electric-sheep", 4, "Robot Dreams Of Electric"},
		{"", 5, ""},
		{"?!?", 5, ""},
	}
	for _, tc := range tests {
		if got := TitleFromIdea(tc.in, tc.max); got != tc.want {
			t.Errorf("TitleFromIdea(%q, %d) = %q, want %q", tc.in, tc.max, got, tc.want)
		}
	}
}

func TestSanitizeFileName(t *testing.T) {
	if got := SanitizeFileName(`a/b\c:d*e?f"g<h>i|j`); got != "a-b-c-d-efghij" {
		t.Errorf("SanitizeFileName = %q", got)
	}
	if got := SanitizeFileName("   "); got != "" {
		t.Errorf("expected empty result, got %q", got)
	}
}
