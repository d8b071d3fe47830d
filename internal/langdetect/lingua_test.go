package langdetect

import (
	"reflect"
	"testing"
)

func TestDetectISO6391(t *testing.T) {
	t.Parallel()

	if got := DetectISO6391("Police confirmed that several drones were seen above the airport last night."); got != "en" {
		t.Fatalf("expected english, got %q", got)
	}
	if got := DetectISO6391("Poliisin mukaan lentoaseman yllä havaittiin useita drooneja viime yönä."); got != "fi" {
		t.Fatalf("expected finnish, got %q", got)
	}
	if got := DetectISO6391("ok 42"); got != "" {
		t.Fatalf("expected short input to stay undetected, got %q", got)
	}
}

func TestNormalizeCode(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		" DA ":  "da",
		"nb_NO": "nb",
		"no":    "nb",
		"sv-SE": "sv",
		"e1":    "",
		"":      "",
	}
	for input, want := range cases {
		if got := NormalizeCode(input); got != want {
			t.Fatalf("NormalizeCode(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestFamily(t *testing.T) {
	t.Parallel()

	if got := Family("nn"); !reflect.DeepEqual(got, []string{"nn", "da", "nb"}) {
		t.Fatalf("unexpected scandinavian family %v", got)
	}
	if got := Family("sv"); !reflect.DeepEqual(got, []string{"sv"}) {
		t.Fatalf("unexpected family for swedish %v", got)
	}
	if Family("") != nil {
		t.Fatalf("expected nil family for empty code")
	}
}
