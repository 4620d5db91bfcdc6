package capture

import (
	"bytes"
	"strings"
	"testing"
)

func TestDeriveInjectsBeforeLastBodyClose(t *testing.T) {
	src := []byte(`<html><head><title>x</title></head><body><p>&lt;/body&gt;</p><div data-speech="a"></div></BODY></html>`)

	out, err := Derive(src, "/decks/demo", "[data-speech]", 0, 1500)
	if err != nil {
		t.Fatalf("Derive() error = %v", err)
	}
	s := string(out)

	overlay := strings.Index(s, `id="deckcast-capture"`)
	closeTag := strings.LastIndex(s, "</BODY>")
	if overlay < 0 || closeTag < 0 || overlay > closeTag {
		t.Fatalf("overlay at %d, </BODY> at %d", overlay, closeTag)
	}
	if !strings.Contains(s, `<head><base href="file:///decks/demo/">`) {
		t.Errorf("base href missing or misplaced:\n%s", s)
	}
	for _, sel := range ChromeSelectors {
		if !strings.Contains(s, sel) {
			t.Errorf("selector %s not hidden", sel)
		}
	}
	if !strings.Contains(s, `document.querySelectorAll("[data-speech]")[0]`) {
		t.Error("slide focus script missing")
	}
	if !strings.Contains(s, "window.confirm = function") {
		t.Error("dialog overrides missing")
	}
}

func TestDeriveWithoutBody(t *testing.T) {
	src := []byte(`<div data-speech="a">x</div>`)

	out, err := Derive(src, "", ".slide", 3, 0)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(out, src) {
		t.Error("original content not preserved at the start")
	}
	if !bytes.Contains(out, []byte(`document.querySelectorAll(".slide")[3]`)) {
		t.Errorf("overlay not appended:\n%s", out)
	}
	if bytes.Contains(out, []byte("<base")) {
		t.Error("base injected without a base dir")
	}
}

func TestDeriveKeepsExistingBase(t *testing.T) {
	src := []byte(`<html><head><base href="https://cdn.example/"></head><body></body></html>`)

	out, err := Derive(src, "/decks", "[data-speech]", 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Count(out, []byte("<base")) != 1 {
		t.Errorf("expected the deck's own base only:\n%s", out)
	}
}

func TestDeriveQuotesSelector(t *testing.T) {
	out, err := Derive([]byte("<body></body>"), "", `[data-x="a'b"]`, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Contains(out, []byte(`document.querySelectorAll("[data-x=\"a'b\"]")`)) {
		t.Errorf("selector not quoted as a JS string:\n%s", out)
	}
}
