package capture

import (
	"bytes"
	"encoding/json"
	"net/url"
	"path/filepath"
	"regexp"
	"strings"
	"text/template"
)

// ChromeSelectors are deck UI elements hidden before capture.
var ChromeSelectors = []string{
	".nav-sidebar",
	".navigation",
	".speech-indicator",
	".subtitle-container",
	".subtitle-controls",
	".theme-selector",
	".slide-counter",
	".control-panel",
	".header",
	".footer",
	".sidebar",
}

var overlayTmpl = template.Must(template.New("overlay").Parse(`
<style id="deckcast-capture">
{{.Hidden}} { display: none !important; }
html, body { overflow: hidden !important; }
</style>
<script id="deckcast-capture-script">
(function () {
  window.alert = function () {};
  window.confirm = function () { return true; };
  window.prompt = function () { return null; };
  window.onbeforeunload = null;

  function focusSlide() {
    var target = document.querySelectorAll({{.Selector}})[{{.Element}}];
    if (!target) { return; }
    var slide = (target.closest && target.closest('.slide')) || target;
    var slides = Array.prototype.slice.call(document.querySelectorAll('.slide'));
    var pos = slides.indexOf(slide);
    if (pos >= 0 && typeof window.showSlide === 'function') {
      try { window.showSlide(pos); } catch (e) {}
    }
    slides.forEach(function (s) {
      if (s !== slide) {
        s.classList.remove('active');
        s.style.setProperty('display', 'none', 'important');
      }
    });
    slide.classList.add('active');
    slide.style.removeProperty('display');
    slide.style.setProperty('visibility', 'visible', 'important');
    slide.style.setProperty('opacity', '1', 'important');
    window.scrollTo(0, 0);
  }

  focusSlide();
  document.addEventListener('DOMContentLoaded', focusSlide);
  window.addEventListener('load', function () { setTimeout(focusSlide, {{.SettleMillis}}); });
})();
</script>
`))

var (
	bodyClose = regexp.MustCompile(`(?i)</body\s*>`)
	headOpen  = regexp.MustCompile(`(?i)<head(\s[^>]*)?>`)
	hasBase   = regexp.MustCompile(`(?i)<base\s`)
)

type overlayData struct {
	Hidden       string
	Selector     string
	Element      int
	SettleMillis int64
}

// Derive returns the deck with the capture overlay injected before the last
// </body> and a <base> pointing at baseDir so relative assets still load.
func Derive(src []byte, baseDir, selector string, element int, settleMillis int64) ([]byte, error) {
	sel, err := json.Marshal(selector)
	if err != nil {
		return nil, err
	}

	var overlay bytes.Buffer
	if err := overlayTmpl.Execute(&overlay, overlayData{
		Hidden:       strings.Join(ChromeSelectors, ",\n"),
		Selector:     string(sel),
		Element:      element,
		SettleMillis: settleMillis,
	}); err != nil {
		return nil, err
	}

	out := make([]byte, 0, len(src)+overlay.Len()+128)
	doc := src

	if baseDir != "" && !hasBase.Match(doc) {
		base := []byte(`<base href="` + dirURL(baseDir) + `">`)
		if loc := headOpen.FindIndex(doc); loc != nil {
			out = append(out, doc[:loc[1]]...)
			out = append(out, base...)
			doc = doc[loc[1]:]
		} else {
			out = append(out, base...)
		}
	}

	locs := bodyClose.FindAllIndex(doc, -1)
	if len(locs) == 0 {
		out = append(out, doc...)
		return append(out, overlay.Bytes()...), nil
	}
	last := locs[len(locs)-1]
	out = append(out, doc[:last[0]]...)
	out = append(out, overlay.Bytes()...)
	return append(out, doc[last[0]:]...), nil
}

func dirURL(dir string) string {
	abs, err := filepath.Abs(dir)
	if err != nil {
		abs = dir
	}
	p := filepath.ToSlash(abs)
	if !strings.HasSuffix(p, "/") {
		p += "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return (&url.URL{Scheme: "file", Path: p}).String()
}

func fileURL(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	p := filepath.ToSlash(abs)
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return (&url.URL{Scheme: "file", Path: p}).String()
}
