package capture

import (
	"strings"

	"github.com/mssola/useragent"

	"github.com/osvaldoandrade/captureq/internal/ssrf"
	"github.com/osvaldoandrade/captureq/pkg/domain"
)

// longer patterns first: at equal positions the earlier pair wins
var refanger = strings.NewReplacer(
	"[://]", "://",
	"[:]", ":",
	"[.]", ".",
	"(.)", ".",
	"{.}", ".",
	"[dot]", ".",
)

// Normalize turns a submitted URL into the one handed to the browser:
// whitespace trimmed, defanged notation undone, a known scheme lower-cased,
// and http:// added when the scheme is not one of data, file, http or https.
func Normalize(raw string) string {
	u := refanger.Replace(strings.TrimSpace(raw))
	if len(u) >= 4 {
		switch strings.ToLower(u[:4]) {
		case "hxxp", "meow":
			u = "http" + u[4:]
		}
	}
	switch scheme := ssrf.Scheme(u); scheme {
	case "http", "https", "data", "file":
		return scheme + u[len(scheme):]
	}
	return "http://" + u
}

// EngineFor picks the engine matching a user agent. Anything that is not
// recognisably Chrome-like or Firefox falls back to webkit.
func EngineFor(ua string) domain.Engine {
	name, _ := useragent.New(ua).Browser()
	name = strings.ToLower(name)
	switch {
	case name == "":
		return domain.EngineWebKit
	case strings.HasPrefix(name, "chrom"):
		return domain.EngineChromium
	case strings.HasPrefix(name, "firefox"):
		return domain.EngineFirefox
	}
	return domain.EngineWebKit
}
