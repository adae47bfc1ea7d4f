package chromium

import (
	"encoding/json"

	"github.com/chromedp/cdproto/network"

	"github.com/osvaldoandrade/captureq/internal/backend"
)

func marshalCookies(in []*network.Cookie) (json.RawMessage, error) {
	out := make([]backend.Cookie, 0, len(in))
	for _, c := range in {
		out = append(out, backend.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  c.Expires,
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
			SameSite: string(c.SameSite),
		})
	}
	return json.Marshal(out)
}
