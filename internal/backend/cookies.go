package backend

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Cookie is a browser cookie in the shape sessions accept.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain,omitempty"`
	Path     string  `json:"path,omitempty"`
	Expires  float64 `json:"expires,omitempty"`
	HTTPOnly bool    `json:"httpOnly,omitempty"`
	Secure   bool    `json:"secure,omitempty"`
	SameSite string  `json:"sameSite,omitempty"`
}

// exported cookie jars come either in the automation format (expires) or in
// the browser-extension export format (expirationDate, hostOnly, session).
type rawCookie struct {
	Name           string   `json:"name"`
	Value          string   `json:"value"`
	Domain         string   `json:"domain"`
	Path           string   `json:"path"`
	Expires        *float64 `json:"expires"`
	ExpirationDate *float64 `json:"expirationDate"`
	HTTPOnly       bool     `json:"httpOnly"`
	Secure         bool     `json:"secure"`
	SameSite       string   `json:"sameSite"`
}

// ParseCookies decodes a stored cookie jar. Entries without a name are dropped.
func ParseCookies(raw []byte) ([]Cookie, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, nil
	}
	var entries []rawCookie
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, InvalidParameters("cookies are not a JSON list: %v", err)
	}
	out := make([]Cookie, 0, len(entries))
	for _, e := range entries {
		if e.Name == "" {
			continue
		}
		c := Cookie{
			Name:     e.Name,
			Value:    e.Value,
			Domain:   e.Domain,
			Path:     e.Path,
			HTTPOnly: e.HTTPOnly,
			Secure:   e.Secure,
			SameSite: normalizeSameSite(e.SameSite),
		}
		if c.Path == "" {
			c.Path = "/"
		}
		switch {
		case e.Expires != nil:
			c.Expires = *e.Expires
		case e.ExpirationDate != nil:
			c.Expires = *e.ExpirationDate
		}
		out = append(out, c)
	}
	return out, nil
}

func normalizeSameSite(s string) string {
	switch strings.ToLower(s) {
	case "strict":
		return "Strict"
	case "lax":
		return "Lax"
	case "none", "no_restriction":
		return "None"
	}
	return ""
}
