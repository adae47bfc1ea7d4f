package domain

import "encoding/json"

// Bundle is the in-memory output of one dispatch. Every field is optional.
type Bundle struct {
	HAR               json.RawMessage `json:"har,omitempty"`
	PNG               []byte          `json:"-"`
	HTML              string          `json:"html,omitempty"`
	Cookies           json.RawMessage `json:"cookies,omitempty"`
	LastRedirectedURL string          `json:"lastRedirectedUrl,omitempty"`
	DownloadedFile    []byte          `json:"-"`
	DownloadedName    string          `json:"downloadedFilename,omitempty"`
	Error             string          `json:"error,omitempty"`
}

// Usable reports whether the bundle carries something worth indexing.
func (b *Bundle) Usable() bool {
	if b == nil {
		return false
	}
	return len(b.HAR) > 0 || len(b.DownloadedFile) > 0
}
