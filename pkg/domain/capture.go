package domain

import (
	"encoding"
	"time"
)

// Engine is the browser engine a capture session runs on.
type Engine string

const (
	EngineChromium Engine = "chromium"
	EngineFirefox  Engine = "firefox"
	EngineWebKit   Engine = "webkit"
)

var (
	_ encoding.BinaryMarshaler = Engine("")
	_ encoding.TextMarshaler   = Engine("")
)

func (e Engine) MarshalBinary() ([]byte, error) { return []byte(string(e)), nil }
func (e Engine) MarshalText() ([]byte, error)   { return []byte(string(e)), nil }

type Viewport struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// CaptureJob is the typed form of one pending capture record.
// Exactly one of URL or Document is set.
type CaptureJob struct {
	UUID string `json:"uuid"`

	URL          string `json:"url,omitempty"`
	Document     []byte `json:"-"`
	DocumentName string `json:"documentName,omitempty"`

	Listing bool   `json:"listing"`
	Parent  string `json:"parent,omitempty"`

	UserAgent     string            `json:"userAgent,omitempty"`
	Referer       string            `json:"referer,omitempty"`
	Headers       map[string]string `json:"headers,omitempty"`
	Cookies       []byte            `json:"-"`
	Proxy         string            `json:"proxy,omitempty"`
	OS            string            `json:"os,omitempty"`
	Browser       string            `json:"browser,omitempty"`
	BrowserEngine Engine            `json:"browserEngine,omitempty"`
	DeviceName    string            `json:"deviceName,omitempty"`
	Viewport      *Viewport         `json:"viewport,omitempty"`

	// W3C trace context written by the producer, if any.
	TraceParent string `json:"traceParent,omitempty"`
	TraceState  string `json:"traceState,omitempty"`
}

func (j *CaptureJob) HasDocument() bool { return len(j.Document) > 0 }

// Target is what ends up in logs and error entries: the URL, or the document name.
func (j *CaptureJob) Target() string {
	if j.HasDocument() {
		return j.DocumentName
	}
	return j.URL
}

// Claim is what the consumer holds between claim and cleanup.
type Claim struct {
	UUID string
	// Bucket is the named queue the job was charged against; empty when the
	// producer did not record one or it was already consumed.
	Bucket    string
	ClaimedAt time.Time
}
