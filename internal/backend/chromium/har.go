package chromium

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/chromedp/cdproto/har"
	"github.com/chromedp/cdproto/network"
)

// fixed width so entries sort lexically
const harTimeLayout = "2006-01-02T15:04:05.000Z"

// harRecorder turns network domain events into HAR entries. Response bodies
// are not fetched.
type harRecorder struct {
	mu      sync.Mutex
	pageID  string
	started time.Time
	order   []network.RequestID
	entries map[network.RequestID]*harEntry
}

type harEntry struct {
	entry    *har.Entry
	sentAt   time.Time
	finished bool
}

func newHARRecorder(pageID string) *harRecorder {
	return &harRecorder{pageID: pageID, entries: map[network.RequestID]*harEntry{}}
}

func (r *harRecorder) onEvent(ev any) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch e := ev.(type) {
	case *network.EventRequestWillBeSent:
		if e.Request == nil {
			return
		}
		sentAt := time.Now()
		if e.WallTime != nil {
			sentAt = e.WallTime.Time()
		}
		if r.started.IsZero() {
			r.started = sentAt
		}
		// a redirect reuses the request id; close the previous hop first
		if prev, ok := r.entries[e.RequestID]; ok && e.RedirectResponse != nil {
			prev.entry.Response = harResponse(e.RedirectResponse)
			prev.entry.Response.RedirectURL = e.Request.URL
			prev.finished = true
			hopID := network.RequestID(fmt.Sprintf("%s#%d", e.RequestID, len(r.order)))
			r.entries[hopID] = prev
			r.replaceOrder(e.RequestID, hopID)
		}
		r.entries[e.RequestID] = &harEntry{
			sentAt: sentAt,
			entry: &har.Entry{
				Pageref:         r.pageID,
				StartedDateTime: sentAt.UTC().Format(harTimeLayout),
				Request: &har.Request{
					Method:      e.Request.Method,
					URL:         e.Request.URL,
					HTTPVersion: "HTTP/1.1",
					Headers:     nameValues(e.Request.Headers),
					QueryString: []*har.NameValuePair{},
					Cookies:     []*har.Cookie{},
					HeadersSize: -1,
					BodySize:    -1,
				},
				Cache:   &har.Cache{},
				Timings: &har.Timings{Blocked: -1, DNS: -1, Connect: -1, Send: 0, Wait: 0, Receive: 0, Ssl: -1},
			},
		}
		r.order = append(r.order, e.RequestID)
	case *network.EventResponseReceived:
		if he, ok := r.entries[e.RequestID]; ok && e.Response != nil {
			he.entry.Response = harResponse(e.Response)
			he.entry.ServerIPAddress = e.Response.RemoteIPAddress
			if e.Response.Protocol != "" {
				he.entry.Request.HTTPVersion = e.Response.Protocol
			}
		}
	case *network.EventLoadingFinished:
		if he, ok := r.entries[e.RequestID]; ok {
			he.finished = true
			he.entry.Time = float64(time.Since(he.sentAt).Milliseconds())
			if he.entry.Response != nil && he.entry.Response.Content != nil {
				he.entry.Response.Content.Size = int64(e.EncodedDataLength)
				he.entry.Response.BodySize = int64(e.EncodedDataLength)
			}
		}
	case *network.EventLoadingFailed:
		if he, ok := r.entries[e.RequestID]; ok {
			he.finished = true
			he.entry.Comment = e.ErrorText
		}
	}
}

func (r *harRecorder) replaceOrder(old, repl network.RequestID) {
	for i, id := range r.order {
		if id == old {
			r.order[i] = repl
			return
		}
	}
}

// build returns nil when nothing was requested.
func (r *harRecorder) build(title string) (json.RawMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.order) == 0 {
		return nil, nil
	}
	entries := make([]*har.Entry, 0, len(r.order))
	for _, id := range r.order {
		he := r.entries[id]
		if he.entry.Response == nil {
			he.entry.Response = &har.Response{
				Status:      0,
				HTTPVersion: he.entry.Request.HTTPVersion,
				Headers:     []*har.NameValuePair{},
				Cookies:     []*har.Cookie{},
				Content:     &har.Content{},
				HeadersSize: -1,
				BodySize:    -1,
			}
		}
		entries = append(entries, he.entry)
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].StartedDateTime < entries[j].StartedDateTime })

	doc := har.HAR{Log: &har.Log{
		Version: "1.2",
		Creator: &har.Creator{Name: "captureq", Version: "1"},
		Pages: []*har.Page{{
			ID:              r.pageID,
			Title:           title,
			StartedDateTime: r.started.UTC().Format(harTimeLayout),
			PageTimings:     &har.PageTimings{OnContentLoad: -1, OnLoad: -1},
		}},
		Entries: entries,
	}}
	return json.Marshal(doc)
}

func harResponse(resp *network.Response) *har.Response {
	return &har.Response{
		Status:      resp.Status,
		StatusText:  resp.StatusText,
		HTTPVersion: resp.Protocol,
		Headers:     nameValues(resp.Headers),
		Cookies:     []*har.Cookie{},
		Content:     &har.Content{MimeType: resp.MimeType},
		HeadersSize: -1,
		BodySize:    -1,
	}
}

func nameValues(h network.Headers) []*har.NameValuePair {
	out := make([]*har.NameValuePair, 0, len(h))
	for k, v := range h {
		s, ok := v.(string)
		if !ok {
			b, _ := json.Marshal(v)
			s = string(b)
		}
		out = append(out, &har.NameValuePair{Name: k, Value: s})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
