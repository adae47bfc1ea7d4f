package chromium

import "strings"

// deviceProfile is what a named device implies for the page: its own
// viewport, pixel ratio and user agent.
type deviceProfile struct {
	Width     int64
	Height    int64
	Scale     float64
	Mobile    bool
	UserAgent string
}

var deviceProfiles = map[string]deviceProfile{
	"desktop chrome": {1280, 720, 1, false,
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"},
	"desktop chrome hidpi": {1280, 720, 2, false,
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"},
	"iphone 12": {390, 664, 3, true,
		"Mozilla/5.0 (iPhone; CPU iPhone OS 14_4 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/14.0.3 Mobile/15E148 Safari/604.1"},
	"iphone 13": {390, 664, 3, true,
		"Mozilla/5.0 (iPhone; CPU iPhone OS 15_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/15.0 Mobile/15E148 Safari/604.1"},
	"iphone se": {320, 568, 2, true,
		"Mozilla/5.0 (iPhone; CPU iPhone OS 13_2_3 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/13.0.3 Mobile/15E148 Safari/604.1"},
	"ipad mini": {768, 1024, 2, true,
		"Mozilla/5.0 (iPad; CPU OS 12_2 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/12.0 Mobile/15E148 Safari/604.1"},
	"pixel 5": {393, 727, 2.75, true,
		"Mozilla/5.0 (Linux; Android 11; Pixel 5) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Mobile Safari/537.36"},
	"galaxy s9+": {320, 658, 4.5, true,
		"Mozilla/5.0 (Linux; Android 8.0.0; SM-G965U Build/R16NW) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Mobile Safari/537.36"},
}

func lookupDevice(name string) (deviceProfile, bool) {
	p, ok := deviceProfiles[strings.ToLower(strings.TrimSpace(name))]
	return p, ok
}
