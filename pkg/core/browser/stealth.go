package browser

import (
	"hash/fnv"
	"math/rand"
	"strings"
	"time"
)

// The portal sits behind an interstitial bot check. A blocked load renders a
// page whose visible text contains one of these markers instead of the
// measure content.
var challengeMarkers = []string{
	"Request unsuccessful",
	"Incapsula incident ID",
	"Checking your browser",
}

// userAgent replaces the HeadlessChrome token the portal's filter keys on.
const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36"

// stealthJS runs before any page script. navigator.webdriver is the
// first thing every fingerprinting snippet checks; plugins and languages
// must look populated for the same reason.
const stealthJS = `
Object.defineProperty(navigator, 'webdriver', { get: () => undefined });
Object.defineProperty(navigator, 'plugins', { get: () => [1, 2, 3, 4, 5] });
Object.defineProperty(navigator, 'languages', { get: () => ['en-US', 'en'] });
window.chrome = window.chrome || { runtime: {} };
`

const (
	windowWidth  = 1920
	windowHeight = 1080

	basePort  = 9222
	portRange = 1000
)

// DebugPort derives a stable per-job debugging port so concurrent jobs
// never collide on the CDP socket.
func DebugPort(jobID string) int {
	h := fnv.New32a()
	h.Write([]byte(jobID))
	return basePort + int(h.Sum32()%portRange)
}

func hasChallengeMarker(visibleText string) bool {
	for _, m := range challengeMarkers {
		if strings.Contains(visibleText, m) {
			return true
		}
	}
	return false
}

// backoffDelay computes base·2^k plus up to 25% jitter.
func backoffDelay(base time.Duration, k int) time.Duration {
	d := base << uint(k)
	jitter := time.Duration(rand.Int63n(int64(d)/4 + 1))
	return d + jitter
}

// politeWindow returns a randomized duration inside [min,max].
func politeWindow(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(rand.Int63n(int64(max-min)))
}
