// Package parse turns routing-daemon CLI text into structured records.
// Every function is pure and tolerant: unrecognised lines are skipped,
// malformed fields drop the entry, and no input panics.
package parse

import (
	"regexp"
	"strconv"
	"strings"
)

// SPFEntry is one parsed SPF-log line.
type SPFEntry struct {
	DurationMs float64
	When       string
	Trigger    string
}

// Known spf-log line shapes across daemon versions:
//
//	Duration (msec)    When          Trigger
//	              1    00:00:10 ago  topology change
//
//	Timestamp            Duration (msec)  Nodes  Trigger
//	2025-01-01T00:00:00  1                5      topology change
//
//	1  5  topology change
var (
	spfAgoRE       = regexp.MustCompile(`^\s*(\d+)\s+(\d+:\d+:\d+\s+ago)\s+(.*)$`)
	spfTimestampRE = regexp.MustCompile(`^\s*\d{4}-\d{2}-\d{2}T\S+\s+(\d+)\s+\d+\s+(.*)$`)
	spfBareRE      = regexp.MustCompile(`^\s*(\d+)\s+\d+\s+(.*\S)`)
)

// SPFLog parses spf-log output into entries, preserving input order.
func SPFLog(output string) []SPFEntry {
	var entries []SPFEntry
	for _, line := range strings.Split(output, "\n") {
		if m := spfAgoRE.FindStringSubmatch(line); m != nil {
			if d, ok := parseDuration(m[1]); ok {
				entries = append(entries, SPFEntry{DurationMs: d, When: strings.TrimSpace(m[2]), Trigger: strings.TrimSpace(m[3])})
			}
			continue
		}
		if m := spfTimestampRE.FindStringSubmatch(line); m != nil {
			if d, ok := parseDuration(m[1]); ok {
				entries = append(entries, SPFEntry{DurationMs: d, Trigger: strings.TrimSpace(m[2])})
			}
			continue
		}
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "Duration") || strings.HasPrefix(trimmed, "Level") {
			continue
		}
		if m := spfBareRE.FindStringSubmatch(line); m != nil {
			if d, ok := parseDuration(m[1]); ok {
				entries = append(entries, SPFEntry{DurationMs: d, Trigger: strings.TrimSpace(m[2])})
			}
		}
	}
	return entries
}

func parseDuration(s string) (float64, bool) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v < 0 {
		return 0, false
	}
	return v, true
}

// LSDB lines carry the LSP id, an optional own-LSP marker, the PDU length,
// and the hex sequence number:
//
//	LSP ID                  PduLen  SeqNumber   Chksum  Holdtime  ATT/P/OL
//	sat0.00-00           *    452  0x00000005  0xabcd     720    0/0/0
//	sat1.00-00                320  0x00000003  0x1234     718    0/0/0
var lsdbLineRE = regexp.MustCompile(`^\s*(\S+\.\d{2}-\d{2})\s+\*?\s*\d+\s+(0x[0-9a-fA-F]+)`)

// LSDB parses link-state database output into lsp_id -> hex sequence.
// Header, area, and title lines are skipped.
func LSDB(output string) map[string]string {
	lsps := make(map[string]string)
	for _, line := range strings.Split(output, "\n") {
		stripped := strings.TrimSpace(line)
		if stripped == "" || strings.HasPrefix(stripped, "Area") || strings.HasPrefix(stripped, "IS-IS") || strings.HasPrefix(stripped, "LSP") {
			continue
		}
		if m := lsdbLineRE.FindStringSubmatch(line); m != nil {
			lsps[m[1]] = m[2]
		}
	}
	return lsps
}

// AdjacencyUp reports whether any line of neighbor output carries the given
// state keyword as a standalone token (default keyword is "Up").
func AdjacencyUp(output, keyword string) bool {
	if keyword == "" {
		keyword = "Up"
	}
	for _, line := range strings.Split(output, "\n") {
		for _, field := range strings.Fields(line) {
			if field == keyword {
				return true
			}
		}
	}
	return false
}

// RouteMatcher detects protocol-tagged routes in route-table output. The
// marker is the leading protocol letter the daemon prints (e.g. "I").
type RouteMatcher struct {
	re *regexp.Regexp
}

// NewRouteMatcher compiles a matcher for the given protocol marker.
func NewRouteMatcher(marker string) RouteMatcher {
	if marker == "" {
		marker = "I"
	}
	return RouteMatcher{re: regexp.MustCompile(regexp.QuoteMeta(marker) + `\s+\d+\.\d+\.\d+\.\d+`)}
}

// Present reports whether the output contains at least one matching route.
func (m RouteMatcher) Present(output string) bool {
	if m.re == nil {
		return false
	}
	return m.re.MatchString(output)
}
