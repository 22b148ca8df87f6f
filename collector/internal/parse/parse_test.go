package parse

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const spfAgoFixture = `Area 49.0001:
Level 2 SPF:
Duration (msec)    When         Trigger
              1    00:00:10 ago  topology change
              0    00:00:05 ago  periodic
`

const spfTimestampFixture = `Timestamp            Duration (msec)  Nodes  Trigger
2025-01-01T10:00:00  3                5      topology change
2025-01-01T10:00:20  1                5      periodic
`

const spfBareFixture = `Level 2 SPF:
Duration  Nodes  Trigger
  2  5  topology change
`

func TestSPFLogKnownFormats(t *testing.T) {
	cases := []struct {
		name    string
		input   string
		want    int
		first   float64
		trigger string
	}{
		{"ago format", spfAgoFixture, 2, 1, "topology change"},
		{"timestamp format", spfTimestampFixture, 2, 3, "topology change"},
		{"bare format", spfBareFixture, 1, 2, "topology change"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			entries := SPFLog(tc.input)
			require.Len(t, entries, tc.want)
			assert.Equal(t, tc.first, entries[0].DurationMs)
			assert.Equal(t, tc.trigger, entries[0].Trigger)
		})
	}
}

func TestSPFLogPreservesWhen(t *testing.T) {
	entries := SPFLog(spfAgoFixture)
	require.Len(t, entries, 2)
	assert.Equal(t, "00:00:10 ago", entries[0].When)
	assert.Equal(t, "00:00:05 ago", entries[1].When)
}

func TestSPFLogIgnoresGarbage(t *testing.T) {
	assert.Empty(t, SPFLog(""))
	assert.Empty(t, SPFLog("completely unrelated text\nwith lines\n"))
	assert.Empty(t, SPFLog("Unknown command: show isis spf-log"))
	// Header-only output parses to nothing.
	assert.Empty(t, SPFLog("Duration (msec)    When         Trigger\n"))
}

func TestSPFLogNeverPanicsOnHostileInput(t *testing.T) {
	inputs := []string{
		strings.Repeat("9", 400) + " 1 x",
		"\x00\x01\x02",
		"   -5    00:00:01 ago  negative",
	}
	for _, in := range inputs {
		_ = SPFLog(in)
	}
}

const lsdbFixture = `Area 49.0001:
IS-IS Level-2 link-state database:
LSP ID                  PduLen  SeqNumber   Chksum  Holdtime  ATT/P/OL
sat0.00-00           *    452  0x00000005  0xabcd     720    0/0/0
sat1.00-00                320  0x00000003  0x1234     718    0/0/0
gs0.00-00                 180  0x00000001  0xbeef     900    0/0/0
`

func TestLSDB(t *testing.T) {
	lsps := LSDB(lsdbFixture)
	require.Len(t, lsps, 3)
	assert.Equal(t, "0x00000005", lsps["sat0.00-00"])
	assert.Equal(t, "0x00000003", lsps["sat1.00-00"])
	assert.Equal(t, "0x00000001", lsps["gs0.00-00"])
}

func TestLSDBSkipsHeadersAndGarbage(t *testing.T) {
	assert.Empty(t, LSDB(""))
	assert.Empty(t, LSDB("Area 49.0001:\nIS-IS Level-2 link-state database:\nLSP ID  PduLen\n"))
	assert.Empty(t, LSDB("not an lsdb at all"))
}

func TestAdjacencyUp(t *testing.T) {
	up := ` System Id           Interface   L  State        Holdtime SNPA
 sat3                 gs0-eth0    2  Up            28       2020.2020.2020`
	down := ` System Id           Interface   L  State        Holdtime SNPA
 sat3                 gs0-eth0    2  Initializing  28       2020.2020.2020`

	assert.True(t, AdjacencyUp(up, "Up"))
	assert.False(t, AdjacencyUp(down, "Up"))
	// Substring hits inside other words must not count.
	assert.False(t, AdjacencyUp("Uptime: 100s", "Up"))
	assert.False(t, AdjacencyUp("", "Up"))
}

func TestRouteMatcher(t *testing.T) {
	m := NewRouteMatcher("I")
	withRoute := `Codes: K - kernel route, C - connected, I - IS-IS
I   10.0.2.0/30 [115/20] via 10.0.0.1, gs0-eth0, 00:00:12
C>* 10.0.0.0/30 is directly connected, gs0-eth0`
	withoutRoute := `Codes: K - kernel route, C - connected, I - IS-IS
C>* 10.0.0.0/30 is directly connected, gs0-eth0`

	assert.True(t, m.Present(withRoute))
	assert.False(t, m.Present(withoutRoute))
	assert.False(t, m.Present(""))
}
