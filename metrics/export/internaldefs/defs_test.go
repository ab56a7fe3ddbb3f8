package internaldefs

import (
	"strings"
	"testing"

	"github.com/MrEthical07/panelauth"
)

func TestCounterDefsUniqueAndComplete(t *testing.T) {
	names := map[string]bool{}
	ids := map[panelauth.MetricID]bool{}
	for _, def := range CounterDefs {
		if names[def.Name] || ids[def.ID] {
			t.Fatalf("duplicate definition %+v", def)
		}
		if !strings.HasPrefix(def.Name, "panelauth_") || !strings.HasSuffix(def.Name, "_total") {
			t.Fatalf("unexpected counter name %q", def.Name)
		}
		names[def.Name] = true
		ids[def.ID] = true
	}
	for _, def := range HistogramDefs {
		if ids[def.ID] {
			t.Fatalf("histogram %s also defined as counter", def.Name)
		}
		ids[def.ID] = true
	}
	for id := panelauth.MetricLoginSuccess; id <= panelauth.MetricLoginLatency; id++ {
		if !ids[id] {
			t.Fatalf("metric %d has no definition", id)
		}
	}
}

func TestBucketTables(t *testing.T) {
	if len(HistogramBounds)+1 != len(HistogramBoundSuffix) {
		t.Fatalf("bounds %d and suffixes %d disagree", len(HistogramBounds), len(HistogramBoundSuffix))
	}
	got := CumulativeBuckets(NormalizeBuckets([]uint64{1, 2, 3}))
	want := [8]uint64{1, 3, 6, 6, 6, 6, 6, 6}
	if got != want {
		t.Fatalf("got %v want %v", got, want)
	}
}
