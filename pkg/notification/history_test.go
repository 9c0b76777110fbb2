package notification

import (
	"os"
	"path/filepath"
	"testing"
)

func TestHistoryAppendAndTrim(t *testing.T) {
	h := NewHistory("", 3, testLogger())
	for i := 0; i < 5; i++ {
		h.Append(Record{ID: string(rune('a' + i)), Channel: ChannelSlack})
	}
	got := h.Recent(0)
	if len(got) != 3 {
		t.Fatalf("expected capacity to cap history at 3, got %d", len(got))
	}
	if got[len(got)-1].ID != "e" {
		t.Fatalf("expected newest record last, got %q", got[len(got)-1].ID)
	}
}

func TestHistoryPersistsAndReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.json")

	h := NewHistory(path, 10, testLogger())
	h.Append(Record{ID: "r1", NetworkID: "net-1", Channel: ChannelEmail, Outcome: OutcomeSent})

	reloaded := NewHistory(path, 10, testLogger())
	got := reloaded.Recent(0)
	if len(got) != 1 || got[0].ID != "r1" {
		t.Fatalf("expected reloaded history to contain r1, got %+v", got)
	}
}

func TestHistoryLoadDropsInvalidEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.json")
	// A legacy-shaped entry with no network_id, a well-formed one, and an
	// entry missing required fields that should be dropped.
	if err := os.WriteFile(path, []byte(`[
		{"id":"legacy-1","channel":"slack","outcome":"sent"},
		{"id":"r2","network_id":"net-2","channel":"email","outcome":"failed"},
		{"channel":"","outcome":"sent"}
	]`), 0o644); err != nil {
		t.Fatal(err)
	}

	h := NewHistory(path, 10, testLogger())
	got := h.Recent(0)
	if len(got) != 2 {
		t.Fatalf("expected 2 valid records to survive load, got %d: %+v", len(got), got)
	}
}

func TestHistoryForNetwork(t *testing.T) {
	h := NewHistory("", 10, testLogger())
	h.Append(
		Record{ID: "a", NetworkID: "net-1", Channel: ChannelSlack},
		Record{ID: "b", NetworkID: "net-2", Channel: ChannelSlack},
		Record{ID: "c", NetworkID: "net-1", Channel: ChannelEmail},
	)

	got := h.ForNetwork("net-1")
	if len(got) != 2 {
		t.Fatalf("expected 2 records for net-1, got %d", len(got))
	}
}
