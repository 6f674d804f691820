package realtime

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"
)

func TestTranscript_PreservesArrivalOrder(t *testing.T) {
	tr := NewTranscript()
	base := time.Unix(1700000000, 0)

	// The remote item carries an earlier timestamp but arrives second.
	tr.Append(TranscriptItem{Role: RoleCaller, Text: "hello", Timestamp: base.Add(2 * time.Second)})
	tr.Append(TranscriptItem{Role: RoleRemote, Text: "hi there", Timestamp: base})
	tr.Append(TranscriptItem{Role: RoleCaller, Text: "how are you", Timestamp: base.Add(5 * time.Second)})

	items := tr.All()
	if len(items) != 3 {
		t.Fatalf("expected 3 items, got %d", len(items))
	}

	want := []string{"hello", "hi there", "how are you"}
	for i, text := range want {
		if items[i].Text != text {
			t.Errorf("item %d: got %q, want %q", i, items[i].Text, text)
		}
	}

	for i := 1; i < len(items); i++ {
		if items[i].Timestamp.Before(items[i-1].Timestamp) {
			t.Errorf("timestamp decreased at item %d", i)
		}
	}
}

func TestTranscript_AllReturnsCopy(t *testing.T) {
	tr := NewTranscript()
	tr.Append(TranscriptItem{Role: RoleCaller, Text: "hello"})

	items := tr.All()
	items[0].Text = "changed"

	if tr.All()[0].Text != "hello" {
		t.Error("All should not expose internal storage")
	}
}

func TestTranscript_WriteJSON(t *testing.T) {
	tr := NewTranscript()
	tr.Append(TranscriptItem{Role: RoleCaller, Text: "hello", ItemID: "item_1"})
	tr.Append(TranscriptItem{Role: RoleRemote, Text: "hi there"})

	var buf bytes.Buffer
	if err := tr.WriteJSON(&buf); err != nil {
		t.Fatal(err)
	}

	var decoded []TranscriptItem
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(decoded) != 2 || decoded[0].ItemID != "item_1" || decoded[1].Role != RoleRemote {
		t.Errorf("unexpected transcript JSON: %s", buf.String())
	}
}
