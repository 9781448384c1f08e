package queue

import (
	"sort"
	"testing"
	"time"

	"github.com/babymaxMAX/autosub/internal/models"
)

func TestScoreOrdersByPriorityThenEnqueueTime(t *testing.T) {
	base := time.Date(2024, time.March, 1, 10, 0, 0, 0, time.UTC)

	refs := []Ref{
		{TaskID: "free-late", Priority: 3, EnqueuedAt: base.Add(time.Second).UnixMilli()},
		{TaskID: "creator", Priority: 1, EnqueuedAt: base.Add(time.Hour).UnixMilli()},
		{TaskID: "pro", Priority: 2, EnqueuedAt: base.Add(30 * time.Minute).UnixMilli()},
		{TaskID: "free-early", Priority: 3, EnqueuedAt: base.UnixMilli()},
	}

	sort.Slice(refs, func(i, j int) bool {
		return scoreFor(refs[i]) < scoreFor(refs[j])
	})

	want := []string{"creator", "pro", "free-early", "free-late"}
	for i, id := range want {
		if refs[i].TaskID != id {
			t.Fatalf("position %d: got %s want %s", i, refs[i].TaskID, id)
		}
	}
}

func TestScoreIsExactForRealisticInputs(t *testing.T) {
	// Scores must stay below 2^53 so float64 comparison is exact; a one
	// millisecond difference at the lowest priority class must still order.
	late := Ref{Priority: 3, EnqueuedAt: time.Date(2100, time.January, 1, 0, 0, 0, 0, time.UTC).UnixMilli()}
	early := Ref{Priority: 3, EnqueuedAt: late.EnqueuedAt - 1}

	if scoreFor(late) >= float64(int64(1)<<53) {
		t.Fatalf("score %v exceeds float64 integer range", scoreFor(late))
	}
	if scoreFor(early) >= scoreFor(late) {
		t.Fatal("one millisecond ordering lost to float64 rounding")
	}
}

func TestRefCodecRoundTrip(t *testing.T) {
	now := time.Date(2024, time.June, 5, 8, 30, 0, 0, time.UTC)
	task := models.Task{ID: "task-1", Priority: 2}

	ref := NewRef(task, now)
	if ref.EnqueuedAt != now.UnixMilli() {
		t.Fatalf("unexpected enqueue time: got %d want %d", ref.EnqueuedAt, now.UnixMilli())
	}

	member, err := encodeRef(ref)
	if err != nil {
		t.Fatalf("encode ref: %v", err)
	}

	decoded, err := decodeRef(member)
	if err != nil {
		t.Fatalf("decode ref: %v", err)
	}

	if decoded != ref {
		t.Fatalf("round trip mismatch: got %+v want %+v", decoded, ref)
	}
}

func TestDecodeRefRejectsGarbage(t *testing.T) {
	if _, err := decodeRef("not-json"); err == nil {
		t.Fatal("expected error decoding malformed member")
	}
}
