package content

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

var at = time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)

func body(i int) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(`{"headline":"v%d"}`, i))
}

func TestSetThreeTimesThenRestoreFirst(t *testing.T) {
	var l Ledger
	for i := 1; i <= 3; i++ {
		l, _ = l.Set("s1", body(i), nil, "alice", at.Add(time.Duration(i)*time.Minute))
	}
	if l.CurrentNumber() != 3 || len(l.Archived()) != 2 {
		t.Fatalf("after three sets: current=%d archived=%d", l.CurrentNumber(), len(l.Archived()))
	}

	restored, change, err := l.Restore("s1", 1, "bob", at.Add(time.Hour))
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	cur, _ := restored.Current()
	if cur.Number != 4 {
		t.Fatalf("expected version 4, got %d", cur.Number)
	}
	if string(cur.Body) != string(body(1)) {
		t.Fatalf("expected v1 body, got %s", cur.Body)
	}
	if cur.Metadata["restored_from"] != "1" {
		t.Fatalf("restore should record its source, got %v", cur.Metadata)
	}
	archived := restored.Archived()
	if len(archived) != 3 {
		t.Fatalf("expected three archived versions, got %d", len(archived))
	}
	for i, v := range archived {
		if v.Number != i+1 || string(v.Body) != string(body(i+1)) {
			t.Fatalf("archived[%d] = v%d %s", i, v.Number, v.Body)
		}
	}
	if change.Archive == nil || change.Archive.Number != 3 || change.ExpectedCurrent != 3 {
		t.Fatalf("unexpected change %+v", change)
	}
	if l.CurrentNumber() != 3 {
		t.Fatalf("restore must not modify the receiver")
	}
}

func TestRestoreRejectsUnknownVersion(t *testing.T) {
	var l Ledger
	l, _ = l.Set("s1", body(1), nil, "alice", at)
	l, _ = l.Set("s1", body(2), nil, "alice", at)

	for _, n := range []int{0, 2, 5, -1} {
		_, _, err := l.Restore("s1", n, "alice", at)
		var notArchived ErrVersionNotArchived
		if !errors.As(err, &notArchived) {
			t.Fatalf("restore(%d): expected ErrVersionNotArchived, got %v", n, err)
		}
		if notArchived.Requested != n || len(notArchived.Available) != 1 {
			t.Fatalf("restore(%d): unexpected detail %+v", n, notArchived)
		}
	}
}

func TestNewLedgerValidatesNumbering(t *testing.T) {
	cur := &Version{Number: 3, Body: body(3)}
	if _, err := NewLedger(cur, []Version{{Number: 1}}); err == nil {
		t.Fatalf("expected length mismatch error")
	}
	if _, err := NewLedger(cur, []Version{{Number: 2}, {Number: 1}}); err == nil {
		t.Fatalf("expected numbering error")
	}
	if _, err := NewLedger(nil, []Version{{Number: 1}}); err == nil {
		t.Fatalf("archive without current must be rejected")
	}
	l, err := NewLedger(cur, []Version{{Number: 1}, {Number: 2}})
	if err != nil {
		t.Fatalf("valid ledger rejected: %v", err)
	}
	if !l.HasVersions() || len(l.Versions()) != 3 {
		t.Fatalf("expected three listed versions")
	}
}

func TestLedgerProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("k sets leave k-1 archived versions and current k", prop.ForAll(
		func(k int) bool {
			var l Ledger
			for i := 1; i <= k; i++ {
				l, _ = l.Set("s", body(i), nil, "a", at)
			}
			return len(l.Archived()) == k-1 && l.CurrentNumber() == k
		},
		gen.IntRange(1, 40),
	))

	properties.Property("restore grows the archive and issues a fresh number", prop.ForAll(
		func(k int, pick int) bool {
			var l Ledger
			for i := 1; i <= k; i++ {
				l, _ = l.Set("s", body(i), nil, "a", at)
			}
			target := pick%(k-1) + 1
			seen := make(map[int]bool)
			for _, v := range l.Versions() {
				seen[v.Number] = true
			}
			next, _, err := l.Restore("s", target, "a", at)
			if err != nil {
				return false
			}
			cur, _ := next.Current()
			return len(next.Archived()) == len(l.Archived())+1 &&
				!seen[cur.Number] &&
				len(next.Archived()) == cur.Number-1
		},
		gen.IntRange(2, 30),
		gen.IntRange(0, 1000),
	))

	properties.TestingRun(t)
}
