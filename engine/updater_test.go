package engine

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func newTestUpdater(t *testing.T, perMessage time.Duration) (*Updater, *stubGateway) {
	t.Helper()
	gw := &stubGateway{}
	u := NewUpdater(gw, perMessage, time.Millisecond)
	u.Start(context.Background())
	t.Cleanup(u.Stop)
	return u, gw
}

func TestUpdaterCollapsesRapidEdits(t *testing.T) {
	u, gw := newTestUpdater(t, 200*time.Millisecond)

	// First edit passes immediately; the next nine land inside the window
	// and must collapse to the newest.
	for i := 0; i < 10; i++ {
		u.Update("C1", "m1", fmt.Sprintf("update %d", i))
	}

	time.Sleep(400 * time.Millisecond)

	edits := gw.editsFor("m1")
	if len(edits) == 0 || len(edits) > 2 {
		t.Fatalf("expected 1 or 2 edits for a rapid burst, got %d", len(edits))
	}
	if last := edits[len(edits)-1]; last.text != "update 9" {
		t.Fatalf("stale overwrite: last edit is %q", last.text)
	}
}

func TestUpdaterWaitResolvesSupersededCallers(t *testing.T) {
	u, _ := newTestUpdater(t, 300*time.Millisecond)

	u.Update("C1", "m1", "first")

	// Both of these land inside the window; the first is superseded by the
	// second and its waiter must resolve promptly instead of hanging.
	done := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		done <- u.UpdateWait(ctx, "C1", "m1", "second")
	}()
	time.Sleep(20 * time.Millisecond)
	u.Update("C1", "m1", "third")

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("superseded waiter got error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("superseded waiter hung")
	}
}

func TestUpdaterIndependentMessagesNotThrottledTogether(t *testing.T) {
	u, gw := newTestUpdater(t, time.Hour)

	u.Update("C1", "m1", "a")
	u.Update("C1", "m2", "b")

	time.Sleep(100 * time.Millisecond)

	if len(gw.editsFor("m1")) != 1 || len(gw.editsFor("m2")) != 1 {
		t.Fatalf("per-message throttle leaked across ids: %v", gw.edits)
	}
}

func TestUpdaterForgetDropsHeldEdits(t *testing.T) {
	u, gw := newTestUpdater(t, 100*time.Millisecond)

	u.Update("C1", "m1", "first")
	u.Update("C1", "m1", "held")
	u.Forget("m1")

	time.Sleep(250 * time.Millisecond)

	edits := gw.editsFor("m1")
	for _, e := range edits {
		if e.text == "held" {
			t.Fatal("held edit applied after Forget")
		}
	}
}

func TestDedupSetBoundedEviction(t *testing.T) {
	d := newDedupSet(3)

	for _, id := range []string{"a", "b", "c"} {
		if !d.Add(id) {
			t.Fatalf("first add of %q reported duplicate", id)
		}
	}
	if d.Add("a") {
		t.Fatal("duplicate within capacity not detected")
	}

	// "d" evicts "a", the oldest.
	if !d.Add("d") {
		t.Fatal("add beyond capacity failed")
	}
	if !d.Add("a") {
		t.Fatal("evicted id should be addable again")
	}
	if d.Add("c") {
		t.Fatal("recent id should still be present")
	}
}
