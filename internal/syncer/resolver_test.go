package syncer

import (
	"testing"
	"time"
)

func meta(size int64, mtime time.Time, hash string) *FileMeta {
	return &FileMeta{Size: size, ModTime: mtime, Hash: hash}
}

func TestResolveOneSidedChange(t *testing.T) {
	now := time.Now()
	base := meta(10, now.Add(-time.Hour), "aaa")
	edited := meta(12, now, "bbb")

	d := resolve(edited, base, base, base)
	if d.action != actionCopyAToB || d.conflict {
		t.Fatalf("a-side edit: got action=%v conflict=%v", d.action, d.conflict)
	}

	d = resolve(base, edited, base, base)
	if d.action != actionCopyBToA || d.conflict {
		t.Fatalf("b-side edit: got action=%v conflict=%v", d.action, d.conflict)
	}
}

func TestResolveIdenticalContentConverges(t *testing.T) {
	now := time.Now()
	a := meta(10, now, "same")
	b := meta(10, now.Add(-time.Minute), "same")
	d := resolve(a, b, nil, nil)
	if d.action != actionNone {
		t.Fatalf("identical fingerprints must not transfer, got %v", d.action)
	}
}

func TestResolveBothChangedNewerWins(t *testing.T) {
	now := time.Now()
	prevA := meta(5, now.Add(-2*time.Hour), "old-a")
	prevB := meta(5, now.Add(-2*time.Hour), "old-b")
	a := meta(10, now, "new-a")
	b := meta(11, now.Add(-time.Hour), "new-b")

	d := resolve(a, b, prevA, prevB)
	if d.action != actionCopyAToB {
		t.Fatalf("newer a must win, got %v", d.action)
	}
	if !d.conflict {
		t.Fatal("concurrent modification must be flagged as conflict")
	}
}

func TestResolveTieBreaks(t *testing.T) {
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	// Equal mtimes: larger size wins.
	if w := winner(meta(20, at, "x"), meta(10, at, "y")); w != SideA {
		t.Fatalf("size tie-break: got %v", w)
	}
	if w := winner(meta(10, at, "x"), meta(20, at, "y")); w != SideB {
		t.Fatalf("size tie-break: got %v", w)
	}
	// Equal mtime and size: greater fingerprint wins.
	if w := winner(meta(10, at, "bbb"), meta(10, at, "aaa")); w != SideA {
		t.Fatalf("fingerprint tie-break: got %v", w)
	}
	if w := winner(meta(10, at, "aaa"), meta(10, at, "bbb")); w != SideB {
		t.Fatalf("fingerprint tie-break: got %v", w)
	}
	// Full tie: side a wins.
	if w := winner(meta(10, at, "aaa"), meta(10, at, "aaa")); w != SideA {
		t.Fatalf("full tie must fall to side a, got %v", w)
	}
	// Sub-second mtime differences do not decide.
	if w := winner(meta(10, at.Add(300*time.Millisecond), "aaa"), meta(20, at, "aaa")); w != SideB {
		t.Fatalf("sub-second mtime must not win over size, got %v", w)
	}
}

func TestResolveDeletionLosesToModification(t *testing.T) {
	now := time.Now()
	prevA := meta(5, now.Add(-time.Hour), "old")
	prevB := meta(5, now.Add(-time.Hour), "old")
	edited := meta(9, now, "new")

	// b deleted, a modified: a's content must be restored on b.
	d := resolve(edited, nil, prevA, prevB)
	if d.action != actionCopyAToB {
		t.Fatalf("modification must beat deletion, got %v", d.action)
	}
	if !d.conflict {
		t.Fatal("deletion-vs-modification must be flagged as conflict")
	}

	// a deleted, b modified.
	d = resolve(nil, edited, prevA, prevB)
	if d.action != actionCopyBToA || !d.conflict {
		t.Fatalf("modification must beat deletion, got action=%v conflict=%v", d.action, d.conflict)
	}
}

func TestResolveCleanDeletionPropagates(t *testing.T) {
	now := time.Now()
	prev := meta(5, now.Add(-time.Hour), "old")

	// b deleted, a untouched: delete on a.
	d := resolve(prev, nil, prev, prev)
	if d.action != actionDeleteOnA || d.conflict {
		t.Fatalf("clean deletion: got action=%v conflict=%v", d.action, d.conflict)
	}
	d = resolve(nil, prev, prev, prev)
	if d.action != actionDeleteOnB || d.conflict {
		t.Fatalf("clean deletion: got action=%v conflict=%v", d.action, d.conflict)
	}
}

func TestResolveFreshBaselinePropagatesExistence(t *testing.T) {
	now := time.Now()
	a := meta(5, now, "only-a")
	d := resolve(a, nil, nil, nil)
	if d.action != actionCopyAToB || d.conflict {
		t.Fatalf("unseen file must copy without conflict, got action=%v conflict=%v", d.action, d.conflict)
	}
	d = resolve(nil, a, nil, nil)
	if d.action != actionCopyBToA {
		t.Fatalf("unseen file must copy, got %v", d.action)
	}
}

func TestResolveBothMissing(t *testing.T) {
	prev := meta(5, time.Now(), "gone")
	if d := resolve(nil, nil, prev, prev); d.action != actionNone {
		t.Fatalf("both missing must be a no-op, got %v", d.action)
	}
}
