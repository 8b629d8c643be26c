package syncer

import "time"

// action is the single mutation the resolver asks the transfer engine to
// perform for one path.
type action int

const (
	actionNone action = iota
	actionCopyAToB
	actionCopyBToA
	actionDeleteOnA
	actionDeleteOnB
)

// decision is the resolver verdict for one path.
type decision struct {
	action   action
	conflict bool
	reason   string
}

func copyToward(dst Side) action {
	if dst == SideB {
		return actionCopyAToB
	}
	return actionCopyBToA
}

// winner picks the side whose content survives when both hold differing
// content. Later modification wins; mtimes are compared at second
// granularity because SFTP reports whole seconds. Ties fall through to
// size, then fingerprint ordering, then side A.
func winner(a, b *FileMeta) Side {
	at := a.ModTime.Truncate(time.Second)
	bt := b.ModTime.Truncate(time.Second)
	if at.After(bt) {
		return SideA
	}
	if bt.After(at) {
		return SideB
	}
	if a.Size != b.Size {
		if a.Size > b.Size {
			return SideA
		}
		return SideB
	}
	if a.Hash != b.Hash {
		if a.Hash > b.Hash {
			return SideA
		}
		return SideB
	}
	return SideA
}

// resolve decides what to do for one path given the current observation on
// both sides and the last state the engine had recorded. prevA/prevB are nil
// when the path was unknown there (fresh baseline included).
//
// Policy: a one-sided change propagates; identical fingerprints converge
// without transfer; deletion always loses to a concurrent modification; when
// both sides modified, winner() picks the survivor and the path is flagged
// as a conflict.
func resolve(a, b, prevA, prevB *FileMeta) decision {
	switch {
	case a == nil && b == nil:
		return decision{action: actionNone}

	case a != nil && b != nil:
		if a.Hash != "" && a.Hash == b.Hash {
			return decision{action: actionNone, reason: "content identical"}
		}
		changedA := prevA == nil || prevA.Hash != a.Hash
		changedB := prevB == nil || prevB.Hash != b.Hash
		if changedA && !changedB {
			return decision{action: actionCopyAToB}
		}
		if changedB && !changedA {
			return decision{action: actionCopyBToA}
		}
		win := winner(a, b)
		return decision{
			action:   copyToward(win.Other()),
			conflict: true,
			reason:   "both sides changed, " + string(win) + " wins",
		}

	case a != nil: // b missing
		if prevB == nil {
			// Never seen on b: plain propagation.
			return decision{action: actionCopyAToB}
		}
		if prevA != nil && prevA.Hash == a.Hash {
			// b deleted, a untouched: deletion propagates.
			return decision{action: actionDeleteOnA}
		}
		// b deleted while a was modified: modification wins.
		return decision{action: actionCopyAToB, conflict: true, reason: "deletion on " + string(SideB) + " lost to modification"}

	default: // a missing
		if prevA == nil {
			return decision{action: actionCopyBToA}
		}
		if prevB != nil && prevB.Hash == b.Hash {
			return decision{action: actionDeleteOnB}
		}
		return decision{action: actionCopyBToA, conflict: true, reason: "deletion on " + string(SideA) + " lost to modification"}
	}
}
