package tree

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by Splice.
var (
	// ErrFragmentMismatch means the fragment's id or parent id disagrees
	// with the caller-supplied identifiers. This is a caller contract bug,
	// never a data condition.
	ErrFragmentMismatch = errors.New("tree: fragment id/parent mismatch")

	// ErrParentNotFound means the target parent is not in the tree. Benign
	// under out-of-order notification delivery: the ancestor simply has not
	// arrived yet. Callers treat it as a no-op.
	ErrParentNotFound = errors.New("tree: parent not found")
)

// Splice applies one updated entity to the tree: insert, in-place update,
// move, or type replacement — without rebuilding anything beyond the single
// touched node's position among its siblings.
//
// frag is a detached replacement fragment carrying the entity's fresh
// structure and payload. id and parentID are the caller's idea of the same;
// a mismatch is a contract violation. The tree is left unchanged when the
// target parent is absent (ErrParentNotFound) or on any error.
func (t *Tree) Splice(frag *Node, id, parentID int64) error {
	if frag.ID != id || frag.ParentID != parentID {
		return fmt.Errorf("%w: fragment (%d,%d) vs caller (%d,%d)",
			ErrFragmentMismatch, frag.ID, frag.ParentID, id, parentID)
	}

	pid := frag.ParentID
	if frag.Level == 1 {
		pid = RootID
	}
	if pid != RootID && t.nodes[pid] == nil {
		return ErrParentNotFound
	}

	existing := t.nodes[id]

	// Unordered delivery can present a move whose target parent is still
	// inside the moved node's own subtree (the paired move of the ancestor
	// has not arrived yet). Re-attaching there would detach the branch as a
	// cycle, so treat it like a missing parent: drop the fragment and let
	// the remaining notifications of the batch restore the invariant.
	if existing != nil && existing.ParentID != pid {
		for p := pid; p != RootID; {
			if p == id {
				return ErrParentNotFound
			}
			anc := t.nodes[p]
			if anc == nil {
				break
			}
			p = anc.ParentID
		}
	}

	switch {
	case existing == nil:
		// New node: register a first-seen type tag, append as last child,
		// then let reposition find the SortOrder slot.
		if !t.HasType(frag.ContentType) {
			t.registerType(frag.ContentType)
		}
		n := frag.clone()
		t.nodes[id] = n
		t.attach(id, pid)

	case existing.ContentType == frag.ContentType:
		// Same type: refresh payload and non-structural attributes in
		// place; rewire the parent edge only if it actually changed.
		existing.Level = frag.Level
		existing.SortOrder = frag.SortOrder
		existing.Published = frag.Published
		existing.Kind = frag.Kind
		if frag.Data == nil {
			existing.Data = nil
		} else {
			existing.Data = make(map[string]string, len(frag.Data))
			for k, v := range frag.Data {
				existing.Data[k] = v
			}
		}
		if existing.ParentID != pid {
			t.detach(id)
			t.attach(id, pid)
		}

	default:
		// Type changed: the fragment already carries the fresh payload, so
		// the old node is replaced wholesale. Children stay keyed by id in
		// the arena and therefore carry over untouched.
		t.registerType(frag.ContentType)
		samePlace := existing.ParentID == pid
		n := frag.clone()
		if samePlace {
			// Replace in the current slot, keep the sibling position for
			// reposition to adjust.
			n.ParentID = pid
			t.nodes[id] = n
		} else {
			t.detach(id)
			t.nodes[id] = n
			t.attach(id, pid)
		}
	}

	t.reposition(id)
	return nil
}

// Remove detaches the node from its parent and drops its entire subtree.
// An absent id is a no-op.
func (t *Tree) Remove(id int64) {
	if t.nodes[id] == nil {
		return
	}
	t.detach(id)
	t.drop(id)
}

func (t *Tree) drop(id int64) {
	for _, cid := range t.children[id] {
		t.drop(cid)
	}
	delete(t.children, id)
	delete(t.nodes, id)
}
