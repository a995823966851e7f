// Package tree holds the in-memory materialized view of published content.
//
// Nodes live in an arena indexed by id: the Tree keeps a flat id → *Node map
// plus an ordered child-id list per parent, so structural changes are index
// rewiring rather than pointer surgery. A synthetic root (id = -1) anchors
// the forest. Siblings are kept ascending by SortOrder at all times — every
// writer maintains that invariant, and the splice path relies on it.
//
// A Tree is NOT safe for concurrent mutation. The cache package serializes
// writers and publishes clones through an atomic pointer; readers always see
// a complete tree.
package tree

import (
	"encoding/json"
	"fmt"
	"sort"
)

// RootID is the id of the synthetic root. It has no Node; it exists only as
// a parent key in the child index.
const RootID int64 = -1

// Kind discriminates the three entity classes held in the tree.
type Kind int

const (
	Content Kind = iota
	Media
	Member
)

// Kinds lists every entity class, in dispatch order.
var Kinds = []Kind{Content, Media, Member}

func (k Kind) String() string {
	switch k {
	case Content:
		return "content"
	case Media:
		return "media"
	case Member:
		return "member"
	default:
		return "unknown"
	}
}

// KindFromString parses the string form produced by String.
func KindFromString(s string) (Kind, error) {
	switch s {
	case "content":
		return Content, nil
	case "media":
		return Media, nil
	case "member":
		return Member, nil
	}
	return 0, fmt.Errorf("tree: unknown kind %q", s)
}

// MarshalText encodes the kind as its string form (used by snapshot JSON).
func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// UnmarshalText decodes the string form.
func (k *Kind) UnmarshalText(b []byte) error {
	v, err := KindFromString(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

// Node is one content item. ParentID always names the actual tree parent
// once the node is attached; Level is the depth below the root (root
// children are level 1).
type Node struct {
	ID          int64             `json:"id"`
	ParentID    int64             `json:"parent_id"`
	Level       int               `json:"level"`
	SortOrder   int               `json:"sort_order"`
	Kind        Kind              `json:"kind"`
	ContentType string            `json:"content_type"`
	Published   bool              `json:"published"`
	Data        map[string]string `json:"data,omitempty"`
}

// clone deep-copies the node, including its payload map.
func (n *Node) clone() *Node {
	c := *n
	if n.Data != nil {
		c.Data = make(map[string]string, len(n.Data))
		for k, v := range n.Data {
			c.Data[k] = v
		}
	}
	return &c
}

// Tree is the arena. The zero value is not usable; call New.
type Tree struct {
	nodes    map[int64]*Node
	children map[int64][]int64
	types    map[string]struct{}
}

// New returns an empty tree containing only the synthetic root.
func New() *Tree {
	return &Tree{
		nodes:    make(map[int64]*Node),
		children: map[int64][]int64{RootID: nil},
		types:    make(map[string]struct{}),
	}
}

// Assemble builds a tree from rows already ordered by (level, sortOrder)
// ascending, as the relational loader produces them. First pass groups rows
// by parent, second pass walks depth-first from the root so that only rows
// reachable from the root are attached; unreachable fragments are dropped
// silently.
func Assemble(rows []*Node) *Tree {
	byParent := make(map[int64][]*Node)
	for _, r := range rows {
		pid := r.ParentID
		if r.Level == 1 {
			pid = RootID
		}
		byParent[pid] = append(byParent[pid], r)
	}

	t := New()
	var attach func(pid int64)
	attach = func(pid int64) {
		for _, r := range byParent[pid] {
			n := r.clone()
			n.ParentID = pid
			t.nodes[n.ID] = n
			t.children[pid] = append(t.children[pid], n.ID)
			t.registerType(n.ContentType)
			attach(n.ID)
		}
	}
	attach(RootID)
	return t
}

// Get returns the node with the given id, or nil.
func (t *Tree) Get(id int64) *Node { return t.nodes[id] }

// Len returns the number of nodes, excluding the synthetic root.
func (t *Tree) Len() int { return len(t.nodes) }

// Children returns the ordered child nodes of id (RootID for top level).
func (t *Tree) Children(id int64) []*Node {
	ids := t.children[id]
	out := make([]*Node, 0, len(ids))
	for _, cid := range ids {
		out = append(out, t.nodes[cid])
	}
	return out
}

// HasType reports whether the content-type tag has been registered.
func (t *Tree) HasType(tag string) bool {
	_, ok := t.types[tag]
	return ok
}

// RegisterType records a content-type tag for lookup purposes.
func (t *Tree) RegisterType(tag string) { t.registerType(tag) }

func (t *Tree) registerType(tag string) {
	if tag != "" {
		t.types[tag] = struct{}{}
	}
}

// Walk visits every node depth-first in sibling order, root children first.
// Returning false from fn stops the walk.
func (t *Tree) Walk(fn func(*Node) bool) {
	var visit func(pid int64) bool
	visit = func(pid int64) bool {
		for _, cid := range t.children[pid] {
			if !fn(t.nodes[cid]) {
				return false
			}
			if !visit(cid) {
				return false
			}
		}
		return true
	}
	visit(RootID)
}

// DescendantIDs returns the ids of the subtree below id, excluding id
// itself, in depth-first order.
func (t *Tree) DescendantIDs(id int64) []int64 {
	var out []int64
	var visit func(pid int64)
	visit = func(pid int64) {
		for _, cid := range t.children[pid] {
			out = append(out, cid)
			visit(cid)
		}
	}
	visit(id)
	return out
}

// Clone deep-copies the tree. Used for copy-on-write publication: mutate the
// clone, then swap it in atomically.
func (t *Tree) Clone() *Tree {
	c := &Tree{
		nodes:    make(map[int64]*Node, len(t.nodes)),
		children: make(map[int64][]int64, len(t.children)),
		types:    make(map[string]struct{}, len(t.types)),
	}
	for id, n := range t.nodes {
		c.nodes[id] = n.clone()
	}
	for pid, ids := range t.children {
		c.children[pid] = append([]int64(nil), ids...)
	}
	for tag := range t.types {
		c.types[tag] = struct{}{}
	}
	return c
}

// snapshotDoc is the on-disk JSON shape: a flat node list in depth-first
// sibling order, reassembled through the same path as a relational load.
type snapshotDoc struct {
	Nodes []*Node `json:"nodes"`
}

// MarshalJSON serializes the tree as a flat depth-first node list.
func (t *Tree) MarshalJSON() ([]byte, error) {
	doc := snapshotDoc{Nodes: make([]*Node, 0, len(t.nodes))}
	t.Walk(func(n *Node) bool {
		doc.Nodes = append(doc.Nodes, n)
		return true
	})
	return json.Marshal(doc)
}

// UnmarshalJSON rebuilds the tree from the flat node list.
func (t *Tree) UnmarshalJSON(b []byte) error {
	var doc snapshotDoc
	if err := json.Unmarshal(b, &doc); err != nil {
		return err
	}
	*t = *Assemble(doc.Nodes)
	return nil
}

// detach removes id from its parent's child list. The node stays in the
// arena; callers either re-attach it or drop the subtree.
func (t *Tree) detach(id int64) {
	n := t.nodes[id]
	if n == nil {
		return
	}
	sibs := t.children[n.ParentID]
	for i, cid := range sibs {
		if cid == id {
			t.children[n.ParentID] = append(sibs[:i], sibs[i+1:]...)
			return
		}
	}
}

// attach appends id as the last child of pid and records the parent edge.
func (t *Tree) attach(id, pid int64) {
	t.nodes[id].ParentID = pid
	t.children[pid] = append(t.children[pid], id)
}

// reposition moves only the touched node to its SortOrder slot among its
// current siblings. Siblings are assumed already ordered; this is a single
// targeted insertion, not a re-sort.
func (t *Tree) reposition(id int64) {
	n := t.nodes[id]
	sibs := t.children[n.ParentID]

	cur := -1
	for i, cid := range sibs {
		if cid == id {
			cur = i
			break
		}
	}
	if cur < 0 {
		return
	}
	rest := make([]int64, 0, len(sibs)-1)
	rest = append(rest, sibs[:cur]...)
	rest = append(rest, sibs[cur+1:]...)

	at := sort.Search(len(rest), func(i int) bool {
		return t.nodes[rest[i]].SortOrder > n.SortOrder
	})
	out := make([]int64, 0, len(sibs))
	out = append(out, rest[:at]...)
	out = append(out, id)
	out = append(out, rest[at:]...)
	t.children[n.ParentID] = out
}
