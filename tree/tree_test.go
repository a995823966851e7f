package tree

import (
	"encoding/json"
	"math/rand"
	"testing"
)

func node(id, parent int64, level, sort int, ctype string) *Node {
	return &Node{
		ID:          id,
		ParentID:    parent,
		Level:       level,
		SortOrder:   sort,
		Kind:        Content,
		ContentType: ctype,
		Published:   true,
		Data:        map[string]string{"name": ctype},
	}
}

func ids(nodes []*Node) []int64 {
	out := make([]int64, len(nodes))
	for i, n := range nodes {
		out[i] = n.ID
	}
	return out
}

func wantIDs(t *testing.T, got, want []int64) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range got {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestAssembleOrder(t *testing.T) {
	rows := []*Node{
		node(1, RootID, 1, 0, "home"),
		node(5, RootID, 1, 1, "news"),
		node(2, 1, 2, 0, "page"),
		node(3, 1, 2, 1, "page"),
		node(4, 5, 2, 0, "article"),
	}
	tr := Assemble(rows)

	if tr.Len() != 5 {
		t.Fatalf("len: got %d, want 5", tr.Len())
	}
	wantIDs(t, ids(tr.Children(RootID)), []int64{1, 5})
	wantIDs(t, ids(tr.Children(1)), []int64{2, 3})
	wantIDs(t, ids(tr.Children(5)), []int64{4})
	if !tr.HasType("article") {
		t.Fatal("article type not registered")
	}
}

func TestAssembleDropsUnreachable(t *testing.T) {
	rows := []*Node{
		node(1, RootID, 1, 0, "home"),
		node(9, 77, 3, 0, "orphan"), // parent 77 never loaded
	}
	tr := Assemble(rows)

	if tr.Len() != 1 {
		t.Fatalf("len: got %d, want 1", tr.Len())
	}
	if tr.Get(9) != nil {
		t.Fatal("unreachable fragment was retained")
	}
}

func TestWalkDepthFirst(t *testing.T) {
	tr := Assemble([]*Node{
		node(1, RootID, 1, 0, "a"),
		node(4, RootID, 1, 1, "b"),
		node(2, 1, 2, 0, "c"),
		node(3, 2, 3, 0, "d"),
	})

	var visited []int64
	tr.Walk(func(n *Node) bool {
		visited = append(visited, n.ID)
		return true
	})
	wantIDs(t, visited, []int64{1, 2, 3, 4})
}

func TestDescendantIDs(t *testing.T) {
	tr := Assemble([]*Node{
		node(1, RootID, 1, 0, "a"),
		node(2, 1, 2, 0, "b"),
		node(3, 2, 3, 0, "c"),
		node(4, RootID, 1, 1, "d"),
	})
	wantIDs(t, tr.DescendantIDs(1), []int64{2, 3})
	if got := tr.DescendantIDs(4); len(got) != 0 {
		t.Fatalf("leaf descendants: got %v", got)
	}
}

func TestCloneIsolation(t *testing.T) {
	tr := Assemble([]*Node{node(1, RootID, 1, 0, "a")})
	c := tr.Clone()

	c.Get(1).Data["name"] = "mutated"
	c.Remove(1)

	if tr.Get(1) == nil {
		t.Fatal("clone removal leaked into original")
	}
	if tr.Get(1).Data["name"] != "a" {
		t.Fatal("clone payload mutation leaked into original")
	}
}

func TestJSONRoundTrip(t *testing.T) {
	orig := Assemble([]*Node{
		node(1, RootID, 1, 0, "home"),
		node(2, 1, 2, 0, "page"),
		node(3, 1, 2, 1, "page"),
		node(4, 2, 3, 0, "widget"),
	})

	data, err := json.Marshal(orig)
	if err != nil {
		t.Fatal(err)
	}
	restored := New()
	if err := json.Unmarshal(data, restored); err != nil {
		t.Fatal(err)
	}

	if restored.Len() != orig.Len() {
		t.Fatalf("len: got %d, want %d", restored.Len(), orig.Len())
	}
	orig.Walk(func(n *Node) bool {
		r := restored.Get(n.ID)
		if r == nil {
			t.Fatalf("node %d missing after round trip", n.ID)
		}
		if r.ParentID != n.ParentID || r.Level != n.Level || r.SortOrder != n.SortOrder {
			t.Fatalf("node %d structure changed: %+v vs %+v", n.ID, r, n)
		}
		if r.Data["name"] != n.Data["name"] {
			t.Fatalf("node %d payload changed", n.ID)
		}
		return true
	})
	wantIDs(t, ids(restored.Children(1)), ids(orig.Children(1)))
}

func TestKindRoundTrip(t *testing.T) {
	for _, k := range Kinds {
		got, err := KindFromString(k.String())
		if err != nil {
			t.Fatal(err)
		}
		if got != k {
			t.Fatalf("kind %v round-tripped to %v", k, got)
		}
	}
	if _, err := KindFromString("widget"); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}

// Siblings must stay ascending by SortOrder under arbitrary splice/remove
// sequences, and every parent edge must match the latest refresh.
func TestSpliceSequencesKeepOrder(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	tr := New()

	parentOf := map[int64]int64{}
	alive := map[int64]bool{}
	var pool []int64

	for op := 0; op < 500; op++ {
		id := int64(rng.Intn(40) + 1)
		switch rng.Intn(4) {
		case 0: // refresh at root
			f := node(id, RootID, 1, rng.Intn(10), "page")
			if err := tr.Splice(f, id, RootID); err != nil {
				t.Fatal(err)
			}
			parentOf[id] = RootID
			if !alive[id] {
				alive[id] = true
				pool = append(pool, id)
			}
		case 1: // refresh under existing node
			if len(pool) == 0 {
				continue
			}
			pid := pool[rng.Intn(len(pool))]
			if !alive[pid] || pid == id {
				continue
			}
			f := node(id, pid, 2, rng.Intn(10), "page")
			err := tr.Splice(f, id, pid)
			if err == ErrParentNotFound {
				continue
			}
			if err != nil {
				t.Fatal(err)
			}
			parentOf[id] = pid
			if !alive[id] {
				alive[id] = true
				pool = append(pool, id)
			}
		default: // remove
			tr.Remove(id)
			alive[id] = false
		}

		// Remove also drops descendants from our model.
		for nid := range alive {
			if alive[nid] && tr.Get(nid) == nil {
				alive[nid] = false
			}
		}

		reachable := 0
		tr.Walk(func(n *Node) bool {
			reachable++
			if want, ok := parentOf[n.ID]; ok && alive[n.ID] && n.ParentID != want {
				t.Fatalf("op %d: node %d parent %d, want %d", op, n.ID, n.ParentID, want)
			}
			return true
		})
		if reachable != tr.Len() {
			t.Fatalf("op %d: %d reachable nodes vs %d in arena", op, reachable, tr.Len())
		}
		var check func(pid int64)
		check = func(pid int64) {
			kids := tr.Children(pid)
			for i := 1; i < len(kids); i++ {
				if kids[i-1].SortOrder > kids[i].SortOrder {
					t.Fatalf("op %d: children of %d out of order", op, pid)
				}
			}
			for _, k := range kids {
				check(k.ID)
			}
		}
		check(RootID)
	}
}
