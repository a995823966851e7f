package notify

import (
	"errors"
	"testing"
)

func TestSubscribePublishUnsubscribe(t *testing.T) {
	b := NewBus()

	var got [][]Payload
	unsub := b.Subscribe(func(batch []Payload) error {
		got = append(got, batch)
		return nil
	})
	if b.Subscribers() != 1 {
		t.Fatalf("subscribers: got %d", b.Subscribers())
	}

	if err := b.Publish(Payload{Kind: RefreshNode, IDs: []int64{7}}); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0][0].IDs[0] != 7 {
		t.Fatalf("got %v", got)
	}

	unsub()
	if b.Subscribers() != 0 {
		t.Fatal("unsubscribe did not deregister")
	}
	if err := b.Publish(Payload{Kind: RemoveNode}); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatal("deregistered handler still invoked")
	}
}

func TestPublishPropagatesHandlerError(t *testing.T) {
	b := NewBus()
	want := errors.New("contract violation")
	defer b.Subscribe(func([]Payload) error { return want })()

	if err := b.Publish(Payload{Kind: Kind(99)}); !errors.Is(err, want) {
		t.Fatalf("got %v", err)
	}
}

func TestKindStrings(t *testing.T) {
	cases := map[Kind]string{
		RefreshAll:  "refresh-all",
		RefreshNode: "refresh-node",
		RemoveNode:  "remove-node",
		TypeChanged: "type-changed",
	}
	for k, want := range cases {
		if k.String() != want {
			t.Fatalf("%d: got %s, want %s", int(k), k.String(), want)
		}
	}
}
