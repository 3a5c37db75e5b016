package eventbus

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBusDeliversEventsInOrder(t *testing.T) {
	b := New(4)
	b.Publish(Event{Kind: KindTimeout, Instance: "rtu0", Message: "first"})
	b.Publish(Event{Kind: KindBusBusy, Instance: "rtu0", Message: "second"})

	require.Equal(t, "first", (<-b.Events()).Message)
	require.Equal(t, "second", (<-b.Events()).Message)
}

func TestBusCountsDroppedEventsPastCapacity(t *testing.T) {
	b := New(1)
	b.Publish(Event{Kind: KindTimeout, Instance: "a"})
	b.Publish(Event{Kind: KindTimeout, Instance: "a"}) // dropped: queue full, nobody draining

	require.Equal(t, uint64(1), b.Dropped())
}

func TestFilterKeepsOnlyMatchingInstance(t *testing.T) {
	b := New(8)
	b.Publish(Event{Instance: "rtu0", Message: "a"})
	b.Publish(Event{Instance: "tcp0", Message: "b"})
	b.Publish(Event{Instance: "rtu0", Message: "c"})
	close(b.events)

	filtered := Filter(b.Events(), func(e Event) bool { return e.Instance == "rtu0" })

	var got []string
	for e := range filtered {
		got = append(got, e.Message)
	}
	require.Equal(t, []string{"a", "c"}, got)
}
