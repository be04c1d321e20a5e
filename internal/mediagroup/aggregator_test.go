package mediagroup

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAggregatorFlushesAlbumOnce(t *testing.T) {
	flushed := make(chan Group, 4)
	ag := New(Options{
		Debounce: 20 * time.Millisecond,
		MaxItems: 3,
		OnFlush:  func(g Group) { flushed <- g },
	})

	for i, id := range []string{"a", "b", "c", "d"} {
		caption := ""
		if i == 1 {
			caption = "on a marble table"
		}
		ag.Add(Item{ChatID: 7, UserID: 9, MediaGroupID: "album", FileID: id, Caption: caption})
	}
	ag.Add(Item{ChatID: 7, UserID: 9, MediaGroupID: "", FileID: "ignored"})

	select {
	case g := <-flushed:
		assert.Equal(t, []string{"a", "b", "c"}, g.FileIDs)
		assert.Equal(t, 1, g.Dropped)
		assert.Equal(t, "on a marble table", g.Caption)
		assert.Equal(t, int64(9), g.UserID)
	case <-time.After(2 * time.Second):
		t.Fatal("album was not flushed")
	}

	select {
	case g := <-flushed:
		t.Fatalf("unexpected second flush: %+v", g)
	case <-time.After(60 * time.Millisecond):
	}
	assert.Zero(t, ag.Pending())
}

func TestAggregatorCloseDropsPending(t *testing.T) {
	flushed := make(chan Group, 1)
	ag := New(Options{Debounce: 20 * time.Millisecond, OnFlush: func(g Group) { flushed <- g }})

	ag.Add(Item{ChatID: 1, MediaGroupID: "x", FileID: "a"})
	require.Equal(t, 1, ag.Pending())
	ag.Close()
	ag.Add(Item{ChatID: 1, MediaGroupID: "y", FileID: "b"})

	select {
	case g := <-flushed:
		t.Fatalf("closed aggregator flushed %+v", g)
	case <-time.After(60 * time.Millisecond):
	}
	assert.Zero(t, ag.Pending())
}
