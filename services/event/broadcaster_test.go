package event

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func recv(t *testing.T, s *Subscription) Event {
	t.Helper()
	select {
	case e, ok := <-s.Events():
		require.True(t, ok, "subscription closed")
		return e
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestPublishFansOutToAllSubscribers(t *testing.T) {
	b := NewBroadcaster(8)
	a := b.Subscribe()
	c := b.Subscribe()
	require.Equal(t, 2, b.Len())

	b.Publish(Event{Kind: KindCreated, CampaignID: "1", Name: "T1"})

	for _, s := range []*Subscription{a, c} {
		e := recv(t, s)
		require.Equal(t, KindCreated, e.Kind)
		require.Equal(t, uint64(1), e.Seq)
		require.False(t, e.Timestamp.IsZero())
	}
}

func TestPerCampaignSequenceAndOrder(t *testing.T) {
	b := NewBroadcaster(128)
	s := b.Subscribe()

	var wg sync.WaitGroup
	for _, id := range []string{"a", "b", "c"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			for i := 0; i < 30; i++ {
				b.Publish(Event{Kind: KindProgress, CampaignID: id, Progress: float64(i)})
			}
		}(id)
	}
	wg.Wait()

	last := map[string]uint64{}
	for i := 0; i < 90; i++ {
		e := recv(t, s)
		require.Equal(t, last[e.CampaignID]+1, e.Seq, "campaign %s out of order", e.CampaignID)
		require.Equal(t, float64(e.Seq-1), e.Progress)
		last[e.CampaignID] = e.Seq
	}
}

func TestCampaignFilter(t *testing.T) {
	b := NewBroadcaster(8)
	s := b.Subscribe(WithCampaign("wanted"))

	b.Publish(Event{Kind: KindStarted, CampaignID: "other"})
	b.Publish(Event{Kind: KindStarted, CampaignID: "wanted"})

	e := recv(t, s)
	require.Equal(t, "wanted", e.CampaignID)
	require.Empty(t, s.Events())
}

func TestSlowSubscriberDropsOldest(t *testing.T) {
	b := NewBroadcaster(8)
	slow := b.Subscribe(WithBuffer(2))
	fast := b.Subscribe(WithBuffer(16))

	done := make(chan struct{})
	go func() {
		for i := 1; i <= 5; i++ {
			b.Publish(Event{Kind: KindProgress, CampaignID: "x", Progress: float64(i)})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}

	require.Equal(t, uint64(3), slow.Dropped())
	require.Equal(t, float64(4), recv(t, slow).Progress)
	require.Equal(t, float64(5), recv(t, slow).Progress)

	for i := 1; i <= 5; i++ {
		require.Equal(t, float64(i), recv(t, fast).Progress)
	}
	require.Zero(t, fast.Dropped())
}

func TestCloseSubscription(t *testing.T) {
	b := NewBroadcaster(4)
	s := b.Subscribe()
	s.Close()
	s.Close()

	_, ok := <-s.Events()
	require.False(t, ok)
	require.Equal(t, 0, b.Len())

	b.Publish(Event{Kind: KindCreated, CampaignID: "1"})
}

func TestDeletedResetsSequence(t *testing.T) {
	b := NewBroadcaster(8)
	s := b.Subscribe()

	b.Publish(Event{Kind: KindCreated, CampaignID: "1"})
	b.Publish(Event{Kind: KindDeleted, CampaignID: "1"})
	b.Publish(Event{Kind: KindCreated, CampaignID: "1"})

	require.Equal(t, uint64(1), recv(t, s).Seq)
	require.Equal(t, uint64(2), recv(t, s).Seq)
	require.Equal(t, uint64(1), recv(t, s).Seq)
}

func TestBroadcasterClose(t *testing.T) {
	b := NewBroadcaster(4)
	s := b.Subscribe()
	b.Close()

	_, ok := <-s.Events()
	require.False(t, ok)

	late := b.Subscribe()
	_, ok = <-late.Events()
	require.False(t, ok)

	b.Publish(Event{Kind: KindCreated, CampaignID: "1"})
	b.Close()
}
