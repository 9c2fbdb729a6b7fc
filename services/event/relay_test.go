package event

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type publishedMessage struct {
	channel string
	payload []byte
}

type mockRedis struct {
	mu        sync.Mutex
	messages  []publishedMessage
	publishFn func(channel string) error
}

func (m *mockRedis) Publish(ctx context.Context, channel string, message any) *redis.IntCmd {
	if m.publishFn != nil {
		if err := m.publishFn(channel); err != nil {
			return redis.NewIntResult(0, err)
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, publishedMessage{channel: channel, payload: message.([]byte)})
	return redis.NewIntResult(1, nil)
}

func (m *mockRedis) snapshot() []publishedMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]publishedMessage(nil), m.messages...)
}

func TestRedisRelayForwardsEvents(t *testing.T) {
	b := NewBroadcaster(8)
	client := &mockRedis{}
	relay := NewRedisRelay(client, b)
	relay.Start()

	b.Publish(Event{Kind: KindProgress, CampaignID: "42", CurrentStep: "Collecting data...", Progress: 66.67})

	require.Eventually(t, func() bool { return len(client.snapshot()) == 2 }, time.Second, 5*time.Millisecond)
	require.NoError(t, relay.Stop(context.Background()))

	msgs := client.snapshot()
	require.Equal(t, "campaign:events", msgs[0].channel)
	require.Equal(t, "campaign:events:42", msgs[1].channel)

	var e Event
	require.NoError(t, json.Unmarshal(msgs[1].payload, &e))
	require.Equal(t, KindProgress, e.Kind)
	require.Equal(t, 66.67, e.Progress)
	require.Equal(t, uint64(1), e.Seq)
}

func TestRedisRelaySurvivesPublishErrors(t *testing.T) {
	b := NewBroadcaster(8)
	client := &mockRedis{publishFn: func(channel string) error {
		if channel == "campaign:events" {
			return errors.New("connection refused")
		}
		return nil
	}}
	relay := NewRedisRelay(client, b)
	relay.Start()

	b.Publish(Event{Kind: KindStarted, CampaignID: "7"})
	b.Publish(Event{Kind: KindCompleted, CampaignID: "7"})

	require.Eventually(t, func() bool { return len(client.snapshot()) == 2 }, time.Second, 5*time.Millisecond)
	require.NoError(t, relay.Stop(context.Background()))
	require.Equal(t, 0, b.Len())
}
