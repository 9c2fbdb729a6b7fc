package event

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const DefaultBufferSize = 64

var (
	publishedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "campaign_events_published_total",
		Help: "Events published by kind.",
	}, []string{"kind"})
	droppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "campaign_events_dropped_total",
		Help: "Events discarded from full subscriber buffers.",
	})
	subscribersGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "campaign_event_subscribers",
		Help: "Currently attached event subscribers.",
	})
)

func init() {
	prometheus.MustRegister(publishedTotal, droppedTotal, subscribersGauge)
}

// Broadcaster fans events out to subscribers. Each subscriber owns a bounded
// buffer; when it is full the oldest buffered event is discarded, so Publish
// never waits on a slow reader.
type Broadcaster struct {
	mu     sync.RWMutex
	subs   map[string]*Subscription
	closed bool

	seqMu sync.Mutex
	seq   map[string]uint64

	bufferSize int
	now        func() time.Time
}

func NewBroadcaster(bufferSize int) *Broadcaster {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Broadcaster{
		subs:       make(map[string]*Subscription),
		seq:        make(map[string]uint64),
		bufferSize: bufferSize,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

type subscribeOptions struct {
	campaignID string
	bufferSize int
}

type SubscribeOption func(*subscribeOptions)

// WithCampaign limits the subscription to one campaign.
func WithCampaign(id string) SubscribeOption {
	return func(o *subscribeOptions) { o.campaignID = id }
}

func WithBuffer(n int) SubscribeOption {
	return func(o *subscribeOptions) {
		if n > 0 {
			o.bufferSize = n
		}
	}
}

// Subscribe attaches a new observer. Subscribing to a closed broadcaster
// returns an already closed subscription.
func (b *Broadcaster) Subscribe(opts ...SubscribeOption) *Subscription {
	o := subscribeOptions{bufferSize: b.bufferSize}
	for _, opt := range opts {
		opt(&o)
	}

	s := &Subscription{
		id:         uuid.NewString(),
		campaignID: o.campaignID,
		ch:         make(chan Event, o.bufferSize),
		b:          b,
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		s.closed = true
		close(s.ch)
		return s
	}
	b.subs[s.id] = s
	subscribersGauge.Inc()

	return s
}

func (b *Broadcaster) Unsubscribe(id string) {
	b.mu.Lock()
	s, ok := b.subs[id]
	if ok {
		delete(b.subs, id)
		subscribersGauge.Dec()
	}
	b.mu.Unlock()

	if ok {
		s.shut()
	}
}

func (b *Broadcaster) Publish(e Event) {
	b.seqMu.Lock()
	b.seq[e.CampaignID]++
	e.Seq = b.seq[e.CampaignID]
	if e.Kind == KindDeleted {
		delete(b.seq, e.CampaignID)
	}
	b.seqMu.Unlock()

	if e.Timestamp.IsZero() {
		e.Timestamp = b.now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}

	for _, s := range b.subs {
		if s.campaignID != "" && s.campaignID != e.CampaignID {
			continue
		}
		s.deliver(e)
	}
	publishedTotal.WithLabelValues(string(e.Kind)).Inc()
}

// Len returns the number of attached subscribers.
func (b *Broadcaster) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close detaches every subscriber; later publishes are discarded.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := b.subs
	b.subs = make(map[string]*Subscription)
	b.mu.Unlock()

	for _, s := range subs {
		s.shut()
		subscribersGauge.Dec()
	}
	zap.L().Info("event broadcaster closed", zap.Int("subscribers", len(subs)))
}

type Subscription struct {
	id         string
	campaignID string

	mu      sync.Mutex
	ch      chan Event
	closed  bool
	dropped atomic.Uint64

	b *Broadcaster
}

func (s *Subscription) ID() string { return s.id }

// Events is closed once the subscription ends.
func (s *Subscription) Events() <-chan Event { return s.ch }

// Dropped counts events discarded because the buffer was full.
func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

func (s *Subscription) Close() {
	s.b.Unsubscribe(s.id)
	s.shut()
}

func (s *Subscription) shut() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

func (s *Subscription) deliver(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	for {
		select {
		case s.ch <- e:
			return
		default:
		}

		select {
		case <-s.ch:
			s.dropped.Add(1)
			droppedTotal.Inc()
		default:
		}
	}
}
