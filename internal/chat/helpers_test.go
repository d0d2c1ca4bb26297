package chat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// memoryBackend is an in-process PartitionStore.
type memoryBackend struct {
	mu      sync.Mutex
	data    map[string][]byte
	saves   int
	failing bool
}

func newMemoryBackend() *memoryBackend {
	return &memoryBackend{data: make(map[string][]byte)}
}

func (b *memoryBackend) Load(ctx context.Context, key PartitionKey) ([]byte, error) {
	_ = ctx
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failing {
		return nil, errors.New("storage offline")
	}
	v, ok := b.data[key.String()]
	if !ok {
		return nil, ErrPartitionNotFound
	}
	return append([]byte(nil), v...), nil
}

func (b *memoryBackend) Save(ctx context.Context, key PartitionKey, data []byte) error {
	_ = ctx
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failing {
		return errors.New("quota exceeded")
	}
	b.saves++
	b.data[key.String()] = append([]byte(nil), data...)
	return nil
}

func (b *memoryBackend) setFailing(v bool) {
	b.mu.Lock()
	b.failing = v
	b.mu.Unlock()
}

func (b *memoryBackend) saveCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.saves
}

// stepClock hands out strictly increasing timestamps.
type stepClock struct {
	mu sync.Mutex
	t  time.Time
}

func newStepClock() *stepClock {
	return &stepClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

// scriptedGateway answers with queued responses and records requests.
type scriptedGateway struct {
	mu       sync.Mutex
	replies  []scriptedReply
	requests []TurnRequest
}

type scriptedReply struct {
	resp *TurnResponse
	err  error
}

func (g *scriptedGateway) push(resp *TurnResponse, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.replies = append(g.replies, scriptedReply{resp: resp, err: err})
}

func (g *scriptedGateway) Process(ctx context.Context, req TurnRequest) (*TurnResponse, error) {
	_ = ctx
	g.mu.Lock()
	defer g.mu.Unlock()
	g.requests = append(g.requests, req)
	if len(g.replies) == 0 {
		return &TurnResponse{Reply: "ok"}, nil
	}
	r := g.replies[0]
	g.replies = g.replies[1:]
	return r.resp, r.err
}

func (g *scriptedGateway) lastRequest() TurnRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.requests[len(g.requests)-1]
}

// blockingGateway holds every call until release is closed.
type blockingGateway struct {
	started chan TurnRequest
	release chan struct{}
	resp    *TurnResponse
}

func newBlockingGateway(resp *TurnResponse) *blockingGateway {
	return &blockingGateway{
		started: make(chan TurnRequest, 1),
		release: make(chan struct{}),
		resp:    resp,
	}
}

func (g *blockingGateway) Process(ctx context.Context, req TurnRequest) (*TurnResponse, error) {
	g.started <- req
	select {
	case <-g.release:
		return g.resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func phasePtr(p Phase) *Phase { return &p }

func openTestStore(t *testing.T, backend PartitionStore, ut UserType) *Store {
	t.Helper()
	s, err := OpenStore(context.Background(), backend, "owner-1", ut, WithClock(newStepClock().Now))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return s
}
