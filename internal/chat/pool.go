package chat

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Pool keeps one Service per owner, opening its Store on first use.
type Pool struct {
	backend     PartitionStore
	gateway     Gateway
	events      EventPublisher
	logger      *zap.Logger
	turnTimeout time.Duration

	mu       sync.Mutex
	services map[string]*Service
}

func NewPool(backend PartitionStore, gateway Gateway, events EventPublisher, logger *zap.Logger, turnTimeout time.Duration) *Pool {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		backend:     backend,
		gateway:     gateway,
		events:      events,
		logger:      logger,
		turnTimeout: turnTimeout,
		services:    make(map[string]*Service),
	}
}

// Get returns the owner's service with userType as its current partition.
func (p *Pool) Get(ctx context.Context, owner string, userType UserType) (*Service, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if svc, ok := p.services[owner]; ok {
		if err := svc.Store().SwitchUserType(userType); err != nil {
			return nil, err
		}
		return svc, nil
	}

	store, err := OpenStore(ctx, p.backend, owner, userType, WithStoreLogger(p.logger.Named("store")))
	if err != nil {
		return nil, err
	}
	svc := NewService(store, p.gateway,
		WithLogger(p.logger.Named("turn")),
		WithEventPublisher(p.events),
		WithTurnTimeout(p.turnTimeout),
	)
	p.services[owner] = svc
	return svc, nil
}
