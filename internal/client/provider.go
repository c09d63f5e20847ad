package client

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/kapu/channel-snapshot/internal/domain"
	"github.com/kapu/channel-snapshot/internal/util"
)

var (
	// ErrNoData marks a successful load that has nothing to show.
	ErrNoData = stderrors.New("no YouTube data available right now")
	// ErrUsingCached marks a failed load that is showing the last good snapshot.
	ErrUsingCached = stderrors.New("showing cached data after a network error")
)

// View is what a consumer renders: data, a loading flag and an error state.
type View struct {
	Data    *domain.Snapshot
	Loading bool
	Err     error
}

// Provider shares one Service between consumers and keeps the current View.
type Provider struct {
	service *Service
	logger  *zap.Logger

	startOnce sync.Once

	mu   sync.RWMutex
	view View
}

func NewProvider(service *Service, logger *zap.Logger) *Provider {
	return &Provider{
		service: service,
		logger:  util.Named(logger, "provider"),
		view:    View{Loading: true},
	}
}

// Start performs the initial load. Later calls return immediately.
func (p *Provider) Start(ctx context.Context) {
	p.startOnce.Do(func() {
		p.load(ctx, false)
	})
}

// Refetch forces a refresh and returns the resulting view.
func (p *Provider) Refetch(ctx context.Context) View {
	p.load(ctx, true)
	return p.View()
}

func (p *Provider) View() View {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.view
}

func (p *Provider) load(ctx context.Context, force bool) {
	p.mu.Lock()
	p.view.Loading = true
	p.view.Err = nil
	p.mu.Unlock()

	snapshot, err := p.service.GetData(ctx, force)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.view.Loading = false

	if err != nil {
		p.logger.Error("Snapshot load failed", zap.Error(err))
		p.view.Err = err
		if cached := p.service.GetCachedData(); cached != nil {
			p.view.Data = cached
			p.view.Err = fmt.Errorf("%w: %w", ErrUsingCached, err)
		}
		return
	}

	p.view.Data = snapshot
	if snapshot.IsEmpty() {
		p.view.Err = ErrNoData
	}
}
