package feed

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"depthbook/internal/exchange"
	"depthbook/internal/types"

	"github.com/sirupsen/logrus"
)

// ErrUnknownPipeline is returned for keys with no active subscribers
var ErrUnknownPipeline = errors.New("no pipeline for key")

// Key identifies one pipeline
type Key struct {
	Exchange exchange.ExchangeName
	Symbol   string
}

// NewKey normalises the symbol to upper case
func NewKey(name exchange.ExchangeName, symbol string) Key {
	return Key{
		Exchange: exchange.ExchangeName(strings.ToLower(strings.TrimSpace(string(name)))),
		Symbol:   strings.ToUpper(strings.TrimSpace(symbol)),
	}
}

func (k Key) String() string {
	return fmt.Sprintf("%s:%s", k.Exchange, k.Symbol)
}

// AdapterFactory builds the adapter for a venue
type AdapterFactory func(name exchange.ExchangeName) (exchange.Adapter, error)

type pipeline struct {
	supervisor *Supervisor
	refs       int
}

// Registry shares one Supervisor per key between any number of subscribers.
// The first subscriber starts the pipeline, the last unsubscribe closes it.
type Registry struct {
	ctx        context.Context
	newAdapter AdapterFactory
	opts       Options
	logger     *logrus.Entry

	mu        sync.Mutex
	pipelines map[Key]*pipeline
	closed    bool
}

// NewRegistry creates a registry. Pipelines inherit ctx and opts.
func NewRegistry(ctx context.Context, newAdapter AdapterFactory, opts Options) *Registry {
	if opts.Logger == nil {
		opts.Logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Registry{
		ctx:        ctx,
		newAdapter: newAdapter,
		opts:       opts,
		logger:     opts.Logger.WithField("component", "registry"),
		pipelines:  make(map[Key]*pipeline),
	}
}

// Subscribe attaches sub to the pipeline for key, starting it if needed
func (r *Registry) Subscribe(key Key, sub Subscriber) (func(), error) {
	key = NewKey(key.Exchange, key.Symbol)

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrClosed
	}

	p, ok := r.pipelines[key]
	if !ok {
		adapter, err := r.newAdapter(key.Exchange)
		if err != nil {
			return nil, err
		}
		sup := NewSupervisor(adapter, key.Symbol, r.opts)
		if err := sup.Start(r.ctx); err != nil {
			return nil, err
		}
		p = &pipeline{supervisor: sup}
		r.pipelines[key] = p
		r.logger.WithField("key", key).Info("Pipeline started")
	}

	detach := p.supervisor.Subscribe(sub)
	p.refs++

	var once sync.Once
	return func() {
		once.Do(func() { r.release(key, p, detach) })
	}, nil
}

func (r *Registry) release(key Key, p *pipeline, detach func()) {
	detach()

	r.mu.Lock()
	p.refs--
	last := p.refs == 0
	if last && r.pipelines[key] == p {
		delete(r.pipelines, key)
	}
	r.mu.Unlock()

	if last {
		p.supervisor.Close()
		r.logger.WithField("key", key).Info("Pipeline stopped, no subscribers left")
	}
}

func (r *Registry) lookup(key Key) (*Supervisor, bool) {
	key = NewKey(key.Exchange, key.Symbol)
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pipelines[key]
	if !ok {
		return nil, false
	}
	return p.supervisor, true
}

// IsConnected reports whether the pipeline for key is live
func (r *Registry) IsConnected(key Key) bool {
	sup, ok := r.lookup(key)
	return ok && sup.IsConnected()
}

// State returns the pipeline state, StateDisconnected when there is none
func (r *Registry) State(key Key) State {
	sup, ok := r.lookup(key)
	if !ok {
		return StateDisconnected
	}
	return sup.State()
}

// Latest returns the last snapshot published for key
func (r *Registry) Latest(key Key) (types.BookSnapshot, bool) {
	sup, ok := r.lookup(key)
	if !ok {
		return types.BookSnapshot{}, false
	}
	return sup.Latest()
}

// Health returns connection health for key
func (r *Registry) Health(key Key) (exchange.HealthStatus, bool) {
	sup, ok := r.lookup(key)
	if !ok {
		return exchange.HealthStatus{}, false
	}
	return sup.Health(), true
}

// Reconnect forces a fresh session for key
func (r *Registry) Reconnect(key Key) error {
	sup, ok := r.lookup(key)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPipeline, key)
	}
	sup.Reconnect()
	return nil
}

// Keys lists running pipelines in a stable order
func (r *Registry) Keys() []Key {
	r.mu.Lock()
	keys := make([]Key, 0, len(r.pipelines))
	for k := range r.pipelines {
		keys = append(keys, k)
	}
	r.mu.Unlock()

	sort.Slice(keys, func(i, j int) bool {
		return keys[i].String() < keys[j].String()
	})
	return keys
}

// Close stops every pipeline. Later Subscribe calls fail with ErrClosed.
func (r *Registry) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	pipelines := r.pipelines
	r.pipelines = make(map[Key]*pipeline)
	r.mu.Unlock()

	for _, p := range pipelines {
		p.supervisor.Close()
	}
	return nil
}
