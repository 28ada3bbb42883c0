package monitor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"golang.org/x/sync/errgroup"

	"github.com/affiliatedkat/sourcify/monitor/pkg/monitoring"
	"github.com/affiliatedkat/sourcify/protocol"
	"github.com/smartcontractkit/chainlink-common/pkg/logger"
	"github.com/smartcontractkit/chainlink-common/pkg/services"
)

const (
	DefaultPollInterval         = 15 * time.Second
	DefaultMaxConcurrentFetches = 16
	DefaultDeliveryWorkers      = 64

	subscribeBufferSize  = 256
	releaseTimeout       = 5 * time.Second
	backlogRetryInterval = 10 * time.Millisecond
)

// ContentFetcher retrieves the raw content behind a source address.
type ContentFetcher interface {
	Fetch(ctx context.Context, addr protocol.SourceAddress) ([]byte, error)
}

// SubscriberFunc receives fetched content. The slice is shared between all
// subscribers of the same address and must not be modified.
type SubscriberFunc func(content []byte)

// FetcherConfig configures a SourceFetcher.
type FetcherConfig struct {
	PollInterval         time.Duration
	MaxConcurrentFetches int
	DeliveryWorkers      int
}

func (c *FetcherConfig) setDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.MaxConcurrentFetches <= 0 {
		c.MaxConcurrentFetches = DefaultMaxConcurrentFetches
	}
	if c.DeliveryWorkers <= 0 {
		c.DeliveryWorkers = DefaultDeliveryWorkers
	}
}

// FetcherStats is a point-in-time view of the subscription table.
type FetcherStats struct {
	Subscriptions int `json:"subscriptions"`
	Subscribers   int `json:"subscribers"`
	InFlight      int `json:"in_flight"`
}

type subscription struct {
	address     protocol.SourceAddress
	subscribers []SubscriberFunc
	inFlight    bool
	attempts    int
}

type subscribeRequest struct {
	address protocol.SourceAddress
	fn      SubscriberFunc
}

type fetchResult struct {
	address protocol.SourceAddress
	content []byte
	err     error
}

// SourceFetcher is a polling multiplexer over content addresses.
//
// A single goroutine owns the subscription table. Subscribe calls, fetch
// results and stats queries reach it over channels, so table updates never race.
// Every poll tick retrieves each outstanding key that is not already in flight.
// A successful retrieval removes the key and delivers the content to its
// subscribers in registration order on the delivery pool. A failed retrieval
// leaves the key in place for the next tick.
type SourceFetcher struct {
	services.StateMachine
	lggr    logger.Logger
	cfg     FetcherConfig
	fetcher ContentFetcher
	metrics *monitoring.MetricLabeler
	pool    *ants.Pool

	subscribeCh chan subscribeRequest
	resultCh    chan fetchResult
	statsCh     chan chan FetcherStats
	stopCh      services.StopChan
	wg          sync.WaitGroup

	// Owned by the run goroutine.
	subscriptions map[string]*subscription
	// Deliveries waiting for a free pool worker, in arrival order.
	backlog []func()
	// Retrievals started and not yet reported, across all ticks.
	inFlight int
}

// NewSourceFetcher creates a fetcher. Subscriptions made before Start are
// buffered and picked up once the fetcher runs.
func NewSourceFetcher(lggr logger.Logger, fetcher ContentFetcher, metrics *monitoring.MetricLabeler, cfg FetcherConfig) (*SourceFetcher, error) {
	cfg.setDefaults()
	pool, err := ants.NewPool(cfg.DeliveryWorkers, ants.WithNonblocking(true))
	if err != nil {
		return nil, err
	}
	return &SourceFetcher{
		lggr:          logger.With(lggr, "component", "SourceFetcher"),
		cfg:           cfg,
		fetcher:       fetcher,
		metrics:       metrics,
		pool:          pool,
		subscribeCh:   make(chan subscribeRequest, subscribeBufferSize),
		resultCh:      make(chan fetchResult),
		statsCh:       make(chan chan FetcherStats),
		stopCh:        make(chan struct{}),
		subscriptions: make(map[string]*subscription),
	}, nil
}

func (f *SourceFetcher) Start(ctx context.Context) error {
	return f.StartOnce("SourceFetcher", func() error {
		f.lggr.Infow("Starting source fetcher",
			"pollInterval", f.cfg.PollInterval,
			"maxConcurrentFetches", f.cfg.MaxConcurrentFetches)
		f.wg.Go(f.run)
		return nil
	})
}

func (f *SourceFetcher) Close() error {
	return f.StopOnce("SourceFetcher", func() error {
		f.lggr.Infow("Stopping source fetcher")
		close(f.stopCh)
		f.wg.Wait()
		if len(f.backlog) > 0 {
			f.lggr.Warnw("Dropping undelivered content", "deliveries", len(f.backlog))
		}
		if err := f.pool.ReleaseTimeout(releaseTimeout); err != nil {
			f.lggr.Warnw("Delivery pool did not drain before timeout", "error", err)
		}
		f.lggr.Infow("Source fetcher stopped")
		return nil
	})
}

func (f *SourceFetcher) Name() string { return "SourceFetcher" }

func (f *SourceFetcher) HealthReport() map[string]error {
	return map[string]error{f.Name(): f.Healthy()}
}

// Subscribe registers fn for the content at addr. Subscribing to a key that
// is already outstanding appends to its subscriber list without issuing another
// retrieval. Once delivered, the key is forgotten and a later Subscribe starts
// a new retrieval cycle.
func (f *SourceFetcher) Subscribe(addr protocol.SourceAddress, fn SubscriberFunc) error {
	if fn == nil {
		return errors.New("nil subscriber")
	}
	select {
	case <-f.stopCh:
		return protocol.ErrFetcherStopped
	default:
	}
	select {
	case f.subscribeCh <- subscribeRequest{address: addr, fn: fn}:
		return nil
	case <-f.stopCh:
		return protocol.ErrFetcherStopped
	}
}

// SubscribeChan is Subscribe as a future: the returned channel receives the
// content once and is then closed.
func (f *SourceFetcher) SubscribeChan(addr protocol.SourceAddress) (<-chan []byte, error) {
	ch := make(chan []byte, 1)
	err := f.Subscribe(addr, func(content []byte) {
		ch <- content
		close(ch)
	})
	if err != nil {
		return nil, err
	}
	return ch, nil
}

// Stats returns a snapshot of the subscription table. It fails fast when the
// fetcher is not running.
func (f *SourceFetcher) Stats(ctx context.Context) (FetcherStats, error) {
	select {
	case <-f.stopCh:
		return FetcherStats{}, protocol.ErrFetcherStopped
	default:
	}
	if err := f.Ready(); err != nil {
		return FetcherStats{}, err
	}
	reply := make(chan FetcherStats, 1)
	select {
	case f.statsCh <- reply:
	case <-f.stopCh:
		return FetcherStats{}, protocol.ErrFetcherStopped
	case <-ctx.Done():
		return FetcherStats{}, ctx.Err()
	}
	select {
	case stats := <-reply:
		return stats, nil
	case <-ctx.Done():
		return FetcherStats{}, ctx.Err()
	}
}

func (f *SourceFetcher) run() {
	ctx, cancel := f.stopCh.NewCtx()
	defer cancel()

	ticker := time.NewTicker(f.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-f.stopCh:
			return
		case req := <-f.subscribeCh:
			f.handleSubscribe(req)
		case res := <-f.resultCh:
			f.handleResult(res)
		case reply := <-f.statsCh:
			reply <- f.stats()
		case <-ticker.C:
			f.tick(ctx)
		case <-f.backlogRetry():
			f.drainBacklog()
		}
	}
}

func (f *SourceFetcher) handleSubscribe(req subscribeRequest) {
	key := req.address.Key()
	sub, ok := f.subscriptions[key]
	if !ok {
		sub = &subscription{address: req.address}
		f.subscriptions[key] = sub
		f.metrics.SetPendingSubscriptions(len(f.subscriptions))
	}
	sub.subscribers = append(sub.subscribers, req.fn)
	f.lggr.Debugw("Subscribed", "key", key, "subscribers", len(sub.subscribers))
}

// tick starts retrievals for outstanding keys, never exceeding
// MaxConcurrentFetches in flight including those from earlier ticks.
func (f *SourceFetcher) tick(ctx context.Context) {
	budget := f.cfg.MaxConcurrentFetches - f.inFlight
	var batch []protocol.SourceAddress
	for _, sub := range f.subscriptions {
		if len(batch) >= budget {
			break
		}
		if sub.inFlight {
			continue
		}
		sub.inFlight = true
		sub.attempts++
		batch = append(batch, sub.address)
	}
	if len(batch) == 0 {
		return
	}
	f.inFlight += len(batch)
	f.lggr.Debugw("Fetching outstanding sources", "count", len(batch), "inFlight", f.inFlight, "outstanding", len(f.subscriptions))

	f.wg.Go(func() {
		var g errgroup.Group
		g.SetLimit(len(batch))
		for _, addr := range batch {
			g.Go(func() error {
				start := time.Now()
				content, err := f.fetcher.Fetch(ctx, addr)
				f.metrics.RecordGatewayFetch(addr.Origin.String(), err, time.Since(start))
				select {
				case f.resultCh <- fetchResult{address: addr, content: content, err: err}:
				case <-f.stopCh:
				}
				return nil
			})
		}
		_ = g.Wait()
	})
}

func (f *SourceFetcher) handleResult(res fetchResult) {
	f.inFlight--
	key := res.address.Key()
	sub, ok := f.subscriptions[key]
	if !ok {
		return
	}
	if res.err != nil {
		sub.inFlight = false
		f.lggr.Warnw("Failed to fetch source, will retry", "key", key, "attempt", sub.attempts, "error", res.err)
		return
	}

	// Remove and snapshot in the same step: later subscribers start a new cycle.
	delete(f.subscriptions, key)
	subscribers := sub.subscribers
	f.metrics.SetPendingSubscriptions(len(f.subscriptions))
	f.lggr.Debugw("Fetched source", "key", key, "attempt", sub.attempts, "bytes", len(res.content), "subscribers", len(subscribers))

	f.dispatch(res.address, res.content, subscribers)
}

// dispatch queues delivery to subscribers in registration order. Deliveries
// run only on the pool; when every worker is busy they wait in the backlog.
func (f *SourceFetcher) dispatch(addr protocol.SourceAddress, content []byte, subscribers []SubscriberFunc) {
	f.backlog = append(f.backlog, func() {
		for _, fn := range subscribers {
			f.deliver(addr, content, fn)
		}
	})
	f.drainBacklog()
}

func (f *SourceFetcher) drainBacklog() {
	for len(f.backlog) > 0 {
		if err := f.pool.Submit(f.backlog[0]); err != nil {
			if errors.Is(err, ants.ErrPoolOverload) {
				f.lggr.Debugw("Delivery pool busy, deferring deliveries", "backlog", len(f.backlog))
			} else {
				f.lggr.Errorw("Delivery pool rejected task", "backlog", len(f.backlog), "error", err)
			}
			return
		}
		f.backlog[0] = nil
		f.backlog = f.backlog[1:]
	}
}

// backlogRetry fires while deliveries are waiting for the pool.
func (f *SourceFetcher) backlogRetry() <-chan time.Time {
	if len(f.backlog) == 0 {
		return nil
	}
	return time.After(backlogRetryInterval)
}

func (f *SourceFetcher) deliver(addr protocol.SourceAddress, content []byte, fn SubscriberFunc) {
	defer func() {
		if r := recover(); r != nil {
			f.lggr.Errorw("Subscriber panicked", "key", addr.Key(), "panic", r)
		}
	}()
	fn(content)
}

func (f *SourceFetcher) stats() FetcherStats {
	stats := FetcherStats{Subscriptions: len(f.subscriptions), InFlight: f.inFlight}
	for _, sub := range f.subscriptions {
		stats.Subscribers += len(sub.subscribers)
	}
	return stats
}
