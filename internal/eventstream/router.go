package eventstream

import (
	"context"
	"log/slog"
	"strings"
	"sync"
)

const (
	defaultSubscriberCapacity = 100
	defaultBacklogLimit       = 50
	defaultDedupeWindow       = 1024
)

// RouterOption customizes Router construction.
type RouterOption func(*Router)

// Router delivers run events to per-run subscribers with buffering,
// deduplication, and bounded channel semantics.
type Router struct {
	mu           sync.RWMutex
	subscribers  map[string]map[*subscriber]struct{}
	backlog      map[string][]Event
	recentIDs    map[string]struct{}
	recentOrder  []string
	channelSize  int
	backlogLimit int
	dedupeWindow int
	logger       *slog.Logger
}

var _ Stream = (*Router)(nil)

// Subscription represents an active run subscription.
type Subscription struct {
	Events <-chan Event
	cancel func()
}

// Close terminates the subscription.
func (s Subscription) Close() {
	if s.cancel != nil {
		s.cancel()
	}
}

// NewRouter constructs a router with sane defaults.
func NewRouter(opts ...RouterOption) *Router {
	r := &Router{
		subscribers:  map[string]map[*subscriber]struct{}{},
		backlog:      map[string][]Event{},
		recentIDs:    map[string]struct{}{},
		recentOrder:  make([]string, 0, defaultDedupeWindow),
		channelSize:  defaultSubscriberCapacity,
		backlogLimit: defaultBacklogLimit,
		dedupeWindow: defaultDedupeWindow,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// RouterWithLogger injects a logger for drop messages.
func RouterWithLogger(logger *slog.Logger) RouterOption {
	return func(r *Router) {
		r.logger = logger
	}
}

// RouterWithSubscriberCapacity overrides the buffered channel size per subscriber.
func RouterWithSubscriberCapacity(cap int) RouterOption {
	return func(r *Router) {
		if cap > 0 {
			r.channelSize = cap
		}
	}
}

// RouterWithBacklogLimit overrides the backlog size for pre-subscription buffering.
func RouterWithBacklogLimit(limit int) RouterOption {
	return func(r *Router) {
		if limit > 0 {
			r.backlogLimit = limit
		}
	}
}

// RouterWithDedupeWindow controls how many recent event IDs are retained.
func RouterWithDedupeWindow(size int) RouterOption {
	return func(r *Router) {
		if size > 0 {
			r.dedupeWindow = size
		}
	}
}

// Subscribe registers for the events of one run. Events routed before the
// first subscriber arrived are replayed.
func (r *Router) Subscribe(run string) Subscription {
	key := normalizeRun(run)
	sub := newSubscriber(r.channelSize, r.logger)
	r.mu.Lock()
	if r.subscribers[key] == nil {
		r.subscribers[key] = map[*subscriber]struct{}{}
	}
	r.subscribers[key][sub] = struct{}{}
	// backlog goes out before any live event can reach the new subscriber
	for _, event := range r.backlog[key] {
		sub.deliver(event)
	}
	delete(r.backlog, key)
	r.mu.Unlock()
	return Subscription{
		Events: sub.channel(),
		cancel: func() {
			r.removeSubscriber(key, sub)
		},
	}
}

// Emit routes the event. Buffered events report ResultUnknown; events that
// were dropped or lack a run report ResultFailure.
func (r *Router) Emit(_ context.Context, event Event) Result {
	if event.ID != "" && r.isDuplicate(event.ID) {
		return ResultSuccess
	}
	key := normalizeRun(event.Run)
	if key == "" {
		return ResultFailure
	}
	r.mu.RLock()
	subs := r.snapshotSubscribers(key)
	r.mu.RUnlock()
	if len(subs) == 0 {
		if r.bufferEvent(key, event) {
			return ResultUnknown
		}
		r.mu.RLock()
		subs = r.snapshotSubscribers(key)
		r.mu.RUnlock()
	}
	results := make([]Result, 0, len(subs))
	for _, sub := range subs {
		results = append(results, sub.deliver(event))
	}
	return Worst(results...)
}

func (r *Router) snapshotSubscribers(key string) []*subscriber {
	live := r.subscribers[key]
	if len(live) == 0 {
		return nil
	}
	items := make([]*subscriber, 0, len(live))
	for sub := range live {
		items = append(items, sub)
	}
	return items
}

func (r *Router) removeSubscriber(key string, sub *subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if subs := r.subscribers[key]; subs != nil {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(r.subscribers, key)
		}
	}
	sub.close()
}

// bufferEvent queues the event for a future subscriber. It reports false
// when a subscriber arrived since the caller looked.
func (r *Router) bufferEvent(key string, event Event) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.subscribers[key]) > 0 {
		return false
	}
	queue := r.backlog[key]
	if len(queue) >= r.backlogLimit {
		queue = queue[1:]
		if r.logger != nil {
			r.logger.Warn("eventstream: backlog drop", "run", key, "limit", r.backlogLimit)
		}
	}
	queue = append(queue, event)
	r.backlog[key] = queue
	return true
}

func (r *Router) isDuplicate(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.recentIDs[id]; ok {
		return true
	}
	r.recentIDs[id] = struct{}{}
	r.recentOrder = append(r.recentOrder, id)
	if len(r.recentOrder) > r.dedupeWindow {
		oldest := r.recentOrder[0]
		r.recentOrder = r.recentOrder[1:]
		delete(r.recentIDs, oldest)
	}
	return false
}

func normalizeRun(run string) string {
	return strings.TrimSpace(run)
}

type subscriber struct {
	mu     sync.Mutex
	ch     chan Event
	logger *slog.Logger
	closed bool
}

func newSubscriber(capacity int, logger *slog.Logger) *subscriber {
	if capacity <= 0 {
		capacity = defaultSubscriberCapacity
	}
	return &subscriber{
		ch:     make(chan Event, capacity),
		logger: logger,
	}
}

func (s *subscriber) channel() <-chan Event {
	return s.ch
}

// deliver never blocks. On overflow it keeps whichever of the oldest queued
// event and the incoming one matters more.
func (s *subscriber) deliver(event Event) Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ResultFailure
	}
	select {
	case s.ch <- event:
		return ResultSuccess
	default:
	}
	var oldest Event
	select {
	case oldest = <-s.ch:
	default:
		// the reader drained the queue in the meantime
		s.ch <- event
		return ResultSuccess
	}
	if shouldDropOldest(oldest, event) {
		s.logDrop(oldest, "queue overflow")
		s.ch <- event
		return ResultSuccess
	}
	s.ch <- oldest
	s.logDrop(event, "queue overflow:incoming")
	return ResultFailure
}

func (s *subscriber) logDrop(event Event, reason string) {
	if s.logger == nil {
		return
	}
	s.logger.Warn("eventstream: dropped event", "event", event.Name, "run", event.Run, "reason", reason)
}

func (s *subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

func shouldDropOldest(oldest, incoming Event) bool {
	oldestTerminal := isTerminalEvent(oldest.Name)
	incomingTerminal := isTerminalEvent(incoming.Name)
	switch {
	case oldestTerminal && !incomingTerminal:
		return false
	case !oldestTerminal && incomingTerminal:
		return true
	}
	oldestPreferred := isPreferredDrop(oldest.Name)
	incomingPreferred := isPreferredDrop(incoming.Name)
	if oldestPreferred && !incomingPreferred {
		return true
	}
	if !oldestPreferred && incomingPreferred {
		return false
	}
	return true
}

func isTerminalEvent(name string) bool {
	switch name {
	case "run.completed", "run.paused", "run.failed":
		return true
	}
	return false
}

func isPreferredDrop(name string) bool {
	return strings.HasPrefix(name, "retry.") || strings.HasPrefix(name, "adapter.")
}
