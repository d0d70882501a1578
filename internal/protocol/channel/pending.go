package channel

import (
	"sort"
	"sync"
	"time"

	"github.com/danmuck/ledctl/internal/protocol"
)

type result struct {
	payload []byte
	err     error
}

// pendingCall tracks one outstanding call awaiting resolve or reject.
type pendingCall struct {
	id        uint32
	tag       protocol.Tag
	createdAt time.Time
	done      chan struct{}
	res       result
}

// complete must be called by whoever removed the record from the map.
func (p *pendingCall) complete(res result) {
	p.res = res
	close(p.done)
}

// pendingCalls stores outstanding calls by id.
type pendingCalls struct {
	mu    sync.RWMutex
	items map[uint32]*pendingCall
}

func newPendingCalls() *pendingCalls {
	return &pendingCalls{items: make(map[uint32]*pendingCall)}
}

func (p *pendingCalls) add(id uint32, tag protocol.Tag, at time.Time) *pendingCall {
	call := &pendingCall{id: id, tag: tag, createdAt: at, done: make(chan struct{})}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.items[id] = call
	return call
}

func (p *pendingCalls) has(id uint32) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.items[id]
	return ok
}

// take removes and returns the record for id.
func (p *pendingCalls) take(id uint32) (*pendingCall, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	call, ok := p.items[id]
	if ok {
		delete(p.items, id)
	}
	return call, ok
}

// drain removes every record, oldest first.
func (p *pendingCalls) drain() []*pendingCall {
	p.mu.Lock()
	out := make([]*pendingCall, 0, len(p.items))
	for _, call := range p.items {
		out = append(out, call)
	}
	p.items = make(map[uint32]*pendingCall)
	p.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		return out[i].createdAt.Before(out[j].createdAt)
	})
	return out
}

func (p *pendingCalls) len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.items)
}
