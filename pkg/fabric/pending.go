package fabric

import "sync"

// pendingCalls tracks direct calls awaiting a response, keyed by the
// request envelope id. Each slot is freed exactly once by whoever removes
// it: the caller on timeout or cancellation, or resolve on a response.
type pendingCalls struct {
	mu    sync.Mutex
	calls map[string]chan *Envelope
}

func newPendingCalls() *pendingCalls {
	return &pendingCalls{calls: make(map[string]chan *Envelope)}
}

// add opens a slot. The channel is buffered so resolve never blocks.
func (p *pendingCalls) add(id string) <-chan *Envelope {
	ch := make(chan *Envelope, 1)
	p.mu.Lock()
	p.calls[id] = ch
	p.mu.Unlock()
	return ch
}

// resolve hands a response to its waiting call. It returns false for late
// or unknown responses.
func (p *pendingCalls) resolve(resp *Envelope) bool {
	p.mu.Lock()
	ch, ok := p.calls[resp.ResponseID]
	if ok {
		delete(p.calls, resp.ResponseID)
	}
	p.mu.Unlock()

	if ok {
		ch <- resp
	}
	return ok
}

func (p *pendingCalls) remove(id string) {
	p.mu.Lock()
	delete(p.calls, id)
	p.mu.Unlock()
}

func (p *pendingCalls) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}
