package hft

// Pool preallocates signal envelopes to bound allocation pressure on the
// hot path. Acquire falls back to fresh allocation when the free list is
// exhausted; Release drops envelopes beyond capacity.
type Pool struct {
	free chan *Envelope
}

// NewPool preallocates size envelopes.
func NewPool(size int) *Pool {
	if size <= 0 {
		size = 256
	}
	p := &Pool{free: make(chan *Envelope, size)}
	for i := 0; i < size; i++ {
		p.free <- &Envelope{}
	}
	return p
}

// Acquire returns a zeroed envelope.
func (p *Pool) Acquire() *Envelope {
	select {
	case e := <-p.free:
		return e
	default:
		return &Envelope{}
	}
}

// Release resets the envelope and returns it to the free list.
func (p *Pool) Release(e *Envelope) {
	if e == nil {
		return
	}
	e.reset()
	select {
	case p.free <- e:
	default:
	}
}

// Available returns the current free-list depth.
func (p *Pool) Available() int {
	return len(p.free)
}
