package app

import "sync"

// StatusRequest is a probe awaiting the driver's reply.
type StatusRequest struct {
	// Generation is the state generation the probe was issued against.
	Generation uint64

	once  sync.Once
	reply chan probeReply
}

type probeReply struct {
	running bool
	err     error
}

func newStatusRequest(generation uint64) *StatusRequest {
	return &StatusRequest{
		Generation: generation,
		reply:      make(chan probeReply, 1),
	}
}

// resolve delivers the driver reply. Calls after the first are ignored.
func (r *StatusRequest) resolve(running bool, err error) {
	r.once.Do(func() {
		r.reply <- probeReply{running: running, err: err}
	})
}
