package net

// RPCResponse captures both a response and a potential error.
type RPCResponse struct {
	Response interface{}
	Error    error
}

// RPC encapsulates a request and provides a response mechanism.
type RPC struct {
	Command  interface{}
	RespChan chan<- RPCResponse
}

// NewRPC wraps cmd in an RPC and returns the channel its response will be
// delivered on. The channel is buffered so that responding never blocks.
func NewRPC(cmd interface{}) (RPC, <-chan RPCResponse) {
	respCh := make(chan RPCResponse, 1)
	return RPC{Command: cmd, RespChan: respCh}, respCh
}

// Respond is used to respond with a response, error or both.
func (r *RPC) Respond(resp interface{}, err error) {
	r.RespChan <- RPCResponse{resp, err}
}
