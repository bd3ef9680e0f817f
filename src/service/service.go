// Package service exposes probe nodes over HTTP: the command ingress, status
// and telemetry views, and the endpoint peers exchange values through.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mosaicnetworks/probe/src/common"
	"github.com/mosaicnetworks/probe/src/net"
	"github.com/mosaicnetworks/probe/src/node"
	"github.com/mosaicnetworks/probe/src/peers"
	"github.com/mosaicnetworks/probe/src/telemetry"
	"github.com/mosaicnetworks/probe/src/trace"
	"github.com/mosaicnetworks/probe/src/wire"
	"github.com/sirupsen/logrus"
)

// DefaultTraceLimit is the number of records /trace returns without a limit
// parameter.
const DefaultTraceLimit = 100

// Node is what the service needs from a worker. It is implemented by
// *node.Node.
type Node interface {
	net.Exchanger
	Submit(ctx context.Context, cmd wire.Command) (wire.Snapshot, error)
	Status(ctx context.Context) (wire.Snapshot, error)
	Peers(ctx context.Context) ([]wire.PeerInfo, error)
	Estimate(ctx context.Context, peer peers.ID) (wire.Estimate, error)
	EstimateBetween(ctx context.Context, from, to peers.ID) (wire.Estimate, error)
	Resolved(ctx context.Context) ([]wire.Coordinate, error)
	Trace(limit int) ([]trace.Record, error)
}

// Service serves the HTTP API of every worker hosted by the process. The
// first registered worker answers the routes that carry no worker ID.
type Service struct {
	sync.RWMutex

	bindAddress string
	maxBody     int64
	timeout     time.Duration
	workers     map[peers.ID]Node
	first       *peers.ID

	mux    *http.ServeMux
	server *http.Server
	logger *logrus.Entry
}

// NewService ...
func NewService(bindAddress string, maxBody int64, timeout time.Duration, logger *logrus.Entry) *Service {
	service := Service{
		bindAddress: bindAddress,
		maxBody:     maxBody,
		timeout:     timeout,
		workers:     make(map[peers.ID]Node),
		mux:         http.NewServeMux(),
		logger:      logger,
	}

	service.registerHandlers()

	return &service
}

// Register adds a worker.
func (s *Service) Register(id peers.ID, n Node) {
	s.Lock()
	defer s.Unlock()

	s.workers[id] = n
	if s.first == nil {
		s.first = &id
	}
}

// Rename moves the worker registered under from to the ID to. It fails when
// from is unknown or to is already served.
func (s *Service) Rename(from, to peers.ID) error {
	s.Lock()
	defer s.Unlock()

	n, ok := s.workers[from]
	if !ok {
		return fmt.Errorf("unknown worker %s", from)
	}
	if _, taken := s.workers[to]; taken {
		return fmt.Errorf("worker %s already served by this process", to)
	}

	delete(s.workers, from)
	s.workers[to] = n
	if s.first != nil && *s.first == from {
		s.first = &to
	}

	return nil
}

func (s *Service) registerHandlers() {
	s.logger.Debug("Registering probe API handlers")

	perWorker := []struct {
		op      string
		pattern string
		fn      func(http.ResponseWriter, *http.Request, Node)
	}{
		{"push", "POST /push/message", s.PushMessage},
		{"status", "GET /status", s.GetStatus},
		{"exchange", "POST " + net.ExchangePath, s.Exchange},
		{"peers", "GET /peers", s.GetPeers},
		{"trace", "GET /trace", s.GetTrace},
		{"estimate", "GET /estimate/{peer}", s.GetEstimate},
		{"estimate", "GET /estimate/{from}/{to}", s.GetEstimateBetween},
		{"resolved", "GET /resolved", s.GetResolved},
	}

	for _, r := range perWorker {
		method, path, _ := strings.Cut(r.pattern, " ")
		h := s.makeHandler(r.op, s.withWorker(r.fn))
		s.mux.Handle(r.pattern, h)
		s.mux.Handle(method+" /worker/{worker}"+path, h)
	}

	// Legacy form of the worker-indexed ingress.
	s.mux.Handle("POST /push/message/{worker}", s.makeHandler("push", s.withWorker(s.PushMessage)))
	s.mux.Handle("GET /status/{worker}", s.makeHandler("status", s.withWorker(s.GetStatus)))

	s.mux.Handle("GET /echo/{msg}", s.makeHandler("echo", http.HandlerFunc(s.Echo)))
	s.mux.Handle("GET /healthz", s.makeHandler("healthz", http.HandlerFunc(s.Healthz)))
	s.mux.Handle("GET /metrics", telemetry.MetricsHandler())
}

func (s *Service) makeHandler(op string, fn http.Handler) http.Handler {
	return telemetry.Instrument(op, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// enable CORS
		w.Header().Set("Access-Control-Allow-Origin", "*")

		fn.ServeHTTP(w, r)
	}))
}

// withWorker resolves the {worker} path value, or the default worker when the
// route has none.
func (s *Service) withWorker(fn func(http.ResponseWriter, *http.Request, Node)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n, err := s.worker(r.PathValue("worker"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		fn(w, r, n)
	}
}

func (s *Service) worker(param string) (Node, error) {
	s.RLock()
	defer s.RUnlock()

	if param == "" {
		if s.first == nil {
			return nil, errors.New("no worker")
		}
		return s.workers[*s.first], nil
	}

	id, err := peers.ParseID(param)
	if err != nil {
		return nil, fmt.Errorf("worker %q: %w", param, err)
	}
	n, ok := s.workers[id]
	if !ok {
		return nil, fmt.Errorf("unknown worker %s", id)
	}
	return n, nil
}

// Handler returns the root handler, for embedding in another server.
func (s *Service) Handler() http.Handler {
	return s.mux
}

// Serve calls ListenAndServe. This is a blocking call. It returns nil after
// Shutdown.
func (s *Service) Serve() error {
	s.logger.WithField("bind_address", s.bindAddress).Debug("Serving probe API")

	s.Lock()
	s.server = &http.Server{
		Addr:              s.bindAddress,
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	server := s.server
	s.Unlock()

	err := server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops the server gracefully.
func (s *Service) Shutdown(ctx context.Context) error {
	s.RLock()
	server := s.server
	s.RUnlock()

	if server == nil {
		return nil
	}
	return server.Shutdown(ctx)
}

// readBody reads at most maxBody bytes. It writes the error response itself
// and returns false when the body cannot be used.
func (s *Service) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, fmt.Sprintf("body exceeds %d bytes", s.maxBody), http.StatusRequestEntityTooLarge)
			return nil, false
		}
		http.Error(w, err.Error(), http.StatusBadRequest)
		return nil, false
	}
	return body, true
}

func (s *Service) context(r *http.Request) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(r.Context())
	}
	return context.WithTimeout(r.Context(), s.timeout)
}

// errorStatus maps a node error to an HTTP status code.
func errorStatus(err error) int {
	switch {
	case common.IsDecode(err), common.IsCommand(err):
		return http.StatusBadRequest
	case errors.Is(err, peers.ErrUnknownPeer):
		return http.StatusNotFound
	case errors.Is(err, node.ErrNodeShutdown):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Service) fail(w http.ResponseWriter, err error) {
	code := errorStatus(err)
	if code >= http.StatusInternalServerError {
		s.logger.WithError(err).Error("Request failed")
	}
	http.Error(w, err.Error(), code)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	data, err := wire.MarshalJSON(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", wire.ContentTypeJSON)
	w.Write(data)
}

// PushMessage decodes a command and submits it to the node. The response body
// is empty on success.
func (s *Service) PushMessage(w http.ResponseWriter, r *http.Request, n Node) {
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}

	cmd, err := wire.DecodeEnvelope(body)
	if err != nil {
		s.logger.WithError(err).Debug("Rejected message")
		s.fail(w, err)
		return
	}

	ctx, cancel := s.context(r)
	defer cancel()

	if _, err := n.Submit(ctx, cmd); err != nil {
		s.logger.WithError(err).WithField("command", cmd.Tag()).Debug("Rejected command")
		s.fail(w, err)
		return
	}

	w.WriteHeader(http.StatusOK)
}

// GetStatus ...
func (s *Service) GetStatus(w http.ResponseWriter, r *http.Request, n Node) {
	ctx, cancel := s.context(r)
	defer cancel()

	snap, err := n.Status(ctx)
	if err != nil {
		s.fail(w, err)
		return
	}

	writeJSON(w, snap)
}

// Exchange answers a peer's ExchangeRequest. Requests and responses are
// msgpack unless the request is sent as JSON.
func (s *Service) Exchange(w http.ResponseWriter, r *http.Request, n Node) {
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}

	asJSON := strings.HasPrefix(r.Header.Get("Content-Type"), wire.ContentTypeJSON)

	var req wire.ExchangeRequest
	if asJSON {
		err := wire.UnmarshalJSON(body, &req)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	} else if err := wire.Unmarshal(body, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	resp, err := n.ProcessExchange(r.Context(), &req)
	if err != nil {
		s.fail(w, err)
		return
	}

	if asJSON {
		writeJSON(w, resp)
		return
	}

	data, err := wire.Marshal(resp)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", wire.ContentTypeMsgpack)
	w.Write(data)
}

// GetPeers ...
func (s *Service) GetPeers(w http.ResponseWriter, r *http.Request, n Node) {
	ctx, cancel := s.context(r)
	defer cancel()

	infos, err := n.Peers(ctx)
	if err != nil {
		s.fail(w, err)
		return
	}

	writeJSON(w, infos)
}

// GetTrace returns the last epoch records, oldest first.
func (s *Service) GetTrace(w http.ResponseWriter, r *http.Request, n Node) {
	limit := DefaultTraceLimit
	if param := r.URL.Query().Get("limit"); param != "" {
		l, err := strconv.Atoi(param)
		if err != nil || l < 0 {
			http.Error(w, fmt.Sprintf("invalid limit %q", param), http.StatusBadRequest)
			return
		}
		limit = l
	}

	records, err := n.Trace(limit)
	if err != nil {
		s.fail(w, err)
		return
	}

	writeJSON(w, records)
}

// GetEstimate ...
func (s *Service) GetEstimate(w http.ResponseWriter, r *http.Request, n Node) {
	peer, err := peers.ParseID(r.PathValue("peer"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	ctx, cancel := s.context(r)
	defer cancel()

	est, err := n.Estimate(ctx, peer)
	if err != nil {
		s.fail(w, err)
		return
	}

	writeJSON(w, est)
}

// GetEstimateBetween returns the distance between two IDs as seen by the
// node.
func (s *Service) GetEstimateBetween(w http.ResponseWriter, r *http.Request, n Node) {
	from, err := peers.ParseID(r.PathValue("from"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	to, err := peers.ParseID(r.PathValue("to"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	ctx, cancel := s.context(r)
	defer cancel()

	est, err := n.EstimateBetween(ctx, from, to)
	if err != nil {
		s.fail(w, err)
		return
	}

	writeJSON(w, est)
}

// GetResolved returns the coordinates the node holds, its own included.
func (s *Service) GetResolved(w http.ResponseWriter, r *http.Request, n Node) {
	ctx, cancel := s.context(r)
	defer cancel()

	coords, err := n.Resolved(ctx)
	if err != nil {
		s.fail(w, err)
		return
	}

	writeJSON(w, coords)
}

// Echo returns its path parameter. It is a liveness check for operators;
// round-trip times are measured on /exchange.
func (s *Service) Echo(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	io.WriteString(w, r.PathValue("msg"))
}

// Healthz ...
func (s *Service) Healthz(w http.ResponseWriter, r *http.Request) {
	io.WriteString(w, "ok")
}
