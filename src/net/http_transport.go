package net

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/mosaicnetworks/probe/src/wire"
	"github.com/sirupsen/logrus"
)

// ExchangePath is the route, relative to a node's base address, that accepts
// exchange requests.
const ExchangePath = "/exchange"

// HTTPTransport implements the Transport interface on top of plain HTTP. Each
// exchange is a POST of a MessagePack encoded ExchangeRequest to
// <target>/exchange.
type HTTPTransport struct {
	client  *http.Client
	maxBody int64
	logger  *logrus.Entry

	shutdown     bool
	shutdownLock sync.Mutex
}

// NewHTTPTransport creates a transport whose calls never outlive timeout and
// which refuses responses larger than maxBody bytes.
func NewHTTPTransport(timeout time.Duration, maxBody int64, logger *logrus.Entry) *HTTPTransport {
	if logger == nil {
		log := logrus.New()
		log.Level = logrus.DebugLevel
		logger = logrus.NewEntry(log)
	}

	return &HTTPTransport{
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		maxBody: maxBody,
		logger:  logger.WithField("transport", "http"),
	}
}

// Exchange implements the Transport interface.
func (t *HTTPTransport) Exchange(ctx context.Context, target string, args *wire.ExchangeRequest, resp *wire.ExchangeResponse) error {
	t.shutdownLock.Lock()
	shutdown := t.shutdown
	t.shutdownLock.Unlock()
	if shutdown {
		return ErrTransportShutdown
	}

	body, err := wire.Marshal(args)
	if err != nil {
		return err
	}

	url := strings.TrimSuffix(target, "/") + ExchangePath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", wire.ContentTypeMsgpack)
	req.Header.Set("Accept", wire.ContentTypeMsgpack)

	res, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	// Read one byte past the limit to detect oversized responses.
	data, err := io.ReadAll(io.LimitReader(res.Body, t.maxBody+1))
	if err != nil {
		return err
	}
	if int64(len(data)) > t.maxBody {
		return fmt.Errorf("response from %s exceeds %d bytes", target, t.maxBody)
	}

	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: %s: %s", url, res.Status, strings.TrimSpace(string(data)))
	}

	if err := wire.Unmarshal(data, resp); err != nil {
		return fmt.Errorf("decoding response from %s: %w", target, err)
	}

	t.logger.WithFields(logrus.Fields{
		"target": target,
		"epoch":  args.Epoch,
	}).Debug("Exchange")

	return nil
}

// Close implements the Transport interface.
func (t *HTTPTransport) Close() error {
	t.shutdownLock.Lock()
	defer t.shutdownLock.Unlock()

	if !t.shutdown {
		t.shutdown = true
		t.client.CloseIdleConnections()
	}
	return nil
}
