package net

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mosaicnetworks/probe/src/common"
	"github.com/mosaicnetworks/probe/src/wire"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echoExchanger struct {
	id    uint32
	value []float64
	seen  []*wire.ExchangeRequest
}

func (e *echoExchanger) ProcessExchange(ctx context.Context, req *wire.ExchangeRequest) (*wire.ExchangeResponse, error) {
	e.seen = append(e.seen, req)
	return &wire.ExchangeResponse{FromID: 9, Epoch: req.Epoch, Value: e.value}, nil
}

func TestInmemTransport(t *testing.T) {
	trans := NewInmemTransport()
	peer := &echoExchanger{value: []float64{4}}
	trans.Connect("peer", peer)

	args := &wire.ExchangeRequest{FromID: 1, Epoch: 3, Value: []float64{0}}
	var resp wire.ExchangeResponse

	require.NoError(t, trans.Exchange(context.Background(), "peer", args, &resp))
	assert.Equal(t, []float64{4}, resp.Value)
	assert.EqualValues(t, 3, resp.Epoch)

	// The receiver gets its own copy of the value.
	peer.seen[0].Value[0] = 100
	assert.Equal(t, 0.0, args.Value[0])

	resp.Value[0] = 7
	assert.Equal(t, 4.0, peer.value[0])

	trans.Disconnect("peer")
	assert.Error(t, trans.Exchange(context.Background(), "peer", args, &resp))
}

func TestInmemTransportDelay(t *testing.T) {
	trans := NewInmemTransport()
	trans.Connect("slow", &echoExchanger{value: []float64{1}})
	trans.SetDelay("slow", time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	var resp wire.ExchangeResponse
	err := trans.Exchange(ctx, "slow", &wire.ExchangeRequest{}, &resp)
	assert.True(t, errors.Is(err, context.DeadlineExceeded), "got %v", err)

	trans.SetDelay("slow", 0)
	assert.NoError(t, trans.Exchange(context.Background(), "slow", &wire.ExchangeRequest{}, &resp))

	require.NoError(t, trans.Close())
	assert.ErrorIs(t, trans.Exchange(context.Background(), "slow", &wire.ExchangeRequest{}, &resp), ErrTransportShutdown)
}

func newTestHTTPTransport(t *testing.T, maxBody int64) *HTTPTransport {
	return NewHTTPTransport(time.Second, maxBody, common.NewTestEntry(t, logrus.DebugLevel))
}

func TestHTTPTransport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != ExchangePath || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		assert.Equal(t, wire.ContentTypeMsgpack, r.Header.Get("Content-Type"))

		body, _ := io.ReadAll(r.Body)
		var req wire.ExchangeRequest
		if err := wire.Unmarshal(body, &req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		out, _ := wire.Marshal(&wire.ExchangeResponse{FromID: 2, Epoch: req.Epoch, Value: []float64{req.Value[0] + 1}})
		w.Header().Set("Content-Type", wire.ContentTypeMsgpack)
		w.Write(out)
	}))
	defer srv.Close()

	trans := newTestHTTPTransport(t, 1024)
	defer trans.Close()

	var resp wire.ExchangeResponse
	err := trans.Exchange(context.Background(), srv.URL+"/", &wire.ExchangeRequest{FromID: 1, Epoch: 8, Value: []float64{1.5}}, &resp)
	require.NoError(t, err)
	assert.EqualValues(t, 2, resp.FromID)
	assert.EqualValues(t, 8, resp.Epoch)
	assert.Equal(t, []float64{2.5}, resp.Value)
}

func TestHTTPTransportErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/big" + ExchangePath:
			w.Write(make([]byte, 4096))
		case "/garbage" + ExchangePath:
			w.Write([]byte{0xc1})
		case "/slow" + ExchangePath:
			select {
			case <-time.After(time.Second):
			case <-r.Context().Done():
			}
		default:
			http.Error(w, "no such worker", http.StatusNotFound)
		}
	}))
	defer srv.Close()

	trans := newTestHTTPTransport(t, 1024)
	defer trans.Close()

	req := &wire.ExchangeRequest{Value: []float64{0}}

	for _, path := range []string{"/missing", "/big", "/garbage"} {
		var resp wire.ExchangeResponse
		err := trans.Exchange(context.Background(), srv.URL+path, req, &resp)
		assert.Error(t, err, path)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	var resp wire.ExchangeResponse
	err := trans.Exchange(ctx, srv.URL+"/slow", req, &resp)
	assert.True(t, errors.Is(err, context.DeadlineExceeded), "got %v", err)

	require.NoError(t, trans.Close())
	assert.ErrorIs(t, trans.Exchange(context.Background(), srv.URL, req, &resp), ErrTransportShutdown)
}
