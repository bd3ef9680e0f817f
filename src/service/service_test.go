package service

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/mosaicnetworks/probe/src/common"
	"github.com/mosaicnetworks/probe/src/net"
	"github.com/mosaicnetworks/probe/src/node"
	"github.com/mosaicnetworks/probe/src/peers"
	"github.com/mosaicnetworks/probe/src/trace"
	"github.com/mosaicnetworks/probe/src/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testMaxBody = 1024

type testCluster struct {
	service *Service
	server  *httptest.Server
	nodes   []*node.Node
}

// newTestCluster serves count workers, IDs 0..count-1, from one server. The
// workers reach each other over HTTP through the server.
func newTestCluster(t *testing.T, count int, epochInterval time.Duration) *testCluster {
	s := NewService("", testMaxBody, time.Second, common.NewTestEntry(t, common.TestLogLevel))
	server := httptest.NewServer(s.Handler())
	t.Cleanup(server.Close)

	book := peers.NewTemplateBook(server.URL+"/worker/{id}", 0)

	c := &testCluster{service: s, server: server}
	for i := 0; i < count; i++ {
		conf := node.TestConfig(t)
		conf.Moniker = t.Name() + "/" + peers.ID(i).String()
		conf.EpochInterval = epochInterval

		trans := net.NewHTTPTransport(time.Second, testMaxBody, common.NewTestEntry(t, common.TestLogLevel))

		n, err := node.NewNode(conf, peers.ID(i), book, trans, trace.NewInmemStore(16))
		require.NoError(t, err)

		n.RunAsync()
		t.Cleanup(n.Shutdown)

		s.Register(peers.ID(i), n)
		c.nodes = append(c.nodes, n)
	}

	return c
}

func (c *testCluster) push(t *testing.T, path, body string) (int, string) {
	t.Helper()
	resp, err := http.Post(c.server.URL+path, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(data)
}

func (c *testCluster) get(t *testing.T, path string) (int, []byte) {
	t.Helper()
	resp, err := http.Get(c.server.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, data
}

func (c *testCluster) status(t *testing.T, path string) wire.Snapshot {
	t.Helper()
	code, body := c.get(t, path)
	require.Equal(t, http.StatusOK, code, string(body))

	var snap wire.Snapshot
	require.NoError(t, wire.UnmarshalJSON(body, &snap))
	return snap
}

func TestPushMessage(t *testing.T) {
	c := newTestCluster(t, 1, time.Hour)

	code, body := c.push(t, "/push/message", `{"command":"add_peer","data":"7"}`)
	assert.Equal(t, http.StatusOK, code)
	assert.Empty(t, body)

	snap := c.status(t, "/status")
	assert.Equal(t, 1, snap.PeerCount)
	assert.False(t, snap.Running)
	assert.EqualValues(t, 0, snap.Epoch)
}

func TestStatusFields(t *testing.T) {
	c := newTestCluster(t, 1, time.Hour)

	code, body := c.get(t, "/status")
	require.Equal(t, http.StatusOK, code)

	var fields map[string]interface{}
	require.NoError(t, wire.UnmarshalJSON(body, &fields))
	for _, f := range []string{"epoch", "precision", "peer_count", "running"} {
		assert.Contains(t, fields, f)
	}
}

func TestBogusCommandLeavesStateUnchanged(t *testing.T) {
	c := newTestCluster(t, 1, time.Hour)

	c.push(t, "/push/message", `{"command":"add_peer","data":3}`)
	before := c.status(t, "/status")

	for _, body := range []string{
		`{"command":"bogus_command"}`,
		`"bogus_command"`,
		`bogus_command`,
		`{"command":"add_peer","data":"x"}`,
		`{"command":"start_optimize","data":[1,2]}`,
		`{"data":"3"}`,
		`{"command":3}`,
		`[1,2]`,
		``,
	} {
		code, msg := c.push(t, "/push/message", body)
		assert.Equal(t, http.StatusBadRequest, code, "body %q", body)
		assert.NotEmpty(t, msg, "body %q", body)
	}

	after := c.status(t, "/status")
	if diff := cmp.Diff(before, after); diff != "" {
		t.Fatalf("state changed (-before +after):\n%s", diff)
	}
}

func TestBareScalarEqualsEnvelope(t *testing.T) {
	for _, scalar := range []string{"5", `"5"`, "0x05"} {
		a := newTestCluster(t, 1, time.Hour)
		b := newTestCluster(t, 1, time.Hour)

		code, _ := a.push(t, "/push/message", scalar)
		require.Equal(t, http.StatusOK, code, scalar)

		code, _ = b.push(t, "/push/message", `{"command":"set_id","data":"5"}`)
		require.Equal(t, http.StatusOK, code)

		sa := a.status(t, "/status")
		sb := b.status(t, "/status")
		if diff := cmp.Diff(sa, sb); diff != "" {
			t.Fatalf("%s: states differ (-bare +envelope):\n%s", scalar, diff)
		}
		assert.EqualValues(t, 5, sa.ID)
	}
}

func TestOversizedBody(t *testing.T) {
	c := newTestCluster(t, 1, time.Hour)

	big := `{"command":"set_id","data":"` + strings.Repeat("1", 2*testMaxBody) + `"}`
	code, _ := c.push(t, "/push/message", big)
	assert.Equal(t, http.StatusRequestEntityTooLarge, code)
}

func TestWorkerRoutes(t *testing.T) {
	c := newTestCluster(t, 2, time.Hour)

	code, _ := c.push(t, "/push/message/1", `{"command":"add_peer","data":"0"}`)
	require.Equal(t, http.StatusOK, code)
	code, _ = c.push(t, "/worker/1/push/message", `{"command":"add_peer","data":"2"}`)
	require.Equal(t, http.StatusOK, code)

	assert.Equal(t, 2, c.status(t, "/status/1").PeerCount)
	assert.Equal(t, 2, c.status(t, "/worker/1/status").PeerCount)
	assert.Equal(t, 0, c.status(t, "/status").PeerCount, "worker 0 is the default")

	code, _ = c.push(t, "/push/message/9", `{"command":"add_peer","data":"0"}`)
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = c.get(t, "/status/nope")
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = c.get(t, "/worker/9/peers")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestEpochsOverHTTP(t *testing.T) {
	c := newTestCluster(t, 2, 20*time.Millisecond)

	c.push(t, "/push/message/0", `{"command":"add_peer","data":"1"}`)
	c.push(t, "/push/message/1", `{"command":"start_optimize","data":"4"}`)
	c.push(t, "/push/message/1", `{"command":"stop_optimize"}`)
	c.push(t, "/push/message/0", `{"command":"start_optimize","data":0}`)

	require.Eventually(t, func() bool {
		snap, err := c.nodes[0].Status(context.Background())
		return err == nil && snap.Epoch >= 3
	}, 5*time.Second, 10*time.Millisecond)

	c.push(t, "/push/message/0", `{"command":"stop_optimize"}`)

	snap := c.status(t, "/status/0")
	assert.InDelta(t, 4, snap.Value[0], 0.5, "value should approach the peer's")

	code, body := c.get(t, "/peers")
	require.Equal(t, http.StatusOK, code)
	var infos []wire.PeerInfo
	require.NoError(t, wire.UnmarshalJSON(body, &infos))
	require.Len(t, infos, 1)
	assert.True(t, infos[0].Online)
	assert.Equal(t, c.server.URL+"/worker/1", infos[0].Addr)

	code, body = c.get(t, "/trace?limit=2")
	require.Equal(t, http.StatusOK, code)
	var records []trace.Record
	require.NoError(t, wire.UnmarshalJSON(body, &records))
	assert.Len(t, records, 2)

	code, body = c.get(t, "/estimate/1")
	require.Equal(t, http.StatusOK, code, string(body))
	var est wire.Estimate
	require.NoError(t, wire.UnmarshalJSON(body, &est))
	assert.EqualValues(t, 1, est.To)

	code, body = c.get(t, "/estimate/1/0")
	require.Equal(t, http.StatusOK, code, string(body))
	var back wire.Estimate
	require.NoError(t, wire.UnmarshalJSON(body, &back))
	assert.EqualValues(t, 1, back.From)
	assert.InDelta(t, est.Distance, back.Distance, 1e-9)

	code, body = c.get(t, "/worker/0/resolved")
	require.Equal(t, http.StatusOK, code)
	var coords []wire.Coordinate
	require.NoError(t, wire.UnmarshalJSON(body, &coords))
	require.Len(t, coords, 2)
	assert.EqualValues(t, 0, coords[0].ID)
	assert.EqualValues(t, 1, coords[1].ID)

	code, _ = c.get(t, "/estimate/0/9")
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = c.get(t, "/estimate/0/x")
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = c.get(t, "/estimate/5")
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = c.get(t, "/estimate/x")
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = c.get(t, "/trace?limit=-1")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestExchangeJSON(t *testing.T) {
	c := newTestCluster(t, 1, time.Hour)
	c.push(t, "/push/message", `{"command":"start_optimize","data":"2.5"}`)

	req, _ := wire.MarshalJSON(&wire.ExchangeRequest{FromID: 3, Value: []float64{1}})
	resp, err := http.Post(c.server.URL+"/exchange", wire.ContentTypeJSON, bytes.NewReader(req))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	data, _ := io.ReadAll(resp.Body)
	var out wire.ExchangeResponse
	require.NoError(t, wire.UnmarshalJSON(data, &out))
	assert.Equal(t, []float64{2.5}, out.Value)

	resp2, err := http.Post(c.server.URL+"/exchange", wire.ContentTypeMsgpack, strings.NewReader("\xc1"))
	require.NoError(t, err)
	resp2.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp2.StatusCode)
}

func TestEchoHealthzMetrics(t *testing.T) {
	c := newTestCluster(t, 1, time.Hour)

	code, body := c.get(t, "/echo/hello")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "hello", string(body))

	code, body = c.get(t, "/healthz")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", string(body))

	code, body = c.get(t, "/metrics")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(body), "probe_requests_total")
}

func TestCORS(t *testing.T) {
	c := newTestCluster(t, 1, time.Hour)

	resp, err := http.Get(c.server.URL + "/status")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestShutdownNodeUnavailable(t *testing.T) {
	c := newTestCluster(t, 1, time.Hour)
	c.nodes[0].Shutdown()

	code, _ := c.get(t, "/status")
	assert.Equal(t, http.StatusServiceUnavailable, code)
}

func TestServeAndShutdown(t *testing.T) {
	s := NewService("127.0.0.1:0", testMaxBody, time.Second, common.NewTestEntry(t, common.TestLogLevel))

	done := make(chan error, 1)
	go func() { done <- s.Serve() }()

	require.Eventually(t, func() bool {
		s.RLock()
		defer s.RUnlock()
		return s.server != nil
	}, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatalf("Serve did not return")
	}
}
