package probe

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mosaicnetworks/probe/src/common"
	"github.com/mosaicnetworks/probe/src/config"
	"github.com/mosaicnetworks/probe/src/crypto/keys"
	"github.com/mosaicnetworks/probe/src/peers"
	"github.com/mosaicnetworks/probe/src/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestProbe(t *testing.T, mutate func(*config.Config)) *Probe {
	conf := config.NewTestConfig(t, common.TestLogLevel)
	conf.BindAddr = "127.0.0.1:2000"
	conf.Dim = 1
	conf.Init = "zero"
	if mutate != nil {
		mutate(conf)
	}

	p := NewProbe(conf)
	require.NoError(t, p.Init())
	t.Cleanup(p.Shutdown)

	for _, n := range p.Nodes {
		n.RunAsync()
	}

	return p
}

func TestIDFromKey(t *testing.T) {
	p := newTestProbe(t, nil)

	require.NotNil(t, p.Key)
	assert.Equal(t, keys.PublicKeyID(p.Key.PubKey()), p.ID)

	_, err := os.Stat(p.Config.Keyfile())
	require.NoError(t, err, "the key should be written to the data dir")

	// The same data dir yields the same ID.
	conf := config.NewTestConfig(t, common.TestLogLevel)
	conf.SetDataDir(p.Config.DataDir)
	again := NewProbe(conf)
	require.NoError(t, again.Init())
	t.Cleanup(again.Shutdown)
	assert.Equal(t, p.ID, again.ID)
}

func TestWorkers(t *testing.T) {
	p := newTestProbe(t, func(c *config.Config) {
		c.ID = "10"
		c.Workers = 3
	})

	require.Len(t, p.Nodes, 3)

	server := httptest.NewServer(p.Service.Handler())
	defer server.Close()

	for i, want := range []peers.ID{10, 11, 12} {
		resp, err := http.Get(server.URL + "/status/" + want.String())
		require.NoError(t, err)
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode, "worker %d", i)

		var snap wire.Snapshot
		require.NoError(t, wire.UnmarshalJSON(body, &snap))
		assert.Equal(t, want, snap.ID)
	}

	addr, err := p.Book.Addr(11)
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:2000/worker/11", addr)

	// Unknown peers fall through to the template.
	addr, err = p.Book.Addr(40)
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:2040", addr)
}

func TestSetIDMovesWorker(t *testing.T) {
	p := newTestProbe(t, func(c *config.Config) {
		c.ID = "10"
		c.Workers = 2
	})

	server := httptest.NewServer(p.Service.Handler())
	defer server.Close()

	push := func(worker, body string) int {
		resp, err := http.Post(server.URL+"/worker/"+worker+"/push/message",
			"application/json", strings.NewReader(body))
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}
	status := func(worker string) (int, wire.Snapshot) {
		resp, err := http.Get(server.URL + "/status/" + worker)
		require.NoError(t, err)
		defer resp.Body.Close()
		var snap wire.Snapshot
		if resp.StatusCode == http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			require.NoError(t, wire.UnmarshalJSON(body, &snap))
		}
		return resp.StatusCode, snap
	}

	require.Equal(t, http.StatusOK, push("10", `{"command":"set_id","data":"5"}`))

	code, snap := status("5")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, peers.ID(5), snap.ID)

	code, _ = status("10")
	assert.Equal(t, http.StatusNotFound, code)

	addr, err := p.Book.Addr(5)
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:2000/worker/5", addr)

	// 10 is no longer local and falls through to the template.
	addr, err = p.Book.Addr(10)
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:2010", addr)

	// An ID served by another worker of the process is refused.
	assert.Equal(t, http.StatusBadRequest, push("5", `{"command":"set_id","data":"11"}`))
	code, snap = status("5")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, peers.ID(5), snap.ID)
	code, snap = status("11")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, peers.ID(11), snap.ID)
}

func TestJSONBookOverridesTemplate(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, peers.NewJSONBook(dir).Write([]peers.Entry{
		{ID: "7", Addr: "http://10.1.1.7:9000"},
	}))

	p := newTestProbe(t, func(c *config.Config) {
		c.SetDataDir(dir)
		c.ID = "1"
	})

	addr, err := p.Book.Addr(7)
	require.NoError(t, err)
	assert.Equal(t, "http://10.1.1.7:9000", addr)

	addr, err = p.Book.Addr(8)
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:2008", addr)
}

func TestBadgerTrace(t *testing.T) {
	p := newTestProbe(t, func(c *config.Config) {
		c.ID = "3"
		c.Store = true
	})

	_, err := os.Stat(filepath.Join(p.Config.DatabaseDir, "3"))
	assert.NoError(t, err)
}

func TestInitErrors(t *testing.T) {
	for name, mutate := range map[string]func(*config.Config){
		"bad id":       func(c *config.Config) { c.ID = "x" },
		"no workers":   func(c *config.Config) { c.Workers = 0 },
		"id overflow":  func(c *config.Config) { c.ID = "4294967295"; c.Workers = 2 },
		"bad rule":     func(c *config.Config) { c.ID = "1"; c.Rule = "max" },
		"bad target":   func(c *config.Config) { c.ID = "1"; c.Target = "a" },
		"bad peerbook": nil,
	} {
		t.Run(name, func(t *testing.T) {
			conf := config.NewTestConfig(t, common.TestLogLevel)
			if mutate == nil {
				conf.ID = "1"
				path := peers.NewJSONBook(conf.DataDir).Path()
				require.NoError(t, os.WriteFile(path, []byte(`[{"id":"z","addr":"x"}]`), 0644))
			} else {
				mutate(conf)
			}

			p := NewProbe(conf)
			err := p.Init()
			p.Shutdown()
			assert.Error(t, err)
		})
	}
}

func TestPushThroughProbe(t *testing.T) {
	p := newTestProbe(t, func(c *config.Config) { c.ID = "0" })

	server := httptest.NewServer(p.Service.Handler())
	defer server.Close()

	resp, err := http.Post(server.URL+"/push/message", "application/json",
		strings.NewReader(`{"command":"start_optimize","data":"1.5"}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	snap, err := p.Nodes[0].Status(context.Background())
	require.NoError(t, err)
	assert.True(t, snap.Running)
	assert.Equal(t, []float64{1.5}, snap.Value)
}

func TestKeygen(t *testing.T) {
	dir := t.TempDir()

	key, err := Keygen(dir)
	require.NoError(t, err)
	require.NotNil(t, key)

	_, err = Keygen(dir)
	assert.Error(t, err, "a second key should be refused")
}
