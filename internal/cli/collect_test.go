package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/softnav/internal/store"
)

// syncBuffer is a bytes.Buffer safe for the collector goroutine to write
// while the test reads.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

var listenRE = regexp.MustCompile(`listening on (http://\S+)`)

// startCollector runs the collect command until the test ends and returns
// its base URL.
func startCollector(t *testing.T, args ...string) string {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())

	cmd := NewRootCommand()
	out := &syncBuffer{}
	cmd.SetOut(out)
	cmd.SetErr(&syncBuffer{})
	cmd.SetArgs(append([]string{"collect", "--addr", "127.0.0.1:0"}, args...))

	done := make(chan error, 1)
	go func() { done <- cmd.ExecuteContext(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(10 * time.Second):
			t.Error("collector did not stop")
		}
	})

	var base string
	require.Eventually(t, func() bool {
		m := listenRE.FindStringSubmatch(out.String())
		if m == nil {
			return false
		}
		base = m[1]
		return true
	}, 5*time.Second, 10*time.Millisecond)
	return base
}

func TestCollectCommand_ServesBootstrap(t *testing.T) {
	db := filepath.Join(t.TempDir(), "collect.db")
	base := startCollector(t, "--db", db)

	resp, err := http.Get(base + "/1/key-1")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Date"))
	var flags struct {
		SPA int `json:"spa"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&flags))
	assert.Equal(t, 1, flags.SPA)
}

func TestCollectCommand_StoresBatchAfterInjectedFailure(t *testing.T) {
	db := filepath.Join(t.TempDir(), "collect.db")
	base := startCollector(t, "--db", db, "--fail-first", "1", "--fail-status", "429")

	payload := "bel.7;1,2,rs,8c,'click,'https://a/,'https://a/b,,,,'Route change,'ixn-2,"
	post := func() int {
		resp, err := http.Post(base+"/events?a=key-1", "application/x-www-form-urlencoded",
			strings.NewReader(url.Values{"e": {payload}}.Encode()))
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}

	assert.Equal(t, http.StatusTooManyRequests, post())
	assert.Equal(t, http.StatusAccepted, post())

	st, err := store.Open(db)
	require.NoError(t, err)
	defer st.Close()
	records, err := st.ReadInteraction(context.Background(), "ixn-2")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "Route change", records[0].Category)
}

func TestCollectCommand_NotEntitledConfig(t *testing.T) {
	cfg := writeConfig(t, "softnav.yaml", "license_key: k\nendpoint: http://127.0.0.1:1\nentitled: false\n")
	base := startCollector(t, "--config", cfg, "--db", filepath.Join(t.TempDir(), "collect.db"))

	resp, err := http.Get(base + "/1/k")
	require.NoError(t, err)
	defer resp.Body.Close()
	var flags struct {
		SPA int `json:"spa"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&flags))
	assert.Equal(t, 0, flags.SPA)
}

func TestCollectCommand_BadConfig(t *testing.T) {
	cfg := writeConfig(t, "softnav.yaml", "endpoint: http://x\n")
	_, _, err := execute(t, context.Background(), "collect", "--config", cfg)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
