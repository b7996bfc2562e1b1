package collector

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/softnav/internal/harvest"
	"github.com/roach88/softnav/internal/interaction"
	"github.com/roach88/softnav/internal/store"
	"github.com/roach88/softnav/internal/timekeeper"
)

var fixedNow = time.Date(2023, time.November, 14, 22, 13, 20, 0, time.UTC)

func newTestServer(t *testing.T, opts ...Option) (*Server, *store.Store, *httptest.Server) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "collector.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	base := []Option{
		WithClock(func() time.Time { return fixedNow }),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}
	srv := New(st, append(base, opts...)...)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, st, ts
}

func postPayload(t *testing.T, endpoint, payload string) *http.Response {
	t.Helper()
	resp, err := http.PostForm(endpoint+"?a=key-1&v=bel.7", url.Values{"e": {payload}})
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestBootstrap_FlagsAndDate(t *testing.T) {
	_, _, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/1/key-1")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Tue, 14 Nov 2023 22:13:20 GMT", resp.Header.Get("Date"))

	var flags Flags
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&flags))
	assert.Equal(t, Flags{SPA: 1}, flags)
}

func TestBootstrap_NotEntitled(t *testing.T) {
	_, _, ts := newTestServer(t, WithEntitlement(false))

	resp, err := http.Get(ts.URL + "/1/key-1")
	require.NoError(t, err)
	defer resp.Body.Close()

	var flags Flags
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&flags))
	assert.Zero(t, flags.SPA)
}

func TestBootstrap_SynchronizesTimeKeeper(t *testing.T) {
	_, _, ts := newTestServer(t)

	origin := time.Now()
	rec := timekeeper.NewRecorder(origin, http.DefaultTransport)
	client := &http.Client{Transport: rec}

	bootstrapURL := ts.URL + "/1/key-1"
	resp, err := client.Get(bootstrapURL)
	require.NoError(t, err)
	_, _ = io.Copy(io.Discard, resp.Body)
	require.NoError(t, resp.Body.Close())

	tk, err := timekeeper.New(origin.UnixMilli())
	require.NoError(t, err)
	require.NoError(t, tk.ProcessResponse(resp, bootstrapURL, rec))

	corrected, err := tk.CorrectedOriginTime()
	require.NoError(t, err)
	// The server claims fixedNow; the corrected origin is that minus the
	// (small) in-flight offset.
	assert.InDelta(t, fixedNow.UnixMilli(), corrected, 5_000)
}

func TestEvents_StoresBatch(t *testing.T) {
	_, st, ts := newTestServer(t)

	a := interaction.New("ixn-1", "click", 0, "", "https://app.example/home")
	a.UpdateHistory(5, "https://app.example/next")
	a.UpdateDom(10)
	a.Done(nil)
	b := interaction.New("ixn-2", "submit", 20, "", "")
	b.Finish(26)
	payload := interaction.EncodeBatch([]*interaction.Interaction{a, b}, interaction.EncodeOptions{})

	resp := postPayload(t, ts.URL+"/events", payload)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	ctx := context.Background()
	batches, err := st.ReadBatches(ctx, 0)
	require.NoError(t, err)
	require.Len(t, batches, 1)
	assert.Equal(t, "key-1", batches[0].LicenseKey)
	assert.Equal(t, "bel.7", batches[0].Version)
	assert.Equal(t, 2, batches[0].RecordCount)
	assert.Equal(t, fixedNow, batches[0].ReceivedAt)

	records, err := st.ReadRecords(ctx, batches[0].ID)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "ixn-1", records[0].InteractionID)
	assert.Equal(t, interaction.CategoryRouteChange, records[0].Category)
	assert.Equal(t, int64(10), records[0].Duration)
	assert.Equal(t, "ixn-2", records[1].InteractionID)
	assert.Equal(t, int64(20), records[1].Start)
	assert.Equal(t, int64(6), records[1].Duration)
}

func TestEvents_RejectsMalformed(t *testing.T) {
	_, st, ts := newTestServer(t)

	for _, payload := range []string{"", "nope;1", "bel.7;2,0,1"} {
		resp := postPayload(t, ts.URL+"/events", payload)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, payload)
	}

	n, err := st.CountBatches(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestEvents_MethodNotAllowed(t *testing.T) {
	_, _, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestFailNext_DrivesSenderRetry(t *testing.T) {
	srv, st, ts := newTestServer(t)
	srv.FailNext(1, http.StatusServiceUnavailable)

	sender := harvest.NewHTTPSender(ts.Client(), ts.URL+"/events", "key-1", interaction.Version)
	payload := harvest.Payload{Body: "bel.7;" + strings.Join([]string{"1,0,0,0,'click,,,,,,'Custom,'ixn-1,"}, ";")}

	res, err := sender.Send(context.Background(), payload)
	require.NoError(t, err)
	assert.Equal(t, harvest.Result{Sent: true, Retry: true, StatusCode: http.StatusServiceUnavailable}, res)

	res, err = sender.Send(context.Background(), payload)
	require.NoError(t, err)
	assert.Equal(t, harvest.Result{Sent: true, Retry: false, StatusCode: http.StatusAccepted}, res)

	n, err := st.CountBatches(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestWithPaths(t *testing.T) {
	_, _, ts := newTestServer(t, WithPaths("/rum/{key}", "/ingest"))

	resp, err := http.Get(ts.URL + "/rum/abc")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	post := postPayload(t, ts.URL+"/ingest", "bel.7")
	assert.Equal(t, http.StatusAccepted, post.StatusCode)
}
