package probe

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"hls-player/internal/engine"
	"hls-player/internal/stream"

	"github.com/go-chi/chi/v5"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

const (
	waitFor = 2 * time.Second
	poll    = 5 * time.Millisecond
)

type testAPI struct {
	router *chi.Mux
	svc    *Service
	origin string
	clock  *clockwork.FakeClock
}

// newTestAPI serves a 30s VOD asset "demo" from an httptest origin and routes
// the probe API the same way the binary does.
func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	clock := clockwork.NewFakeClock()

	origin := NewOrigin(clock, nil)
	origin.AddVOD("demo", 5, 6, nil)
	mux := chi.NewRouter()
	mux.Route("/origin", origin.Routes)
	mux.Get("/garbage.m3u8", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>not a playlist</html>"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	svc := NewService(NewRegistry(), Config{
		Clock: clock,
		Engine: engine.Config{
			Client:          srv.Client(),
			Estimator:       engine.FixedEstimator(10_000_000),
			LevelFetchLimit: rate.Inf,
		},
	})
	t.Cleanup(svc.Close)

	r := chi.NewRouter()
	r.Route("/probes", NewHandler(svc, nil).Routes)
	return &testAPI{router: r, svc: svc, origin: srv.URL, clock: clock}
}

func (a *testAPI) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			json.NewEncoder(&buf).Encode(body)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func (a *testAPI) create(t *testing.T, req CreateRequest) ID {
	t.Helper()
	rec := a.do(t, http.MethodPost, "/probes", req)
	require.Equal(t, http.StatusCreated, rec.Code)
	var out struct {
		ID ID `json:"id"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	require.NotEmpty(t, out.ID)
	return out.ID
}

func (a *testAPI) view(t *testing.T, id ID) View {
	t.Helper()
	p, err := a.svc.Get(id)
	require.NoError(t, err)
	return p.View()
}

func (a *testAPI) waitPlaying(t *testing.T, id ID) {
	t.Helper()
	require.Eventually(t, func() bool {
		v := a.view(t, id)
		return v.Player.Stream.Buffering == stream.Ready && v.Player.Playback.IsPlaying
	}, waitFor, poll)
}

func TestHandler_Create_bad_request(t *testing.T) {
	a := newTestAPI(t)

	if rec := a.do(t, http.MethodPost, "/probes", "not json"); rec.Code != http.StatusBadRequest {
		t.Errorf("bad json: expected 400, got %d", rec.Code)
	}
	if rec := a.do(t, http.MethodPost, "/probes", CreateRequest{}); rec.Code != http.StatusBadRequest {
		t.Errorf("missing src: expected 400, got %d", rec.Code)
	}
	if a.svc.Count() != 0 {
		t.Errorf("rejected creates must not register probes, got %d", a.svc.Count())
	}
}

func TestHandler_unknown_probe(t *testing.T) {
	a := newTestAPI(t)
	for _, c := range []struct{ method, path string }{
		{http.MethodGet, "/probes/nope"},
		{http.MethodDelete, "/probes/nope"},
		{http.MethodPost, "/probes/nope/play"},
		{http.MethodPost, "/probes/nope/retry"},
		{http.MethodGet, "/probes/nope/watermark.svg"},
	} {
		if rec := a.do(t, c.method, c.path, nil); rec.Code != http.StatusNotFound {
			t.Errorf("%s %s: expected 404, got %d", c.method, c.path, rec.Code)
		}
	}
}

func TestHandler_probe_lifecycle(t *testing.T) {
	a := newTestAPI(t)
	id := a.create(t, CreateRequest{
		Src:       a.origin + "/origin/demo/master.m3u8",
		ViewerID:  "viewer-abcdefgh",
		ContentID: "demo",
		AutoPlay:  true,
	})
	a.waitPlaying(t, id)

	rec := a.do(t, http.MethodGet, "/probes/"+string(id), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, 30.0, body["duration"])

	v := a.view(t, id)
	assert.Len(t, v.Player.Stream.Levels, 3)
	assert.Equal(t, 2, v.Player.Stream.ActiveLevel)
	assert.True(t, v.Player.Playback.IsMuted, "autoplay starts muted")
	assert.True(t, v.Player.Protection.Mounted)

	a.svc.Advance(10 * time.Second)
	assert.InDelta(t, 10, a.view(t, id).Player.Playback.CurrentTime, 1e-9)

	rec = a.do(t, http.MethodPost, "/probes/"+string(id)+"/seek", map[string]float64{"fraction": 0.5})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.InDelta(t, 15, a.view(t, id).Player.Playback.CurrentTime, 1e-9)

	rec = a.do(t, http.MethodPost, "/probes/"+string(id)+"/quality", map[string]int{"index": 0})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Eventually(t, func() bool {
		st := a.view(t, id).Player.Stream
		return st.CurrentQualityIndex == 0 && st.ActiveLevel == 0
	}, waitFor, poll)

	rec = a.do(t, http.MethodPost, "/probes/"+string(id)+"/quality", map[string]int{"index": stream.AutoLevel})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Eventually(t, func() bool {
		return a.view(t, id).Player.Stream.CurrentQualityIndex == stream.AutoLevel
	}, waitFor, poll)

	rec = a.do(t, http.MethodPost, "/probes/"+string(id)+"/quality", "{}")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(t, http.MethodPost, "/probes/"+string(id)+"/play", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, a.view(t, id).Player.Playback.IsPlaying)

	rec = a.do(t, http.MethodDelete, "/probes/"+string(id), nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = a.do(t, http.MethodGet, "/probes/"+string(id), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Zero(t, a.svc.Count())
}

func TestHandler_capture_key_and_watermark(t *testing.T) {
	a := newTestAPI(t)
	id := a.create(t, CreateRequest{Src: a.origin + "/origin/demo/master.m3u8", ViewerID: "viewer-abcdefgh", ContentID: "demo"})

	rec := a.do(t, http.MethodPost, "/probes/"+string(id)+"/keys", KeyRequest{Key: "PrintScreen"})
	require.Equal(t, http.StatusOK, rec.Code)
	var out map[string]bool
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	assert.True(t, out["default_prevented"])

	v := a.view(t, id)
	require.Len(t, v.Notices, 1)
	assert.Equal(t, "PrintScreen", v.Notices[0].Signal)
	assert.True(t, v.Player.Protection.CaptureFlagActive)

	rec = a.do(t, http.MethodPost, "/probes/"+string(id)+"/keys", KeyRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(t, http.MethodGet, "/probes/"+string(id)+"/watermark.svg", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/svg+xml", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "viewer-a · ")
	assert.Contains(t, rec.Body.String(), "pointer-events:none")
}

func TestHandler_watermark_needs_viewer(t *testing.T) {
	a := newTestAPI(t)
	id := a.create(t, CreateRequest{Src: a.origin + "/origin/demo/master.m3u8"})

	rec := a.do(t, http.MethodGet, "/probes/"+string(id)+"/watermark.svg", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandler_fatal_and_retry(t *testing.T) {
	a := newTestAPI(t)
	id := a.create(t, CreateRequest{Src: a.origin + "/garbage.m3u8"})

	require.Eventually(t, func() bool { return a.view(t, id).Player.Fatal != nil }, waitFor, poll)
	assert.Equal(t, stream.KindOther, a.view(t, id).Player.Fatal.Kind)

	rec := a.do(t, http.MethodPost, "/probes/"+string(id)+"/retry", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Eventually(t, func() bool { return a.view(t, id).Player.Fatal != nil }, waitFor, poll)
}

func TestService_preview_and_completion(t *testing.T) {
	a := newTestAPI(t)
	p, err := a.svc.Create(CreateRequest{Src: a.origin + "/origin/demo/master.m3u8", AutoPlay: true, IsPreview: true})
	require.NoError(t, err)
	a.waitPlaying(t, p.ID)

	a.svc.Advance(25 * time.Second)
	v := p.View()
	assert.Equal(t, 1, v.Prompts)
	assert.True(t, v.Player.PromptVisible)

	a.svc.Advance(10 * time.Second)
	v = p.View()
	assert.Equal(t, 1, v.Prompts)
	assert.Equal(t, 1, v.Completions)
	assert.True(t, v.Player.Playback.Ended)
}

func TestService_Run_drives_playback(t *testing.T) {
	a := newTestAPI(t)
	svc := NewService(NewRegistry(), Config{
		Tick:   5 * time.Millisecond,
		Engine: a.svc.cfg.Engine,
	})
	defer svc.Close()

	p, err := svc.Create(CreateRequest{Src: a.origin + "/origin/demo/master.m3u8", AutoPlay: true})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	require.Eventually(t, func() bool { return p.Element.CurrentTime() > 0 }, waitFor, poll)
	cancel()
	require.NoError(t, <-done)
}

func TestService_Close_unmounts_all(t *testing.T) {
	a := newTestAPI(t)
	var probes []*Probe
	for i := 0; i < 3; i++ {
		p, err := a.svc.Create(CreateRequest{Src: a.origin + "/origin/demo/master.m3u8", ViewerID: "v"})
		require.NoError(t, err)
		probes = append(probes, p)
	}
	a.svc.Close()

	assert.Zero(t, a.svc.Count())
	for _, p := range probes {
		assert.False(t, p.Shell.Snapshot().Mounted)
		assert.Zero(t, p.Keys.KeyListeners())
		assert.Zero(t, p.Element.ListenerCount())
	}
}
