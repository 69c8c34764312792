package relayhttp

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dash-Industry-Forum/ll-relay/internal/config"
	"github.com/Dash-Industry-Forum/ll-relay/internal/packager"
	"github.com/Dash-Industry-Forum/ll-relay/internal/registry"
)

// withURLParams injects chi route parameters into req's context, letting
// handlers be exercised directly via httptest without a live router.
func withURLParams(req *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for k, v := range params {
		rctx.URLParams.Add(k, v)
	}
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func testCfg(id string, ssrs bool, qualities int) config.StreamConfig {
	cfg := config.StreamConfig{Stream: id, Type: "GEN", ServerSideRepresentationSwitching: ssrs}
	cfg.ApplyDefaults()
	if qualities > 1 {
		cfg.Qualities.Video = make([]config.QualityConfig, qualities)
		for i := range cfg.Qualities.Video {
			cfg.Qualities.Video[i] = config.QualityConfig{TargetWidth: 640, TargetBitrate: 1000 * (i + 1)}
		}
	}
	return cfg
}

func noopCommand(baseURL string, cfg config.StreamConfig) ([]string, error) {
	return []string{"true"}, nil
}

func newTestHandlers(cfgs ...config.StreamConfig) *Handlers {
	reg := registry.NewRegistry(cfgs)
	super := packager.NewSupervisorWithCommand("", noopCommand)
	serverCfg := &config.ServerConfig{WaitForAbsentSegment: true}
	return &Handlers{Reg: reg, Super: super, Cfg: serverCfg, BaseURL: "http://localhost:8080"}
}

func TestFetch_UnknownStreamIs404(t *testing.T) {
	h := newTestHandlers(testCfg("s1", false, 1))
	req := httptest.NewRequest(http.MethodGet, "/unknown/chunk-stream0-00001.m4s", nil)
	req = withURLParams(req, map[string]string{"streamData": "unknown", "name": "chunk-stream0-00001.m4s"})
	rr := httptest.NewRecorder()

	h.Fetch(rr, req)

	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestPutThenFetchChunk_RoundTripsBytesExactly(t *testing.T) {
	h := newTestHandlers(testCfg("s1", false, 1))

	putReq := httptest.NewRequest(http.MethodPut, "/s1/chunk-stream0-00001.m4s", strings.NewReader("hello-chunk-bytes"))
	putReq = withURLParams(putReq, map[string]string{"stream": "s1", "name": "chunk-stream0-00001.m4s"})
	putRR := httptest.NewRecorder()
	h.Put(putRR, putReq)
	require.Equal(t, http.StatusOK, putRR.Code)

	getReq := httptest.NewRequest(http.MethodGet, "/s1/chunk-stream0-00001.m4s", nil)
	getReq = withURLParams(getReq, map[string]string{"streamData": "s1", "name": "chunk-stream0-00001.m4s"})
	getRR := httptest.NewRecorder()
	h.Fetch(getRR, getReq)

	require.Equal(t, http.StatusOK, getRR.Code)
	assert.Equal(t, "hello-chunk-bytes", getRR.Body.String())
}

func TestFetchChunk_AbsentSegmentWithoutWaitIs404(t *testing.T) {
	h := newTestHandlers(testCfg("s1", false, 1))
	h.Cfg.WaitForAbsentSegment = false

	req := httptest.NewRequest(http.MethodGet, "/s1/chunk-stream0-00099.m4s", nil)
	req = withURLParams(req, map[string]string{"streamData": "s1", "name": "chunk-stream0-00099.m4s"})
	rr := httptest.NewRecorder()

	h.Fetch(rr, req)

	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestPutThenDeleteChunk_SubsequentFetchIs404(t *testing.T) {
	h := newTestHandlers(testCfg("s1", false, 1))
	h.Cfg.WaitForAbsentSegment = false

	putReq := httptest.NewRequest(http.MethodPut, "/s1/chunk-stream0-00001.m4s", strings.NewReader("x"))
	putReq = withURLParams(putReq, map[string]string{"stream": "s1", "name": "chunk-stream0-00001.m4s"})
	h.Put(httptest.NewRecorder(), putReq)

	delReq := httptest.NewRequest(http.MethodDelete, "/s1/chunk-stream0-00001.m4s", nil)
	delReq = withURLParams(delReq, map[string]string{"stream": "s1", "name": "chunk-stream0-00001.m4s"})
	delRR := httptest.NewRecorder()
	h.Delete(delRR, delReq)
	require.Equal(t, http.StatusOK, delRR.Code)

	getReq := httptest.NewRequest(http.MethodGet, "/s1/chunk-stream0-00001.m4s", nil)
	getReq = withURLParams(getReq, map[string]string{"streamData": "s1", "name": "chunk-stream0-00001.m4s"})
	getRR := httptest.NewRecorder()
	h.Fetch(getRR, getReq)

	assert.Equal(t, http.StatusNotFound, getRR.Code)
}

func TestFetchChunk_SSRSDownshiftsLaggingClient(t *testing.T) {
	h := newTestHandlers(testCfg("s1", true, 3))
	h.Cfg.WaitForAbsentSegment = false
	stream, _ := h.Reg.Lookup("s1")
	stream.SetCurrentSegment(50)

	putReq := httptest.NewRequest(http.MethodPut, "/s1/chunk-stream0-00048.m4s", strings.NewReader("downshifted"))
	putReq = withURLParams(putReq, map[string]string{"stream": "s1", "name": "chunk-stream0-00048.m4s"})
	h.Put(httptest.NewRecorder(), putReq)

	getReq := httptest.NewRequest(http.MethodGet, "/s1/chunk-stream2-00048.m4s", nil)
	getReq = withURLParams(getReq, map[string]string{"streamData": "s1", "name": "chunk-stream2-00048.m4s"})
	getRR := httptest.NewRecorder()
	h.Fetch(getRR, getReq)

	require.Equal(t, http.StatusOK, getRR.Code)
	assert.Equal(t, "downshifted", getRR.Body.String())
}

func TestPutInit_ThenFetchReturnsBytes(t *testing.T) {
	h := newTestHandlers(testCfg("s1", false, 1))

	putReq := httptest.NewRequest(http.MethodPut, "/s1/init-stream0.mp4", strings.NewReader("init-bytes"))
	putReq = withURLParams(putReq, map[string]string{"stream": "s1", "name": "init-stream0.mp4"})
	putRR := httptest.NewRecorder()
	h.Put(putRR, putReq)
	require.Equal(t, http.StatusOK, putRR.Code)

	getReq := httptest.NewRequest(http.MethodGet, "/s1/init-stream0.mp4", nil)
	getReq = withURLParams(getReq, map[string]string{"streamData": "s1", "name": "init-stream0.mp4"})
	getRR := httptest.NewRecorder()
	h.Fetch(getRR, getReq)

	require.Equal(t, http.StatusOK, getRR.Code)
	assert.Equal(t, "init-bytes", getRR.Body.String())
}

func TestIsoTime_WritesFormattedUTCTime(t *testing.T) {
	h := newTestHandlers(testCfg("s1", false, 1))
	req := httptest.NewRequest(http.MethodGet, "/isotime", nil)
	rr := httptest.NewRecorder()

	h.IsoTime(rr, req)

	_, err := time.Parse("2006-01-02T15:04:05.000000Z", rr.Body.String())
	assert.NoError(t, err)
}

func TestVersion_WritesNonEmptyBanner(t *testing.T) {
	h := newTestHandlers(testCfg("s1", false, 1))
	req := httptest.NewRequest(http.MethodGet, "/version", nil)
	rr := httptest.NewRecorder()

	h.Version(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.NotEmpty(t, rr.Body.String())
}

func TestHealthz_ReturnsTrue(t *testing.T) {
	h := newTestHandlers(testCfg("s1", false, 1))
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()

	h.Healthz(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "true", rr.Body.String())
}

func TestFetch_RecordsStatsOnlyWhenSaveStatsEnabled(t *testing.T) {
	tracked := testCfg("tracked", false, 1)
	tracked.SaveStats = true
	untracked := testCfg("untracked", false, 1)
	h := newTestHandlers(tracked, untracked)
	h.stats = newClientStats()

	for _, streamData := range []string{"tracked-clientA", "untracked-clientB"} {
		req := httptest.NewRequest(http.MethodGet, "/"+streamData+"/init-stream0.mp4", nil)
		req = withURLParams(req, map[string]string{"streamData": streamData, "name": "init-stream0.mp4"})
		rr := httptest.NewRecorder()
		// init segment never arrives; just exercising the stats side effect
		// before the wait timeout, so use a context that's already done.
		ctx, cancel := context.WithCancel(req.Context())
		cancel()
		h.Fetch(rr, req.WithContext(ctx))
	}

	assert.Equal(t, 1, h.stats.count("tracked-clientA"))
	assert.Equal(t, 0, h.stats.count("untracked-clientB"))
}

const warmupMPD = `<?xml version="1.0"?><MPD><Period><AdaptationSet id="0">` +
	`<Representation id="0"></Representation></AdaptationSet></Period></MPD>`

func TestFetchManifest_ColdGetStartsPackagerAndWaitsForPut(t *testing.T) {
	h := newTestHandlers(testCfg("s1", false, 1))
	stream, _ := h.Reg.Lookup("s1")

	getDone := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		req := httptest.NewRequest(http.MethodGet, "/s1/manifest.mpd", nil)
		req = withURLParams(req, map[string]string{"streamData": "s1", "name": "manifest.mpd"})
		rr := httptest.NewRecorder()
		h.Fetch(rr, req)
		getDone <- rr
	}()

	// The sixth manifest PUT is the first one a waiting GET can observe.
	for i := 0; i < 6; i++ {
		putReq := httptest.NewRequest(http.MethodPut, "/s1/manifest.mpd", strings.NewReader(warmupMPD))
		putReq = withURLParams(putReq, map[string]string{"stream": "s1", "name": "manifest.mpd"})
		putRR := httptest.NewRecorder()
		h.Put(putRR, putReq)
		require.Equal(t, http.StatusOK, putRR.Code)
	}

	select {
	case rr := <-getDone:
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Contains(t, rr.Body.String(), "<MPD")
	case <-time.After(5 * time.Second):
		t.Fatal("manifest GET did not complete")
	}

	assert.Equal(t, packager.Started, stream.PackagerH.State())
	assert.Equal(t, registry.StreamStarted, stream.Status())
}

func TestFetchChunk_EarlyGetMeetsLateStreamingPut(t *testing.T) {
	h := newTestHandlers(testCfg("s1", false, 1))
	const name = "chunk-stream0-00042.m4s"

	getDone := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		req := httptest.NewRequest(http.MethodGet, "/s1/"+name, nil)
		req = withURLParams(req, map[string]string{"streamData": "s1", "name": name})
		rr := httptest.NewRecorder()
		h.Fetch(rr, req)
		getDone <- rr
	}()

	time.Sleep(50 * time.Millisecond) // let the GET register its placeholder

	pr, pw := io.Pipe()
	putDone := make(chan struct{})
	go func() {
		defer close(putDone)
		putReq := httptest.NewRequest(http.MethodPut, "/s1/"+name, pr)
		putReq = withURLParams(putReq, map[string]string{"stream": "s1", "name": name})
		h.Put(httptest.NewRecorder(), putReq)
	}()

	for _, blob := range []string{"aaa", "bbb", "ccc"} {
		_, err := pw.Write([]byte(blob))
		require.NoError(t, err)
		time.Sleep(10 * time.Millisecond)
	}
	require.NoError(t, pw.Close())
	<-putDone

	select {
	case rr := <-getDone:
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "aaabbbccc", rr.Body.String())
	case <-time.After(5 * time.Second):
		t.Fatal("chunk GET did not complete")
	}
}

func TestPut_UnauthorizedWithoutBasicAuth(t *testing.T) {
	cfg := testCfg("s1", false, 1)
	cfg.AuthUser = "user"
	cfg.AuthPassword = "pass"
	h := newTestHandlers(cfg)

	putReq := httptest.NewRequest(http.MethodPut, "/s1/chunk-stream0-00001.m4s", strings.NewReader("x"))
	putReq = withURLParams(putReq, map[string]string{"stream": "s1", "name": "chunk-stream0-00001.m4s"})
	rr := httptest.NewRecorder()

	h.Put(rr, putReq)

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}
