package agent

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mscrnt/vidbridge/pkg/db"
	"github.com/mscrnt/vidbridge/pkg/diag"
	"github.com/mscrnt/vidbridge/pkg/engine"
	"github.com/mscrnt/vidbridge/pkg/schedule"
	"github.com/mscrnt/vidbridge/pkg/sim"
	"github.com/mscrnt/vidbridge/pkg/timing"
	"github.com/mscrnt/vidbridge/pkg/video"
)

type fixture struct {
	bridge  *sim.Bridge
	diags   *diag.Log
	history *db.DB
	loop    *engine.Loop
	backend Backend
	server  *httptest.Server
	client  *Client
	stop    func()
}

func newFixture(t *testing.T, opts ...sim.Option) *fixture {
	t.Helper()
	logger := log.New(io.Discard, "", 0)

	history, err := db.Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = history.Close() })

	b := sim.New(opts...)
	diags := diag.NewLog(100, logger)
	cfg := engine.DefaultConfig()
	cfg.SyncBudget = 100
	cfg.FlybackBudget = 100
	cfg.Diagnostics = diags
	cfg.Recorder = history
	cfg.Logger = logger
	loop := engine.NewLoop(engine.New(b.Source, b.Output, cfg), time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = loop.Run(ctx)
		close(done)
	}()
	stop := func() {
		cancel()
		<-done
	}

	runner := schedule.NewRunner(loop, history, logger)
	if err := runner.Add(schedule.Job{Name: "resync", CronExpr: "@hourly", Action: schedule.ActionResync}); err != nil {
		t.Fatal(err)
	}

	backend := Backend{
		Engine:      loop,
		Diagnostics: diags,
		History:     history,
		Jobs:        runner,
		Timeout:     5 * time.Second,
	}
	srv := httptest.NewServer(NewHandler(backend, logger))

	f := &fixture{
		bridge:  b,
		diags:   diags,
		history: history,
		loop:    loop,
		backend: backend,
		server:  srv,
		client:  NewClientWith(srv.URL, srv.Client()),
		stop:    stop,
	}
	t.Cleanup(func() {
		srv.Close()
		stop()
	})
	return f
}

func (f *fixture) request(t *testing.T, method, path string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, f.server.URL+path, nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := f.server.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestHealthHandler(t *testing.T) {
	rr := httptest.NewRecorder()
	healthHandler(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rr.Code != http.StatusOK || rr.Body.String() != "OK\n" {
		t.Errorf("health = %d %q", rr.Code, rr.Body.String())
	}

	rr = httptest.NewRecorder()
	healthHandler(rr, httptest.NewRequest(http.MethodPost, "/health", nil))
	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST /health = %d", rr.Code)
	}
}

func TestSysinfoHandler(t *testing.T) {
	rr := httptest.NewRecorder()
	sysinfoHandler(rr, httptest.NewRequest(http.MethodGet, "/sysinfo", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("handler returned wrong status code: got %v want %v", rr.Code, http.StatusOK)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("handler returned wrong content type: got %v", ct)
	}

	var info SysInfo
	if err := json.Unmarshal(rr.Body.Bytes(), &info); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if info.Timestamp.IsZero() {
		t.Error("timestamp is zero")
	}
	if info.Host.Architecture == "" {
		t.Error("architecture is empty")
	}
	if info.Process.PID == 0 || info.Process.Goroutines == 0 {
		t.Errorf("process = %+v", info.Process)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/timing"},
		{http.MethodPost, "/source"},
		{http.MethodGet, "/probe"},
		{http.MethodDelete, "/mode"},
		{http.MethodGet, "/sync"},
		{http.MethodPut, "/autoprobe"},
		{http.MethodPost, "/history"},
		{http.MethodPost, "/sysinfo"},
	}

	for _, tt := range tests {
		t.Run(tt.method+tt.path, func(t *testing.T) {
			if resp := f.request(t, tt.method, tt.path); resp.StatusCode != http.StatusMethodNotAllowed {
				t.Errorf("status = %d", resp.StatusCode)
			}
		})
	}
}

func TestSourceAndProbe(t *testing.T) {
	f := newFixture(t)
	if _, err := f.client.SetAutoprobe(boolPtr(false)); err != nil {
		t.Fatal(err)
	}
	if err := f.bridge.SetMode("320x256x8"); err != nil {
		t.Fatal(err)
	}

	src, err := f.client.Source()
	if err != nil {
		t.Fatal(err)
	}
	if src.Source.XRes != 320 || src.Source.YRes != 256 || src.Classified != timing.XYDoubled || src.Applied != timing.XYDoubled {
		t.Errorf("source = %+v", src)
	}
	if src.Control.ClockCode != 0 || src.FrameRate != 50 {
		t.Errorf("control = %+v, rate %d", src.Control, src.FrameRate)
	}

	o, err := f.client.Probe()
	if err != nil {
		t.Fatal(err)
	}
	if o.Trigger != engine.TriggerManual || !o.Retimed || !o.Sync.Committed || o.Result.Applied != timing.XYDoubled {
		t.Errorf("outcome = %+v", o)
	}

	tm, err := f.client.Timing()
	if err != nil {
		t.Fatal(err)
	}
	if tm.Registers.ResX != video.DoubleFlag|640 || tm.Output.XRes != 640 || !tm.Output.DoubleX || tm.Autoprobe {
		t.Errorf("timing = %+v", tm)
	}
	if !tm.Synced {
		t.Errorf("sync status %02x not synced", tm.SyncStatus)
	}
}

func TestModeHandler(t *testing.T) {
	f := newFixture(t)

	presets, err := f.client.Presets()
	if err != nil {
		t.Fatal(err)
	}
	if len(presets) != len(video.DefaultRegistry().List()) {
		t.Errorf("%d presets", len(presets))
	}

	o, err := f.client.SetMode(23)
	if err != nil {
		t.Fatal(err)
	}
	if o.PresetID != 23 || o.Trigger != engine.TriggerPreset || !o.Result.Output.Hires {
		t.Errorf("outcome = %+v", o)
	}
	if got := f.bridge.Latched().ResX; got != 1152 {
		t.Errorf("latched xres = %d", got)
	}

	// Hex ids are accepted
	if resp := f.request(t, http.MethodPost, "/mode?id=0x19"); resp.StatusCode != http.StatusOK {
		t.Errorf("id=0x19 status = %d", resp.StatusCode)
	}

	_, err = f.client.SetMode(99)
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusNotFound {
		t.Errorf("unknown preset err = %v", err)
	}
	if f.diags.Count(diag.UnknownPreset) != 1 {
		t.Error("unknown preset not reported")
	}

	for _, q := range []string{"", "?id=", "?id=abc"} {
		if resp := f.request(t, http.MethodPost, "/mode"+q); resp.StatusCode != http.StatusBadRequest {
			t.Errorf("POST /mode%s = %d", q, resp.StatusCode)
		}
	}
}

func TestSyncHandler(t *testing.T) {
	f := newFixture(t)
	res, err := f.client.Sync()
	if err != nil || !res.Committed {
		t.Errorf("sync = %+v, %v", res, err)
	}
}

func TestSyncHandlerTimeout(t *testing.T) {
	f := newFixture(t, sim.WithAckDelay(-1))

	res, err := f.client.Sync()
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusGatewayTimeout {
		t.Fatalf("err = %v", err)
	}
	if res.Committed || res.Polls != 100 {
		t.Errorf("result = %+v", res)
	}
	if f.diags.Count(diag.SyncTimeout) != 1 {
		t.Error("timeout not reported")
	}
}

func boolPtr(b bool) *bool { return &b }

func TestAutoprobeHandler(t *testing.T) {
	f := newFixture(t)

	on, err := f.client.SetAutoprobe(nil)
	if err != nil || on {
		t.Errorf("toggle = %v, %v", on, err)
	}
	on, err = f.client.SetAutoprobe(boolPtr(true))
	if err != nil || !on {
		t.Errorf("set on = %v, %v", on, err)
	}

	resp := f.request(t, http.MethodGet, "/autoprobe")
	var ap AutoprobeResponse
	_ = json.NewDecoder(resp.Body).Decode(&ap)
	if !ap.Autoprobe {
		t.Error("GET /autoprobe reports off")
	}

	if resp := f.request(t, http.MethodPost, "/autoprobe?on=maybe"); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("on=maybe status = %d", resp.StatusCode)
	}
}

func TestDiagnosticsHandler(t *testing.T) {
	f := newFixture(t)
	f.diags.Report(diag.New(diag.Infeasible, "pixel clock %d", 24))
	f.diags.Report(diag.New(diag.Info, "hello"))

	var events []diag.Event
	resp := f.request(t, http.MethodGet, "/diagnostics?kind=infeasible")
	if err := json.NewDecoder(resp.Body).Decode(&events); err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || events[0].Message != "pixel clock 24" {
		t.Errorf("events = %+v", events)
	}

	resp = f.request(t, http.MethodGet, "/diagnostics?n=1")
	events = nil
	_ = json.NewDecoder(resp.Body).Decode(&events)
	if len(events) != 1 || events[0].Kind != diag.Info {
		t.Errorf("recent = %+v", events)
	}

	if resp := f.request(t, http.MethodDelete, "/diagnostics"); resp.StatusCode != http.StatusNoContent {
		t.Errorf("DELETE status = %d", resp.StatusCode)
	}
	if len(f.diags.Recent(0)) != 0 {
		t.Error("diagnostics not cleared")
	}
}

func TestHistoryHandler(t *testing.T) {
	f := newFixture(t)
	if _, err := f.client.SetMode(25); err != nil {
		t.Fatal(err)
	}

	body, err := f.client.Do(http.MethodGet, "history", url.Values{"trigger": {"preset"}})
	if err != nil {
		t.Fatal(err)
	}
	var probes []*db.Probe
	if err := json.Unmarshal(body, &probes); err != nil {
		t.Fatal(err)
	}
	if len(probes) != 1 || probes[0].PresetID == nil || *probes[0].PresetID != 25 {
		t.Fatalf("probes = %+v", probes)
	}

	body, err = f.client.Do(http.MethodGet, "history", url.Values{"id": {"1"}})
	if err != nil || !strings.Contains(string(body), `"trigger":"preset"`) {
		t.Errorf("history id=1 = %s, %v", body, err)
	}

	if resp := f.request(t, http.MethodGet, "/history?id=999"); resp.StatusCode != http.StatusNotFound {
		t.Errorf("missing probe status = %d", resp.StatusCode)
	}
	if resp := f.request(t, http.MethodGet, "/history?failed=perhaps"); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad filter status = %d", resp.StatusCode)
	}
}

func TestJobsHandler(t *testing.T) {
	f := newFixture(t)

	if _, err := f.client.Do(http.MethodPost, "jobs", url.Values{"run": {"resync"}}); err != nil {
		t.Fatal(err)
	}
	if f.bridge.Syncs() != 1 {
		t.Errorf("syncs = %d", f.bridge.Syncs())
	}

	body, err := f.client.Get("jobs")
	if err != nil {
		t.Fatal(err)
	}
	var jobs []schedule.JobStatus
	if err := json.Unmarshal(body, &jobs); err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 1 || jobs[0].Runs != 1 {
		t.Errorf("jobs = %+v", jobs)
	}

	if resp := f.request(t, http.MethodPost, "/jobs?run=nope"); resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("unknown job status = %d", resp.StatusCode)
	}
}

func TestOptionalBackends(t *testing.T) {
	f := newFixture(t)
	srv := httptest.NewServer(NewHandler(Backend{Engine: f.loop}, log.New(io.Discard, "", 0)))
	defer srv.Close()

	for path, want := range map[string]int{
		"/history":     http.StatusNotFound,
		"/jobs":        http.StatusNotFound,
		"/diagnostics": http.StatusOK,
	} {
		resp, err := srv.Client().Get(srv.URL + path)
		if err != nil {
			t.Fatal(err)
		}
		_ = resp.Body.Close()
		if resp.StatusCode != want {
			t.Errorf("%s = %d, want %d", path, resp.StatusCode, want)
		}
	}
}

func TestLoopStopped(t *testing.T) {
	f := newFixture(t)
	f.stop()

	_, err := f.client.Timing()
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusServiceUnavailable {
		t.Errorf("err = %v", err)
	}
}
