package agent

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/mscrnt/vidbridge/pkg/db"
	"github.com/mscrnt/vidbridge/pkg/diag"
	"github.com/mscrnt/vidbridge/pkg/engine"
	"github.com/mscrnt/vidbridge/pkg/schedule"
	"github.com/mscrnt/vidbridge/pkg/timing"
	"github.com/mscrnt/vidbridge/pkg/vidc"
	"github.com/mscrnt/vidbridge/pkg/video"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// Executor runs a command on the goroutine that owns the engine
type Executor interface {
	Do(ctx context.Context, fn func(*engine.Engine) error) error
}

// History is the probe history store
type History interface {
	ListProbes(filter db.ProbeFilter) ([]*db.Probe, error)
	GetProbe(id int64) (*db.Probe, error)
}

// Jobs is the maintenance scheduler
type Jobs interface {
	ListJobs() []schedule.JobStatus
	RunNow(ctx context.Context, name string) error
}

// Backend is what the agent serves. Only Engine is required.
type Backend struct {
	Engine      Executor
	Diagnostics *diag.Log
	History     History
	Jobs        Jobs

	// Timeout bounds each engine command, DefaultCommandTimeout if zero
	Timeout time.Duration
}

// DefaultCommandTimeout bounds how long a request waits for the engine
const DefaultCommandTimeout = 30 * time.Second

type handlers struct {
	Backend
}

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, ErrorResponse{Error: err.Error()})
}

func allow(w http.ResponseWriter, r *http.Request, methods ...string) bool {
	for _, m := range methods {
		if r.Method == m {
			return true
		}
	}
	http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	return false
}

// statusFor maps an engine error to an HTTP status
func statusFor(err error) int {
	switch {
	case errors.Is(err, video.ErrUnknownPreset), errors.Is(err, db.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, video.ErrSyncTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, engine.ErrLoopStopped):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *handlers) do(r *http.Request, fn func(*engine.Engine) error) error {
	timeout := h.Timeout
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}
	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()
	return h.Engine.Do(ctx, fn)
}

func queryInt(r *http.Request, key string, def int64) (int64, error) {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def, nil
	}
	return strconv.ParseInt(s, 0, 64)
}

// healthHandler returns server health status
func healthHandler(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}

	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK\n"))
}

// TimingResponse is the current output stage programming
type TimingResponse struct {
	Registers  video.Registers     `json:"registers"`
	Output     timing.OutputTiming `json:"output"`
	SyncStatus uint32              `json:"sync_status"`
	Synced     bool                `json:"synced"`
	Autoprobe  bool                `json:"autoprobe"`
}

func (h *handlers) getTiming(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}

	var resp TimingResponse
	err := h.do(r, func(e *engine.Engine) error {
		resp.Registers = e.ReadBack()
		resp.SyncStatus = e.SyncStatus()
		resp.Autoprobe = e.Autoprobe()
		return nil
	})
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	resp.Output = resp.Registers.Unpack()
	resp.Synced = video.Synced(resp.SyncStatus)
	writeJSON(w, http.StatusOK, resp)
}

// SourceResponse is the decoded source timing and the strategy it would get
type SourceResponse struct {
	Snapshot    vidc.Snapshot       `json:"snapshot"`
	Control     vidc.ControlInfo    `json:"control"`
	Source      timing.SourceTiming `json:"source"`
	FrameRate   uint32              `json:"frame_rate,omitempty"`
	Classified  timing.Mode         `json:"classified"`
	Applied     timing.Mode         `json:"applied"`
	Diagnostics []diag.Event        `json:"diagnostics,omitempty"`
}

func (h *handlers) getSource(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}

	var resp SourceResponse
	err := h.do(r, func(e *engine.Engine) error {
		resp.Snapshot, resp.Source = e.Source()
		return nil
	})
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	resp.Control = vidc.DecodeControl(resp.Snapshot.Control)
	resp.FrameRate, _ = resp.Source.FrameRate()
	resp.Classified = timing.Classify(resp.Source)
	resp.Applied, resp.Diagnostics = timing.Plan(resp.Source)
	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) probe(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}

	var o engine.Outcome
	err := h.do(r, func(e *engine.Engine) error {
		o = e.Retime()
		return nil
	})
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// mode lists the presets on GET and applies one on POST
func (h *handlers) mode(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet, http.MethodPost) {
		return
	}

	if r.Method == http.MethodGet {
		var presets []video.Preset
		err := h.do(r, func(e *engine.Engine) error {
			presets = e.Presets()
			return nil
		})
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, presets)
		return
	}

	if r.URL.Query().Get("id") == "" {
		writeError(w, http.StatusBadRequest, errors.New("id is required"))
		return
	}
	id, err := queryInt(r, "id", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	var o engine.Outcome
	err = h.do(r, func(e *engine.Engine) error {
		var err error
		o, err = e.ApplyPreset(int(id))
		return err
	})
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *handlers) commitSync(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}

	var res video.SyncResult
	err := h.do(r, func(e *engine.Engine) error {
		var err error
		res, err = e.CommitSync()
		return err
	})
	switch {
	case errors.Is(err, video.ErrSyncTimeout):
		writeJSON(w, http.StatusGatewayTimeout, res)
	case err != nil:
		writeError(w, statusFor(err), err)
	default:
		writeJSON(w, http.StatusOK, res)
	}
}

// AutoprobeResponse reports the autoprobe setting
type AutoprobeResponse struct {
	Autoprobe bool `json:"autoprobe"`
}

// autoprobe reports the setting on GET. POST sets it from ?on= or toggles it
// when on is absent.
func (h *handlers) autoprobe(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet, http.MethodPost) {
		return
	}

	var set *bool
	if r.Method == http.MethodPost {
		if s := r.URL.Query().Get("on"); s != "" {
			on, err := strconv.ParseBool(s)
			if err != nil {
				writeError(w, http.StatusBadRequest, err)
				return
			}
			set = &on
		}
	}

	var resp AutoprobeResponse
	err := h.do(r, func(e *engine.Engine) error {
		switch {
		case r.Method == http.MethodGet:
		case set != nil:
			e.SetAutoprobe(*set)
		default:
			e.ToggleAutoprobe()
		}
		resp.Autoprobe = e.Autoprobe()
		return nil
	})
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) diagnostics(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet, http.MethodDelete) {
		return
	}
	if h.Diagnostics == nil {
		writeJSON(w, http.StatusOK, []diag.Event{})
		return
	}
	if r.Method == http.MethodDelete {
		h.Diagnostics.Clear()
		w.WriteHeader(http.StatusNoContent)
		return
	}

	n, err := queryInt(r, "n", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	events := h.Diagnostics.Recent(int(n))
	if kind := r.URL.Query().Get("kind"); kind != "" {
		filtered := events[:0]
		for _, e := range events {
			if string(e.Kind) == kind {
				filtered = append(filtered, e)
			}
		}
		events = filtered
	}
	writeJSON(w, http.StatusOK, events)
}

// history lists recorded probes, or returns one with ?id=
func (h *handlers) history(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	if h.History == nil {
		writeError(w, http.StatusNotFound, errors.New("no history store"))
		return
	}

	q := r.URL.Query()
	if q.Get("id") != "" {
		id, err := queryInt(r, "id", 0)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		p, err := h.History.GetProbe(id)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, p)
		return
	}

	limit, err := queryInt(r, "limit", 50)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	filter := db.ProbeFilter{
		Trigger: q.Get("trigger"),
		Applied: q.Get("applied"),
		Limit:   int(limit),
	}
	if q.Get("failed") != "" {
		failed, err := strconv.ParseBool(q.Get("failed"))
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		filter.Failed = &failed
	}

	probes, err := h.History.ListProbes(filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if probes == nil {
		probes = []*db.Probe{}
	}
	writeJSON(w, http.StatusOK, probes)
}

// jobs lists scheduled jobs on GET and runs one on POST ?run=
func (h *handlers) jobs(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet, http.MethodPost) {
		return
	}
	if h.Jobs == nil {
		writeError(w, http.StatusNotFound, errors.New("no scheduler"))
		return
	}

	if r.Method == http.MethodGet {
		writeJSON(w, http.StatusOK, h.Jobs.ListJobs())
		return
	}

	name := r.URL.Query().Get("run")
	if name == "" {
		writeError(w, http.StatusBadRequest, errors.New("run is required"))
		return
	}
	if err := h.Jobs.RunNow(r.Context(), name); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SysInfo describes the host the bridge runs on
type SysInfo struct {
	Timestamp time.Time   `json:"timestamp"`
	Host      HostInfo    `json:"host"`
	CPU       CPUInfo     `json:"cpu"`
	Memory    MemoryInfo  `json:"memory"`
	Process   ProcessInfo `json:"process"`
}

// HostInfo contains host information
type HostInfo struct {
	Hostname      string  `json:"hostname"`
	Uptime        uint64  `json:"uptime"`
	OS            string  `json:"os"`
	Platform      string  `json:"platform"`
	KernelVersion string  `json:"kernel_version"`
	Architecture  string  `json:"architecture"`
	Load1         float64 `json:"load1"`
}

// CPUInfo contains CPU information
type CPUInfo struct {
	LogicalCores int       `json:"logical_cores"`
	ModelName    string    `json:"model_name"`
	Usage        []float64 `json:"usage_percent"`
}

// MemoryInfo contains memory information
type MemoryInfo struct {
	Total       uint64  `json:"total"`
	Available   uint64  `json:"available"`
	UsedPercent float64 `json:"used_percent"`
}

// ProcessInfo describes the bridge process itself
type ProcessInfo struct {
	PID        int32   `json:"pid"`
	RSS        uint64  `json:"rss"`
	CPUPercent float64 `json:"cpu_percent"`
	Threads    int32   `json:"threads"`
	Goroutines int     `json:"goroutines"`
}

// sysinfoHandler returns system information as JSON
func sysinfoHandler(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}

	info := SysInfo{
		Timestamp: time.Now(),
		Host:      HostInfo{Architecture: runtime.GOARCH},
	}

	if hostInfo, err := host.Info(); err == nil {
		info.Host.Hostname = hostInfo.Hostname
		info.Host.Uptime = hostInfo.Uptime
		info.Host.OS = hostInfo.OS
		info.Host.Platform = hostInfo.Platform
		info.Host.KernelVersion = hostInfo.KernelVersion
	}
	if avg, err := load.Avg(); err == nil {
		info.Host.Load1 = avg.Load1
	}

	if cores, err := cpu.Counts(true); err == nil {
		info.CPU.LogicalCores = cores
	}
	if cpuInfo, err := cpu.Info(); err == nil && len(cpuInfo) > 0 {
		info.CPU.ModelName = cpuInfo[0].ModelName
	}
	// Zero interval compares against the previous call instead of sleeping
	if usage, err := cpu.Percent(0, true); err == nil {
		info.CPU.Usage = usage
	}

	if vmStat, err := mem.VirtualMemory(); err == nil {
		info.Memory = MemoryInfo{
			Total:       vmStat.Total,
			Available:   vmStat.Available,
			UsedPercent: vmStat.UsedPercent,
		}
	}

	info.Process.PID = int32(os.Getpid())
	info.Process.Goroutines = runtime.NumGoroutine()
	if p, err := process.NewProcess(info.Process.PID); err == nil {
		if m, err := p.MemoryInfo(); err == nil {
			info.Process.RSS = m.RSS
		}
		if pct, err := p.CPUPercent(); err == nil {
			info.Process.CPUPercent = pct
		}
		if n, err := p.NumThreads(); err == nil {
			info.Process.Threads = n
		}
	}

	writeJSON(w, http.StatusOK, info)
}
