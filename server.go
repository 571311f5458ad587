package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/samber/lo"

	"github.com/transitlab/dispatchsim/gtfsrt"
	"github.com/transitlab/dispatchsim/policyrpc"
	"github.com/transitlab/dispatchsim/sim"
	"github.com/transitlab/dispatchsim/store"
)

// 一次运行：引擎实例与其持久化记录
type runHandle struct {
	rec    *store.RunRecord
	engine *sim.Engine
}

type SimServer struct {
	cfg          *sim.Config
	scenarioName string
	// 外部策略的默认端点，可被单次请求覆盖
	policyURL string

	store store.Store
	feed  *gtfsrt.Builder
	runs  *xsync.MapOf[string, *runHandle]

	// 接口开启true或关闭false
	ok bool
	// 条件变量
	cond *sync.Cond
}

func NewSimServer(cfg *sim.Config, scenarioName, storeDSN, policyURL string) (*SimServer, error) {
	st, err := store.Open(storeDSN)
	if err != nil {
		return nil, err
	}
	return &SimServer{
		cfg:          cfg,
		scenarioName: scenarioName,
		policyURL:    policyURL,
		store:        st,
		feed:         gtfsrt.NewBuilder(),
		runs:         xsync.NewMapOf[string, *runHandle](),
		ok:           true,
		cond:         sync.NewCond(&sync.Mutex{}),
	}, nil
}

// Handler 路由表
func (s *SimServer) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	}))

	r.Get("/health", s.handleHealth)
	r.Post("/suspend", s.handleSuspend)
	r.Post("/resume", s.handleResume)

	r.Route("/runs", func(r chi.Router) {
		r.Post("/", s.handleCreateRun)
		r.Get("/", s.handleListRuns)
		r.Route("/{runID}", func(r chi.Router) {
			r.Get("/", s.handleGetRun)
			r.Delete("/", s.handleDropRun)
			r.Post("/step", s.handleStep)
			r.Post("/reset", s.handleReset)
			r.Post("/policy", s.handleSetPolicy)
			r.Post("/disrupt", s.handleDisrupt)
			r.Post("/stress", s.handleStress)
			r.Get("/state", s.handleState)
			r.Get("/state/gtfsrt", s.handleGTFSRT)
			r.Get("/steps", s.handleSteps)
			r.Get("/summary", s.handleSummary)
		})
	})

	// 内置需求策略同时以connect过程暴露，外部引擎可反向调用
	path, h := policyrpc.NewDecideHandler(sim.NewDemandPolicy())
	r.Handle(path, h)
	return r
}

// Suspend 暂停step处理，状态查询不受影响
func (s *SimServer) Suspend() {
	s.cond.L.Lock()
	defer s.cond.L.Unlock()
	s.ok = false
}

// Resume 恢复step处理
func (s *SimServer) Resume() {
	s.cond.L.Lock()
	defer s.cond.L.Unlock()
	s.ok = true
	s.cond.Broadcast()
}

// Close 落盘所有在跑运行的汇总并关闭存储
func (s *SimServer) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.runs.Range(func(id string, h *runHandle) bool {
		if err := s.store.UpdateSummary(ctx, id, h.engine.Summary()); err != nil {
			log.Warnf("failed to persist summary for run %s: %v", id, err)
		}
		return true
	})
	if err := s.store.Close(); err != nil {
		log.Warnf("failed to close store: %v", err)
	}
}

type createRunRequest struct {
	Seed     *int64 `json:"seed"`
	Policy   string `json:"policy"`
	Endpoint string `json:"endpoint"`
}

type runInfo struct {
	*store.RunRecord
	Live  bool   `json:"live"`
	State string `json:"state,omitempty"`
	Tick  int    `json:"tick,omitempty"`
}

func (s *SimServer) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	var req createRunRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	cfg := *s.cfg
	if req.Seed != nil {
		cfg.Seed = *req.Seed
	}
	engine, err := sim.NewEngine(&cfg)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	if req.Policy != "" {
		p, err := s.policyFor(req.Policy, req.Endpoint, &cfg)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		engine.SetPolicy(p)
	}
	rec := store.NewRunRecord(s.scenarioName, engine.Seed(), engine.PolicyName())
	if err := s.store.SaveRun(r.Context(), rec); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	s.runs.Store(rec.ID, &runHandle{rec: rec, engine: engine})
	log.Infof("run %s created (seed=%d policy=%s)", rec.ID, rec.Seed, rec.Policy)
	writeJSON(w, http.StatusCreated, runInfo{
		RunRecord: rec, Live: true, State: engine.State(), Tick: engine.Tick(),
	})
}

func (s *SimServer) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	recs, err := s.store.Runs(r.Context(), limit)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	infos := lo.Map(recs, func(rec *store.RunRecord, _ int) runInfo {
		info := runInfo{RunRecord: rec}
		if h, ok := s.runs.Load(rec.ID); ok {
			info.Live = true
			info.State = h.engine.State()
			info.Tick = h.engine.Tick()
		}
		return info
	})
	writeJSON(w, http.StatusOK, map[string]any{"runs": infos})
}

func (s *SimServer) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "runID")
	if h, ok := s.runs.Load(id); ok {
		writeJSON(w, http.StatusOK, runInfo{
			RunRecord: h.rec, Live: true, State: h.engine.State(), Tick: h.engine.Tick(),
		})
		return
	}
	rec, err := s.store.Run(r.Context(), id)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, runInfo{RunRecord: rec})
}

func (s *SimServer) handleDropRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "runID")
	h, ok := s.runs.LoadAndDelete(id)
	if !ok {
		writeError(w, http.StatusNotFound, store.ErrNotFound)
		return
	}
	if err := s.store.UpdateSummary(r.Context(), id, h.engine.Summary()); err != nil {
		log.Warnf("failed to persist summary for run %s: %v", id, err)
	}
	log.Infof("run %s dropped", id)
	w.WriteHeader(http.StatusNoContent)
}

type stepRequest struct {
	Ticks int `json:"ticks"`
}

type stepResponse struct {
	Results []*sim.StepResult `json:"results"`
	State   string            `json:"state"`
}

func (s *SimServer) handleStep(w http.ResponseWriter, r *http.Request) {
	// 暂停-恢复机制
	s.cond.L.Lock()
	for !s.ok {
		// 暂停中
		s.cond.Wait()
	}
	s.cond.L.Unlock()

	h, ok := s.getRun(w, r)
	if !ok {
		return
	}
	var req stepRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Ticks <= 0 {
		req.Ticks = 1
	}
	results := make([]*sim.StepResult, 0, req.Ticks)
	var stepErr error
	for i := 0; i < req.Ticks; i++ {
		res, err := h.engine.Step(0)
		if err != nil {
			stepErr = err
			break
		}
		results = append(results, res)
		if res.Terminated {
			break
		}
	}
	if len(results) == 0 {
		writeError(w, statusFor(stepErr), stepErr)
		return
	}
	if err := s.store.AppendSteps(r.Context(), h.rec.ID, results); err != nil {
		log.Warnf("failed to persist steps for run %s: %v", h.rec.ID, err)
	}
	if last := results[len(results)-1]; last.Terminated {
		if err := s.store.UpdateSummary(r.Context(), h.rec.ID, h.engine.Summary()); err != nil {
			log.Warnf("failed to persist summary for run %s: %v", h.rec.ID, err)
		}
	}
	writeJSON(w, http.StatusOK, stepResponse{Results: results, State: h.engine.State()})
}

type resetRequest struct {
	Seed   int64       `json:"seed"`
	Config *sim.Config `json:"config"`
}

// 重置开启新episode。逐tick历史按运行追加存储，因此换发新的运行id
func (s *SimServer) handleReset(w http.ResponseWriter, r *http.Request) {
	h, ok := s.getRun(w, r)
	if !ok {
		return
	}
	var req resetRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.engine.Reset(req.Seed, req.Config); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	rec := store.NewRunRecord(s.scenarioName, h.engine.Seed(), h.engine.PolicyName())
	if err := s.store.SaveRun(r.Context(), rec); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	s.runs.Delete(h.rec.ID)
	s.runs.Store(rec.ID, &runHandle{rec: rec, engine: h.engine})
	log.Infof("run %s reset as %s (seed=%d)", h.rec.ID, rec.ID, rec.Seed)
	writeJSON(w, http.StatusCreated, runInfo{
		RunRecord: rec, Live: true, State: h.engine.State(), Tick: h.engine.Tick(),
	})
}

type policyRequest struct {
	Policy   string `json:"policy"`
	Endpoint string `json:"endpoint"`
}

func (s *SimServer) handleSetPolicy(w http.ResponseWriter, r *http.Request) {
	h, ok := s.getRun(w, r)
	if !ok {
		return
	}
	var req policyRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	p, err := s.policyFor(req.Policy, req.Endpoint, h.engine.Config())
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	h.engine.SetPolicy(p)
	writeJSON(w, http.StatusOK, map[string]string{"policy": h.engine.PolicyName()})
}

type disruptRequest struct {
	Kind     string           `json:"kind"`
	Zone     *sim.TrafficZone `json:"zone"`
	Stop     int              `json:"stop"`
	Factor   float64          `json:"factor"`
	Duration float64          `json:"duration"`
	From     int              `json:"from"`
	To       int              `json:"to"`
	Weather  string           `json:"weather"`
}

func (s *SimServer) handleDisrupt(w http.ResponseWriter, r *http.Request) {
	h, ok := s.getRun(w, r)
	if !ok {
		return
	}
	var req disruptRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var err error
	switch req.Kind {
	case "traffic_zone":
		if req.Zone == nil {
			writeError(w, http.StatusBadRequest, errors.New("missing zone"))
			return
		}
		err = h.engine.AddTrafficZone(*req.Zone)
	case "demand_surge":
		err = h.engine.AddSurge(req.Stop, req.Factor, req.Duration)
	case "close_edge":
		if req.Duration > 0 {
			err = h.engine.CloseEdgeFor(req.From, req.To, req.Duration)
		} else {
			err = h.engine.CloseEdge(req.From, req.To)
		}
	case "reopen_edge":
		err = h.engine.ReopenEdge(req.From, req.To)
	case "weather":
		err = h.engine.SetWeather(req.Weather)
	default:
		writeError(w, http.StatusBadRequest,
			errors.New("unknown disruption kind: "+req.Kind))
		return
	}
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tick": h.engine.Tick(), "kind": req.Kind})
}

type stressRequest struct {
	Scenario string `json:"scenario"`
}

func (s *SimServer) handleStress(w http.ResponseWriter, r *http.Request) {
	h, ok := s.getRun(w, r)
	if !ok {
		return
	}
	var req stressRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.engine.ApplyStress(req.Scenario); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tick": h.engine.Tick(), "scenario": req.Scenario})
}

func (s *SimServer) handleState(w http.ResponseWriter, r *http.Request) {
	h, ok := s.getRun(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, h.engine.Export())
}

func (s *SimServer) handleGTFSRT(w http.ResponseWriter, r *http.Request) {
	h, ok := s.getRun(w, r)
	if !ok {
		return
	}
	data, err := s.feed.Marshal(h.engine.Export())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "application/x-protobuf")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (s *SimServer) handleSteps(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "runID")
	from, _ := strconv.Atoi(r.URL.Query().Get("from"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	steps, err := s.store.Steps(r.Context(), id, from, limit)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"steps": steps})
}

func (s *SimServer) handleSummary(w http.ResponseWriter, r *http.Request) {
	h, ok := s.getRun(w, r)
	if !ok {
		return
	}
	sum := h.engine.Summary()
	if err := s.store.UpdateSummary(r.Context(), h.rec.ID, sum); err != nil {
		log.Warnf("failed to persist summary for run %s: %v", h.rec.ID, err)
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *SimServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"runs":      s.runs.Size(),
		"timestamp": time.Now().UTC(),
	})
}

func (s *SimServer) handleSuspend(w http.ResponseWriter, r *http.Request) {
	s.Suspend()
	w.WriteHeader(http.StatusNoContent)
}

func (s *SimServer) handleResume(w http.ResponseWriter, r *http.Request) {
	s.Resume()
	w.WriteHeader(http.StatusNoContent)
}

// policyFor 按名字构造调度策略。external经connect客户端转外部端点
func (s *SimServer) policyFor(name, endpoint string, cfg *sim.Config) (sim.DispatchPolicy, error) {
	switch name {
	case "", "static":
		return sim.NewStaticSchedulePolicy(cfg), nil
	case "demand":
		return sim.NewDemandPolicy(), nil
	case "external":
		if endpoint == "" {
			endpoint = s.policyURL
		}
		if endpoint == "" {
			return nil, errors.New("external policy requires an endpoint")
		}
		client := policyrpc.NewClient(endpoint, nil)
		return sim.NewExternalPolicyAdapter("external", client.Func()), nil
	default:
		return nil, errors.New("unknown policy: " + name)
	}
}

func (s *SimServer) getRun(w http.ResponseWriter, r *http.Request) (*runHandle, bool) {
	id := chi.URLParam(r, "runID")
	h, ok := s.runs.Load(id)
	if !ok {
		writeError(w, http.StatusNotFound, store.ErrNotFound)
		return nil, false
	}
	return h, true
}

type errorResponse struct {
	Error string `json:"error"`
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, sim.ErrConfiguration):
		return http.StatusBadRequest
	case errors.Is(err, sim.ErrState):
		return http.StatusConflict
	case errors.Is(err, sim.ErrUnknownStop), errors.Is(err, sim.ErrUnknownEdge),
		errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warnf("failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, errorResponse{Error: err.Error()})
}

// 空body视为全默认请求
func decodeBody(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
