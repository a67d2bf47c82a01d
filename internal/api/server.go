package api

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"OpenMCP-EVM/internal/agent"
	xerrors "OpenMCP-EVM/internal/errors"
	"OpenMCP-EVM/internal/observability/metrics"
	"OpenMCP-EVM/internal/task"
	"OpenMCP-EVM/pkg/logger"
	"OpenMCP-EVM/pkg/plugin"
)

// ActionLister 返回已注册的动作，*agent.Agent 满足该接口。
type ActionLister interface {
	Actions() []agent.Action
}

// PluginLister 返回插件状态，*plugin.Manager 满足该接口。
type PluginLister interface {
	Statuses() []plugin.Status
}

// Server 负责暴露 REST 接口，供外部提交消息并查询处理结果。
type Server struct {
	addr    string
	tasks   *task.Service
	actions ActionLister
	plugins PluginLister
	metrics *metrics.Registry
}

// Option 定义可选的服务配置。
type Option func(*Server)

// WithActions 启用 /api/v1/actions。
func WithActions(actions ActionLister) Option {
	return func(s *Server) { s.actions = actions }
}

// WithPlugins 启用 /api/v1/plugins。
func WithPlugins(plugins PluginLister) Option {
	return func(s *Server) { s.plugins = plugins }
}

// WithMetrics 记录请求指标并暴露 /metrics。
func WithMetrics(reg *metrics.Registry) Option {
	return func(s *Server) { s.metrics = reg }
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, tasks *task.Service, opts ...Option) *Server {
	s := &Server{addr: addr, tasks: tasks}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Handler 返回完整的路由。
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	if s.metrics != nil {
		r.Use(s.metrics.Middleware)
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	r.Get("/healthz", s.handleHealth)
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/messages", func(r chi.Router) {
			r.Post("/", s.handleSubmitMessage)
			r.Get("/", s.handleListMessages)
			r.Get("/stats", s.handleMessageStats)
			r.Get("/{id}", s.handleMessageDetail)
		})
		r.Get("/actions", s.handleListActions)
		r.Get("/plugins", s.handleListPlugins)
	})
	return r
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !stdErrors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	logger.Named("api").Info("API 服务已启动", "address", s.addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSubmitMessage(w http.ResponseWriter, r *http.Request) {
	if s.tasks == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "任务服务未初始化"))
		return
	}
	var req task.SubmitRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "请求体解析失败"))
		return
	}
	created, err := s.tasks.Submit(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, created)
}

func (s *Server) handleMessageDetail(w http.ResponseWriter, r *http.Request) {
	if s.tasks == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "任务服务未初始化"))
		return
	}
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "缺少任务 ID"))
		return
	}
	wait, err := parseWait(r.URL.Query().Get("wait"))
	if err != nil {
		writeError(w, err)
		return
	}
	if wait > 0 {
		ctx, cancel := context.WithTimeout(r.Context(), wait)
		done, err := s.tasks.WaitUntilCompleted(ctx, id, waitPollInterval)
		cancel()
		switch {
		case err == nil:
			writeJSON(w, http.StatusOK, done)
			return
		case !stdErrors.Is(err, context.DeadlineExceeded):
			writeError(w, err)
			return
		}
	}
	found, err := s.tasks.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, found)
}

const (
	maxWait          = time.Minute
	waitPollInterval = 200 * time.Millisecond
)

// parseWait 解析 wait 参数（Go duration），超过一分钟按一分钟处理。
// 等待超时后返回任务的当前状态。
func parseWait(raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		return 0, xerrors.New(xerrors.CodeInvalidArgument, "wait 必须是非负的时长，例如 30s")
	}
	return min(d, maxWait), nil
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	if s.tasks == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "任务服务未初始化"))
		return
	}
	opts, err := parseListOptions(r)
	if err != nil {
		writeError(w, err)
		return
	}
	tasks, err := s.tasks.List(r.Context(), opts...)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": tasks})
}

func (s *Server) handleMessageStats(w http.ResponseWriter, r *http.Request) {
	if s.tasks == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "任务服务未初始化"))
		return
	}
	opts, err := parseListOptions(r)
	if err != nil {
		writeError(w, err)
		return
	}
	stats, err := s.tasks.Stats(r.Context(), opts...)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

type actionView struct {
	Name        string   `json:"name"`
	Similes     []string `json:"similes,omitempty"`
	Description string   `json:"description"`
}

func (s *Server) handleListActions(w http.ResponseWriter, _ *http.Request) {
	views := []actionView{}
	if s.actions != nil {
		for _, a := range s.actions.Actions() {
			views = append(views, actionView{Name: a.Name, Similes: a.Similes, Description: a.Description})
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"actions": views})
}

func (s *Server) handleListPlugins(w http.ResponseWriter, _ *http.Request) {
	statuses := []plugin.Status{}
	if s.plugins != nil {
		statuses = append(statuses, s.plugins.Statuses()...)
	}
	writeJSON(w, http.StatusOK, map[string]any{"plugins": statuses})
}

// parseListOptions 解析列表与统计接口共享的查询参数。
func parseListOptions(r *http.Request) ([]task.ListOption, error) {
	q := r.URL.Query()
	var opts []task.ListOption

	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, "limit 必须是整数")
		}
		opts = append(opts, task.WithLimit(limit))
	}
	if raw := q.Get("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, "offset 必须是整数")
		}
		opts = append(opts, task.WithOffset(offset))
	}
	if raw := q.Get("status"); raw != "" {
		var statuses []task.Status
		for _, part := range strings.Split(raw, ",") {
			status := task.Status(strings.ToLower(strings.TrimSpace(part)))
			if !task.IsValidStatus(status) {
				return nil, xerrors.New(xerrors.CodeInvalidArgument, "未知的任务状态: "+part)
			}
			statuses = append(statuses, status)
		}
		opts = append(opts, task.WithStatuses(statuses...))
	}
	if raw := q.Get("has_result"); raw != "" {
		has, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, "has_result 必须是布尔值")
		}
		opts = append(opts, task.WithResultPresence(has))
	}
	if raw := q.Get("order"); raw != "" {
		order, err := task.ParseSortOrder(raw)
		if err != nil {
			return nil, err
		}
		opts = append(opts, task.WithSortOrder(order))
	}
	for key, apply := range map[string]func(time.Time) task.ListOption{
		"updated_since": task.WithUpdatedSince,
		"updated_until": task.WithUpdatedUntil,
	} {
		raw := q.Get(key)
		if raw == "" {
			continue
		}
		ts, err := parseTime(raw)
		if err != nil {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, key+" 必须是 RFC3339 或 Unix 秒")
		}
		opts = append(opts, apply(ts))
	}
	if v := q.Get("user_id"); v != "" {
		opts = append(opts, task.WithUserID(v))
	}
	if v := q.Get("action"); v != "" {
		opts = append(opts, task.WithAction(v))
	}
	if v := q.Get("q"); v != "" {
		opts = append(opts, task.WithQuery(v))
	}
	return opts, nil
}

func parseTime(raw string) (time.Time, error) {
	if secs, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Unix(secs, 0), nil
	}
	return time.Parse(time.RFC3339, raw)
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, err error) {
	code := xerrors.CodeOf(err)
	status := statusFor(code)
	if status >= http.StatusInternalServerError {
		logger.Named("api").Error("请求处理失败", "error", err, "code", code)
	}
	writeJSON(w, status, map[string]errorBody{"error": {Code: string(code), Message: err.Error()}})
}

func statusFor(code xerrors.Code) int {
	switch code {
	case xerrors.CodeInvalidArgument, task.CodeTaskValidation:
		return http.StatusBadRequest
	case xerrors.CodeNotFound, task.CodeTaskNotFound:
		return http.StatusNotFound
	case xerrors.CodeConflict, task.CodeTaskConflict:
		return http.StatusConflict
	case xerrors.CodeInitializationFailure:
		return http.StatusServiceUnavailable
	case task.CodeTaskPublish, xerrors.CodeQueueFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
