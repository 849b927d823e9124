package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"CoSign-Chain/internal/auth"
	xerrors "CoSign-Chain/internal/errors"
	"CoSign-Chain/internal/job"
	"CoSign-Chain/internal/observability/metrics"
	"CoSign-Chain/internal/transfer"
	"CoSign-Chain/pkg/logger"
)

// Server 暴露提交任务、查询任务与链上账户的 REST 接口。
type Server struct {
	addr          string
	jobs          *job.Service
	transfers     *transfer.Service
	auth          *auth.Service
	validate      *validator.Validate
	readTimeout   time.Duration
	writeTimeout  time.Duration
	exposeMetrics bool
	logger        *slog.Logger
}

// Option 定义 Server 的可选配置。
type Option func(*Server)

// WithTimeouts 设置 HTTP 读写超时。
func WithTimeouts(read, write time.Duration) Option {
	return func(s *Server) {
		if read > 0 {
			s.readTimeout = read
		}
		if write > 0 {
			s.writeTimeout = write
		}
	}
}

// WithMetricsEndpoint 控制是否在 API 端口挂载 /metrics。
func WithMetricsEndpoint(enabled bool) Option {
	return func(s *Server) {
		s.exposeMetrics = enabled
	}
}

// WithAuth 为提交与查询接口启用令牌认证。
func WithAuth(svc *auth.Service) Option {
	return func(s *Server) {
		s.auth = svc
	}
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, jobs *job.Service, transfers *transfer.Service, opts ...Option) (*Server, error) {
	if jobs == nil || transfers == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "API 依赖未初始化")
	}
	validate, err := newValidator()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "注册校验规则失败")
	}
	s := &Server{
		addr:          addr,
		jobs:          jobs,
		transfers:     transfers,
		validate:      validate,
		readTimeout:   15 * time.Second,
		writeTimeout:  30 * time.Second,
		exposeMetrics: true,
		logger:        logger.Named("api"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// Handler 返回挂载了全部路由的 http.Handler。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.route(mux, "POST /api/v1/auth/token", "auth_token", "", s.handleIssueToken)
	s.route(mux, "POST /api/v1/transfers", "transfers", auth.PermissionSubmit, s.handleSubmitTransfer)
	s.route(mux, "POST /api/v1/registrations", "registrations", auth.PermissionSubmit, s.handleSubmitRegistration)
	s.route(mux, "POST /api/v1/badges/mint", "badges_mint", auth.PermissionSubmit, s.handleSubmitBadge(transfer.ActionMintBadge))
	s.route(mux, "POST /api/v1/badges/upgrade", "badges_upgrade", auth.PermissionSubmit, s.handleSubmitBadge(transfer.ActionUpgradeBadge))
	s.route(mux, "GET /api/v1/jobs", "jobs", auth.PermissionRead, s.handleListJobs)
	s.route(mux, "GET /api/v1/jobs/{id}", "job_detail", auth.PermissionRead, s.handleJobDetail)
	s.route(mux, "GET /api/v1/jobs/{id}/attempts", "job_attempts", auth.PermissionRead, s.handleJobAttempts)
	s.route(mux, "POST /api/v1/inspect", "inspect", auth.PermissionRead, s.handleInspect)
	s.route(mux, "GET /api/v1/accounts/{address}", "accounts", auth.PermissionRead, s.handleAccount)
	s.route(mux, "GET /healthz", "healthz", "", s.handleHealth)
	if s.exposeMetrics {
		mux.Handle("GET /metrics", metrics.Handler())
	}
	return mux
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       s.readTimeout,
		WriteTimeout:      s.writeTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.logger.Info("API 服务已启动", slog.String("address", s.addr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// route 为每个路由记录请求耗时与状态码，permission 非空时要求令牌认证。
func (s *Server) route(mux *http.ServeMux, pattern, name, permission string, h http.HandlerFunc) {
	var handler http.Handler = h
	if permission != "" && s.auth.Enabled() {
		handler = s.auth.Require(writeError, permission)(handler)
	}
	mux.Handle(pattern, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		started := time.Now()
		handler.ServeHTTP(rec, r)
		elapsed := time.Since(started)
		metrics.ObserveHTTPRequest(name, r.Method, rec.status, elapsed)
		s.logger.Debug("处理请求",
			slog.String("handler", name),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", rec.status),
			slog.Duration("elapsed", elapsed),
		)
	}))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "服务已关闭"))
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
