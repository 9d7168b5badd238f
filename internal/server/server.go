// Package server 提供HTTP状态服务：Prometheus指标、健康检查、采集器状态与历史查询，
// 以及优雅关闭。
package server

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/simstream/pkg/config"
	"github.com/simstream/pkg/errdefs"
	"github.com/simstream/pkg/reporter"
)

// StatusSource 状态查询来源，通常是 *reporter.Reporter
type StatusSource interface {
	Status() reporter.Status
	Range(name string, start, end int) ([]any, error)
}

// HTTPServer HTTP服务实例
type HTTPServer struct {
	cfg      config.ServerConfig
	log      *zap.Logger
	registry *prometheus.Registry
	source   StatusSource
	server   *http.Server
	mux      *http.ServeMux
	routes   []string

	mu       sync.Mutex
	listener net.Listener
}

// statusWriter 包装ResponseWriter，捕获状态码
type statusWriter struct {
	http.ResponseWriter
	status int
}

// WriteHeader 捕获状态码
func (w *statusWriter) WriteHeader(statusCode int) {
	w.status = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

// NewHTTPServer 创建HTTP服务实例
func NewHTTPServer(cfg config.ServerConfig, registry *prometheus.Registry, source StatusSource, l *zap.Logger) *HTTPServer {
	s := &HTTPServer{
		cfg:      cfg,
		log:      l,
		registry: registry,
		source:   source,
		mux:      http.NewServeMux(),
	}
	s.registerEndpoints()

	s.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s
}

func (s *HTTPServer) handle(pattern string, h http.HandlerFunc) {
	s.routes = append(s.routes, pattern)
	s.mux.HandleFunc(pattern, h)
}

// registerEndpoints 注册核心路由
func (s *HTTPServer) registerEndpoints() {
	metrics := promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{
		ErrorLog: zap.NewStdLog(s.log),
	})
	s.handle("GET /metrics", metrics.ServeHTTP)

	s.handle("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	s.handle("GET /collectors", func(w http.ResponseWriter, r *http.Request) {
		s.writeJSON(w, http.StatusOK, s.source.Status())
	})

	s.handle("GET /collectors/{name}", func(w http.ResponseWriter, r *http.Request) {
		start, err := intParam(r, "start", 0)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, err)
			return
		}
		end, err := intParam(r, "end", math.MaxInt)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, err)
			return
		}
		values, err := s.source.Range(r.PathValue("name"), start, end)
		switch {
		case errors.Is(err, errdefs.ErrCollectorNotFound):
			s.writeError(w, http.StatusNotFound, err)
		case err != nil:
			s.writeError(w, http.StatusInternalServerError, err)
		default:
			s.writeJSON(w, http.StatusOK, values)
		}
	})
}

func intParam(r *http.Request, key string, def int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New("query parameter " + key + " must be an integer")
	}
	return n, nil
}

func (s *HTTPServer) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn("write response failed", zap.Error(err))
	}
}

func (s *HTTPServer) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

// Handler 带请求日志的路由
func (s *HTTPServer) Handler() http.Handler {
	return s.logMiddleware(s.mux)
}

// logMiddleware 统一日志记录
func (s *HTTPServer) logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		s.log.Debug(
			"HTTP request",
			zap.String("method", r.Method),
			zap.String("url", r.URL.String()),
			zap.String("remote", r.RemoteAddr),
			zap.Int("status", sw.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

// Start 监听端口并在后台提供服务，端口占用等错误同步返回
func (s *HTTPServer) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	s.log.Info(
		"starting HTTP server",
		zap.String("listen_addr", ln.Addr().String()),
		zap.Strings("routes", s.routes),
	)
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("HTTP server failed", zap.Error(err))
		}
	}()
	return nil
}

// Addr 实际监听地址，未启动时返回配置地址
func (s *HTTPServer) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return s.cfg.Addr
	}
	return s.listener.Addr().String()
}

// Shutdown 优雅关闭HTTP服务
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if err := s.server.Shutdown(ctx); err != nil {
		s.log.Error("HTTP server shutdown failed", zap.Error(err))
		return err
	}
	s.log.Info("HTTP server shutdown successfully")
	return nil
}
