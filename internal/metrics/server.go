package metrics

import (
	"context"
	"errors"
	"expvar"
	"net"
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "metrics")

var started = time.Now()

func init() {
	expvar.Publish("uptime_sec", expvar.Func(func() any {
		return int64(time.Since(started).Seconds())
	}))
}

// newMux /metrics、/debug/vars、/debug/pprof 挂在独立 mux 上，不碰 DefaultServeMux
func newMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.Handle("GET /debug/vars", expvar.Handler())
	mux.HandleFunc("GET /debug/pprof/", pprof.Index)
	mux.HandleFunc("GET /debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("GET /debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("GET /debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("GET /debug/pprof/trace", pprof.Trace)
	return mux
}

// StartAsync 非阻塞启动 debug 服务，ctx 结束时关闭。只建议监听 localhost 或内网。
func StartAsync(ctx context.Context, listenAddr string) (*http.Server, error) {
	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return nil, err
	}
	srv := &http.Server{
		Handler:           newMux(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go serve(ctx, srv, ln)
	return srv, nil
}

func serve(ctx context.Context, srv *http.Server, ln net.Listener) {
	errC := make(chan error, 1)
	go func() { errC <- srv.Serve(ln) }()

	select {
	case err := <-errC:
		if !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("debug server 退出: %v", err)
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}
}
