package svctree

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// metricsServer serves a Prometheus registry over HTTP
type metricsServer struct {
	*Service

	addr    string
	handler http.Handler

	mu  sync.Mutex
	srv *http.Server
	ln  net.Listener
}

func newMetricsServer(addr string, reg *prometheus.Registry, opts []ServiceOption) *metricsServer {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	ms := &metricsServer{addr: addr, handler: mux}
	ms.Service = New("metrics", ms, opts...)
	return ms
}

// Addr returns the bound address while the server is running
func (ms *metricsServer) Addr() string {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if ms.ln == nil {
		return ""
	}
	return ms.ln.Addr().String()
}

func (ms *metricsServer) OnStart(context.Context) error {
	ln, err := net.Listen("tcp", ms.addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           ms.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ms.mu.Lock()
	ms.srv, ms.ln = srv, ln
	ms.mu.Unlock()

	_, err = ms.Spawn(func(context.Context) error {
		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	return err
}

func (ms *metricsServer) OnStop(ctx context.Context) error {
	ms.mu.Lock()
	srv := ms.srv
	ms.srv, ms.ln = nil, nil
	ms.mu.Unlock()
	if srv == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, DefaultGracePeriod)
	defer cancel()
	return srv.Shutdown(ctx)
}
