package server

import (
	"context"
	"sync"
	"time"

	"RelayLane/internal/biz"
	"RelayLane/internal/conf"
	"RelayLane/internal/data"
	"RelayLane/internal/model"
	pkglog "RelayLane/pkg/log"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/middleware/recovery"
	"github.com/go-kratos/kratos/v2/transport/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthServiceName is the overall service name reported by the health server.
const HealthServiceName = "relaylane"

// RedisHealthService reports whether rate limiting and the redis registry have a connection.
const RedisHealthService = HealthServiceName + ".redis"

// ProviderHealthService returns the health service name of one provider.
func ProviderHealthService(provider string) string {
	return HealthServiceName + ".provider." + provider
}

// HealthReporter mirrors breaker states into a grpc health server. A
// provider reports NOT_SERVING while its breaker is open.
type HealthReporter struct {
	server   *health.Server
	store    *data.Data
	breakers *biz.Dispatcher
	log      *pkglog.LogHelper

	// mu orders provider status writes; transitions may arrive out of order.
	mu sync.Mutex
}

// NewHealthReporter creates the reporter and subscribes it to breaker transitions.
// store may be nil, in which case no redis status is published.
func NewHealthReporter(d *biz.Dispatcher, store *data.Data, logger log.Logger) *HealthReporter {
	r := &HealthReporter{
		server:   health.NewServer(),
		store:    store,
		breakers: d,
		log:      pkglog.NewLogHelper(logger),
	}
	r.server.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	r.server.SetServingStatus(HealthServiceName, healthpb.HealthCheckResponse_SERVING)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	r.CheckRedis(ctx)
	cancel()

	if d != nil {
		for _, snap := range d.Breakers() {
			r.set(snap.Name, snap.State)
		}
		d.RegisterStateChangeListener(r.onTransition)
	}
	return r
}

func servingStatus(state model.BreakerState) healthpb.HealthCheckResponse_ServingStatus {
	if state == model.BreakerOpen {
		return healthpb.HealthCheckResponse_NOT_SERVING
	}
	return healthpb.HealthCheckResponse_SERVING
}

func (r *HealthReporter) set(provider string, state model.BreakerState) {
	r.server.SetServingStatus(ProviderHealthService(provider), servingStatus(state))
}

// onTransition publishes the breaker's current state rather than tr.To,
// so a transition delivered late cannot leave a stale status behind.
func (r *HealthReporter) onTransition(tr model.BreakerTransition) {
	r.mu.Lock()
	defer r.mu.Unlock()

	state := tr.To
	if r.breakers != nil {
		if cb, ok := r.breakers.Breaker(tr.Provider); ok {
			state = cb.State()
		}
	}
	r.set(tr.Provider, state)
	r.log.Debugw("msg", "provider health updated",
		"provider", tr.Provider,
		"serving_status", servingStatus(state).String())
}

// CheckRedis pings Redis and publishes the result. It is a no-op without a store.
func (r *HealthReporter) CheckRedis(ctx context.Context) {
	if r.store == nil {
		return
	}
	status := healthpb.HealthCheckResponse_SERVING
	if err := r.store.Ping(ctx); err != nil {
		status = healthpb.HealthCheckResponse_NOT_SERVING
		r.log.Debugw("msg", "redis health check failed", "error", err.Error())
	}
	r.server.SetServingStatus(RedisHealthService, status)
}

// Server returns the underlying health server.
func (r *HealthReporter) Server() healthpb.HealthServer {
	return r.server
}

// Shutdown sets every service to NOT_SERVING.
func (r *HealthReporter) Shutdown() {
	r.server.Shutdown()
}

// NewGRPCServer new a gRPC server serving the standard health service.
func NewGRPCServer(c *conf.Server, reporter *HealthReporter, logger log.Logger) *grpc.Server {
	var opts = []grpc.ServerOption{
		grpc.Middleware(
			recovery.Recovery(),
		),
		// Health is served by the reporter instead of the kratos default.
		grpc.CustomHealth(),
	}
	if c.Grpc != nil {
		if c.Grpc.Network != "" {
			opts = append(opts, grpc.Network(c.Grpc.Network))
		}
		if c.Grpc.Addr != "" {
			opts = append(opts, grpc.Address(c.Grpc.Addr))
		}
		if c.Grpc.Timeout != nil {
			opts = append(opts, grpc.Timeout(c.Grpc.Timeout.AsDuration()))
		}
	}
	srv := grpc.NewServer(opts...)
	healthpb.RegisterHealthServer(srv, reporter.Server())

	log.NewHelper(logger).Infow("msg", "grpc health service registered", "service", HealthServiceName)
	return srv
}
