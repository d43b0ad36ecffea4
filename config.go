package querycache

import (
	"time"

	"github.com/Keksclan/querycache/breaker"
	"github.com/Keksclan/querycache/cache"
	"github.com/Keksclan/querycache/retry"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// config holds the internal configuration assembled via functional options.
type config struct {
	l1Capacity    int
	l1MaxTTL      time.Duration
	remote        *cache.L2
	remoteTimeout time.Duration
	breaker       breaker.Config
	connectRetry  retry.Config
	channel       string
	singleflight  bool

	logger         *zap.Logger
	tracerProvider trace.TracerProvider
	registerer     prometheus.Registerer
	now            func() time.Time
}

func defaultConfig() config {
	var cfg config
	for _, o := range DefaultOptions() {
		o(&cfg)
	}
	cfg.logger = zap.NewNop()
	cfg.now = time.Now
	return cfg
}
