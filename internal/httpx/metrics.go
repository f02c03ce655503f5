package httpx

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	metricsOnce sync.Once
	metricsErr  error

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	ssoRPCTotal           *prometheus.CounterVec
	ssoLoginsTotal        *prometheus.CounterVec
	ssoLivenessCacheTotal *prometheus.CounterVec
)

// RegisterMetrics installs the bridge's collectors and returns the
// /metrics handler. Safe to call more than once.
func RegisterMetrics(registry prometheus.Registerer) (http.Handler, error) {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	metricsOnce.Do(func() {
		httpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Requests processed, by method, path and status.",
		}, []string{"method", "path", "status"})

		httpRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"})

		ssoRPCTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sso_rpc_requests_total",
			Help: "Remote SSO RPC calls by method and result.",
		}, []string{"method", "result"})

		ssoLoginsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sso_logins_total",
			Help: "SSO login captures by result.",
		}, []string{"result"})

		ssoLivenessCacheTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sso_liveness_cache_total",
			Help: "Liveness cache lookups by outcome (hit_active, hit_inactive, miss).",
		}, []string{"outcome"})

		for _, c := range []prometheus.Collector{
			httpRequestsTotal, httpRequestDuration,
			ssoRPCTotal, ssoLoginsTotal, ssoLivenessCacheTotal,
		} {
			if err := registerCollector(registry, c); err != nil {
				metricsErr = err
				return
			}
		}
	})
	if metricsErr != nil {
		return nil, metricsErr
	}

	// Serve the registry the collectors went into, not the default one.
	if g, ok := registry.(prometheus.Gatherer); ok {
		return promhttp.HandlerFor(g, promhttp.HandlerOpts{}), nil
	}
	return promhttp.Handler(), nil
}

// WithMetrics instruments requests with counters and latency.
func WithMetrics(next http.Handler) http.Handler {
	if next == nil {
		return nil
	}
	if httpRequestsTotal == nil || httpRequestDuration == nil {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method := strings.ToUpper(r.Method)
		pathLabel := normalizePath(r.URL.Path)
		start := time.Now()

		rec := &statusRecorder{ResponseWriter: w}
		defer func() {
			httpRequestDuration.WithLabelValues(method, pathLabel).Observe(time.Since(start).Seconds())

			status := rec.status
			if status == 0 {
				status = http.StatusOK
			}
			httpRequestsTotal.WithLabelValues(method, pathLabel, strconv.Itoa(status)).Inc()
		}()

		next.ServeHTTP(rec, r)
	})
}

func registerCollector(reg prometheus.Registerer, collector prometheus.Collector) error {
	if err := reg.Register(collector); err != nil {
		if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return nil
		}
		return err
	}
	return nil
}

// RecordRPCCall counts one remote RPC attempt.
func RecordRPCCall(method, result string) {
	if ssoRPCTotal != nil {
		ssoRPCTotal.WithLabelValues(method, result).Inc()
	}
}

// RecordLogin counts one login capture outcome.
func RecordLogin(result string) {
	if ssoLoginsTotal != nil {
		ssoLoginsTotal.WithLabelValues(result).Inc()
	}
}

// RecordLivenessCache counts one liveness cache lookup.
func RecordLivenessCache(outcome string) {
	if ssoLivenessCacheTotal != nil {
		ssoLivenessCacheTotal.WithLabelValues(outcome).Inc()
	}
}

// normalizePath keeps label cardinality bounded: dynamic-looking
// segments collapse to :param.
func normalizePath(p string) string {
	clean := strings.SplitN(p, "?", 2)[0]
	if clean == "" || clean == "/" {
		return "/"
	}

	segments := strings.Split(strings.Trim(clean, "/"), "/")
	out := make([]string, 0, len(segments))
	for _, seg := range segments {
		if seg == "" {
			continue
		}
		if isDynamicSegment(seg) {
			out = append(out, ":param")
		} else {
			out = append(out, seg)
		}
	}
	if len(out) == 0 {
		return "/"
	}
	return "/" + strings.Join(out, "/")
}

func isDynamicSegment(seg string) bool {
	if len(seg) > 48 {
		return true
	}
	if _, err := strconv.Atoi(seg); err == nil {
		return true
	}
	hexish := 0
	for _, c := range seg {
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f', c >= 'A' && c <= 'F', c == '-':
			hexish++
		}
	}
	return len(seg) >= 16 && hexish == len(seg)
}
