package health

import (
	"context"
	"time"

	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/rdengine/go/orchestrator/internal/circuitbreaker"
)

const defaultCheckTimeout = 5 * time.Second

// RedisHealthChecker checks Redis connectivity. Redis is critical only when it
// backs the session store.
type RedisHealthChecker struct {
	wrapper  *circuitbreaker.RedisWrapper
	critical bool
	logger   *zap.Logger
}

// NewRedisHealthChecker creates a Redis health checker
func NewRedisHealthChecker(wrapper *circuitbreaker.RedisWrapper, critical bool, logger *zap.Logger) *RedisHealthChecker {
	return &RedisHealthChecker{wrapper: wrapper, critical: critical, logger: logger}
}

func (r *RedisHealthChecker) Name() string           { return "redis" }
func (r *RedisHealthChecker) IsCritical() bool       { return r.critical }
func (r *RedisHealthChecker) Timeout() time.Duration { return defaultCheckTimeout }

func (r *RedisHealthChecker) Check(ctx context.Context) CheckResult {
	if r.wrapper.IsCircuitBreakerOpen() {
		return CheckResult{Status: StatusUnhealthy, Error: "circuit breaker open", Message: "Redis circuit breaker is open"}
	}
	start := time.Now()
	if err := r.wrapper.Ping(ctx); err != nil {
		return CheckResult{Status: StatusUnhealthy, Error: err.Error(), Message: "Redis ping failed"}
	}
	return CheckResult{
		Status:  StatusHealthy,
		Message: "Redis is responding",
		Details: map[string]interface{}{"latency_ms": time.Since(start).Milliseconds()},
	}
}

// DatabaseHealthChecker checks the checkpoint store. Runs never fail on the
// state log, so it is not critical.
type DatabaseHealthChecker struct {
	wrapper *circuitbreaker.DatabaseWrapper
	logger  *zap.Logger
}

// NewDatabaseHealthChecker creates a database health checker
func NewDatabaseHealthChecker(wrapper *circuitbreaker.DatabaseWrapper, logger *zap.Logger) *DatabaseHealthChecker {
	return &DatabaseHealthChecker{wrapper: wrapper, logger: logger}
}

func (d *DatabaseHealthChecker) Name() string           { return "database" }
func (d *DatabaseHealthChecker) IsCritical() bool       { return false }
func (d *DatabaseHealthChecker) Timeout() time.Duration { return defaultCheckTimeout }

func (d *DatabaseHealthChecker) Check(ctx context.Context) CheckResult {
	if d.wrapper.IsCircuitBreakerOpen() {
		return CheckResult{Status: StatusUnhealthy, Error: "circuit breaker open", Message: "Database circuit breaker is open"}
	}
	if err := d.wrapper.PingContext(ctx); err != nil {
		return CheckResult{Status: StatusUnhealthy, Error: err.Error(), Message: "Database ping failed"}
	}
	stats := d.wrapper.DB().Stats()
	result := CheckResult{
		Status:  StatusHealthy,
		Message: "Database is responding",
		Details: map[string]interface{}{
			"open_connections": stats.OpenConnections,
			"in_use":           stats.InUse,
			"idle":             stats.Idle,
			"driver":           d.wrapper.DB().DriverName(),
		},
	}
	if stats.MaxOpenConnections > 0 && stats.InUse >= stats.MaxOpenConnections {
		result.Status = StatusDegraded
		result.Message = "Database connection pool exhausted"
	}
	return result
}

// TemporalHealthChecker checks the Temporal frontend.
type TemporalHealthChecker struct {
	client client.Client
}

// NewTemporalHealthChecker creates a Temporal health checker
func NewTemporalHealthChecker(c client.Client) *TemporalHealthChecker {
	return &TemporalHealthChecker{client: c}
}

func (t *TemporalHealthChecker) Name() string           { return "temporal" }
func (t *TemporalHealthChecker) IsCritical() bool       { return true }
func (t *TemporalHealthChecker) Timeout() time.Duration { return defaultCheckTimeout }

func (t *TemporalHealthChecker) Check(ctx context.Context) CheckResult {
	if _, err := t.client.CheckHealth(ctx, &client.CheckHealthRequest{}); err != nil {
		return CheckResult{Status: StatusUnhealthy, Error: err.Error(), Message: "Temporal frontend unreachable"}
	}
	return CheckResult{Status: StatusHealthy, Message: "Temporal frontend is serving"}
}

// ProviderHealthChecker reports whether a model provider is configured. It
// never calls the provider.
type ProviderHealthChecker struct {
	role       string
	provider   string
	model      string
	configured bool
	critical   bool
}

// NewProviderHealthChecker creates a checker for one provider role, e.g. "reasoning" or "search".
func NewProviderHealthChecker(role, provider, model string, configured, critical bool) *ProviderHealthChecker {
	return &ProviderHealthChecker{role: role, provider: provider, model: model, configured: configured, critical: critical}
}

func (p *ProviderHealthChecker) Name() string           { return "llm_" + p.role }
func (p *ProviderHealthChecker) IsCritical() bool       { return p.critical }
func (p *ProviderHealthChecker) Timeout() time.Duration { return time.Second }

func (p *ProviderHealthChecker) Check(context.Context) CheckResult {
	details := map[string]interface{}{"provider": p.provider, "model": p.model}
	if !p.configured {
		return CheckResult{Status: StatusUnhealthy, Message: p.provider + " is not configured", Details: details}
	}
	return CheckResult{Status: StatusHealthy, Message: p.provider + " configured", Details: details}
}

// CustomHealthChecker allows for custom health check logic
type CustomHealthChecker struct {
	name     string
	critical bool
	timeout  time.Duration
	checkFn  func(ctx context.Context) CheckResult
}

// NewCustomHealthChecker creates a custom health checker
func NewCustomHealthChecker(name string, critical bool, timeout time.Duration, checkFn func(ctx context.Context) CheckResult) *CustomHealthChecker {
	return &CustomHealthChecker{name: name, critical: critical, timeout: timeout, checkFn: checkFn}
}

func (c *CustomHealthChecker) Name() string           { return c.name }
func (c *CustomHealthChecker) IsCritical() bool       { return c.critical }
func (c *CustomHealthChecker) Timeout() time.Duration { return c.timeout }

func (c *CustomHealthChecker) Check(ctx context.Context) CheckResult {
	return c.checkFn(ctx)
}
