package otel

import "go.opentelemetry.io/otel/metric"

// Metrics holds every metric instrument the kernel's components publish
// to. One instrument per hot path across the Pool, Gateway, FinOps
// Engine, and Federation.
type Metrics struct {
	// Pool (internal/taskpool)
	TaskDuration    metric.Float64Histogram
	ActiveTasks     metric.Int64UpDownCounter
	ContainerErrors metric.Int64Counter

	// A2A Gateway (internal/gateway)
	RequestDuration  metric.Float64Histogram
	RateLimitRejects metric.Int64Counter
	SSEEventsSent    metric.Int64Counter
	PushFailures     metric.Int64Counter

	// FinOps Engine (internal/finops)
	TokensRecorded    metric.Int64Counter
	CostRecordedUSD   metric.Float64Counter
	BudgetAlertsFired metric.Int64Counter

	// CADP Federation (internal/federation)
	FederationSyncs          metric.Int64Counter
	FederationPeersConnected metric.Int64UpDownCounter
	FederationLookupMisses   metric.Int64Counter
}

// NewMetrics creates every metric instrument from the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.TaskDuration, err = meter.Float64Histogram("cortexos.pool.task.duration",
		metric.WithDescription("Task processing duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.ActiveTasks, err = meter.Int64UpDownCounter("cortexos.pool.tasks.active",
		metric.WithDescription("Number of tasks currently running in the pool"),
	)
	if err != nil {
		return nil, err
	}

	m.ContainerErrors, err = meter.Int64Counter("cortexos.pool.container.errors",
		metric.WithDescription("Container lifecycle errors (create/start/wait failures)"),
	)
	if err != nil {
		return nil, err
	}

	m.RequestDuration, err = meter.Float64Histogram("cortexos.gateway.request.duration",
		metric.WithDescription("A2A gateway HTTP request duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.RateLimitRejects, err = meter.Int64Counter("cortexos.gateway.ratelimit.rejects",
		metric.WithDescription("Requests rejected by the gateway's rate limiter"),
	)
	if err != nil {
		return nil, err
	}

	m.SSEEventsSent, err = meter.Int64Counter("cortexos.gateway.sse.events",
		metric.WithDescription("Task status update frames sent over SSE"),
	)
	if err != nil {
		return nil, err
	}

	m.PushFailures, err = meter.Int64Counter("cortexos.gateway.push.failures",
		metric.WithDescription("Outbound push notification delivery failures"),
	)
	if err != nil {
		return nil, err
	}

	m.TokensRecorded, err = meter.Int64Counter("cortexos.finops.tokens",
		metric.WithDescription("Total prompt+completion tokens recorded to the ledger"),
	)
	if err != nil {
		return nil, err
	}

	m.CostRecordedUSD, err = meter.Float64Counter("cortexos.finops.cost.usd",
		metric.WithDescription("Total estimated cost recorded to the ledger, in USD"),
	)
	if err != nil {
		return nil, err
	}

	m.BudgetAlertsFired, err = meter.Int64Counter("cortexos.finops.budget.alerts",
		metric.WithDescription("Budget alert/exceeded transitions fired"),
	)
	if err != nil {
		return nil, err
	}

	m.FederationSyncs, err = meter.Int64Counter("cortexos.federation.syncs",
		metric.WithDescription("Completed CADP sync rounds with a peer"),
	)
	if err != nil {
		return nil, err
	}

	m.FederationPeersConnected, err = meter.Int64UpDownCounter("cortexos.federation.peers.connected",
		metric.WithDescription("Number of currently connected federation peers"),
	)
	if err != nil {
		return nil, err
	}

	m.FederationLookupMisses, err = meter.Int64Counter("cortexos.federation.lookup.misses",
		metric.WithDescription("Federated lookups that found no matching record on any peer"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}
