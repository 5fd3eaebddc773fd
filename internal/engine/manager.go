package engine

import (
	"context"
	"time"

	"github.com/els0r/telemetry/logging"

	"github.com/canonica-labs/fedra/internal/cache"
	"github.com/canonica-labs/fedra/internal/config"
	"github.com/canonica-labs/fedra/internal/endpoint"
	"github.com/canonica-labs/fedra/internal/executor"
	"github.com/canonica-labs/fedra/internal/monitoring"
	"github.com/canonica-labs/fedra/internal/optimizer"
	"github.com/canonica-labs/fedra/internal/scheduler"
	"github.com/canonica-labs/fedra/internal/sparql"
)

// Query is a prepared query, ready for evaluation.
type Query struct {
	Text   string
	Parsed *sparql.Query
}

// Manager is the federation manager: it owns the endpoint registry, the
// source selection cache, the worker pools and the statistics sink, and
// drives queries through planning and parallel evaluation. All state is
// tied to the instance; there are no process-wide globals.
type Manager struct {
	cfg      *config.Config
	registry *endpoint.Registry
	cache    cache.SourceSelectionCache
	joins    *scheduler.Scheduler
	unions   *scheduler.Scheduler
	sink     monitoring.Sink

	parser    *sparql.Parser
	rewriter  *optimizer.Rewriter
	evaluator *executor.Evaluator
	queries   *QueryManager
}

// New wires a federation from configuration and a member registry. The
// registry's endpoints are initialized by Initialize.
func New(cfg *config.Config, registry *endpoint.Registry, sink monitoring.Sink) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if sink == nil {
		sink = monitoring.ForConfig(cfg.EnableMonitoring, nil)
	}

	c, err := cache.New(cfg.SourceSelectionCacheSpec)
	if err != nil {
		return nil, err
	}

	joins := scheduler.New("joins", cfg.JoinWorkerThreads)
	unions := scheduler.New("unions", cfg.UnionWorkerThreads)

	m := &Manager{
		cfg:      cfg,
		registry: registry,
		cache:    c,
		joins:    joins,
		unions:   unions,
		sink:     sink,
		parser:   sparql.NewParser(),
		queries:  NewQueryManager(),
	}
	resolver := optimizer.NewResolver(registry, c, joins, sink)
	m.rewriter = optimizer.NewRewriter(resolver)
	m.evaluator = executor.New(registry, joins, unions, sink, cfg.BoundJoinBlockSize)
	return m, nil
}

// Registry returns the federation's endpoint registry.
func (m *Manager) Registry() *endpoint.Registry { return m.registry }

// Cache returns the source selection cache.
func (m *Manager) Cache() cache.SourceSelectionCache { return m.cache }

// Queries returns the query manager.
func (m *Manager) Queries() *QueryManager { return m.queries }

// Initialize opens all federation members.
func (m *Manager) Initialize(ctx context.Context) error {
	return m.registry.InitializeAll(ctx)
}

// PrepareQuery parses SPARQL text into a query ready for evaluation.
func (m *Manager) PrepareQuery(text string) (*Query, error) {
	parsed, err := m.parser.Parse(text)
	if err != nil {
		return nil, err
	}
	return &Query{Text: text, Parsed: parsed}, nil
}

// Evaluate plans and runs a prepared query, returning the streaming
// result. The caller must close the result; closing releases the query's
// resources and aborts any outstanding work.
func (m *Manager) Evaluate(ctx context.Context, q *Query) (*Result, error) {
	var cancelCtx context.CancelFunc
	if maxTime := m.cfg.MaxQueryTime(); maxTime > 0 {
		ctx, cancelCtx = context.WithTimeout(ctx, maxTime)
	} else {
		ctx, cancelCtx = context.WithCancel(ctx)
	}
	qi := m.queries.Begin(q.Text, m.cfg.MaxQueryTime(), cancelCtx)
	m.sink.QueryStarted(qi.ID())

	logger := logging.FromContext(ctx).With("query_id", qi.ID())

	fail := func(err error) (*Result, error) {
		m.finish(qi, "error")
		return nil, err
	}

	plan, err := m.rewriter.Rewrite(ctx, qi, q.Parsed)
	if err != nil {
		return fail(err)
	}
	if m.cfg.DebugQueryPlan {
		logger.With("plan", plan.String()).Info("rewritten query plan")
	}

	stream, err := m.evaluator.Evaluate(ctx, qi, plan)
	if err != nil {
		return fail(err)
	}

	if q.Parsed.Distinct {
		stream = executor.NewDistinctStream(stream)
	}
	if q.Parsed.Limit >= 0 {
		stream = executor.NewLimitStream(stream, q.Parsed.Limit)
	}

	return &Result{
		manager: m,
		qi:      qi,
		vars:    q.Parsed.Vars(),
		stream:  stream,
		ctx:     ctx,
	}, nil
}

// finish closes out one query's lifecycle and releases its context.
func (m *Manager) finish(qi *QueryInfo, outcome string) {
	qi.release()
	m.queries.Finish(qi)
	m.sink.QueryFinished(qi.ID(), outcome, time.Since(qi.Start()))
}

// Shutdown aborts in-flight queries, stops the worker pools and shuts
// down the federation members.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.queries.AbortAll()
	m.joins.Shutdown()
	m.unions.Shutdown()
	return m.registry.ShutdownAll(ctx)
}
