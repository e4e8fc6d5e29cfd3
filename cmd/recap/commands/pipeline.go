package commands

import (
	"context"
	"database/sql"

	"go.uber.org/zap"

	"github.com/teranos/recap/ai/provider"
	"github.com/teranos/recap/ai/tracker"
	"github.com/teranos/recap/am"
	"github.com/teranos/recap/pulse/async"
	"github.com/teranos/recap/pulse/budget"
)

// pipeline is the wired summary stack shared by serve and summarize
type pipeline struct {
	db      *sql.DB
	store   *async.Store
	factory *provider.Factory
	budget  *budget.Pool
	manager *async.Manager
}

func newPipeline(ctx context.Context, cfg *am.Config, dbPath string, log *zap.SugaredLogger) (*pipeline, error) {
	database, err := openDatabase(cfg, dbPath)
	if err != nil {
		return nil, err
	}

	store := async.NewStore(database)
	usage := tracker.NewUsageTracker(database)
	factory := provider.NewFactory(cfg, usage, log)
	pool := budget.NewPoolFromConfig(cfg.Budget)

	manager := async.NewManager(store, store, factory, pool, async.ManagerConfigFromAm(cfg.Summary), log)
	if err := manager.Start(ctx); err != nil {
		database.Close()
		return nil, err
	}

	return &pipeline{db: database, store: store, factory: factory, budget: pool, manager: manager}, nil
}

// Close stops running jobs and closes the database
func (p *pipeline) Close() {
	p.manager.Stop()
	p.db.Close()
}
