package main

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/v1nybarreto/genai-agent/internal/agent"
	"github.com/v1nybarreto/genai-agent/internal/analyzer"
	"github.com/v1nybarreto/genai-agent/internal/bigquery"
	"github.com/v1nybarreto/genai-agent/internal/config"
	"github.com/v1nybarreto/genai-agent/internal/connector"
	"github.com/v1nybarreto/genai-agent/internal/gateway"
	"github.com/v1nybarreto/genai-agent/internal/generator"
	"github.com/v1nybarreto/genai-agent/internal/metrics"
)

// warehouse is what either backend offers the pipeline
type warehouse interface {
	analyzer.MetadataSource
	gateway.DryRunner
	gateway.Runner
}

// app holds the wired pipeline for one CLI invocation
type app struct {
	cfg       *config.Config
	logger    *logrus.Logger
	catalog   *analyzer.SchemaCatalog
	generator *generator.QueryGenerator
	gateway   *gateway.Gateway
	agent     *agent.Agent
	recorder  *metrics.Recorder
	closeFn   func()
}

func newApp(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*app, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	wh, closeFn, err := openWarehouse(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	catalog := analyzer.NewSchemaCatalog(wh, logger)
	catalog.FetchTimeout = cfg.QueryTimeout
	gen, err := generator.NewQueryGenerator(catalog, generator.Target{
		Dataset:        cfg.Dataset,
		Table:          cfg.Table,
		DimensionTable: cfg.DimensionTable,
	}, generator.DialectFor(cfg.Backend), logger)
	if err != nil {
		closeFn()
		return nil, err
	}

	recorder := metrics.NewRecorder()
	gw := gateway.NewGateway(wh, wh, cfg.MaxBytesBilled, cfg.QueryTimeout, logger)
	gw.Labels = cfg.Labels()
	gw.Observer = recorder

	ag := agent.NewAgent(gen, gw, logger)
	ag.SchemaTimeout = cfg.QueryTimeout

	return &app{
		cfg:       cfg,
		logger:    logger,
		catalog:   catalog,
		generator: gen,
		gateway:   gw,
		agent:     ag,
		recorder:  recorder,
		closeFn:   closeFn,
	}, nil
}

func openWarehouse(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (warehouse, func(), error) {
	switch cfg.Backend {
	case config.BackendBigQuery:
		client, err := bigquery.NewClient(ctx, cfg.ProjectID, cfg.Location, cfg.Labels(), logger)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create BigQuery client: %w", err)
		}
		return client, client.Close, nil
	case config.BackendMySQL:
		db := connector.NewDatabaseConnector(cfg.MySQL.Host, cfg.MySQL.User, cfg.MySQL.Password, cfg.MySQL.Database, cfg.MySQL.Port, logger)
		if err := db.Connect(ctx); err != nil {
			return nil, nil, fmt.Errorf("failed to connect to MySQL mirror: %w", err)
		}
		return db, db.Disconnect, nil
	default:
		return nil, nil, fmt.Errorf("unknown warehouse backend %q", cfg.Backend)
	}
}

// close pushes metrics when a Pushgateway is configured and releases the backend
func (a *app) close() {
	if a.cfg.PushgatewayURL != "" {
		if err := a.recorder.Push(a.cfg.PushgatewayURL, "genai-agent"); err != nil {
			a.logger.Warningf("Failed to push metrics: %v", err)
		} else {
			a.logger.Debugf("Pushed metrics to %s", a.cfg.PushgatewayURL)
		}
	}
	if a.closeFn != nil {
		a.closeFn()
	}
}
