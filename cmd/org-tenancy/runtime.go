package main

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/iota-uz/tenancy-backfill/modules/tenancy/domain/registry"
	"github.com/iota-uz/tenancy-backfill/modules/tenancy/infrastructure/persistence"
	"github.com/iota-uz/tenancy-backfill/modules/tenancy/services/orchestrator"
	"github.com/iota-uz/tenancy-backfill/modules/tenancy/services/policy"
	"github.com/iota-uz/tenancy-backfill/pkg/configuration"
	"github.com/iota-uz/tenancy-backfill/pkg/dbconn"
	"github.com/iota-uz/tenancy-backfill/pkg/metrics"
	"github.com/iota-uz/tenancy-backfill/pkg/tracing"
)

// dataStore is everything the subcommands read, write or execute.
type dataStore interface {
	orchestrator.Store
	policy.Executor
}

type openFunc func(ctx context.Context, conf *configuration.Configuration) (dataStore, func(), error)

type runtime struct {
	load   func() (*configuration.Configuration, error)
	logger logrus.FieldLogger
	open   openFunc

	loaded *configuration.Configuration
}

func defaultRuntime() *runtime {
	return &runtime{load: configuration.Use, open: openPostgres}
}

// config loads the configuration on first use; a bad environment is a usage error.
func (rt *runtime) config() (*configuration.Configuration, error) {
	if rt.loaded != nil {
		return rt.loaded, nil
	}
	conf, err := rt.load()
	if err != nil {
		return nil, withCode(exitUsage, fmt.Errorf("configuration: %w", err))
	}
	rt.loaded = conf
	if rt.logger == nil {
		rt.logger = conf.Logger()
	}
	return conf, nil
}

func (rt *runtime) close() {
	if rt.loaded != nil {
		rt.loaded.Unload()
	}
}

func openPostgres(ctx context.Context, conf *configuration.Configuration) (dataStore, func(), error) {
	conn, err := dbconn.Connect(ctx, conf.Database.Opts, conf.Database.ConnectTimeout)
	if err != nil {
		return nil, nil, withCode(exitDB, err)
	}
	store := persistence.New(conn.DB, persistence.WithSessionVariable(conf.Policy.SessionVariable))
	return store, conn.Close, nil
}

// registry applies the table map from the flag, falling back to TENANCY_TABLE_MAP.
func (rt *runtime) registry(conf *configuration.Configuration, tableMap string) (*registry.Registry, error) {
	if tableMap == "" {
		tableMap = conf.Tenancy.TableMap
	}
	reg := registry.Default()
	if tableMap == "" {
		return reg, nil
	}
	o, err := registry.LoadOverrides(tableMap)
	if err != nil {
		return nil, withCode(exitUsage, err)
	}
	reg, err = reg.WithOverrides(o)
	if err != nil {
		return nil, withCode(exitUsage, err)
	}
	rt.logger.WithField("table_map", tableMap).Infof("Loaded table map from %s.", tableMap)
	return reg, nil
}

// session opens the store with tracing installed and returns a cleanup that
// pushes metrics and flushes spans.
func (rt *runtime) session(ctx context.Context, conf *configuration.Configuration) (dataStore, func(), error) {
	logger := rt.logger

	shutdown, err := tracing.Setup(ctx, tracing.Options{
		Enabled:     conf.OpenTelemetry.Enabled,
		Endpoint:    conf.OpenTelemetry.TempoURL,
		ServiceName: conf.OpenTelemetry.ServiceName,
	})
	if err != nil {
		logger.WithError(err).Warn("OpenTelemetry tracing disabled.")
		shutdown = func(context.Context) error { return nil }
	} else if conf.OpenTelemetry.Enabled {
		logger.Info("OpenTelemetry tracing enabled, exporting to " + conf.OpenTelemetry.TempoURL)
	}

	store, closeStore, err := rt.open(ctx, conf)
	if err != nil {
		_ = shutdown(ctx)
		return nil, nil, err
	}

	cleanup := func() {
		closeStore()
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := metrics.Push(flushCtx, conf.Prometheus.PushgatewayURL, conf.Prometheus.Job); err != nil {
			logger.WithError(err).Warn("Failed to push metrics.")
		}
		if err := shutdown(flushCtx); err != nil {
			logger.WithError(err).Warn("Failed to flush traces.")
		}
	}
	return store, cleanup, nil
}

func usageErr(format string, args ...any) error {
	return withCode(exitUsage, fmt.Errorf(format, args...))
}
