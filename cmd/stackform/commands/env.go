package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/stackform/stackform/pkg/catalog"
	"github.com/stackform/stackform/pkg/config"
	"github.com/stackform/stackform/pkg/engine"
	"github.com/stackform/stackform/pkg/provider"
	"github.com/stackform/stackform/pkg/stores"
	"github.com/stackform/stackform/pkg/telemetry"
)

// environment bundles the wiring every command needs: configuration,
// logger, and the loaded component catalog.
type environment struct {
	cfg      *config.Config
	logger   zerolog.Logger
	registry *catalog.Registry
}

func setup() (*environment, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	if verbose {
		cfg.Telemetry.Logging.Level = "debug"
	}
	logger, err := telemetry.NewLogger(cfg.Telemetry.Logging,
		cfg.Telemetry.ServiceName, cfg.Telemetry.ServiceVersion)
	if err != nil {
		return nil, err
	}

	registry, err := catalog.NewLoader(logger).LoadDir(cfg.CatalogDir)
	if err != nil {
		return nil, err
	}

	return &environment{cfg: cfg, logger: logger, registry: registry}, nil
}

// openStore opens and migrates the state database.
func (e *environment) openStore(ctx context.Context) (*stores.SQLiteStore, error) {
	store, err := stores.NewSQLiteStore(stores.Config{Path: e.cfg.StatePath})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

// buildProviders registers one in-memory provider per catalog component
// type and seeds it with the resources recorded in the state database,
// so plan and apply converge across invocations.
func (e *environment) buildProviders(ctx context.Context, store engine.StateStore) (*provider.Registry, error) {
	byType := make(map[string]*provider.MemoryProvider)
	all := make([]engine.Provider, 0, e.registry.Len())
	for _, name := range e.registry.Names() {
		prov := provider.NewMemoryProvider(name)
		byType[name] = prov
		all = append(all, prov)
	}

	if store != nil {
		saved, err := store.ListInstances(ctx)
		if err != nil {
			return nil, err
		}

		// A live provider reports resolved reference values, not the
		// tokens the deployment declares; seed the same form.
		graph, resolveErrs := engine.NewResolver().Resolve(saved)

		for _, inst := range saved {
			if inst.ResourceID == "" {
				continue
			}
			prov, ok := byType[inst.Type]
			if !ok {
				continue
			}
			fields := inst.Fields
			if len(resolveErrs) == 0 {
				fields = engine.ResolvedFields(inst, graph)
			}
			prov.Seed(inst.ResourceID, inst.Name, fields, inst.Tags)
		}
	}

	return provider.NewRegistry(all...)
}

// deploymentPath resolves the deployment document path from the flag or
// the configuration.
func (e *environment) deploymentPath(flagValue string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	if e.cfg.Deployment != "" {
		return e.cfg.Deployment, nil
	}
	return "", fmt.Errorf("no deployment document given; pass --deployment or set it in %s", configPath)
}

// loadInstances parses and validates the deployment document, then
// carries saved resource identities onto the parsed instances.
func (e *environment) loadInstances(ctx context.Context, path string, store engine.StateStore) ([]*engine.ComponentInstance, error) {
	parser := engine.NewManifestParser(e.registry, e.logger)
	instances, err := parser.ParseFile(path)
	if err != nil {
		return nil, err
	}

	if store != nil {
		saved, err := store.ListInstances(ctx)
		if err != nil {
			return nil, err
		}
		byName := make(map[string]*engine.ComponentInstance, len(saved))
		for _, inst := range saved {
			byName[inst.Name] = inst
		}
		for _, inst := range instances {
			prev, ok := byName[inst.Name]
			if !ok || prev.Type != inst.Type {
				continue
			}
			inst.ResourceID = prev.ResourceID
			inst.Props = prev.Props
			inst.Links = prev.Links
		}
	}

	return instances, nil
}

// resolveGraph builds the dependency graph, folding resolution failures
// into one error.
func resolveGraph(instances []*engine.ComponentInstance) (*engine.DependencyGraph, error) {
	graph, errs := engine.NewResolver().Resolve(instances)
	if len(errs) > 0 {
		lines := make([]string, len(errs))
		for i, resErr := range errs {
			lines[i] = "  " + resErr.Error()
		}
		return nil, fmt.Errorf("reference resolution failed:\n%s", strings.Join(lines, "\n"))
	}
	return graph, nil
}

// computePlan runs the full pipeline up to a plan: parse, resolve,
// observe, diff.
func (e *environment) computePlan(ctx context.Context, path string, store engine.StateStore, providers *provider.Registry) (*engine.Plan, *engine.DependencyGraph, error) {
	instances, err := e.loadInstances(ctx, path, store)
	if err != nil {
		return nil, nil, err
	}

	graph, err := resolveGraph(instances)
	if err != nil {
		return nil, nil, err
	}

	observed, err := providers.Observe(ctx)
	if err != nil {
		return nil, nil, err
	}

	plan, err := engine.NewReconciler(e.logger).Plan(graph, observed)
	if err != nil {
		return nil, nil, err
	}
	return plan, graph, nil
}

// printManifestError renders per-instance validation failures.
func printManifestError(err error) bool {
	var manifestErr *engine.ManifestError
	if !errors.As(err, &manifestErr) {
		return false
	}
	for name, errs := range manifestErr.Errors {
		for _, vErr := range errs {
			fmt.Printf("  %s: %s\n", name, vErr.Error())
		}
	}
	return true
}
