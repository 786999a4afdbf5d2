package toolregistry

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// DiscoverFiles implements spec §4.5 Discovery (a)+(b): it loads every YAML
// tool-spec file under dir asynchronously and registers each one, which in
// turn indexes it into Artifact Memory as a `tool` artifact for semantic
// search. Per-file errors are logged and skipped rather than aborting the
// whole discovery pass, since one malformed spec file should not prevent
// the rest of the catalog from loading.
func (r *Registry) DiscoverFiles(ctx context.Context, dir string) <-chan error {
	done := make(chan error, 1)
	go func() {
		defer close(done)

		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				done <- nil
				return
			}
			done <- fmt.Errorf("toolregistry: read spec dir %q: %w", dir, err)
			return
		}

		var wg sync.WaitGroup
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			ext := filepath.Ext(entry.Name())
			if ext != ".yaml" && ext != ".yml" {
				continue
			}
			path := filepath.Join(dir, entry.Name())
			wg.Add(1)
			go func(path string) {
				defer wg.Done()
				if err := r.loadSpecFile(ctx, path); err != nil {
					r.logger.Warn(ctx, "toolregistry: failed to load tool spec", "path", path, "error", err.Error())
				}
			}(path)
		}
		wg.Wait()
		done <- nil
	}()
	return done
}

func (r *Registry) loadSpecFile(ctx context.Context, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %q: %w", path, err)
	}
	var t Tool
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return fmt.Errorf("parse %q: %w", path, err)
	}
	if !t.TrackUsage && !hasKey(raw, "track_usage") {
		// yaml.Unmarshal leaves bools at their zero value when the key is
		// absent, but track_usage defaults to true per spec §3 Tool.
		t.TrackUsage = true
	}
	_, err = r.Register(ctx, t)
	return err
}

func hasKey(raw []byte, key string) bool {
	var generic map[string]any
	if err := yaml.Unmarshal(raw, &generic); err != nil {
		return false
	}
	_, ok := generic[key]
	return ok
}

// ConnectExternalServers implements spec §4.5 Discovery (c): it opens
// connections to every enabled external server in parallel (via
// ExternalServerPool.ConnectAll) and appends each reachable server's remote
// tool list to the registry, namespaced external_<server>_<tool>.
// Connection failures are logged per-server and do not prevent the others
// from being discovered.
func (r *Registry) ConnectExternalServers(ctx context.Context, pool *ExternalServerPool, configs []ExternalServerConfig) {
	failures := pool.ConnectAll(ctx, configs)
	inv := &ExternalServerInvoker{Pool: pool}
	r.RegisterInvoker(KindExternalProtocolServer, inv)

	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}
		if err, failed := failures[cfg.Name]; failed {
			r.logger.Warn(ctx, "toolregistry: external server unreachable", "server", cfg.Name, "error", err.Error())
			continue
		}
		tools, err := pool.ListRemoteTools(ctx, cfg.Name)
		if err != nil {
			r.logger.Warn(ctx, "toolregistry: failed to list external tools", "server", cfg.Name, "error", err.Error())
			continue
		}
		for _, t := range tools {
			if _, err := r.Register(ctx, t); err != nil {
				r.logger.Warn(ctx, "toolregistry: failed to register external tool", "tool", t.Name, "error", err.Error())
			}
		}
	}
}
