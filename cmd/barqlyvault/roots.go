package main

import (
	"sync"

	"github.com/spf13/cobra"

	"github.com/barqly/vault-core/internal/cache"
	"github.com/barqly/vault-core/internal/registry"
	"github.com/barqly/vault-core/internal/vaultconfig"
	"github.com/barqly/vault-core/internal/vaultpaths"
)

func resolveRoots(cmd *cobra.Command) (vaultpaths.Roots, error) {
	roots, err := vaultpaths.Resolve()
	if err != nil {
		return vaultpaths.Roots{}, err
	}
	override, _ := cmd.Flags().GetString("data-dir")
	if override != "" {
		abs, err := vaultpaths.CleanAbs(override)
		if err != nil {
			return vaultpaths.Roots{}, err
		}
		// Overriding only the private root would still scatter
		// Barqly-Vaults/Barqly-Recovery into the real home directory; an
		// explicit --data-dir redirects both roots under it.
		roots.PrivateRoot = abs
		roots.UserVisibleRoot = abs
	}
	return roots, nil
}

func openStore(cmd *cobra.Command) (vaultpaths.Roots, *registry.Store, error) {
	roots, err := resolveRoots(cmd)
	if err != nil {
		return vaultpaths.Roots{}, nil, err
	}
	store, err := registry.Open(roots.RegistryPath())
	if err != nil {
		return vaultpaths.Roots{}, nil, err
	}
	return roots, store, nil
}

var (
	analysisCacheOnce sync.Once
	analysisCache     *cache.Cache
)

// bundleAnalysisCache lazily builds the process-wide manifest-parse cache
// sized per the loaded config, so the analyze/decrypt commands don't pay
// for ristretto's setup when a run never touches a bundle. Construction
// failure degrades to no caching rather than failing the command.
func bundleAnalysisCache(roots vaultpaths.Roots) *cache.Cache {
	analysisCacheOnce.Do(func() {
		cfg, err := vaultconfig.Load(roots.ConfigPath())
		if err != nil {
			return
		}
		c, err := cache.New(cache.Config{MaxEntries: cfg.Cache.MaxEntries, TTL: cfg.Cache.TTL})
		if err != nil {
			return
		}
		analysisCache = c
	})
	return analysisCache
}
