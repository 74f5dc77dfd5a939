//go:build wireinject
// +build wireinject

package di

import (
	"TaPull/pkg/config"
	"TaPull/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		ProvideLogger,
		ProvideMetrics,

		// Infrastructure
		ProvideIndicatorSource,
		ProvideBackends,
		ProvideL2Cache,

		// Orchestrator
		ProvideCapabilityManager,
		ProvideScheduler,

		// Use cases
		ProvideSnapshotProcessor,
		ProvideStreamHandler,
		ProvideSnapshotFeed,
		ProvidePrefetcher,

		// HTTP surface and application
		ProvideHTTPHandler,
		ProvideApp,
	)
	return &server.App{}, nil
}
