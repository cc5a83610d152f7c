package bootstrap

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/goccy/go-json"
	"github.com/sebmertens/broker-gateway/internal/config"
	"github.com/sebmertens/broker-gateway/internal/infrastructure"
	"github.com/sebmertens/broker-gateway/internal/repository"
	"github.com/sebmertens/broker-gateway/internal/service/quote"
	"github.com/sebmertens/broker-gateway/internal/service/snapshot"
	"github.com/sebmertens/broker-gateway/internal/upstream/degiro"
	"github.com/sebmertens/broker-gateway/internal/util"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// StartSnapshot captures a single index snapshot and writes it to stdout.
// Meant for cron jobs and ad-hoc inspection.
func StartSnapshot(cmd *cobra.Command, args []string) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	universeDB, err := infrastructure.NewDatabaseConnection(ctx, config.Env.Database["universe"])
	util.ContinueOrFatal(err)
	defer universeDB.Close()

	requestTimeout := config.Env.Upstream.RequestTimeout
	if requestTimeout <= 0 {
		requestTimeout = 30 * time.Second
	}
	httpClient := &http.Client{Timeout: requestTimeout}

	session := degiro.NewSessionManager(config.Env.Upstream, httpClient)
	defer session.Teardown(ctx)

	upstream := degiro.NewClient(config.Env.Upstream, session)
	quoteAggregator := quote.NewAggregator(upstream, config.Env.Upstream.QuoteChunkSize, config.Env.Upstream.QuoteWorkers)

	universeRepo := repository.NewUniverseRepository(universeDB)
	snapshotService := snapshot.NewOrchestrator(universeRepo, upstream, quoteAggregator, config.Env.Snapshot.Workers, config.Env.Snapshot.MetadataTimeout)

	rows, succeeded, err := snapshotService.Capture(ctx)
	util.ContinueOrFatal(err)

	logrus.Infof("snapshot captured: %d symbols resolved", succeeded)

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	err = encoder.Encode(rows)
	util.ContinueOrFatal(err)
}
