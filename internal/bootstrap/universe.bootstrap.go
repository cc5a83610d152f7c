package bootstrap

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/sebmertens/broker-gateway/internal/config"
	"github.com/sebmertens/broker-gateway/internal/infrastructure"
	"github.com/sebmertens/broker-gateway/internal/repository"
	"github.com/sebmertens/broker-gateway/internal/service/universe"
	"github.com/sebmertens/broker-gateway/internal/upstream/degiro"
	"github.com/sebmertens/broker-gateway/internal/util"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// StartUniverse seeds or prunes the index universe mapping. Sync resolves
// each symbol through the upstream catalog and persists the product id,
// matching what the snapshot orchestrator reads back.
func StartUniverse(cmd *cobra.Command, args []string) {
	actionType, _ := cmd.Flags().GetString("action")
	symbolsFlag, _ := cmd.Flags().GetString("symbols")
	refresh, _ := cmd.Flags().GetBool("refresh")

	symbols := splitSymbols(symbolsFlag)
	if len(symbols) == 0 {
		util.ContinueOrFatal(errors.New("no symbols given"))
	}

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
	universeRepo := repository.NewUniverseRepository(universeDB)
	syncer := universe.NewSyncer(universeRepo, upstream, config.Env.Upstream.SearchLimit)

	switch actionType {
	case "sync":
		report, err := syncer.Sync(ctx, symbols, refresh)
		util.ContinueOrFatal(err)
		logrus.WithFields(logrus.Fields{
			"synced":     report.Synced,
			"skipped":    report.Skipped,
			"unresolved": report.Unresolved,
		}).Info("universe sync finished")
	case "remove":
		for _, symbol := range symbols {
			err := syncer.Remove(ctx, symbol)
			util.ContinueOrFatal(err)
			logrus.WithField("symbol", symbol).Info("symbol removed from universe")
		}
	default:
		util.ContinueOrFatal(errors.New("invalid command"))
	}
}

func splitSymbols(raw string) []string {
	parts := strings.Split(raw, ",")
	symbols := make([]string, 0, len(parts))
	for _, part := range parts {
		if symbol := strings.TrimSpace(part); symbol != "" {
			symbols = append(symbols, symbol)
		}
	}

	return symbols
}
