package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sebmertens/broker-gateway/internal/config"
	"github.com/sebmertens/broker-gateway/internal/entity"
	httpHandler "github.com/sebmertens/broker-gateway/internal/handler/gateway/http"
	"github.com/sebmertens/broker-gateway/internal/infrastructure"
	"github.com/sebmertens/broker-gateway/internal/repository"
	"github.com/sebmertens/broker-gateway/internal/service/leveraged"
	"github.com/sebmertens/broker-gateway/internal/service/orderflow"
	"github.com/sebmertens/broker-gateway/internal/service/quote"
	"github.com/sebmertens/broker-gateway/internal/service/search"
	"github.com/sebmertens/broker-gateway/internal/service/snapshot"
	"github.com/sebmertens/broker-gateway/internal/upstream/degiro"
	"github.com/sebmertens/broker-gateway/internal/util"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const tokenRetention = 5 * time.Minute

func StartGateway(cmd *cobra.Command, args []string) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	universeDB, err := infrastructure.NewDatabaseConnection(ctx, config.Env.Database["universe"])
	util.ContinueOrFatal(err)
	infrastructure.StartDatabaseHealthCheck(ctx, universeDB, config.Env.Database["universe"].PingInterval)

	var (
		nc *nats.Conn
		js nats.JetStreamContext
	)
	if config.Env.NatsJetstream.URL != "" {
		nc, js, err = infrastructure.NewJetstream()
		util.ContinueOrFatal(err)
	}

	requestTimeout := config.Env.Upstream.RequestTimeout
	if requestTimeout <= 0 {
		requestTimeout = 30 * time.Second
	}
	httpClient := &http.Client{Timeout: requestTimeout}

	session := degiro.NewSessionManager(config.Env.Upstream, httpClient)
	upstream := degiro.NewClient(config.Env.Upstream, session)

	quoteAggregator := quote.NewAggregator(upstream, config.Env.Upstream.QuoteChunkSize, config.Env.Upstream.QuoteWorkers)
	searchResolver := search.NewResolver(upstream, quoteAggregator, config.Env.Upstream.SearchLimit)
	leveragedFinder := leveraged.NewFinder(upstream, quoteAggregator, config.Env.Upstream.LeveragedLimit)

	tokenStore, err := buildTokenStore(ctx)
	util.ContinueOrFatal(err)

	orderService := orderflow.NewService(upstream, tokenStore, config.Env.OrderFlow.TokenTTL, js)

	universeRepo := repository.NewUniverseRepository(universeDB)
	snapshotService := snapshot.NewOrchestrator(universeRepo, upstream, quoteAggregator, config.Env.Snapshot.Workers, config.Env.Snapshot.MetadataTimeout)

	publishers := make([]entity.Publisher, 0)
	if js != nil {
		publishers = append(publishers, orderService)
	}
	for _, v := range publishers {
		err = v.JetstreamEventInit(ctx)
		util.ContinueOrFatal(err)
	}

	gatewayHandler := httpHandler.NewGatewayHTTPHandler(
		searchResolver,
		leveragedFinder,
		orderService,
		snapshotService,
		config.Env.Snapshot.StreamInterval,
	)
	httpMux := http.NewServeMux()
	gatewayHandler.Register(httpMux)

	httpPort := fmt.Sprintf(":%s", config.Env.Port["gateway_http"])
	httpServer := infrastructure.NewHTTPServerWithConfig(infrastructure.HTTPServerConfig{
		Addr:            httpPort,
		ShutdownTimeout: config.Env.GracefulShutdownTimeout,
	}, httpMux)

	go func() {
		err := httpServer.Start()
		if err != nil {
			logrus.Error(err)
		}
	}()
	logrus.Info(fmt.Sprintf("http server started on %s", httpPort))

	shutdownOps := map[string]operation{
		"universe database": func(ctx context.Context) error {
			cancel()
			return universeDB.Close()
		},
		"http": func(ctx context.Context) error {
			return httpServer.Shutdown(ctx)
		},
		"upstream session": func(ctx context.Context) error {
			session.Teardown(ctx)
			return nil
		},
	}
	if nc != nil {
		shutdownOps["nats connection"] = func(ctx context.Context) error {
			return infrastructure.CloseJetstream(nc)
		}
	}
	if closer, ok := tokenStore.(interface{ Close() error }); ok {
		shutdownOps["token store"] = func(ctx context.Context) error {
			return closer.Close()
		}
	}

	wait := gracefulShutdown(ctx, config.Env.GracefulShutdownTimeout, shutdownOps)

	<-wait
}

func buildTokenStore(ctx context.Context) (orderflow.TokenStore, error) {
	switch config.Env.OrderFlow.TokenStore {
	case "redis":
		return orderflow.NewRedisTokenStore(config.Env.Redis["token"].CacheDSN, tokenRetention)
	case "", "memory":
		store := orderflow.NewMemoryTokenStore()
		store.StartSweeper(ctx, config.Env.OrderFlow.SweepInterval, tokenRetention)
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported token store %q", config.Env.OrderFlow.TokenStore)
	}
}
