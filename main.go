package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/mosopedev/chimedesk-api/agent/agents/orchestrator"
	"github.com/mosopedev/chimedesk-api/agent/directory"
	"github.com/mosopedev/chimedesk-api/agent/llm"
	"github.com/mosopedev/chimedesk-api/agent/prompt"
	"github.com/mosopedev/chimedesk-api/agent/session"
	"github.com/mosopedev/chimedesk-api/agent/thread"
	"github.com/mosopedev/chimedesk-api/agent/tool"
	"github.com/mosopedev/chimedesk-api/agent/webhook"
	"github.com/mosopedev/chimedesk-api/channel/chat"
	"github.com/mosopedev/chimedesk-api/channel/voice"
	configx "github.com/mosopedev/chimedesk-api/pkg/config"
	_ "github.com/mosopedev/chimedesk-api/pkg/logger/autoload"
	metricsx "github.com/mosopedev/chimedesk-api/pkg/metrics"
	openaix "github.com/mosopedev/chimedesk-api/pkg/openai"
	"github.com/mosopedev/chimedesk-api/pkg/postgres"
)

type HTTPConfig struct {
	Addr              string        `envconfig:"ADDR" default:":8080"`
	PublicBaseURL     string        `envconfig:"PUBLIC_BASE_URL" split_words:"true" required:"true"`
	ReadHeaderTimeout time.Duration `envconfig:"READ_HEADER_TIMEOUT" split_words:"true" default:"10s"`
	ShutdownGrace     time.Duration `envconfig:"SHUTDOWN_GRACE" split_words:"true" default:"15s"`
}

func (c HTTPConfig) Validate() error {
	if !strings.HasPrefix(c.PublicBaseURL, "http://") && !strings.HasPrefix(c.PublicBaseURL, "https://") {
		return errors.New("public base url must be an absolute http(s) url")
	}
	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	httpCfg := configx.MustNew[HTTPConfig]("HTTP")
	openAICfg := configx.MustNew[openaix.Config]("OPENAI")
	engineCfg := configx.MustNew[llm.Config]("ENGINE")
	webhookCfg := configx.MustNew[webhook.Config]("WEBHOOK")
	voiceCfg := configx.MustNew[voice.Config]("VOICE")
	chatCfg := configx.MustNew[chat.Config]("CHAT")
	postgresCfg := configx.MustNew[postgres.Config]("POSTGRES")
	redisCfg := configx.MustNew[session.UpstashRedisConfig]("UPSTASH_REDIS")

	openAIClient := openaix.MustNewClient(*openAICfg)

	db, err := postgres.Open(ctx, *postgresCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to postgres")
	}
	defer db.Close()

	repo := directory.NewRepository(db)
	if postgresCfg.AutoMigrate {
		if err := repo.CreateSchema(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to create schema")
		}
	}

	metrics := metricsx.New(prometheus.DefaultRegisterer)
	phrases := prompt.LoadPhraseSet()

	poller := thread.NewPoller(thread.NewOpenAIGateway(openAIClient), engineCfg.PollConfig())
	resolver := tool.NewResolver(
		tool.NewCatalog(repo),
		tool.WithLimit(engineCfg.ToolFanOut),
		tool.WithObserver(metrics.ToolCall),
	)
	caller := webhook.NewFromConfig(*webhookCfg, webhook.WithObserver(metrics.Webhook))

	engine, err := orchestrator.New(poller, resolver, repo, repo, caller, orchestrator.Config{
		MaxToolHops:        engineCfg.MaxToolHops,
		Pricing:            engineCfg.Pricing(),
		Phrases:            phrases,
		DefaultAssistantID: openAICfg.DefaultAssistantID,
	}, orchestrator.WithMetrics(metrics))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build orchestrator")
	}

	var store session.Store = session.NewMemoryStore()
	if redisCfg.Enabled() {
		redisStore, err := session.NewUpstashRedisStore(*redisCfg)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to build chat session store")
		}
		store = redisStore
	} else {
		log.Warn().Msg("upstash redis not configured, chat sessions are kept in memory")
	}
	hub := session.NewHub(
		session.WithSendBuffer(chatCfg.SendBuffer),
		session.WithRoomGauge(metrics.SetActiveChatRooms),
	)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("GET /metrics", metricsx.Handler(prometheus.DefaultGatherer))

	voice.NewHandler(
		engine,
		voice.NewRenderer(httpCfg.PublicBaseURL, *voiceCfg),
		phrases,
		voice.WithMetrics(metrics),
		voice.WithTurnTimeout(voiceCfg.TurnTimeout),
		voice.WithMaxReprompts(voiceCfg.MaxReprompts),
	).Register(mux, voice.VerifySignature(voiceCfg.AuthToken, httpCfg.PublicBaseURL))

	chat.NewHandler(
		engine,
		store,
		hub,
		phrases,
		*chatCfg,
		chat.WithMetrics(metrics),
		chat.WithTranscript(repo),
	).Register(mux)

	server := &http.Server{
		Addr:              httpCfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: httpCfg.ReadHeaderTimeout,
	}

	go func() {
		log.Info().Str("addr", httpCfg.Addr).Msg("chimedesk api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), httpCfg.ShutdownGrace)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
}
