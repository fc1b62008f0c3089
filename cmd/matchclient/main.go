package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"gamesession-matchmaker/backends/agones"
	"gamesession-matchmaker/backends/httpapi"
	"gamesession-matchmaker/config"
	"gamesession-matchmaker/health"
	"gamesession-matchmaker/matchmaking"
	"gamesession-matchmaker/metrics"
	"gamesession-matchmaker/orchestrator"
	"gamesession-matchmaker/queues"
	"gamesession-matchmaker/queues/natsq"
	qpubsub "gamesession-matchmaker/queues/pubsub"
	"gamesession-matchmaker/transport"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	flag "github.com/spf13/pflag"
)

var version = "source"

func setLogger(level string) {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	if os.Getenv("DEBUG") != "" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		return
	}
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}

func main() {
	cfg := config.Load()
	flag.StringVar(&cfg.Target, "target", cfg.Target, `join target: IP address, "*" for any session, empty for the local server`)
	flag.BoolVar(&cfg.Local, "local", cfg.Local, "use the local/dev fleet and skip fleet discovery")
	flag.StringVar(&cfg.FleetName, "fleet", cfg.FleetName, "fleet name to resolve")
	flag.StringVar(&cfg.Backend, "backend", cfg.Backend, "directory backend: http or agones")
	flag.StringVar(&cfg.APIURL, "api-url", cfg.APIURL, "directory API base URL for the http backend")
	kubeconfig := flag.String("kubeconfig", os.Getenv("KUBECONFIG"), "kubeconfig for the agones backend; in-cluster config when empty")
	flag.Parse()

	setLogger(cfg.LogLevel)
	log.Info().Msgf("Starting matchclient version: %s", version)
	log.Info().Interface("config", cfg.Redacted()).Msg("config loaded")
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var svc matchmaking.Service
	switch cfg.Backend {
	case config.BackendAgones:
		client, err := agones.NewClient(*kubeconfig)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create agones client")
		}
		svc = agones.New(client, cfg.TargetNamespace, cfg.Capacity)
	default:
		svc = httpapi.NewClient(cfg.APIURL, cfg.Credentials, cfg.ConnectTimeout)
	}

	var (
		publisher  queues.Publisher
		subscriber queues.Subscriber
	)
	switch {
	case cfg.NATSURL != "":
		conn, err := natsq.Connect(cfg.NATSURL, "matchclient")
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to NATS")
		}
		defer conn.Close()
		publisher = natsq.NewPublisher(conn, cfg.ResultSubject)
		subscriber = natsq.NewSubscriber(conn, cfg.JoinSubject, cfg.JoinQueue)
	case cfg.ResultTopic != "" || cfg.JoinSubscription != "":
		if cfg.GoogleProjectID == "" {
			log.Fatal().Msg("missing Google project id; set GOOGLE_APPLICATION_CREDENTIALS or GOOGLE_PROJECT_ID or MATCHMAKER_PUBSUB_PROJECT_ID")
		}
		if cfg.ResultTopic != "" {
			p := qpubsub.NewPublisher(cfg.GoogleProjectID, cfg.ResultTopic, cfg.CredentialsFile)
			defer p.Close()
			publisher = p
		}
		if cfg.JoinSubscription != "" {
			subscriber = qpubsub.NewSubscriber(cfg.GoogleProjectID, cfg.JoinSubscription, cfg.CredentialsFile)
		}
	}

	// tickets maps attempt ids to the join request that started them
	var (
		ticketsMu sync.Mutex
		tickets   = map[uint64]string{}
	)
	onResult := func(res orchestrator.Result) {
		ticketsMu.Lock()
		ticket, ok := tickets[res.Attempt]
		delete(tickets, res.Attempt)
		ticketsMu.Unlock()
		if publisher == nil || !ok {
			return
		}
		out := &queues.AttemptResult{
			EnvelopeVersion: queues.EnvelopeVersion,
			Type:            queues.AttemptResultType,
			TicketID:        ticket,
			Attempt:         res.Attempt,
			Status:          queues.StatusFailed,
			Reason:          string(res.Reason),
			Message:         res.Message,
			DurationMs:      res.Duration.Milliseconds(),
		}
		if res.State == orchestrator.Connected {
			out.Status = queues.StatusConnected
		}
		if res.Reservation != nil {
			gs, ep := res.Reservation.GameSessionID, res.Reservation.Endpoint()
			out.GameSessionID, out.Endpoint = &gs, &ep
		}
		pubCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := publisher.PublishResult(pubCtx, out); err != nil {
			log.Error().Err(err).Str("ticketId", ticket).Msg("failed to publish attempt result")
		}
	}

	orch := orchestrator.New(svc, &transport.WebsocketDialer{HandshakeTimeout: cfg.ConnectTimeout}, orchestrator.Config{
		Local:          cfg.Local,
		FleetName:      cfg.FleetName,
		ConnectTimeout: cfg.ConnectTimeout,
		AuthTimeout:    cfg.AuthTimeout,
		OnResult:       onResult,
	})
	defer orch.Close()
	log.Info().Str("playerId", orch.PlayerID()).Msg("player id assigned")

	mux := http.NewServeMux()
	metrics.Register(mux)
	health.Register(mux, nil)
	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr()).Msg("starting metrics/health server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server error")
		}
	}()

	if subscriber != nil {
		go func() {
			log.Info().Msg("starting join request loop")
			err := subscriber.Start(ctx, func(ctx context.Context, req *queues.JoinRequest) error {
				if req.PlayerID != "" && req.PlayerID != orch.PlayerID() {
					log.Warn().Str("ticketId", req.TicketID).Str("playerId", req.PlayerID).Msg("join request names another player; joining as this client")
				}
				ticketsMu.Lock()
				defer ticketsMu.Unlock()
				tickets[orch.RequestJoin(req.Target)] = req.TicketID
				return nil
			})
			if err != nil {
				log.Fatal().Err(err).Msg("subscriber exited with fatal error; shutting down")
			}
		}()
	} else {
		id := orch.RequestJoin(cfg.Target)
		go func() {
			s, err := orch.Await(ctx, id)
			if err != nil {
				return
			}
			if s.State == orchestrator.Failed {
				log.Error().Str("reason", string(s.Reason)).Str("message", s.Message).Msg("join failed")
				stop()
			}
		}()
	}

	go reportRTT(ctx, orch)

	<-ctx.Done()
	log.Info().Msg("shutdown signal received")
	if err := orch.RequestLeave(); err == nil {
		log.Info().Msg("left game session")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server graceful shutdown failed")
	}
	log.Info().Msg("shutdown complete")
}

// reportRTT logs the round-trip time while connected.
func reportRTT(ctx context.Context, orch *orchestrator.Orchestrator) {
	t := time.NewTicker(10 * time.Second)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if s := orch.Snapshot(); s.State == orchestrator.Connected {
				log.Info().Str("endpoint", s.Endpoint()).Dur("rtt", s.RTT).Msg("connection stats")
			}
		}
	}
}
