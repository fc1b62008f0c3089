package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gamesession-matchmaker/auth"
	"gamesession-matchmaker/backends/agones"
	"gamesession-matchmaker/backends/httpapi"
	"gamesession-matchmaker/backends/local"
	"gamesession-matchmaker/config"
	"gamesession-matchmaker/gameserver"
	"gamesession-matchmaker/health"
	"gamesession-matchmaker/matchmaking"
	"gamesession-matchmaker/metrics"
	"gamesession-matchmaker/reservation"
	"gamesession-matchmaker/reservation/redisledger"
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

func newLedger(cfg *config.Config, kubeconfig string) (reservation.Ledger, error) {
	switch cfg.Ledger {
	case config.LedgerRedis:
		return redisledger.New(redisledger.Config{Addr: cfg.RedisAddr, DB: cfg.RedisDB, TTL: cfg.ReservationTTL})
	case config.LedgerAgones:
		client, err := agones.NewClient(kubeconfig)
		if err != nil {
			return nil, err
		}
		return agones.New(client, cfg.TargetNamespace, cfg.Capacity).WithReservationTTL(cfg.ReservationTTL).Ledger(cfg.GameServerName), nil
	}
	return reservation.NewMemory().WithTTL(cfg.ReservationTTL), nil
}

func main() {
	cfg := config.Load()
	flag.IntVar(&cfg.ListenPort, "port", cfg.ListenPort, "game port serving "+transport.Path)
	flag.StringVar(&cfg.PublicIP, "public-ip", cfg.PublicIP, "address advertised by the local fleet")
	flag.StringVar(&cfg.Ledger, "ledger", cfg.Ledger, "reservation ledger: memory, redis or agones")
	flag.BoolVar(&cfg.Local, "local", cfg.Local, "serve the local fleet directory API next to the game port")
	flag.BoolVar(&cfg.AgonesSDK, "agones-sdk", cfg.AgonesSDK, "report lifecycle and players to the Agones sidecar")
	kubeconfig := flag.String("kubeconfig", os.Getenv("KUBECONFIG"), "kubeconfig for the agones ledger; in-cluster config when empty")
	flag.Parse()

	setLogger(cfg.LogLevel)
	log.Info().Msgf("Starting gameserver version: %s", version)
	log.Info().Interface("config", cfg.Redacted()).Msg("config loaded")
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ledger, err := newLedger(cfg, *kubeconfig)
	if err != nil {
		log.Fatal().Err(err).Str("ledger", cfg.Ledger).Msg("failed to create reservation ledger")
	}

	var (
		tracker   gameserver.PlayerTracker
		agonesSDK *gameserver.AgonesSDK
	)
	if cfg.AgonesSDK {
		agonesSDK, err = gameserver.NewAgonesSDK()
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to the agones sidecar")
		}
		tracker = agonesSDK
	}

	host := gameserver.NewHost(ledger, auth.NewServer(ledger, cfg.AuthTimeout, cfg.RejectGrace), tracker)

	servers := []*http.Server{}
	gameMux := http.NewServeMux()
	gameMux.Handle(transport.Path, host.Handler(0))
	servers = append(servers, &http.Server{Addr: cfg.ListenAddr(), Handler: gameMux, ReadHeaderTimeout: 5 * time.Second})

	opsMux := http.NewServeMux()
	metrics.Register(opsMux)
	health.Register(opsMux, host.Ready)
	servers = append(servers, &http.Server{Addr: cfg.HTTPAddr(), Handler: opsMux, ReadHeaderTimeout: 5 * time.Second})

	if cfg.Local {
		fleet := local.New(cfg.FleetName, ledger, cfg.Capacity)
		fleet.AddSession(matchmaking.GameSession{IPAddress: cfg.PublicIP, Port: cfg.ListenPort})
		servers = append(servers, &http.Server{
			Addr:              cfg.LocalAPIAddr(),
			Handler:           httpapi.NewHandler(fleet, cfg.Credentials),
			ReadHeaderTimeout: 5 * time.Second,
		})
	}

	for _, srv := range servers {
		go func(srv *http.Server) {
			log.Info().Str("addr", srv.Addr).Msg("starting http server")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Fatal().Err(err).Str("addr", srv.Addr).Msg("http server error")
			}
		}(srv)
	}

	host.SetReady(true)
	if agonesSDK != nil {
		if err := agonesSDK.Ready(); err != nil {
			log.Fatal().Err(err).Msg("agones ready failed")
		}
		go agonesSDK.KeepHealthy(ctx, 2*time.Second)
	}

	<-ctx.Done()
	log.Info().Msg("shutdown signal received")
	host.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Str("addr", srv.Addr).Msg("http server graceful shutdown failed")
		}
	}
	log.Info().Msg("shutdown complete")
}
