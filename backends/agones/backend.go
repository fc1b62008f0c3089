package agones

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gamesession-matchmaker/matchmaking"
	"gamesession-matchmaker/metrics"
	"gamesession-matchmaker/reservation"

	agonesv1 "agones.dev/agones/pkg/apis/agones/v1"
	agonesclientset "agones.dev/agones/pkg/client/clientset/versioned"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/client-go/util/retry"
)

const (
	// ReservationAnnotationPrefix prefixes one annotation per reservation on the GameServer.
	ReservationAnnotationPrefix = "reservations.matchmaker.dev/"
	// CapacityAnnotation overrides the player capacity of a GameServer.
	CapacityAnnotation = "matchmaker.dev/capacity"
)

// Backend serves the directory API from Agones Fleets and GameServers.
// A GameServer is a game session; reservations live in its annotations.
type Backend struct {
	agones    agonesclientset.Interface
	namespace string
	capacity  int
	ttl       time.Duration
	now       func() time.Time
}

func New(client agonesclientset.Interface, namespace string, capacity int) *Backend {
	if namespace == "" {
		namespace = "default"
	}
	return &Backend{agones: client, namespace: namespace, capacity: capacity, ttl: reservation.DefaultTTL, now: time.Now}
}

// WithReservationTTL sets how long an unaccepted reservation holds its slot.
// ttl <= 0 disables expiry.
func (b *Backend) WithReservationTTL(ttl time.Duration) *Backend {
	b.ttl = ttl
	return b
}

// NewClient returns an Agones typed clientset. An explicit kubeconfig path wins;
// otherwise in-cluster config is tried before the local kubeconfig.
func NewClient(kubeconfig string) (agonesclientset.Interface, error) {
	if kubeconfig != "" {
		cfg, err := clientcmd.BuildConfigFromFlags("", kubeconfig)
		if err != nil {
			return nil, err
		}
		return agonesclientset.NewForConfig(cfg)
	}
	if cfg, err := rest.InClusterConfig(); err == nil {
		return agonesclientset.NewForConfig(cfg)
	}
	loadingRules := clientcmd.NewDefaultClientConfigLoadingRules()
	clientConfig := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(loadingRules, &clientcmd.ConfigOverrides{})
	cfg, err := clientConfig.ClientConfig()
	if err != nil {
		return nil, err
	}
	return agonesclientset.NewForConfig(cfg)
}

func (b *Backend) ListFleets(ctx context.Context) ([]string, error) {
	list, err := b.agones.AgonesV1().Fleets(b.namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		log.Error().Err(err).Str("namespace", b.namespace).Msg("agones: list fleets failed")
		return nil, err
	}
	ids := make([]string, 0, len(list.Items))
	for _, f := range list.Items {
		ids = append(ids, f.Name)
	}
	return ids, nil
}

func (b *Backend) DescribeGameSessions(ctx context.Context, fleetID string) ([]matchmaking.GameSession, error) {
	selector := labels.Set{agonesv1.FleetNameLabel: fleetID}.String()
	list, err := b.agones.AgonesV1().GameServers(b.namespace).List(ctx, metav1.ListOptions{LabelSelector: selector})
	if err != nil {
		log.Error().Err(err).Str("namespace", b.namespace).Str("fleet", fleetID).Msg("agones: list game servers failed")
		return nil, err
	}
	out := make([]matchmaking.GameSession, 0, len(list.Items))
	for i := range list.Items {
		out = append(out, toSession(&list.Items[i]))
	}
	return out, nil
}

func (b *Backend) CreatePlayerSession(ctx context.Context, gameSessionID, playerID string) (*matchmaking.PlayerSession, error) {
	rec, gs, err := b.reserve(ctx, gameSessionID, playerID, 0)
	switch {
	case errors.Is(err, matchmaking.ErrSessionFull):
		metrics.ReservationsTotal.WithLabelValues("full").Inc()
		return nil, err
	case errors.Is(err, matchmaking.ErrSessionGone):
		metrics.ReservationsTotal.WithLabelValues("gone").Inc()
		return nil, err
	case err != nil:
		metrics.ReservationsTotal.WithLabelValues("error").Inc()
		log.Error().Err(err).Str("gameServerName", gameSessionID).Msg("agones: reservation failed")
		return nil, err
	}
	metrics.ReservationsTotal.WithLabelValues("success").Inc()
	s := toSession(gs)
	log.Info().Str("gameServerName", gs.Name).Str("playerSessionId", rec.ID).Str("addr", s.IPAddress).Int("port", s.Port).Msg("agones: player session reserved")
	return &matchmaking.PlayerSession{
		ID:            rec.ID,
		GameSessionID: gs.Name,
		PlayerID:      playerID,
		IPAddress:     s.IPAddress,
		DNSName:       s.DNSName,
		Port:          s.Port,
		Status:        matchmaking.PlayerSessionReserved,
	}, nil
}

// reserve adds a reservation annotation in one optimistic update.
// capacity <= 0 falls back to the GameServer's own capacity.
func (b *Backend) reserve(ctx context.Context, name, playerID string, capacity int) (reservation.Record, *agonesv1.GameServer, error) {
	rec := reservation.Record{
		ID:        "psess-" + uuid.NewString(),
		SessionID: name,
		PlayerID:  playerID,
		State:     reservation.StateReserved,
		CreatedAt: b.now().UTC(),
	}
	gs, err := b.mutate(ctx, name, func(gs *agonesv1.GameServer) error {
		if toStatus(gs.Status.State) != matchmaking.StatusActive || gs.DeletionTimestamp != nil {
			return matchmaking.ErrSessionGone
		}
		if n := b.pruneExpired(gs); n > 0 {
			log.Info().Str("gameServerName", gs.Name).Int("expired", n).Msg("agones: dropped unclaimed reservations")
		}
		limit := capacity
		if limit <= 0 {
			limit = b.capacityFor(gs)
		}
		if limit > 0 && len(reservationsOf(gs)) >= limit {
			return matchmaking.ErrSessionFull
		}
		if err := putRecord(gs, rec); err != nil {
			return err
		}
		// Claim Ready servers the way the Agones allocator does, so the fleet
		// autoscaler does not remove a server that holds reservations.
		if gs.Status.State == agonesv1.GameServerStateReady {
			gs.Status.State = agonesv1.GameServerStateAllocated
		}
		return nil
	})
	if apierrors.IsNotFound(err) {
		return reservation.Record{}, nil, fmt.Errorf("%w: game server %s", matchmaking.ErrSessionGone, name)
	}
	if err != nil {
		return reservation.Record{}, nil, err
	}
	return rec, gs, nil
}

// mutate applies fn to a fresh copy of the GameServer and updates it, retrying on conflict.
func (b *Backend) mutate(ctx context.Context, name string, fn func(*agonesv1.GameServer) error) (*agonesv1.GameServer, error) {
	client := b.agones.AgonesV1().GameServers(b.namespace)
	var out *agonesv1.GameServer
	err := retry.RetryOnConflict(retry.DefaultRetry, func() error {
		current, err := client.Get(ctx, name, metav1.GetOptions{})
		if err != nil {
			return err
		}
		gs := current.DeepCopy()
		if err := fn(gs); err != nil {
			return err
		}
		updated, err := client.Update(ctx, gs, metav1.UpdateOptions{})
		if err != nil {
			return err
		}
		out = updated
		return nil
	})
	return out, err
}

func (b *Backend) capacityFor(gs *agonesv1.GameServer) int {
	if v, ok := gs.Annotations[CapacityAnnotation]; ok {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	if gs.Status.Players != nil && gs.Status.Players.Capacity > 0 {
		return int(gs.Status.Players.Capacity)
	}
	return b.capacity
}

func toStatus(state agonesv1.GameServerState) matchmaking.SessionStatus {
	switch state {
	case agonesv1.GameServerStateReady, agonesv1.GameServerStateAllocated, agonesv1.GameServerStateReserved:
		return matchmaking.StatusActive
	case agonesv1.GameServerStateShutdown:
		return matchmaking.StatusTerminated
	case agonesv1.GameServerStateError, agonesv1.GameServerStateUnhealthy:
		return matchmaking.StatusError
	}
	return matchmaking.StatusActivating
}

func toSession(gs *agonesv1.GameServer) matchmaking.GameSession {
	s := matchmaking.GameSession{
		ID:        gs.Name,
		FleetID:   gs.Labels[agonesv1.FleetNameLabel],
		Status:    toStatus(gs.Status.State),
		IPAddress: gs.Status.Address,
	}
	if gs.DeletionTimestamp != nil {
		s.Status = matchmaking.StatusTerminated
	}
	if len(gs.Status.Ports) > 0 {
		s.Port = int(gs.Status.Ports[0].Port)
	}
	for _, t := range []corev1.NodeAddressType{corev1.NodeExternalDNS, corev1.NodeInternalDNS} {
		for _, a := range gs.Status.Addresses {
			if a.Type == t && s.DNSName == "" {
				s.DNSName = a.Address
			}
		}
	}
	return s
}

// pruneExpired removes RESERVED annotations past the TTL and returns how many.
// Undecodable annotations are left for an operator to inspect.
func (b *Backend) pruneExpired(gs *agonesv1.GameServer) int {
	now := b.now()
	n := 0
	for _, id := range reservationsOf(gs) {
		rec, err := getRecord(gs, id)
		if err != nil || !rec.Expired(now, b.ttl) {
			continue
		}
		delete(gs.Annotations, ReservationAnnotationPrefix+id)
		n++
	}
	return n
}

func reservationsOf(gs *agonesv1.GameServer) []string {
	var ids []string
	for k := range gs.Annotations {
		if strings.HasPrefix(k, ReservationAnnotationPrefix) {
			ids = append(ids, strings.TrimPrefix(k, ReservationAnnotationPrefix))
		}
	}
	return ids
}
