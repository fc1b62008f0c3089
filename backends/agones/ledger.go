package agones

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"gamesession-matchmaker/reservation"

	agonesv1 "agones.dev/agones/pkg/apis/agones/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// Ledger returns the reservation ledger of one GameServer, used by the game
// server process to verify and consume reservations made through the Backend.
func (b *Backend) Ledger(gameServerName string) reservation.Ledger {
	return &gameServerLedger{b: b, name: gameServerName}
}

type gameServerLedger struct {
	b    *Backend
	name string
}

var errWrongGameServer = errors.New("reservation targets another game server")

func (l *gameServerLedger) Reserve(ctx context.Context, sessionID, playerID string, capacity int) (reservation.Record, error) {
	if sessionID != l.name {
		return reservation.Record{}, fmt.Errorf("%w: %s", errWrongGameServer, sessionID)
	}
	rec, _, err := l.b.reserve(ctx, l.name, playerID, capacity)
	return rec, err
}

func (l *gameServerLedger) Get(ctx context.Context, id string) (reservation.Record, error) {
	gs, err := l.b.agones.AgonesV1().GameServers(l.b.namespace).Get(ctx, l.name, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		return reservation.Record{}, reservation.ErrNotFound
	}
	if err != nil {
		return reservation.Record{}, err
	}
	rec, err := getRecord(gs, id)
	if err == nil && rec.Expired(l.b.now(), l.b.ttl) {
		return reservation.Record{}, reservation.ErrNotFound
	}
	return rec, err
}

func (l *gameServerLedger) Accept(ctx context.Context, id, playerID string) (reservation.Record, error) {
	var rec reservation.Record
	_, err := l.b.mutate(ctx, l.name, func(gs *agonesv1.GameServer) error {
		current, err := getRecord(gs, id)
		if err != nil {
			return err
		}
		if current.Expired(l.b.now(), l.b.ttl) {
			return reservation.ErrNotFound
		}
		rec = current
		if current.State != reservation.StateReserved {
			return reservation.ErrConsumed
		}
		if playerID != "" && current.PlayerID != playerID {
			return reservation.ErrPlayerMismatch
		}
		rec.State = reservation.StateAccepted
		rec.AcceptedAt = l.b.now().UTC()
		return putRecord(gs, rec)
	})
	if apierrors.IsNotFound(err) || errors.Is(err, reservation.ErrNotFound) {
		return reservation.Record{}, reservation.ErrNotFound
	}
	return rec, err
}

func (l *gameServerLedger) Release(ctx context.Context, id string) error {
	_, err := l.b.mutate(ctx, l.name, func(gs *agonesv1.GameServer) error {
		key := ReservationAnnotationPrefix + id
		if _, ok := gs.Annotations[key]; !ok {
			return reservation.ErrNotFound
		}
		delete(gs.Annotations, key)
		return nil
	})
	if errors.Is(err, reservation.ErrNotFound) || apierrors.IsNotFound(err) {
		return nil
	}
	return err
}

func getRecord(gs *agonesv1.GameServer, id string) (reservation.Record, error) {
	raw, ok := gs.Annotations[ReservationAnnotationPrefix+id]
	if !ok {
		return reservation.Record{}, reservation.ErrNotFound
	}
	var rec reservation.Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return reservation.Record{}, fmt.Errorf("decode reservation %s: %w", id, err)
	}
	return rec, nil
}

func putRecord(gs *agonesv1.GameServer, rec reservation.Record) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if gs.Annotations == nil {
		gs.Annotations = make(map[string]string)
	}
	gs.Annotations[ReservationAnnotationPrefix+rec.ID] = string(b)
	return nil
}
