package gameserver

import (
	"context"
	"time"

	sdk "agones.dev/agones/sdks/go"
	"github.com/rs/zerolog/log"
)

// AgonesSDK reports lifecycle and player tracking to the Agones sidecar.
type AgonesSDK struct {
	s *sdk.SDK
}

func NewAgonesSDK() (*AgonesSDK, error) {
	s, err := sdk.NewSDK()
	if err != nil {
		return nil, err
	}
	return &AgonesSDK{s: s}, nil
}

func (a *AgonesSDK) Ready() error { return a.s.Ready() }

// KeepHealthy pings the sidecar until ctx is done.
func (a *AgonesSDK) KeepHealthy(ctx context.Context, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := a.s.Health(); err != nil {
				log.Warn().Err(err).Msg("gameserver: agones health ping failed")
			}
		}
	}
}

func (a *AgonesSDK) PlayerConnect(playerID string) error {
	_, err := a.s.Alpha().PlayerConnect(playerID)
	return err
}

func (a *AgonesSDK) PlayerDisconnect(playerID string) error {
	_, err := a.s.Alpha().PlayerDisconnect(playerID)
	return err
}
