package redisledger

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"gamesession-matchmaker/reservation"

	"github.com/go-redis/redis"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// The session key is a ZSET of reservation ids scored by expiry in unix ms.
// Accepted reservations score +inf and never expire.
var reserveScript = redis.NewScript(`
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', ARGV[5])
local cap = tonumber(ARGV[1])
if cap > 0 and redis.call('ZCARD', KEYS[1]) >= cap then
	return 0
end
redis.call('ZADD', KEYS[1], tonumber(ARGV[5]) + tonumber(ARGV[4]), ARGV[2])
redis.call('SET', KEYS[2], ARGV[3], 'PX', ARGV[4])
return 1
`)

var acceptScript = redis.NewScript(`
local raw = redis.call('GET', KEYS[1])
if not raw then
	return {'missing', ''}
end
local rec = cjson.decode(raw)
if rec.state ~= 'RESERVED' then
	return {'consumed', raw}
end
if ARGV[1] ~= '' and rec.playerId ~= ARGV[1] then
	return {'mismatch', raw}
end
rec.state = 'ACCEPTED'
rec.acceptedAt = ARGV[2]
local out = cjson.encode(rec)
redis.call('SET', KEYS[1], out)
redis.call('ZADD', ARGV[3] .. rec.sessionId, '+inf', rec.id)
return {'ok', out}
`)

// Config selects the Redis instance and key namespace.
type Config struct {
	Addr    string
	DB      int
	Prefix  string
	TTL     time.Duration
	Timeout time.Duration
}

// Ledger stores reservations in Redis so several game server processes
// can share one view. Reserve and Accept run as Lua scripts. Unaccepted
// reservations expire after the TTL; accepted ones persist until Release.
type Ledger struct {
	handle *redis.Client
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

func New(c Config) (*Ledger, error) {
	if c.Addr == "" {
		return nil, fmt.Errorf("redis ledger: missing address")
	}
	if c.Prefix == "" {
		c.Prefix = "matchmaker:"
	}
	if c.TTL <= 0 {
		c.TTL = reservation.DefaultTTL
	}
	l := &Ledger{
		handle: redis.NewClient(&redis.Options{
			Addr:        c.Addr,
			DB:          c.DB,
			DialTimeout: c.Timeout,
			ReadTimeout: c.Timeout,
		}),
		prefix: c.Prefix,
		ttl:    c.TTL,
		now:    time.Now,
	}
	if _, err := l.handle.Ping().Result(); err != nil {
		return l, err
	}
	log.Info().Str("addr", c.Addr).Int("db", c.DB).Msg("redis ledger connected")
	return l, nil
}

func (l *Ledger) Close() error {
	return l.handle.Close()
}

func (l *Ledger) recordKey(id string) string { return l.prefix + "reservation:" + id }

func (l *Ledger) sessionKey(id string) string { return l.prefix + "session:" + id }

func (l *Ledger) Reserve(ctx context.Context, sessionID, playerID string, capacity int) (reservation.Record, error) {
	rec := reservation.Record{
		ID:        "psess-" + uuid.NewString(),
		SessionID: sessionID,
		PlayerID:  playerID,
		State:     reservation.StateReserved,
		CreatedAt: l.now(),
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return reservation.Record{}, err
	}
	keys := []string{l.sessionKey(sessionID), l.recordKey(rec.ID)}
	ok, err := reserveScript.Run(l.handle.WithContext(ctx), keys,
		capacity, rec.ID, string(b),
		strconv.FormatInt(l.ttl.Milliseconds(), 10),
		strconv.FormatInt(rec.CreatedAt.UnixMilli(), 10)).Int()
	if err != nil {
		log.Error().Err(err).Str("sessionId", sessionID).Msg("redis ledger: reserve failed")
		return reservation.Record{}, err
	}
	if ok == 0 {
		return reservation.Record{}, reservation.ErrSessionFull
	}
	return rec, nil
}

func (l *Ledger) Get(ctx context.Context, id string) (reservation.Record, error) {
	raw, err := l.handle.WithContext(ctx).Get(l.recordKey(id)).Bytes()
	if err == redis.Nil {
		return reservation.Record{}, reservation.ErrNotFound
	} else if err != nil {
		return reservation.Record{}, err
	}
	var rec reservation.Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return reservation.Record{}, err
	}
	return rec, nil
}

func (l *Ledger) Accept(ctx context.Context, id, playerID string) (reservation.Record, error) {
	res, err := acceptScript.Run(l.handle.WithContext(ctx), []string{l.recordKey(id)},
		playerID, l.now().UTC().Format(time.RFC3339Nano), l.sessionKey("")).Result()
	if err != nil {
		log.Error().Err(err).Str("playerSessionId", id).Msg("redis ledger: accept failed")
		return reservation.Record{}, err
	}
	parts, ok := res.([]interface{})
	if !ok || len(parts) != 2 {
		return reservation.Record{}, fmt.Errorf("redis ledger: unexpected accept reply %v", res)
	}
	outcome, _ := parts[0].(string)
	raw, _ := parts[1].(string)
	var rec reservation.Record
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return reservation.Record{}, err
		}
	}
	switch outcome {
	case "ok":
		return rec, nil
	case "missing":
		return reservation.Record{}, reservation.ErrNotFound
	case "consumed":
		return rec, reservation.ErrConsumed
	case "mismatch":
		return rec, reservation.ErrPlayerMismatch
	}
	return reservation.Record{}, fmt.Errorf("redis ledger: unknown accept outcome %q", outcome)
}

func (l *Ledger) Release(ctx context.Context, id string) error {
	rec, err := l.Get(ctx, id)
	if err == reservation.ErrNotFound {
		return nil
	} else if err != nil {
		return err
	}
	_, err = l.handle.WithContext(ctx).TxPipelined(func(pipe redis.Pipeliner) error {
		pipe.ZRem(l.sessionKey(rec.SessionID), id)
		pipe.Del(l.recordKey(id))
		return nil
	})
	return err
}
