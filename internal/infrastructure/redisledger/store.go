package redisledger

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/ignatzorin/carpool-escrow/internal/domain/entity"
	"github.com/ignatzorin/carpool-escrow/internal/domain/repository"
)

// Ключи одной поездки делят hash tag {trip}, поэтому скрипт работает и в кластере.
// committed - занятые места, cap - ёмкость, res - hash reservationID -> seats|released.
const released = "released"

var reserveScript = redis.NewScript(`
local committed = tonumber(redis.call('GET', KEYS[1]) or '0')
redis.call('SET', KEYS[2], ARGV[3])
if redis.call('HEXISTS', KEYS[3], ARGV[1]) == 1 then
	return {0, committed}
end
local seats = tonumber(ARGV[2])
if committed + seats > tonumber(ARGV[3]) then
	return {-1, committed}
end
committed = redis.call('INCRBY', KEYS[1], seats)
redis.call('HSET', KEYS[3], ARGV[1], seats)
return {1, committed}
`)

var releaseScript = redis.NewScript(`
local committed = tonumber(redis.call('GET', KEYS[1]) or '0')
local capacity = tonumber(redis.call('GET', KEYS[2]) or '0')
local seats = redis.call('HGET', KEYS[3], ARGV[1])
if (not seats) or seats == ARGV[2] then
	return {0, committed, capacity}
end
committed = redis.call('DECRBY', KEYS[1], tonumber(seats))
redis.call('HSET', KEYS[3], ARGV[1], ARGV[2])
return {1, committed, capacity}
`)

// Store - распределённый счётчик мест: проверка и увеличение выполняются одним Lua-скриптом.
type Store struct {
	client redis.UniversalClient
	prefix string
}

func NewStore(client redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = "inventory"
	}
	return &Store{client: client, prefix: prefix}
}

func (s *Store) keys(tripID uuid.UUID) []string {
	base := s.prefix + ":{" + tripID.String() + "}"
	return []string{base + ":committed", base + ":cap", base + ":res"}
}

func (s *Store) Reserve(ctx context.Context, res entity.Reservation, capacity int) (entity.InventoryChange, bool, error) {
	change := entity.InventoryChange{TripID: res.TripID, Capacity: capacity}
	out, err := reserveScript.Run(ctx, s.client, s.keys(res.TripID), res.ID.String(), res.Seats, capacity).Slice()
	if err != nil {
		return change, false, fmt.Errorf("redis ledger: reserve: %w", err)
	}
	vals, err := ints(out, 2)
	if err != nil {
		return change, false, fmt.Errorf("redis ledger: reserve: %w", err)
	}
	change.Committed = int(vals[1])
	switch vals[0] {
	case -1:
		return change, false, repository.ErrCapacityExceeded
	case 0:
		return change, false, nil
	}
	return change, true, nil
}

func (s *Store) Release(ctx context.Context, tripID, reservationID uuid.UUID) (entity.InventoryChange, bool, error) {
	change := entity.InventoryChange{TripID: tripID}
	out, err := releaseScript.Run(ctx, s.client, s.keys(tripID), reservationID.String(), released).Slice()
	if err != nil {
		return change, false, fmt.Errorf("redis ledger: release: %w", err)
	}
	vals, err := ints(out, 3)
	if err != nil {
		return change, false, fmt.Errorf("redis ledger: release: %w", err)
	}
	change.Committed, change.Capacity = int(vals[1]), int(vals[2])
	return change, vals[0] == 1, nil
}

func (s *Store) Committed(ctx context.Context, tripID uuid.UUID) (int, error) {
	v, err := s.client.Get(ctx, s.keys(tripID)[0]).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis ledger: committed: %w", err)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("redis ledger: committed: %w", err)
	}
	return n, nil
}

func ints(out []interface{}, n int) ([]int64, error) {
	if len(out) != n {
		return nil, fmt.Errorf("unexpected script reply length %d", len(out))
	}
	vals := make([]int64, n)
	for i, v := range out {
		x, ok := v.(int64)
		if !ok {
			return nil, fmt.Errorf("unexpected script reply type %T", v)
		}
		vals[i] = x
	}
	return vals, nil
}
