package persistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/petrijr/orderflow/pkg/api"
)

// RedisStore is an ExecutionStore backed by Redis.
// It uses a simple key structure:
//
//	<prefix>exec:<id>                 => JSON executionRecord
//	<prefix>idx:all                   => SET of all execution IDs
//	<prefix>idx:def:<definition>      => SET of execution IDs per definition
//	<prefix>idx:status:<status>       => SET of execution IDs per status
//
// Save uses WATCH/MULTI on the execution key, so a concurrent writer makes
// the transaction fail and Save reports api.ErrConflict.
type RedisStore struct {
	client *redis.Client
	prefix string
}

var _ ExecutionStore = (*RedisStore)(nil)

// NewRedisStore creates a RedisStore. prefix defaults to "orderflow:".
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "orderflow:"
	}
	return &RedisStore{
		client: client,
		prefix: prefix,
	}
}

func (s *RedisStore) keyExecution(id string) string {
	return s.prefix + "exec:" + id
}

func (s *RedisStore) keyAll() string {
	return s.prefix + "idx:all"
}

func (s *RedisStore) keyDefinition(name string) string {
	return s.prefix + "idx:def:" + name
}

func (s *RedisStore) keyStatus(status api.Status) string {
	return s.prefix + "idx:status:" + string(status)
}

// createScript writes the record and its index entries atomically. Nothing
// is indexed when the record already exists.
var createScript = redis.NewScript(`
if not redis.call('SET', KEYS[1], ARGV[1], 'NX') then
	return 0
end
redis.call('SADD', KEYS[2], ARGV[2])
redis.call('SADD', KEYS[3], ARGV[2])
redis.call('SADD', KEYS[4], ARGV[2])
return 1
`)

func (s *RedisStore) Create(ctx context.Context, exec *api.Execution) error {
	cp := exec.Clone()
	cp.Version = 1
	data, err := encodeRecord(cp)
	if err != nil {
		return err
	}

	created, err := createScript.Run(ctx, s.client,
		[]string{
			s.keyExecution(exec.ID),
			s.keyAll(),
			s.keyDefinition(exec.DefinitionName),
			s.keyStatus(exec.Status),
		},
		data, exec.ID,
	).Int()
	if err != nil {
		return err
	}
	if created == 0 {
		return fmt.Errorf("execution %s: %w", exec.ID, api.ErrAlreadyExists)
	}

	exec.Version = 1
	return nil
}

func (s *RedisStore) Load(ctx context.Context, id string) (*api.Execution, error) {
	data, err := s.client.Get(ctx, s.keyExecution(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("execution %s: %w", id, api.ErrNotFound)
		}
		return nil, err
	}
	return decodeRecord(data)
}

func (s *RedisStore) Save(ctx context.Context, exec *api.Execution) error {
	key := s.keyExecution(exec.ID)

	next := exec.Clone()
	next.Version = exec.Version + 1
	data, err := encodeRecord(next)
	if err != nil {
		return err
	}

	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return fmt.Errorf("execution %s: %w", exec.ID, api.ErrNotFound)
			}
			return err
		}
		cur, err := decodeRecord(raw)
		if err != nil {
			return err
		}
		if cur.Version != exec.Version || cur.Status.Terminal() {
			return fmt.Errorf("execution %s at version %d: %w", exec.ID, exec.Version, api.ErrConflict)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			if cur.Status != exec.Status {
				pipe.SRem(ctx, s.keyStatus(cur.Status), exec.ID)
				pipe.SAdd(ctx, s.keyStatus(exec.Status), exec.ID)
			}
			return nil
		})
		return err
	}

	err = s.client.Watch(ctx, txf, key)
	if errors.Is(err, redis.TxFailedErr) {
		return fmt.Errorf("execution %s at version %d: %w", exec.ID, exec.Version, api.ErrConflict)
	}
	if err != nil {
		return err
	}

	exec.Version++
	return nil
}

func (s *RedisStore) List(ctx context.Context, filter ExecutionFilter) ([]*api.Execution, error) {
	keys := []string{s.keyAll()}
	if filter.DefinitionName != "" {
		keys = append(keys, s.keyDefinition(filter.DefinitionName))
	}
	if filter.Status != "" {
		keys = append(keys, s.keyStatus(filter.Status))
	}

	ids, err := s.client.SInter(ctx, keys...).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	execKeys := make([]string, len(ids))
	for i, id := range ids {
		execKeys[i] = s.keyExecution(id)
	}
	values, err := s.client.MGet(ctx, execKeys...).Result()
	if err != nil {
		return nil, err
	}

	result := make([]*api.Execution, 0, len(values))
	for _, v := range values {
		str, ok := v.(string)
		if !ok {
			// Index entry without a record; skip it.
			continue
		}
		exec, err := decodeRecord([]byte(str))
		if err != nil {
			return nil, err
		}
		// Indexes are updated after the record; re-check the filter.
		if filter.matches(exec) {
			result = append(result, exec)
		}
	}
	sortByCreated(result)
	return result, nil
}
