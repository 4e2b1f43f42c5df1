// Copyright 2026 gorse Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cache

import (
	"context"
	"time"

	"github.com/gorse-io/anirec/storage"
	"github.com/juju/errors"
	"github.com/redis/go-redis/v9"
)

// Redis cache storage. Members of a group are tracked in a set.
type Redis struct {
	storage.TablePrefix
	client *redis.Client
}

func (r *Redis) groupKey(group string) string {
	return r.Key(Key("group", group))
}

// Init nothing.
func (r *Redis) Init() error {
	return nil
}

func (r *Redis) Ping() error {
	return errors.Trace(r.client.Ping(context.Background()).Err())
}

// Close redis connection.
func (r *Redis) Close() error {
	return errors.Trace(r.client.Close())
}

// Purge removes all keys with the table prefix.
func (r *Redis) Purge() error {
	ctx := context.Background()
	var cursor uint64
	for {
		keys, next, err := r.client.Scan(ctx, cursor, string(r.TablePrefix)+"*", 100).Result()
		if err != nil {
			return errors.Trace(err)
		}
		if len(keys) > 0 {
			if err = r.client.Del(ctx, keys...).Err(); err != nil {
				return errors.Trace(err)
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

// Get returns a value from Redis.
func (r *Redis) Get(ctx context.Context, name string) ([]byte, error) {
	val, err := r.client.Get(ctx, r.Key(name)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, errors.Annotate(ErrObjectNotExist, name)
		}
		return nil, errors.Trace(err)
	}
	return val, nil
}

// setScript writes a member, adds it to its group and makes the group live at least as long
// as the member. A group without expiry keeps none.
var setScript = redis.NewScript(`
local ttl = tonumber(ARGV[2])
local existed = redis.call('EXISTS', KEYS[2])
if ttl > 0 then
	redis.call('SET', KEYS[1], ARGV[1], 'PX', ttl)
else
	redis.call('SET', KEYS[1], ARGV[1])
end
redis.call('SADD', KEYS[2], ARGV[3])
if ttl <= 0 then
	redis.call('PERSIST', KEYS[2])
else
	local current = redis.call('PTTL', KEYS[2])
	if existed == 0 or (current >= 0 and current < ttl) then
		redis.call('PEXPIRE', KEYS[2], ttl)
	end
end
return 1
`)

// Set stores a value and records it in the set of its group.
func (r *Redis) Set(ctx context.Context, group, name string, value []byte, ttl time.Duration) error {
	millis := ttl.Milliseconds()
	if ttl > 0 && millis == 0 {
		millis = 1
	}
	err := setScript.Run(ctx, r.client, []string{r.Key(name), r.groupKey(group)}, value, millis, name).Err()
	return errors.Trace(err)
}

// Delete object from Redis.
func (r *Redis) Delete(ctx context.Context, name string) error {
	return errors.Trace(r.client.Del(ctx, r.Key(name)).Err())
}

// DeleteGroup removes all members of a group and the group itself.
func (r *Redis) DeleteGroup(ctx context.Context, group string) error {
	groupKey := r.groupKey(group)
	members, err := r.client.SMembers(ctx, groupKey).Result()
	if err != nil {
		return errors.Trace(err)
	}
	keys := make([]string, 0, len(members)+1)
	for _, member := range members {
		keys = append(keys, r.Key(member))
	}
	keys = append(keys, groupKey)
	return errors.Trace(r.client.Del(ctx, keys...).Err())
}
