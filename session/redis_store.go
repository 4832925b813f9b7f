package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	rotateStatusNotFound int64 = 0
	rotateStatusRevoked  int64 = 1
	rotateStatusMismatch int64 = 2
	rotateStatusRotated  int64 = 3
	rotateStatusExpired  int64 = 4
)

const (
	stateLive    = "live"
	stateRevoked = "revoked"
)

// Shared Lua helpers. Keys are hashes {sub, sid, state, exp} per token id, a set
// of ids per session and a set of session ids per subject. Each key expires with
// the latest token it indexes, so revoked ids stay readable as tombstones until
// they would have expired anyway.
//
// Every key starts with the same "{prefix}" hash tag, so all of them map to one
// cluster slot. Keys a script knows up front arrive in KEYS; the token keys
// found through a session or subject set are built from the tagged base passed
// in ARGV[1], which keeps them in that slot.
const luaHelpers = `
local function extend(key, at_ms, now_ms)
  local ttl = redis.call("PTTL", key)
  if ttl < 0 or ttl < (at_ms - now_ms) then
    redis.call("PEXPIREAT", key, at_ms)
  end
end

local function revoke_session(base, sess_key)
  local ids = redis.call("SMEMBERS", sess_key)
  local n = 0
  for _, id in ipairs(ids) do
    local key = base .. ":rt:" .. id
    if redis.call("HGET", key, "state") == "live" then
      redis.call("HSET", key, "state", "revoked")
      n = n + 1
    end
  end
  return n
end
`

// KEYS: token, session set, subject set.
const recordScript = luaHelpers + `
local id = ARGV[1]
local sid = ARGV[2]
local sub = ARGV[3]
local exp_ms = tonumber(ARGV[4])
local now_ms = tonumber(ARGV[5])

if redis.call("EXISTS", KEYS[1]) == 1 then
  return 0
end
redis.call("HSET", KEYS[1], "sub", sub, "sid", sid, "state", "live", "exp", ARGV[4])
redis.call("PEXPIREAT", KEYS[1], exp_ms)

redis.call("SADD", KEYS[2], id)
extend(KEYS[2], exp_ms, now_ms)

redis.call("SADD", KEYS[3], sid)
extend(KEYS[3], exp_ms, now_ms)
return 1
`

// KEYS: presented token, successor token, session set, subject set.
const rotateScript = luaHelpers + `
local new_id = ARGV[1]
local sid = ARGV[2]
local sub = ARGV[3]
local exp_ms = tonumber(ARGV[4])
local now_ms = tonumber(ARGV[5])

local fields = redis.call("HMGET", KEYS[1], "state", "sid", "sub", "exp")
local state = fields[1]
if not state then
  return 0
end
if state ~= "live" then
  return 1
end
if fields[2] ~= sid or fields[3] ~= sub then
  return 2
end
if tonumber(fields[4] or "0") <= now_ms then
  return 4
end

if redis.call("EXISTS", KEYS[2]) == 1 then
  return 2
end

redis.call("HSET", KEYS[1], "state", "revoked")
redis.call("HSET", KEYS[2], "sub", sub, "sid", sid, "state", "live", "exp", ARGV[4])
redis.call("PEXPIREAT", KEYS[2], exp_ms)

redis.call("SADD", KEYS[3], new_id)
extend(KEYS[3], exp_ms, now_ms)

redis.call("SADD", KEYS[4], sid)
extend(KEYS[4], exp_ms, now_ms)
return 3
`

// KEYS: session set. ARGV: tagged base.
const revokeSessionScript = luaHelpers + `
return revoke_session(ARGV[1], KEYS[1])
`

// KEYS: subject set. ARGV: tagged base.
const revokeAllScript = luaHelpers + `
local base = ARGV[1]
local sids = redis.call("SMEMBERS", KEYS[1])
local n = 0
for _, sid in ipairs(sids) do
  n = n + revoke_session(base, base .. ":sess:" .. sid)
end
return n
`

// KEYS: token.
const revokeScript = `
if redis.call("HGET", KEYS[1], "state") == "live" then
  redis.call("HSET", KEYS[1], "state", "revoked")
  return 1
end
return 0
`

var (
	recordLua        = redis.NewScript(recordScript)
	rotateLua        = redis.NewScript(rotateScript)
	revokeLua        = redis.NewScript(revokeScript)
	revokeSessionLua = redis.NewScript(revokeSessionScript)
	revokeAllLua     = redis.NewScript(revokeAllScript)
)

// RedisStore is a Redis-backed [Store]. Every mutation is a single Lua script, so
// rotation and bulk revocation are atomic. All keys share the "{prefix}" hash
// tag: on Redis Cluster the whole store lives in one slot, which is what lets
// RevokeAll reach every session of a subject in one script.
type RedisStore struct {
	redis redis.UniversalClient
	base  string
	now   func() time.Time
}

// NewRedisStore creates a [RedisStore] under the given key prefix.
func NewRedisStore(rdb redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "rt"
	}
	return &RedisStore{redis: rdb, base: "{" + prefix + "}", now: time.Now}
}

func (s *RedisStore) tokenKey(id string) string {
	return s.base + ":rt:" + id
}

func (s *RedisStore) sessionKey(sessionID string) string {
	return s.base + ":sess:" + sessionID
}

func (s *RedisStore) subjectKey(subject string) string {
	return s.base + ":sub:" + subject
}

// SessionIDs returns the token ids ever recorded for sessionID that have not yet expired out of Redis.
func (s *RedisStore) SessionIDs(ctx context.Context, sessionID string) ([]string, error) {
	ids, err := s.redis.SMembers(ctx, s.sessionKey(sessionID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return ids, nil
}

func (s *RedisStore) Record(ctx context.Context, rec Record) error {
	if err := rec.validate(); err != nil {
		return err
	}
	keys := []string{s.tokenKey(rec.ID), s.sessionKey(rec.SessionID), s.subjectKey(rec.Subject)}
	created, err := recordLua.Run(ctx, s.redis, keys,
		rec.ID, rec.SessionID, rec.Subject,
		rec.ExpiresAt.UnixMilli(), s.now().UnixMilli(),
	).Int64()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if created == 0 {
		return fmt.Errorf("%w: %q", ErrAlreadyRecorded, rec.ID)
	}
	return nil
}

func (s *RedisStore) Revoke(ctx context.Context, id string) error {
	if err := revokeLua.Run(ctx, s.redis, []string{s.tokenKey(id)}).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *RedisStore) RevokeSession(ctx context.Context, sessionID string) error {
	if err := revokeSessionLua.Run(ctx, s.redis, []string{s.sessionKey(sessionID)}, s.base).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// RevokeAll revokes every live id of every session of subject in one script,
// so an id recorded concurrently is either revoked or recorded after the call.
func (s *RedisStore) RevokeAll(ctx context.Context, subject string) error {
	if err := revokeAllLua.Run(ctx, s.redis, []string{s.subjectKey(subject)}, s.base).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *RedisStore) IsLive(ctx context.Context, id string) (bool, error) {
	fields, err := s.redis.HMGet(ctx, s.tokenKey(id), "state", "exp").Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	state, _ := fields[0].(string)
	if state != stateLive {
		return false, nil
	}
	rawExp, _ := fields[1].(string)
	exp, err := strconv.ParseInt(rawExp, 10, 64)
	if err != nil {
		return false, nil
	}
	return exp > s.now().UnixMilli(), nil
}

func (s *RedisStore) Rotate(ctx context.Context, presentedID string, next Record) error {
	if err := validateRotate(presentedID, next); err != nil {
		return err
	}

	keys := []string{
		s.tokenKey(presentedID), s.tokenKey(next.ID),
		s.sessionKey(next.SessionID), s.subjectKey(next.Subject),
	}
	status, err := rotateLua.Run(ctx, s.redis, keys,
		next.ID, next.SessionID, next.Subject,
		next.ExpiresAt.UnixMilli(), s.now().UnixMilli(),
	).Int64()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	switch status {
	case rotateStatusRotated:
		return nil
	case rotateStatusNotFound:
		return ErrNotFound
	case rotateStatusRevoked:
		return ErrRevoked
	case rotateStatusMismatch:
		return ErrSessionMismatch
	case rotateStatusExpired:
		return ErrExpired
	default:
		return fmt.Errorf("%w: unexpected rotate status %d", ErrStoreUnavailable, status)
	}
}
