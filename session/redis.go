package session

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	rotateStatusNotFound int64 = 0
	rotateStatusRevoked  int64 = 1
	rotateStatusExpired  int64 = 2
	rotateStatusRotated  int64 = 3
)

const (
	revokeStatusNotFound int64 = 0
	revokeStatusNoop     int64 = 1
	revokeStatusRevoked  int64 = 2
)

// DefaultRetention is how long a row outlives its expiry before Redis drops it.
const DefaultRetention = 30 * 24 * time.Hour

// Token rows are hashes at <prefix>:t:<id>. <prefix>:h:<hex digest> maps a
// token hash to its id, and <prefix>:u:<userID> is a sorted set of the
// user's token ids scored by issue time in milliseconds.

const rotateScript = `
local id = redis.call("GET", KEYS[1])
if not id then
  return {0, ""}
end
local prefix = ARGV[1]
local now = tonumber(ARGV[2])
local tkey = prefix .. ":t:" .. id
local row = redis.call("HMGET", tkey, "uid", "fam", "exp", "rat")
local uid = row[1]
if not uid then
  return {0, id}
end
if row[4] and row[4] ~= "" then
  return {1, id}
end
if tonumber(row[3]) <= now then
  return {2, id}
end
redis.call("HSET", tkey, "rat", ARGV[2], "rr", "rotated", "rb", ARGV[3])
local nkey = prefix .. ":t:" .. ARGV[3]
redis.call("HSET", nkey,
  "id", ARGV[3], "fam", row[2], "uid", uid, "th", ARGV[4],
  "iat", ARGV[5], "exp", ARGV[6], "ip", ARGV[7], "ua", ARGV[8],
  "rat", "", "rr", "", "rb", "")
redis.call("PEXPIREAT", nkey, ARGV[9])
local hkey = prefix .. ":h:" .. ARGV[4]
redis.call("SET", hkey, ARGV[3])
redis.call("PEXPIREAT", hkey, ARGV[9])
redis.call("ZADD", prefix .. ":u:" .. uid, ARGV[5], ARGV[3])
return {3, id}
`

var rotateLua = redis.NewScript(rotateScript)

const revokeScript = `
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 0
end
local row = redis.call("HMGET", KEYS[1], "exp", "rat")
if (row[2] and row[2] ~= "") or tonumber(row[1]) <= tonumber(ARGV[1]) then
  return 1
end
redis.call("HSET", KEYS[1], "rat", ARGV[1], "rr", ARGV[2])
return 2
`

var revokeLua = redis.NewScript(revokeScript)

const revokeUserScript = `
local prefix = ARGV[1]
local now = tonumber(ARGV[2])
local keep = ARGV[4]
local ids = redis.call("ZRANGE", KEYS[1], 0, -1)
local count = 0
for _, id in ipairs(ids) do
  local tkey = prefix .. ":t:" .. id
  local row = redis.call("HMGET", tkey, "exp", "rat", "fam")
  if row[1] then
    local active = (not row[2] or row[2] == "") and tonumber(row[1]) > now
    if active and (keep == "" or row[3] ~= keep) then
      redis.call("HSET", tkey, "rat", ARGV[2], "rr", ARGV[3])
      count = count + 1
    end
  else
    redis.call("ZREM", KEYS[1], id)
  end
end
return count
`

var revokeUserLua = redis.NewScript(revokeUserScript)

// RedisStore is a Redis-backed [Store]. Rotation and bulk revocation each run
// as one Lua script, so they are atomic with respect to every other command.
type RedisStore struct {
	redis     redis.UniversalClient
	prefix    string
	retention time.Duration
}

// NewRedisStore returns a [RedisStore] using prefix as the key namespace.
// Rows are kept for retention after their expiry; zero selects
// [DefaultRetention].
func NewRedisStore(client redis.UniversalClient, prefix string, retention time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "art"
	}
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &RedisStore{redis: client, prefix: prefix, retention: retention}
}

func (s *RedisStore) tokenKey(id string) string {
	return s.prefix + ":t:" + id
}

func (s *RedisStore) hashKey(hash [32]byte) string {
	return s.prefix + ":h:" + hex.EncodeToString(hash[:])
}

func (s *RedisStore) userKey(userID string) string {
	return s.prefix + ":u:" + userID
}

// Create persists tok as Active.
//
//	Performance: 1 MULTI/EXEC with 5 commands.
func (s *RedisStore) Create(ctx context.Context, tok *RefreshToken) error {
	if tok == nil || tok.ID == "" || tok.UserID == "" {
		return errors.New("refresh token requires id and user id")
	}
	if tok.FamilyID == "" {
		tok.FamilyID = tok.ID
	}

	keep := tok.ExpiresAt.Add(s.retention)
	tokenKey := s.tokenKey(tok.ID)
	hashKey := s.hashKey(tok.TokenHash)

	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, tokenKey, encodeFields(tok))
		pipe.PExpireAt(ctx, tokenKey, keep)
		pipe.Set(ctx, hashKey, tok.ID, 0)
		pipe.PExpireAt(ctx, hashKey, keep)
		pipe.ZAdd(ctx, s.userKey(tok.UserID), redis.Z{Score: float64(tok.IssuedAt.UnixMilli()), Member: tok.ID})
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Rotate consumes the presented row and inserts next in one Lua CAS.
//
//	Performance: 1 EVALSHA + 1 HGETALL.
//	Security: exactly one concurrent caller can move a row out of Active.
func (s *RedisStore) Rotate(ctx context.Context, presented [32]byte, next *RefreshToken, now time.Time) (*RefreshToken, error) {
	if next == nil || next.ID == "" {
		return nil, errors.New("successor token requires id")
	}

	result, err := rotateLua.Run(
		ctx,
		s.redis,
		[]string{s.hashKey(presented)},
		s.prefix,
		now.UnixMilli(),
		next.ID,
		hex.EncodeToString(next.TokenHash[:]),
		next.IssuedAt.UnixMilli(),
		next.ExpiresAt.UnixMilli(),
		next.IPAddress,
		next.UserAgent,
		strconv.FormatInt(next.ExpiresAt.Add(s.retention).UnixMilli(), 10),
	).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	parts, ok := result.([]interface{})
	if !ok || len(parts) != 2 {
		return nil, fmt.Errorf("%w: invalid rotate script response", ErrStoreUnavailable)
	}
	code, ok := parts[0].(int64)
	if !ok {
		return nil, fmt.Errorf("%w: invalid rotate script status", ErrStoreUnavailable)
	}
	id, _ := parts[1].(string)

	var statusErr error
	switch code {
	case rotateStatusNotFound:
		return nil, ErrTokenNotFound
	case rotateStatusRevoked:
		statusErr = ErrTokenRevoked
	case rotateStatusExpired:
		statusErr = ErrTokenExpired
	case rotateStatusRotated:
	default:
		return nil, fmt.Errorf("%w: unknown rotate script status %d", ErrStoreUnavailable, code)
	}

	consumed, err := s.Get(ctx, id)
	if err != nil {
		if statusErr != nil && errors.Is(err, ErrTokenNotFound) {
			return nil, statusErr
		}
		return nil, err
	}
	if statusErr != nil {
		return consumed, statusErr
	}

	next.UserID = consumed.UserID
	next.FamilyID = consumed.FamilyID
	return consumed, nil
}

// Get returns a row by id.
func (s *RedisStore) Get(ctx context.Context, id string) (*RefreshToken, error) {
	fields, err := s.redis.HGetAll(ctx, s.tokenKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if len(fields) == 0 {
		return nil, ErrTokenNotFound
	}
	return decodeFields(fields)
}

// GetByHash returns a row by token hash.
func (s *RedisStore) GetByHash(ctx context.Context, hash [32]byte) (*RefreshToken, error) {
	id, err := s.redis.Get(ctx, s.hashKey(hash)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrTokenNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return s.Get(ctx, id)
}

// Revoke moves an Active row to revoked. Repeated calls are no-ops.
func (s *RedisStore) Revoke(ctx context.Context, id string, reason RevokeReason, now time.Time) (bool, error) {
	if !reason.Valid() {
		return false, fmt.Errorf("invalid revoke reason %q", reason)
	}

	code, err := revokeLua.Run(ctx, s.redis, []string{s.tokenKey(id)}, now.UnixMilli(), string(reason)).Int64()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	switch code {
	case revokeStatusNotFound:
		return false, ErrTokenNotFound
	case revokeStatusNoop:
		return false, nil
	case revokeStatusRevoked:
		return true, nil
	default:
		return false, fmt.Errorf("%w: unknown revoke script status %d", ErrStoreUnavailable, code)
	}
}

// RevokeAllForUser revokes every Active row of userID in one script.
func (s *RedisStore) RevokeAllForUser(ctx context.Context, userID string, reason RevokeReason, now time.Time) (int, error) {
	return s.revokeUser(ctx, userID, "", reason, now)
}

// RevokeAllExceptFamily revokes every Active row of userID outside familyID
// in one script.
func (s *RedisStore) RevokeAllExceptFamily(ctx context.Context, userID, familyID string, reason RevokeReason, now time.Time) (int, error) {
	if familyID == "" {
		return 0, errors.New("family id is required")
	}
	return s.revokeUser(ctx, userID, familyID, reason, now)
}

func (s *RedisStore) revokeUser(ctx context.Context, userID, keepFamily string, reason RevokeReason, now time.Time) (int, error) {
	if !reason.Valid() {
		return 0, fmt.Errorf("invalid revoke reason %q", reason)
	}

	count, err := revokeUserLua.Run(
		ctx,
		s.redis,
		[]string{s.userKey(userID)},
		s.prefix,
		now.UnixMilli(),
		string(reason),
		keepFamily,
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return int(count), nil
}

// ListActive returns userID's Active rows, most recently issued first. Ids
// whose rows Redis already dropped are removed from the user index.
//
//	Performance: 1 ZREVRANGE + 1 pipelined HGETALL batch, plus 1 ZREM when
//	the index holds dropped ids.
func (s *RedisStore) ListActive(ctx context.Context, userID string, now time.Time) ([]*RefreshToken, error) {
	ids, err := s.redis.ZRevRange(ctx, s.userKey(userID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err = s.redis.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, s.tokenKey(id))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	out := make([]*RefreshToken, 0, len(ids))
	var dropped []any
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			dropped = append(dropped, ids[i])
			continue
		}
		tok, err := decodeFields(fields)
		if err != nil {
			return nil, err
		}
		if tok.ActiveAt(now) {
			out = append(out, tok)
		}
	}

	if len(dropped) > 0 {
		if err := s.redis.ZRem(ctx, s.userKey(userID), dropped...).Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
	}
	return out, nil
}

// Ping measures a round trip to Redis.
func (s *RedisStore) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return time.Since(start), nil
}

func encodeFields(tok *RefreshToken) map[string]interface{} {
	fields := map[string]interface{}{
		"id":  tok.ID,
		"fam": tok.FamilyID,
		"uid": tok.UserID,
		"th":  hex.EncodeToString(tok.TokenHash[:]),
		"iat": tok.IssuedAt.UnixMilli(),
		"exp": tok.ExpiresAt.UnixMilli(),
		"ip":  tok.IPAddress,
		"ua":  tok.UserAgent,
		"rat": "",
		"rr":  string(tok.RevokedReason),
		"rb":  tok.ReplacedBy,
	}
	if tok.RevokedAt != nil {
		fields["rat"] = tok.RevokedAt.UnixMilli()
	}
	return fields
}

func decodeFields(fields map[string]string) (*RefreshToken, error) {
	tok := &RefreshToken{
		ID:            fields["id"],
		FamilyID:      fields["fam"],
		UserID:        fields["uid"],
		IPAddress:     fields["ip"],
		UserAgent:     fields["ua"],
		RevokedReason: RevokeReason(fields["rr"]),
		ReplacedBy:    fields["rb"],
	}

	digest, err := hex.DecodeString(fields["th"])
	if err != nil || len(digest) != len(tok.TokenHash) {
		return nil, fmt.Errorf("%w: corrupt token hash for %s", ErrStoreUnavailable, tok.ID)
	}
	copy(tok.TokenHash[:], digest)

	if tok.IssuedAt, err = parseMillis(fields["iat"]); err != nil {
		return nil, fmt.Errorf("%w: corrupt issued-at for %s", ErrStoreUnavailable, tok.ID)
	}
	if tok.ExpiresAt, err = parseMillis(fields["exp"]); err != nil {
		return nil, fmt.Errorf("%w: corrupt expires-at for %s", ErrStoreUnavailable, tok.ID)
	}
	if raw := fields["rat"]; raw != "" {
		revokedAt, err := parseMillis(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: corrupt revoked-at for %s", ErrStoreUnavailable, tok.ID)
		}
		tok.RevokedAt = &revokedAt
	}

	return tok, nil
}

func parseMillis(raw string) (time.Time, error) {
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms), nil
}
