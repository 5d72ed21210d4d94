package storage

import (
	"context"
	"errors"
	"strconv"

	"linerelay/core"

	"github.com/redis/go-redis/v9"
)

const DefaultRedisKeyPrefix = "linerelay:"

// Login records live in hashes at {prefix}login:{id}; {prefix}nonce:{value}
// is a set of the login ids created for a nonce.
const replaceNonceScript = `
local ids = redis.call("SMEMBERS", KEYS[1])
for _, id in ipairs(ids) do
  redis.call("DEL", ARGV[1] .. id)
end
redis.call("DEL", KEYS[1])
if ARGV[2] ~= "" then
  redis.call("HSET", ARGV[1] .. ARGV[2], "nonce", ARGV[3], "redirect_url", ARGV[4], "session_id", "")
  redis.call("SADD", KEYS[1], ARGV[2])
end
return #ids
`

const linkSessionScript = `
local linked = redis.call("HGET", KEYS[1], "session_id")
if not linked or linked ~= "" or redis.call("EXISTS", KEYS[2]) == 0 then
  return 0
end
redis.call("HSET", KEYS[1], "session_id", ARGV[1])
return 1
`

const deleteNonceScript = `
local nonce = redis.call("HGET", KEYS[1], "nonce")
if not nonce then
  return 0
end
redis.call("DEL", KEYS[1])
redis.call("SREM", ARGV[1] .. nonce, ARGV[2])
return 1
`

const updateSessionScript = `
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 0
end
redis.call("HSET", KEYS[1], unpack(ARGV))
return 1
`

var (
	replaceNonceLua  = redis.NewScript(replaceNonceScript)
	linkSessionLua   = redis.NewScript(linkSessionScript)
	deleteNonceLua   = redis.NewScript(deleteNonceScript)
	updateSessionLua = redis.NewScript(updateSessionScript)
)

// RedisStore implements core.SessionStore on Redis hashes. The scripts build
// login keys from ARGV, so the store expects a single node rather than a cluster.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = DefaultRedisKeyPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

func (r *RedisStore) loginPrefix() string { return r.prefix + "login:" }
func (r *RedisStore) noncePrefix() string { return r.prefix + "nonce:" }

func (r *RedisStore) loginKey(id string) string { return r.loginPrefix() + id }
func (r *RedisStore) nonceKey(nonce string) string { return r.noncePrefix() + nonce }
func (r *RedisStore) sessionKey(id string) string { return r.prefix + "session:" + id }

func (r *RedisStore) CreateNonce(ctx context.Context, nonce string, redirectURL *string) (*core.LoginNonce, error) {
	record := newNonce(nonce, redirectURL)

	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, r.loginKey(record.ID),
			"nonce", record.Nonce,
			"redirect_url", core.StringValue(record.RedirectURL),
			"session_id", "",
		)
		pipe.SAdd(ctx, r.nonceKey(nonce), record.ID)
		return nil
	})
	if err != nil {
		return nil, storageError("create nonce", err)
	}

	return record, nil
}

func (r *RedisStore) ClearNonce(ctx context.Context, nonce string) error {
	err := replaceNonceLua.Run(ctx, r.client,
		[]string{r.nonceKey(nonce)},
		r.loginPrefix(), "", nonce, "",
	).Err()
	return storageError("clear nonce", err)
}

func (r *RedisStore) ReplaceNonce(ctx context.Context, nonce string, redirectURL *string) (*core.LoginNonce, error) {
	record := newNonce(nonce, redirectURL)

	err := replaceNonceLua.Run(ctx, r.client,
		[]string{r.nonceKey(nonce)},
		r.loginPrefix(), record.ID, record.Nonce, core.StringValue(record.RedirectURL),
	).Err()
	if err != nil {
		return nil, storageError("replace nonce", err)
	}

	return record, nil
}

func (r *RedisStore) GetNonceByValue(ctx context.Context, nonce string) (*core.LoginNonce, error) {
	ids, err := r.client.SMembers(ctx, r.nonceKey(nonce)).Result()
	if err != nil {
		return nil, storageError("get nonce by value", err)
	}

	for _, id := range ids {
		record, err := r.GetNonceByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if record != nil {
			return record, nil
		}
	}

	return nil, core.ErrNotFound
}

func (r *RedisStore) GetNonceByID(ctx context.Context, id string) (*core.LoginNonce, error) {
	fields, err := r.client.HGetAll(ctx, r.loginKey(id)).Result()
	if err != nil {
		return nil, storageError("get nonce by id", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}

	return &core.LoginNonce{
		ID:          id,
		Nonce:       fields["nonce"],
		RedirectURL: core.StringPtr(fields["redirect_url"]),
		Session:     core.StringPtr(fields["session_id"]),
	}, nil
}

func (r *RedisStore) LinkSession(ctx context.Context, nonceID string, sessionID string) error {
	linked, err := linkSessionLua.Run(ctx, r.client,
		[]string{r.loginKey(nonceID), r.sessionKey(sessionID)},
		sessionID,
	).Int64()
	if err != nil {
		return storageError("link session", err)
	}
	if linked == 0 {
		return core.ErrNotFound
	}
	return nil
}

func (r *RedisStore) DeleteNonce(ctx context.Context, id string) error {
	deleted, err := deleteNonceLua.Run(ctx, r.client,
		[]string{r.loginKey(id)},
		r.noncePrefix(), id,
	).Int64()
	if err != nil {
		return storageError("delete nonce", err)
	}
	if deleted == 0 {
		return core.ErrNotFound
	}
	return nil
}

func (r *RedisStore) CreateSession(ctx context.Context, auth *core.AuthResult) (*core.Session, error) {
	session, err := newSession(auth)
	if err != nil {
		return nil, storageError("create session", err)
	}

	err = r.client.HSet(ctx, r.sessionKey(session.ID),
		"access_token", session.AccessToken,
		"refresh_token", session.RefreshToken,
		"user_id", session.UserID,
		"name", session.Name,
		"picture", core.StringValue(session.Picture),
		"expire", toMillis(session.Expire),
	).Err()
	if err != nil {
		return nil, storageError("create session", err)
	}

	return session, nil
}

func (r *RedisStore) GetSessionByID(ctx context.Context, id string) (*core.Session, error) {
	fields, err := r.client.HGetAll(ctx, r.sessionKey(id)).Result()
	if err != nil {
		return nil, storageError("get session", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}

	expire, err := strconv.ParseInt(fields["expire"], 10, 64)
	if err != nil {
		return nil, storageError("get session", errors.New("malformed expire field"))
	}

	return &core.Session{
		ID:           id,
		AccessToken:  fields["access_token"],
		RefreshToken: fields["refresh_token"],
		UserID:       fields["user_id"],
		Name:         fields["name"],
		Picture:      core.StringPtr(fields["picture"]),
		Expire:       fromMillis(expire),
	}, nil
}

func (r *RedisStore) UpdateSession(ctx context.Context, session *core.Session) error {
	updated, err := updateSessionLua.Run(ctx, r.client,
		[]string{r.sessionKey(session.ID)},
		"access_token", session.AccessToken,
		"refresh_token", session.RefreshToken,
		"name", session.Name,
		"picture", core.StringValue(session.Picture),
		"expire", toMillis(session.Expire),
	).Int64()
	if err != nil {
		return storageError("update session", err)
	}
	if updated == 0 {
		return core.ErrNotFound
	}
	return nil
}
