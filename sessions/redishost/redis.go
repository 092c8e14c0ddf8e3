package redishost

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/ggoodman/xrce-agent-go/sessions"
	"github.com/ggoodman/xrce-agent-go/xrce"
	"github.com/joeshaw/envdecode"
	"github.com/redis/go-redis/v9"
)

// Config for Redis-backed Host. Defaults can be loaded via envdecode.
type Config struct {
	// RedisAddr like "localhost:6379". ENV: REDIS_ADDR
	RedisAddr string `env:"REDIS_ADDR,default=localhost:6379"`
	// KeyPrefix for all keys. ENV: XRCE_SESSIONS_KEY_PREFIX
	KeyPrefix string `env:"XRCE_SESSIONS_KEY_PREFIX,default=xrce:sessions:"`
	// StreamMaxLen bounds the event stream (approximate). ENV: XRCE_SESSIONS_STREAM_MAXLEN
	StreamMaxLen int64 `env:"XRCE_SESSIONS_STREAM_MAXLEN,default=10000"`
	// PollInterval is the XREAD block duration. ENV: XRCE_SESSIONS_POLL_INTERVAL
	PollInterval time.Duration `env:"XRCE_SESSIONS_POLL_INTERVAL,default=500ms"`
}

type Host struct {
	client    *redis.Client
	keyPrefix string
	maxLen    int64
	block     time.Duration
}

func New(cfg Config) (*Host, error) {
	addr := cfg.RedisAddr
	if addr == "" {
		addr = "localhost:6379"
	}
	cl := redis.NewClient(&redis.Options{Addr: addr})
	if err := cl.Ping(context.Background()).Err(); err != nil {
		_ = cl.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "xrce:sessions:"
	}
	block := cfg.PollInterval
	if block <= 0 {
		block = 500 * time.Millisecond
	}
	return &Host{client: cl, keyPrefix: prefix, maxLen: cfg.StreamMaxLen, block: block}, nil
}

// NewFromEnv builds a Host using envdecode to populate Config.
func NewFromEnv() (*Host, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("redishost config: %w", err)
	}
	return New(cfg)
}

// Close closes the Redis client.
func (h *Host) Close() error { return h.client.Close() }

// --- Key helpers ---

func (h *Host) clientKey(key xrce.ClientKey) string { return h.keyPrefix + "client:" + key.String() }
func (h *Host) indexKey() string                     { return h.keyPrefix + "clients" }
func (h *Host) streamKey() string                    { return h.keyPrefix + "events" }

// --- Records ---

func (h *Host) PutClient(ctx context.Context, rec sessions.ClientRecord) error {
	fields := map[string]any{
		"agent_id":    rec.AgentID,
		"version":     rec.Version,
		"origin":      rec.Origin,
		"subject":     rec.Subject,
		"objects":     rec.Objects,
		"admitted_at": rec.AdmittedAt.UTC().Format(time.RFC3339Nano),
		"updated_at":  rec.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
	_, err := h.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, h.clientKey(rec.ClientKey), fields)
		p.SAdd(ctx, h.indexKey(), rec.ClientKey.String())
		return nil
	})
	if err != nil {
		return fmt.Errorf("put client %s: %w", rec.ClientKey, err)
	}
	return nil
}

func (h *Host) GetClient(ctx context.Context, key xrce.ClientKey) (sessions.ClientRecord, error) {
	vals, err := h.client.HGetAll(ctx, h.clientKey(key)).Result()
	if err != nil {
		return sessions.ClientRecord{}, fmt.Errorf("get client %s: %w", key, err)
	}
	if len(vals) == 0 {
		return sessions.ClientRecord{}, sessions.ErrNotFound
	}
	return decodeRecord(key, vals)
}

func (h *Host) ListClients(ctx context.Context) ([]sessions.ClientRecord, error) {
	members, err := h.client.SMembers(ctx, h.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list clients: %w", err)
	}
	keys := make([]xrce.ClientKey, 0, len(members))
	for _, m := range members {
		k, err := xrce.ParseClientKey(m)
		if err != nil {
			continue
		}
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(a, b xrce.ClientKey) int { return bytes.Compare(a[:], b[:]) })

	cmds := make([]*redis.MapStringStringCmd, len(keys))
	_, err = h.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i, k := range keys {
			cmds[i] = p.HGetAll(ctx, h.clientKey(k))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list clients: %w", err)
	}
	out := make([]sessions.ClientRecord, 0, len(keys))
	for i, k := range keys {
		vals := cmds[i].Val()
		if len(vals) == 0 {
			// Index entry without a record; deleted concurrently.
			continue
		}
		rec, err := decodeRecord(k, vals)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (h *Host) DeleteClient(ctx context.Context, key xrce.ClientKey) error {
	_, err := h.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, h.clientKey(key))
		p.SRem(ctx, h.indexKey(), key.String())
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete client %s: %w", key, err)
	}
	return nil
}

func decodeRecord(key xrce.ClientKey, vals map[string]string) (sessions.ClientRecord, error) {
	rec := sessions.ClientRecord{
		ClientKey: key,
		AgentID:   vals["agent_id"],
		Version:   vals["version"],
		Origin:    vals["origin"],
		Subject:   vals["subject"],
	}
	var err error
	if v := vals["objects"]; v != "" {
		if rec.Objects, err = strconv.Atoi(v); err != nil {
			return rec, fmt.Errorf("client %s: objects: %w", key, err)
		}
	}
	if rec.AdmittedAt, err = parseTime(vals["admitted_at"]); err != nil {
		return rec, fmt.Errorf("client %s: admitted_at: %w", key, err)
	}
	if rec.UpdatedAt, err = parseTime(vals["updated_at"]); err != nil {
		return rec, fmt.Errorf("client %s: updated_at: %w", key, err)
	}
	return rec, nil
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}

// --- Events via Redis Streams ---

func (h *Host) PublishEvent(ctx context.Context, evt sessions.Event) (string, error) {
	data, err := json.Marshal(evt)
	if err != nil {
		return "", fmt.Errorf("encode event: %w", err)
	}
	args := &redis.XAddArgs{Stream: h.streamKey(), Values: map[string]any{"d": data}}
	if h.maxLen > 0 {
		args.MaxLen = h.maxLen
		args.Approx = true
	}
	id, err := h.client.XAdd(ctx, args).Result()
	if err != nil {
		return "", fmt.Errorf("publish event: %w", err)
	}
	return id, nil
}

func (h *Host) SubscribeEvents(ctx context.Context, lastEventID string, handler sessions.EventHandlerFunction) error {
	key := h.streamKey()
	start := lastEventID
	if start == "" {
		tail, err := h.tail(ctx)
		if err != nil {
			return err
		}
		start = tail
	} else {
		msgs, err := h.client.XRange(ctx, key, start, start).Result()
		if err != nil {
			return fmt.Errorf("resolve event id: %w", err)
		}
		if len(msgs) == 0 {
			return fmt.Errorf("%w: %s", sessions.ErrUnknownEventID, lastEventID)
		}
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		res, err := h.client.XRead(ctx, &redis.XReadArgs{Streams: []string{key, start}, Count: 64, Block: h.block}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		if len(res) == 0 {
			continue
		}
		for _, m := range res[0].Messages {
			start = m.ID
			var payload []byte
			switch v := m.Values["d"].(type) {
			case string:
				payload = []byte(v)
			case []byte:
				payload = v
			default:
				continue
			}
			var evt sessions.Event
			if err := json.Unmarshal(payload, &evt); err != nil {
				return fmt.Errorf("decode event %s: %w", m.ID, err)
			}
			if err := handler(ctx, m.ID, evt); err != nil {
				return err
			}
		}
	}
}

// tail returns the id of the newest stream entry, or "0-0" for an empty stream.
func (h *Host) tail(ctx context.Context) (string, error) {
	msgs, err := h.client.XRevRangeN(ctx, h.streamKey(), "+", "-", 1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return "", fmt.Errorf("resolve stream tail: %w", err)
	}
	if len(msgs) == 0 {
		return "0-0", nil
	}
	return msgs[0].ID, nil
}

// Interface compliance
var _ sessions.Host = (*Host)(nil)
