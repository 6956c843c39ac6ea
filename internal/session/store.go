package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"papertrader-go/internal/execution"
	"papertrader-go/internal/paper"
)

// ErrSnapshotNotFound is returned by Store.Load when nothing was saved under the id.
var ErrSnapshotNotFound = errors.New("snapshot not found")

// Snapshot is the persisted state of one session.
type Snapshot struct {
	SessionID      string                   `json:"session_id"`
	Taken          time.Time                `json:"taken"`
	StrategyID     string                   `json:"strategy_id"`
	StrategyParams map[string]any           `json:"strategy_params"`
	Portfolio      paper.PortfolioSnapshot  `json:"portfolio"`
	Engine         execution.EngineSnapshot `json:"engine"`
}

// Store persists session snapshots.
type Store interface {
	Save(ctx context.Context, snap Snapshot) error
	Load(ctx context.Context, sessionID string) (Snapshot, error)
}

// FileStore keeps one indented JSON file per session.
type FileStore struct {
	dir string
}

// NewFileStore returns a store rooted at dir. The directory is created on first save.
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

func (f *FileStore) path(id string) string {
	return filepath.Join(f.dir, id+".json")
}

// Save writes the snapshot atomically via a temp file and rename.
func (f *FileStore) Save(_ context.Context, snap Snapshot) error {
	if err := validID(snap.SessionID); err != nil {
		return err
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		return err
	}
	tmp := f.path(snap.SessionID) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, f.path(snap.SessionID))
}

// Load reads the snapshot saved for sessionID.
func (f *FileStore) Load(_ context.Context, sessionID string) (Snapshot, error) {
	if err := validID(sessionID); err != nil {
		return Snapshot{}, err
	}
	data, err := os.ReadFile(f.path(sessionID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Snapshot{}, fmt.Errorf("%w: %s", ErrSnapshotNotFound, sessionID)
		}
		return Snapshot{}, err
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap, nil
}

func validID(id string) error {
	if id == "" || strings.ContainsAny(id, `/\`) || strings.Contains(id, "..") {
		return fmt.Errorf("invalid session id %q", id)
	}
	return nil
}

// redisKV is the subset of the go-redis client used by RedisStore.
type redisKV interface {
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
}

// RedisStore keeps snapshots under "<prefix>:snapshot:<id>".
type RedisStore struct {
	client redisKV
	prefix string
	ttl    time.Duration
}

// NewRedisClient dials addr and verifies the connection with PING.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

// NewRedisStore wraps client. A zero ttl keeps snapshots forever.
func NewRedisStore(client redisKV, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "papertrader"
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

func (r *RedisStore) key(id string) string {
	return r.prefix + ":snapshot:" + id
}

// Save stores the snapshot as JSON.
func (r *RedisStore) Save(ctx context.Context, snap Snapshot) error {
	if snap.SessionID == "" {
		return errors.New("invalid session id")
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	return r.client.Set(ctx, r.key(snap.SessionID), data, r.ttl).Err()
}

// Load fetches the snapshot for sessionID.
func (r *RedisStore) Load(ctx context.Context, sessionID string) (Snapshot, error) {
	data, err := r.client.Get(ctx, r.key(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Snapshot{}, fmt.Errorf("%w: %s", ErrSnapshotNotFound, sessionID)
		}
		return Snapshot{}, err
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap, nil
}
