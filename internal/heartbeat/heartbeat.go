// Package heartbeat records scheduler tick summaries in Redis so operators can tell
// whether any replica is alive and what the last pass did.
package heartbeat

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/crucial707/resource-scheduler/internal/retry"
	"github.com/go-redis/redis/v8"
)

const (
	lastKey        = "metrics:scheduler:last"
	ticksKey       = "metrics:scheduler:ticks"
	instancePrefix = "metrics:scheduler:instance:"
)

// ErrNoHeartbeat is returned by Last before any tick has been recorded.
var ErrNoHeartbeat = errors.New("no scheduler heartbeat recorded")

// Tick summarizes one scheduler pass.
type Tick struct {
	InstanceID string    `json:"instance_id"`
	At         time.Time `json:"at"`
	Claimed    int       `json:"claimed"`
	Succeeded  int       `json:"succeeded"`
	Failed     int       `json:"failed"`
	Error      string    `json:"error,omitempty"`
}

// Status is what /scheduler/status reports.
type Status struct {
	Last      Tick     `json:"last"`
	Ticks     int64    `json:"ticks"`
	Instances []string `json:"instances"`
}

// Recorder writes and reads heartbeats.
type Recorder struct {
	rdb *redis.Client
	// ttl bounds how long an instance counts as alive without ticking.
	ttl time.Duration
}

// New returns a Recorder. An instance is listed as alive for ttl after its last tick.
func New(rdb *redis.Client, ttl time.Duration) *Recorder {
	return &Recorder{rdb: rdb, ttl: ttl}
}

var connectPolicy = retry.DefaultPolicy

// Connect opens a client and pings it, retrying while Redis comes up.
func Connect(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	err := retry.Do(ctx, connectPolicy, func(ctx context.Context, _ int) error {
		return rdb.Ping(ctx).Err()
	})
	if err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return rdb, nil
}

// RecordTick stores t as the latest tick and refreshes the instance's liveness key.
func (r *Recorder) RecordTick(ctx context.Context, t Tick) error {
	pipe := r.rdb.TxPipeline()
	pipe.Incr(ctx, ticksKey)
	pipe.HSet(ctx, lastKey, map[string]any{
		"instance_id": t.InstanceID,
		"at":          t.At.UTC().Format(time.RFC3339Nano),
		"claimed":     t.Claimed,
		"succeeded":   t.Succeeded,
		"failed":      t.Failed,
		"error":       t.Error,
	})
	pipe.Set(ctx, instancePrefix+t.InstanceID, t.At.UTC().Format(time.RFC3339Nano), r.ttl)
	_, err := pipe.Exec(ctx)
	return err
}

// Last returns the most recent tick from any instance.
func (r *Recorder) Last(ctx context.Context) (Tick, error) {
	m, err := r.rdb.HGetAll(ctx, lastKey).Result()
	if err != nil {
		return Tick{}, err
	}
	if len(m) == 0 {
		return Tick{}, ErrNoHeartbeat
	}
	at, err := time.Parse(time.RFC3339Nano, m["at"])
	if err != nil {
		return Tick{}, fmt.Errorf("heartbeat at: %w", err)
	}
	t := Tick{InstanceID: m["instance_id"], At: at, Error: m["error"]}
	t.Claimed, _ = strconv.Atoi(m["claimed"])
	t.Succeeded, _ = strconv.Atoi(m["succeeded"])
	t.Failed, _ = strconv.Atoi(m["failed"])
	return t, nil
}

// Status returns the last tick, the total tick count and the live instances.
func (r *Recorder) Status(ctx context.Context) (Status, error) {
	last, err := r.Last(ctx)
	if err != nil {
		return Status{}, err
	}
	ticks, err := r.rdb.Get(ctx, ticksKey).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return Status{}, err
	}
	keys, _, err := r.rdb.Scan(ctx, 0, instancePrefix+"*", 1000).Result()
	if err != nil {
		return Status{}, err
	}
	instances := make([]string, 0, len(keys))
	for _, k := range keys {
		instances = append(instances, k[len(instancePrefix):])
	}
	sort.Strings(instances)
	return Status{Last: last, Ticks: ticks, Instances: instances}, nil
}
