package redis

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSortedSetClaimSemantics(t *testing.T) {
	ctx := context.Background()
	mock := newMockCmdable()
	client := &Client{store: mock}

	require.NoError(t, client.ZAdd(ctx, "q", 30, "late"))
	require.NoError(t, client.ZAdd(ctx, "q", 10, "early"))
	require.NoError(t, client.ZAdd(ctx, "q", 20, "mid"))

	due, err := client.ZRangeByScore(ctx, "q", 20, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"early", "mid"}, due)

	removed, err := client.ZRem(ctx, "q", "early")
	require.NoError(t, err)
	assert.EqualValues(t, 1, removed)

	// a second worker racing on the same member loses
	removed, err = client.ZRem(ctx, "q", "early")
	require.NoError(t, err)
	assert.Zero(t, removed)

	size, err := client.ZCard(ctx, "q")
	require.NoError(t, err)
	assert.EqualValues(t, 2, size)
}

func TestHashFields(t *testing.T) {
	ctx := context.Background()
	client := &Client{store: newMockCmdable()}

	require.NoError(t, client.HSet(ctx, "jobs", "k1", "payload"))
	got, err := client.HGet(ctx, "jobs", "k1")
	require.NoError(t, err)
	assert.Equal(t, "payload", got)

	require.NoError(t, client.HDel(ctx, "jobs", "k1"))
	_, err = client.HGet(ctx, "jobs", "k1")
	assert.ErrorIs(t, err, Nil)
}

func TestSetNXAndDel(t *testing.T) {
	ctx := context.Background()
	client := &Client{store: newMockCmdable()}

	ok, err := client.SetNX(ctx, "lock", "a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = client.SetNX(ctx, "lock", "b", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, client.Del(ctx, "lock"))
	_, err = client.Get(ctx, "lock")
	assert.ErrorIs(t, err, redis.Nil)
}

func TestUninitializedClient(t *testing.T) {
	client := &Client{}
	assert.Error(t, client.Ping(context.Background()))
	_, err := client.PSubscribe(context.Background(), "x")
	assert.Error(t, err)
	_, err = client.ZClaimLease(context.Background(), "q", "leases", 10, 40, 5)
	assert.Error(t, err)
	assert.NoError(t, client.Close())
}

func TestKeyBuilders(t *testing.T) {
	client := &Client{}
	assert.Equal(t, "fd:lock:sweep", client.LockKey("sweep"))
	assert.Equal(t, "fd:sched:due", client.SchedulerKey("due"))
	assert.Equal(t, "fd:rt:rooms:order:1", client.RoomChannel("order:1"))
	assert.Equal(t, "fd:rt:rooms:*", client.RoomChannelPattern())
	assert.Equal(t, "fd:counter:hits", client.CounterKey("hits"))
	assert.Equal(t, "fd:sched", client.SchedulerKey(""), "empty parts are skipped")
}

type mockCmdable struct {
	data      map[string]string
	incr      map[string]int64
	zsets     map[string]map[string]float64
	hashes    map[string]map[string]string
	published []string
}

func newMockCmdable() *mockCmdable {
	return &mockCmdable{
		data:   make(map[string]string),
		incr:   make(map[string]int64),
		zsets:  make(map[string]map[string]float64),
		hashes: make(map[string]map[string]string),
	}
}

func (m *mockCmdable) Ping(context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("PONG", nil)
}

func (m *mockCmdable) Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd {
	m.data[key] = fmt.Sprint(value)
	return redis.NewStatusResult("OK", nil)
}

func (m *mockCmdable) Get(ctx context.Context, key string) *redis.StringCmd {
	v, ok := m.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (m *mockCmdable) SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd {
	if _, exists := m.data[key]; exists {
		return redis.NewBoolResult(false, nil)
	}
	m.data[key] = fmt.Sprint(value)
	return redis.NewBoolResult(true, nil)
}

func (m *mockCmdable) Incr(ctx context.Context, key string) *redis.IntCmd {
	m.incr[key]++
	return redis.NewIntResult(m.incr[key], nil)
}

func (m *mockCmdable) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	for _, key := range keys {
		delete(m.data, key)
	}
	return redis.NewIntResult(int64(len(keys)), nil)
}

func (m *mockCmdable) ZAdd(ctx context.Context, key string, members ...redis.Z) *redis.IntCmd {
	set, ok := m.zsets[key]
	if !ok {
		set = make(map[string]float64)
		m.zsets[key] = set
	}
	for _, z := range members {
		set[fmt.Sprint(z.Member)] = z.Score
	}
	return redis.NewIntResult(int64(len(members)), nil)
}

func (m *mockCmdable) ZRangeByScore(ctx context.Context, key string, opt *redis.ZRangeBy) *redis.StringSliceCmd {
	max, err := strconv.ParseFloat(opt.Max, 64)
	if err != nil {
		return redis.NewStringSliceResult(nil, err)
	}
	type entry struct {
		member string
		score  float64
	}
	var entries []entry
	for member, score := range m.zsets[key] {
		if score <= max {
			entries = append(entries, entry{member, score})
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].score < entries[j].score })
	out := []string{}
	for _, e := range entries {
		if opt.Count > 0 && int64(len(out)) >= opt.Count {
			break
		}
		out = append(out, e.member)
	}
	return redis.NewStringSliceResult(out, nil)
}

func (m *mockCmdable) ZRem(ctx context.Context, key string, members ...any) *redis.IntCmd {
	var removed int64
	for _, member := range members {
		name := fmt.Sprint(member)
		if _, ok := m.zsets[key][name]; ok {
			delete(m.zsets[key], name)
			removed++
		}
	}
	return redis.NewIntResult(removed, nil)
}

func (m *mockCmdable) ZCard(ctx context.Context, key string) *redis.IntCmd {
	return redis.NewIntResult(int64(len(m.zsets[key])), nil)
}

func (m *mockCmdable) HSet(ctx context.Context, key string, values ...any) *redis.IntCmd {
	h, ok := m.hashes[key]
	if !ok {
		h = make(map[string]string)
		m.hashes[key] = h
	}
	for i := 0; i+1 < len(values); i += 2 {
		h[fmt.Sprint(values[i])] = fmt.Sprint(values[i+1])
	}
	return redis.NewIntResult(int64(len(values)/2), nil)
}

func (m *mockCmdable) HSetNX(ctx context.Context, key, field string, value any) *redis.BoolCmd {
	if _, exists := m.hashes[key][field]; exists {
		return redis.NewBoolResult(false, nil)
	}
	m.HSet(ctx, key, field, value)
	return redis.NewBoolResult(true, nil)
}

func (m *mockCmdable) HGet(ctx context.Context, key, field string) *redis.StringCmd {
	v, ok := m.hashes[key][field]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (m *mockCmdable) HDel(ctx context.Context, key string, fields ...string) *redis.IntCmd {
	for _, f := range fields {
		delete(m.hashes[key], f)
	}
	return redis.NewIntResult(int64(len(fields)), nil)
}

func (m *mockCmdable) Publish(ctx context.Context, channel string, message any) *redis.IntCmd {
	m.published = append(m.published, channel)
	return redis.NewIntResult(0, nil)
}
