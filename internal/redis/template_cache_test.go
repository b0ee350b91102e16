package redisclient

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hackgods/slot-reservation-engine/internal/schedule"
	"github.com/hackgods/slot-reservation-engine/internal/slot"
)

type countingSource struct {
	mu        sync.Mutex
	calls     int
	templates map[uuid.UUID]schedule.Template
}

func (s *countingSource) GetTemplate(ctx context.Context, serviceID uuid.UUID) (*schedule.Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls++
	t, ok := s.templates[serviceID]
	if !ok {
		return nil, schedule.ErrTemplateNotFound
	}
	return &t, nil
}

func newCache(t *testing.T, source schedule.Source) (*TemplateCache, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewTemplateCache(client, source, time.Minute, zap.NewNop()), mr
}

func sampleTemplate() schedule.Template {
	return schedule.Template{
		ServiceID:   uuid.New(),
		Name:        "family counsel",
		Unit:        slot.UnitFull,
		MinLeadDays: 1,
		MaxLeadDays: 14,
		Active:      true,
		Intervals: []schedule.OpenInterval{
			{Weekdays: []time.Weekday{time.Tuesday, time.Thursday}, Start: slot.NewTimeOfDay(10, 0), End: slot.NewTimeOfDay(16, 0)},
		},
	}
}

func TestTemplateCacheReadThrough(t *testing.T) {
	tpl := sampleTemplate()
	source := &countingSource{templates: map[uuid.UUID]schedule.Template{tpl.ServiceID: tpl}}
	cache, mr := newCache(t, source)
	ctx := context.Background()

	got, err := cache.GetTemplate(ctx, tpl.ServiceID)
	require.NoError(t, err)
	assert.Equal(t, tpl.Intervals, got.Intervals)
	assert.True(t, mr.Exists(templateKey(tpl.ServiceID)))
	assert.Equal(t, time.Minute, mr.TTL(templateKey(tpl.ServiceID)))

	got, err = cache.GetTemplate(ctx, tpl.ServiceID)
	require.NoError(t, err)
	assert.Equal(t, tpl.Unit, got.Unit)
	assert.Equal(t, tpl.OpenMask(time.Tuesday), got.OpenMask(time.Tuesday))
	assert.Equal(t, 1, source.calls)

	require.NoError(t, cache.Invalidate(ctx, tpl.ServiceID))
	_, err = cache.GetTemplate(ctx, tpl.ServiceID)
	require.NoError(t, err)
	assert.Equal(t, 2, source.calls)
}

func TestTemplateCacheDoesNotCacheMisses(t *testing.T) {
	source := &countingSource{templates: map[uuid.UUID]schedule.Template{}}
	cache, mr := newCache(t, source)
	id := uuid.New()

	_, err := cache.GetTemplate(context.Background(), id)
	assert.ErrorIs(t, err, schedule.ErrTemplateNotFound)
	assert.False(t, mr.Exists(templateKey(id)))
}

func TestTemplateCacheFallsBackWhenRedisIsDown(t *testing.T) {
	tpl := sampleTemplate()
	source := &countingSource{templates: map[uuid.UUID]schedule.Template{tpl.ServiceID: tpl}}
	cache, mr := newCache(t, source)
	mr.Close()

	got, err := cache.GetTemplate(context.Background(), tpl.ServiceID)
	require.NoError(t, err)
	assert.Equal(t, tpl.ServiceID, got.ServiceID)
}

func TestTemplateCacheIgnoresCorruptEntries(t *testing.T) {
	tpl := sampleTemplate()
	source := &countingSource{templates: map[uuid.UUID]schedule.Template{tpl.ServiceID: tpl}}
	cache, mr := newCache(t, source)
	require.NoError(t, mr.Set(templateKey(tpl.ServiceID), "{not json"))

	got, err := cache.GetTemplate(context.Background(), tpl.ServiceID)
	require.NoError(t, err)
	assert.Equal(t, tpl.Name, got.Name)
	assert.Equal(t, 1, source.calls)
}
