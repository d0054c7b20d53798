package queue

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/tunebox/internal/app/session/state"
	"github.com/osa030/tunebox/internal/domain/track"
)

func newScheduler(max int) *Scheduler {
	store := state.NewStore(state.Config{
		Limits: state.Limits{MaxQueueSize: max, MaxHistorySize: 10, MaxBackHistory: 10},
	}, nil, nil)
	return NewScheduler(store)
}

func TestScheduler_FIFO(t *testing.T) {
	s := newScheduler(100)

	var want []track.Ref
	for i := 0; i < 20; i++ {
		ref := track.Ref(fmt.Sprintf("r%02d", i))
		pos, err := s.EnqueueSingle("g1", ref)
		require.NoError(t, err)
		assert.Equal(t, i+1, pos)
		want = append(want, ref)
	}

	var got []track.Ref
	for {
		ref, ok := s.PopNext("g1")
		if !ok {
			break
		}
		got = append(got, ref)
	}
	assert.Equal(t, want, got)
}

func TestScheduler_EnqueueSingleCapacity(t *testing.T) {
	s := newScheduler(1)

	_, err := s.EnqueueSingle("g1", "a")
	require.NoError(t, err)
	_, err = s.EnqueueSingle("g1", "b")
	assert.ErrorIs(t, err, state.ErrCapacity)
	assert.Equal(t, 1, s.Len("g1"))
}

func TestScheduler_EnqueueManyStopsAtCapacity(t *testing.T) {
	s := newScheduler(3)
	_, _ = s.EnqueueSingle("g1", "x")

	added := s.EnqueueMany("g1", []track.Ref{"a", "b", "c", "d"})
	assert.Equal(t, 2, added)

	q, total := s.List("g1", 0)
	assert.Equal(t, 3, total)
	assert.Equal(t, []track.Ref{"x", "a", "b"}, q)
}

func TestScheduler_InsertFrontMany(t *testing.T) {
	tests := []struct {
		name     string
		max      int
		existing []track.Ref
		insert   []track.Ref
		want     []track.Ref
		inserted int
	}{
		{
			name:     "keeps order ahead of existing",
			max:      10,
			existing: []track.Ref{"x", "y"},
			insert:   []track.Ref{"a", "b", "c"},
			want:     []track.Ref{"a", "b", "c", "x", "y"},
			inserted: 3,
		},
		{
			name:     "empty queue",
			max:      10,
			insert:   []track.Ref{"a"},
			want:     []track.Ref{"a"},
			inserted: 1,
		},
		{
			name:     "bounded by capacity",
			max:      3,
			existing: []track.Ref{"x"},
			insert:   []track.Ref{"a", "b", "c"},
			want:     []track.Ref{"a", "b", "x"},
			inserted: 2,
		},
		{
			name:     "full queue",
			max:      1,
			existing: []track.Ref{"x"},
			insert:   []track.Ref{"a"},
			want:     []track.Ref{"x"},
			inserted: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newScheduler(tt.max)
			s.EnqueueMany("g1", tt.existing)

			assert.Equal(t, tt.inserted, s.InsertFrontMany("g1", tt.insert))
			q, _ := s.List("g1", 0)
			assert.Equal(t, tt.want, q)
		})
	}
}

func TestScheduler_ClearAndTrim(t *testing.T) {
	s := newScheduler(10)
	s.EnqueueMany("g1", []track.Ref{"a", "b", "c", "d"})

	assert.Equal(t, 0, s.TrimFront("g1", 0))
	assert.Equal(t, 0, s.TrimFront("g1", -2))
	assert.Equal(t, 2, s.TrimFront("g1", 2))
	head, ok := s.Peek("g1")
	require.True(t, ok)
	assert.Equal(t, track.Ref("c"), head)

	assert.Equal(t, 2, s.TrimFront("g1", 10))
	assert.Equal(t, 0, s.Len("g1"))

	s.EnqueueMany("g1", []track.Ref{"a", "b"})
	assert.Equal(t, 2, s.Clear("g1"))
	assert.Equal(t, 0, s.Clear("g1"))
	_, ok = s.PopNext("g1")
	assert.False(t, ok)
}

func TestScheduler_ListPreview(t *testing.T) {
	s := newScheduler(10)
	s.EnqueueMany("g1", []track.Ref{"a", "b", "c"})

	q, total := s.List("g1", 2)
	assert.Equal(t, []track.Ref{"a", "b"}, q)
	assert.Equal(t, 3, total)
}
