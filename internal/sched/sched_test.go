package sched

import (
	"testing"

	"github.com/streetsim/streetsim_core/internal/models"
	"github.com/stretchr/testify/assert"
)

func TestSchedulerOrdering(t *testing.T) {
	t.Run("Pops in time order", func(t *testing.T) {
		s := New()
		_, err := s.Schedule(models.FromSeconds(30), "c")
		assert.NoError(t, err)
		_, err = s.Schedule(models.FromSeconds(10), "a")
		assert.NoError(t, err)
		_, err = s.Schedule(models.FromSeconds(20), "b")
		assert.NoError(t, err)

		var got []string
		for {
			ev, err := s.Pop()
			if err != nil {
				break
			}
			got = append(got, ev.Payload.(string))
		}
		assert.Equal(t, []string{"a", "b", "c"}, got)
	})

	t.Run("Same time breaks ties by insertion order", func(t *testing.T) {
		s := New()
		at := models.FromSeconds(5)
		for _, p := range []string{"first", "second", "third"} {
			_, err := s.Schedule(at, p)
			assert.NoError(t, err)
		}

		var got []string
		for {
			ev, err := s.Pop()
			if err != nil {
				break
			}
			got = append(got, ev.Payload.(string))
		}
		assert.Equal(t, []string{"first", "second", "third"}, got)
	})

	t.Run("Pop advances the clock", func(t *testing.T) {
		s := New()
		_, err := s.Schedule(models.FromSeconds(42), "x")
		assert.NoError(t, err)

		assert.Equal(t, models.SimTime(0), s.Now())
		ev, err := s.Pop()
		assert.NoError(t, err)
		assert.Equal(t, models.FromSeconds(42), ev.Time)
		assert.Equal(t, models.FromSeconds(42), s.Now())
	})
}

func TestSchedulerCancel(t *testing.T) {
	t.Run("Canceled events are skipped", func(t *testing.T) {
		s := New()
		ev1, _ := s.Schedule(models.FromSeconds(1), "doomed")
		_, err := s.Schedule(models.FromSeconds(2), "kept")
		assert.NoError(t, err)

		ev1.Cancel()
		assert.True(t, ev1.Canceled())
		assert.Equal(t, 1, s.Len())

		got, err := s.Pop()
		assert.NoError(t, err)
		assert.Equal(t, "kept", got.Payload)
	})

	t.Run("Double cancel is safe", func(t *testing.T) {
		s := New()
		ev, _ := s.Schedule(models.FromSeconds(1), "x")
		ev.Cancel()
		ev.Cancel()
		assert.Equal(t, 0, s.Len())
	})

	t.Run("Empty scheduler reports ErrEmpty", func(t *testing.T) {
		s := New()
		_, err := s.Pop()
		assert.ErrorIs(t, err, ErrEmpty)
	})
}

func TestSchedulerPastEvent(t *testing.T) {
	s := New()
	_, err := s.Schedule(models.FromSeconds(10), "x")
	assert.NoError(t, err)
	_, err = s.Pop()
	assert.NoError(t, err)

	_, err = s.Schedule(models.FromSeconds(5), "late")
	var past *PastEventError
	assert.ErrorAs(t, err, &past)
	assert.Equal(t, models.FromSeconds(5), past.At)
	assert.Equal(t, models.FromSeconds(10), past.Now)

	// Scheduling exactly at now is allowed.
	_, err = s.Schedule(models.FromSeconds(10), "retry")
	assert.NoError(t, err)
}

func TestSchedulerRestore(t *testing.T) {
	s := New()
	_, err := s.Schedule(models.FromSeconds(10), "a")
	assert.NoError(t, err)
	ev, _ := s.Schedule(models.FromSeconds(20), "canceled")
	_, err = s.Schedule(models.FromSeconds(30), "b")
	assert.NoError(t, err)
	ev.Cancel()

	pending := s.Pending()
	assert.Len(t, pending, 2)

	events := make([]Restorable, 0, len(pending))
	for _, p := range pending {
		events = append(events, Restorable{Time: p.Time, Seq: p.Seq(), Payload: p.Payload})
	}

	restored := New()
	restored.Restore(s.Now(), s.NextSeq(), events)
	assert.Equal(t, 2, restored.Len())
	assert.Equal(t, s.NextSeq(), restored.NextSeq())

	first, err := restored.Pop()
	assert.NoError(t, err)
	assert.Equal(t, "a", first.Payload)
	second, err := restored.Pop()
	assert.NoError(t, err)
	assert.Equal(t, "b", second.Payload)
}
