package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garagehq/advisor/pkg/models"
)

func TestStore_PutAndGet(t *testing.T) {
	s := New()
	res := &models.EstimateResult{RunID: "run-1", ChatID: "chat-1"}

	s.Put("chat-1", res)

	got := s.Get("chat-1")
	require.NotNil(t, got)
	assert.Equal(t, "run-1", got.RunID)
}

func TestStore_Miss(t *testing.T) {
	s := New()
	assert.Nil(t, s.Get("nope"))
}

func TestStore_PutOverwrites(t *testing.T) {
	s := New()
	s.Put("chat-1", &models.EstimateResult{RunID: "run-1"})
	s.Put("chat-1", &models.EstimateResult{RunID: "run-2"})

	assert.Equal(t, "run-2", s.Get("chat-1").RunID)
	assert.Equal(t, 1, s.Len())
}

func TestStore_Delete(t *testing.T) {
	s := New()
	s.Put("chat-1", &models.EstimateResult{RunID: "run-1"})
	s.Delete("chat-1")

	assert.Nil(t, s.Get("chat-1"))
	assert.Equal(t, 0, s.Len())
}

func TestStore_PruneOlderThan(t *testing.T) {
	s := New()
	s.Put("old", &models.EstimateResult{RunID: "run-1"})
	time.Sleep(30 * time.Millisecond)
	s.Put("fresh", &models.EstimateResult{RunID: "run-2"})

	n := s.PruneOlderThan(20 * time.Millisecond)

	assert.Equal(t, 1, n)
	assert.Nil(t, s.Get("old"))
	assert.NotNil(t, s.Get("fresh"))
}
