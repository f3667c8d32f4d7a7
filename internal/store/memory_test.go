package store

import (
	"context"
	"testing"
	"time"

	"github.com/ashureev/shsh-tutor/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreCheckpoints(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	got, err := s.LoadCheckpoint(ctx, "s1", "")
	require.NoError(t, err)
	assert.Nil(t, got)

	want := sampleState("s1")
	id, err := s.SaveCheckpoint(ctx, "s1", want, "")
	require.NoError(t, err)

	got, err = s.LoadCheckpoint(ctx, "s1", id)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, want, *got)

	next := sampleState("s1")
	next.Subject = "chemistry"
	_, err = s.SaveCheckpoint(ctx, "s1", next, "")
	require.NoError(t, err)

	latest, err := s.LoadCheckpoint(ctx, "s1", "")
	require.NoError(t, err)
	assert.Equal(t, "chemistry", latest.Subject)

	infos, err := s.ListCheckpoints(ctx, "s1", 1)
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.NotEqual(t, id, infos[0].CheckpointID)
}

func TestMemoryStoreMessages(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, s.SaveMessage(ctx, "s1", domain.Message{ID: "b", Role: domain.RoleAssistant, Content: "later", Timestamp: base.Add(time.Minute)}))
	require.NoError(t, s.SaveMessage(ctx, "s1", domain.Message{ID: "a", Role: domain.RoleUser, Content: "earlier", Timestamp: base}))
	require.NoError(t, s.SaveMessage(ctx, "s1", domain.Message{ID: "a", Role: domain.RoleUser, Content: "earlier, edited", Timestamp: base.Add(time.Hour)}))

	msgs, err := s.GetMessages(ctx, "s1", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "a", msgs[0].ID)
	assert.Equal(t, "earlier, edited", msgs[0].Content)
	assert.Equal(t, "b", msgs[1].ID)
}

func TestMemoryStoreDefaultSchema(t *testing.T) {
	s := NewMemory()
	schema := s.GetDefaultSchema(context.Background())
	assert.Equal(t, "Erica", schema["name"])

	schema["name"] = "changed"
	assert.Equal(t, "Erica", s.GetDefaultSchema(context.Background())["name"])
}
