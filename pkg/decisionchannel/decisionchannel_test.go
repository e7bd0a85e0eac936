package decisionchannel_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/conductorhq/conductor/internal/decision"
	"github.com/conductorhq/conductor/internal/mutex"
	"github.com/conductorhq/conductor/pkg/decisionchannel"
)

func TestNullBlocksUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	require.NoError(t, decisionchannel.Null{}.Run(ctx))
	assert.Less(t, time.Since(start), time.Second)
}

func newQueue(t *testing.T) *decision.Queue {
	t.Helper()
	dir := t.TempDir()
	m, err := mutex.New(filepath.Join(dir, "locks"), zap.NewNop())
	require.NoError(t, err)
	return decision.New(filepath.Join(dir, "decisions"), m, 10*time.Millisecond, zap.NewNop())
}

func TestFileChannelConsumesDroppedAnswerAndDeletesIt(t *testing.T) {
	q := newQueue(t)
	id, err := q.Create(context.Background(), "which auth?", []string{"JWT", "Sessions"}, nil, time.Hour, nil)
	require.NoError(t, err)

	dropDir := t.TempDir()
	ch := decisionchannel.NewFile(dropDir, q, zap.NewNop())

	raw, err := json.Marshal(map[string]string{
		"decision_id": id,
		"answer":      "JWT",
		"answerer":    "alice",
	})
	require.NoError(t, err)
	dropPath := filepath.Join(dropDir, "answer-1.json")
	require.NoError(t, os.WriteFile(dropPath, raw, 0o644))

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	require.NoError(t, ch.Run(ctx))

	rec, err := q.Pending()
	require.NoError(t, err)
	assert.Empty(t, rec)

	_, err = os.Stat(dropPath)
	assert.True(t, os.IsNotExist(err))
}

func TestFileChannelIgnoresMalformedDrop(t *testing.T) {
	q := newQueue(t)
	dropDir := t.TempDir()
	ch := decisionchannel.NewFile(dropDir, q, zap.NewNop())

	require.NoError(t, os.WriteFile(filepath.Join(dropDir, "bad.json"), []byte("{not json"), 0o644))

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	require.NoError(t, ch.Run(ctx))
}
