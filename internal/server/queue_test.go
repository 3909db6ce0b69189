package server

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQueue(t *testing.T, maxDepth int) (*Queue, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "queue")
	q, err := NewQueue(path, maxDepth)
	require.NoError(t, err)
	t.Cleanup(func() { q.Close() })
	return q, path
}

func TestQueueFIFO(t *testing.T) {
	q, _ := newTestQueue(t, 0)

	require.NoError(t, q.Push(Task{CommitID: "c1", Kind: TaskWarmCache}))
	require.NoError(t, q.Push(Task{CommitID: "c2", Kind: TaskWarmCache}))
	require.NoError(t, q.Push(Task{CommitID: "c3", Kind: TaskUnlock}))
	assert.Equal(t, 3, q.Depth())

	key, task, ok, err := q.Pop()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "c1", task.CommitID)

	// Pop without Ack returns the same task again: nothing is lost if
	// the worker crashes mid-handle.
	_, again, ok, err := q.Pop()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "c1", again.CommitID)

	require.NoError(t, q.Ack(key))
	assert.Equal(t, 2, q.Depth())

	_, task, ok, err = q.Pop()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "c2", task.CommitID)
}

func TestQueueBackpressure(t *testing.T) {
	q, _ := newTestQueue(t, 2)

	require.NoError(t, q.Push(Task{CommitID: "c1"}))
	require.NoError(t, q.Push(Task{CommitID: "c2"}))

	err := q.Push(Task{CommitID: "c3"})
	require.Error(t, err)
	var full *ErrQueueFull
	assert.ErrorAs(t, err, &full)

	key, _, ok, err := q.Pop()
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, q.Ack(key))
	assert.NoError(t, q.Push(Task{CommitID: "c3"}))
}

func TestQueueSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue")
	q, err := NewQueue(path, 0)
	require.NoError(t, err)
	require.NoError(t, q.Push(Task{CommitID: "c1"}))
	require.NoError(t, q.Push(Task{CommitID: "c2"}))
	require.NoError(t, q.Close())

	q2, err := NewQueue(path, 0)
	require.NoError(t, err)
	defer q2.Close()
	assert.Equal(t, 2, q2.Depth())

	// New pushes after a restart must keep sorting after the survivors.
	require.NoError(t, q2.Push(Task{CommitID: "c3"}))
	var order []string
	for {
		key, task, ok, err := q2.Pop()
		require.NoError(t, err)
		if !ok {
			break
		}
		order = append(order, task.CommitID)
		require.NoError(t, q2.Ack(key))
	}
	assert.Equal(t, []string{"c1", "c2", "c3"}, order)
}

func TestPopEmptyQueue(t *testing.T) {
	q, _ := newTestQueue(t, 0)
	_, _, ok, err := q.Pop()
	require.NoError(t, err)
	assert.False(t, ok)
}
