package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ImpactScanner/internal/domain"
)

type memorySnapshots struct {
	written []domain.Snapshot
	err     error
}

func (m *memorySnapshots) WriteSnapshot(_ context.Context, snapshot domain.Snapshot) error {
	if m.err != nil {
		return m.err
	}
	m.written = append(m.written, snapshot)
	return nil
}

func TestCollectorWritesSnapshot(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, time.January, 10, 6, 0, 0, 0, time.UTC)
	writer := &memorySnapshots{}
	collector := NewCollector(&stubSource{items: newsItems(3)}, writer, nil, func() time.Time { return at })

	snapshot, err := collector.Collect(context.Background())
	require.NoError(t, err)
	assert.Len(t, snapshot.Items, 3)
	assert.Equal(t, at, snapshot.CollectedAt)
	require.Len(t, writer.written, 1)
}

func TestCollectorEmptySourceWritesEmptyList(t *testing.T) {
	t.Parallel()

	writer := &memorySnapshots{}
	snapshot, err := NewCollector(&stubSource{}, writer, nil, nil).Collect(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, snapshot.Items)
	assert.Empty(t, snapshot.Items)
}

func TestCollectorFailures(t *testing.T) {
	t.Parallel()

	writer := &memorySnapshots{}
	_, err := NewCollector(&stubSource{err: errors.New("all feeds down")}, writer, nil, nil).Collect(context.Background())
	require.Error(t, err)
	assert.Empty(t, writer.written, "a failed fetch must not overwrite the snapshot")

	_, err = NewCollector(&stubSource{items: newsItems(1)}, &memorySnapshots{err: errors.New("disk full")}, nil, nil).Collect(context.Background())
	assert.ErrorContains(t, err, "disk full")
}
