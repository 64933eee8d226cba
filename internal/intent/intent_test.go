package intent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlot_EmptyByDefault(t *testing.T) {
	t.Parallel()

	_, slot := WithSlot(context.Background())
	_, ok := slot.Load()
	assert.False(t, ok)
}

func TestRecord_StoresIntent(t *testing.T) {
	t.Parallel()

	ctx, slot := WithSlot(context.Background())
	in := Intent{
		ID:      "abc",
		To:      []string{"jane@example.com"},
		Subject: "Weekly report",
		IsHTML:  true,
		CanSend: true,
	}
	require.NoError(t, Record(ctx, in))

	got, ok := slot.Load()
	require.True(t, ok)
	assert.Equal(t, in, got)
}

func TestRecord_WithoutSlot(t *testing.T) {
	t.Parallel()

	err := Record(context.Background(), Intent{Subject: "x"})
	assert.ErrorIs(t, err, ErrNoSlot)
}

func TestRecord_OnlyOncePerRequest(t *testing.T) {
	t.Parallel()

	ctx, slot := WithSlot(context.Background())
	require.NoError(t, Record(ctx, Intent{Subject: "first"}))
	assert.ErrorIs(t, Record(ctx, Intent{Subject: "second"}), ErrAlreadyRecorded)

	got, _ := slot.Load()
	assert.Equal(t, "first", got.Subject)
}

func TestSlotFrom_VisibleToDerivedContexts(t *testing.T) {
	t.Parallel()

	ctx, slot := WithSlot(context.Background())
	child, cancel := context.WithCancel(ctx)
	defer cancel()

	got, ok := SlotFrom(child)
	require.True(t, ok)
	assert.Same(t, slot, got)
}

func TestSlot_NilLoad(t *testing.T) {
	t.Parallel()

	var s *Slot
	_, ok := s.Load()
	assert.False(t, ok)
}
