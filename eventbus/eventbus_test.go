package eventbus

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEvent(t *testing.T) {
	now := time.Date(2024, 3, 9, 23, 0, 0, 0, time.FixedZone("x", -5*3600))
	evt := NewEvent("formflow-server", TypeJobCreated, now)

	assert.True(t, strings.HasPrefix(evt.EventID, "evt_20240310_"))
	assert.Len(t, evt.EventID, len("evt_20240310_")+16)
	assert.Equal(t, time.UTC, evt.Timestamp.Location())
	assert.True(t, evt.MinimalValidate())

	other := NewEvent("formflow-server", TypeJobCreated, now)
	assert.NotEqual(t, evt.EventID, other.EventID)
}

func TestPublishersRejectInvalidEvents(t *testing.T) {
	ctx := context.Background()
	for name, p := range map[string]Publisher{"nop": Nop{}, "recorder": &Recorder{}} {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, p.Publish(ctx, Event{Type: TypeJobFailed}), ErrInvalidEvent)
			assert.NoError(t, p.Publish(ctx, NewEvent("test", TypeJobFailed, time.Now())))
			assert.NoError(t, p.Close())
		})
	}
}

func TestRecorder(t *testing.T) {
	r := &Recorder{}
	evt := NewEvent("test", TypeQuestionAnswer, time.Now())
	evt.Text = "What is your favorite color?"
	require.NoError(t, r.Publish(context.Background(), evt))

	events := r.Events()
	require.Len(t, events, 1)
	assert.Equal(t, evt, events[0])
}
