package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/typeworld/client/model"
	"github.com/typeworld/client/preferences"
)

func TestAppendIsIdempotent(t *testing.T) {
	q := New(preferences.NewMemory())

	require.NoError(t, q.Append("uploadSubscriptions", "url1", "url2"))
	require.NoError(t, q.Append("uploadSubscriptions", "url2", "url3"))

	pending, err := q.Pending("uploadSubscriptions")
	require.NoError(t, err)
	assert.Equal(t, []string{"url1", "url2", "url3"}, pending)
}

func TestDrainRunsInFixedOrderAndClearsOnSuccess(t *testing.T) {
	q := New(preferences.NewMemory())
	require.NoError(t, q.Append("downloadSubscriptions", "pending"))
	require.NoError(t, q.Append("uploadSubscriptions", "url1"))

	var calledOrder []string
	handlers := map[string]Handler{
		"uploadSubscriptions": func(payloads []string) model.ErrorMessage {
			calledOrder = append(calledOrder, "uploadSubscriptions")
			return model.ErrorMessage{}
		},
		"downloadSubscriptions": func(payloads []string) model.ErrorMessage {
			calledOrder = append(calledOrder, "downloadSubscriptions")
			return model.ErrorMessage{}
		},
	}

	first, problems := q.Drain(handlers)
	assert.True(t, first.IsZero())
	assert.Empty(t, problems)
	assert.Equal(t, []string{"uploadSubscriptions", "downloadSubscriptions"}, calledOrder)

	pending, err := q.Pending("uploadSubscriptions")
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestDrainRetainsFailedCommands(t *testing.T) {
	q := New(preferences.NewMemory())
	require.NoError(t, q.Append("linkUser", "user1"))

	handlers := map[string]Handler{
		"linkUser": func(payloads []string) model.ErrorMessage {
			return model.CodeError(model.CodeServerNotReachable)
		},
	}

	first, problems := q.Drain(handlers)
	assert.False(t, first.IsZero())
	assert.Len(t, problems, 1)

	pending, err := q.Pending("linkUser")
	require.NoError(t, err)
	assert.Equal(t, []string{"user1"}, pending)
}

func TestDrainSkipsCommandsWithoutHandler(t *testing.T) {
	q := New(preferences.NewMemory())
	require.NoError(t, q.Append("acceptInvitation", "inv1"))

	first, problems := q.Drain(map[string]Handler{})
	assert.True(t, first.IsZero())
	assert.Empty(t, problems)

	pending, err := q.Pending("acceptInvitation")
	require.NoError(t, err)
	assert.Equal(t, []string{"inv1"}, pending)
}
