package mothership

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDownloadSettingsDecodesValidPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"response":"success","messagingQueue":"projects/typeworld/subscriptions/push","breakingAPIVersions":["2.0.0","3.0.0"]}`))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})
	settings, errMsg := c.DownloadSettings(context.Background(), "anon-app-1")

	require.True(t, errMsg.IsZero())
	assert.Equal(t, "projects/typeworld/subscriptions/push", settings.MessagingQueue)
	assert.Equal(t, []string{"2.0.0", "3.0.0"}, settings.BreakingAPIVersions)
}

func TestDownloadSettingsRejectsPayloadMissingRequiredField(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"response":"success","messagingQueue":"projects/typeworld/subscriptions/push"}`))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})
	_, errMsg := c.DownloadSettings(context.Background(), "anon-app-1")

	assert.False(t, errMsg.IsZero())
}

func TestDownloadUserSubscriptionsNormalizesNullInvitationFields(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"response": "success",
			"heldSubscriptions": [{"unsecretURL": "typeworld://json+https//sub1:secretKey@example.com", "serverTimestamp": 42}],
			"pendingInvitations": [{"id": "inv1", "url": "typeworld://json+https//sub2@example.com", "targetEmail": null, "sourceEmail": "foundry@example.com"}],
			"userAccountEmailIsVerified": true,
			"userAccountStatus": "pro",
			"appInstanceIsRevoked": false
		}`))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})
	result, errMsg := c.DownloadUserSubscriptions(context.Background(), "anon-app-1", "user1")

	require.True(t, errMsg.IsZero())
	require.Len(t, result.HeldSubscriptions, 1)
	assert.Equal(t, int64(42), result.HeldSubscriptions[0].ServerTimestamp)
	require.Len(t, result.PendingInvitations, 1)
	assert.Equal(t, "", result.PendingInvitations[0].TargetEmail)
	assert.Equal(t, "foundry@example.com", result.PendingInvitations[0].SourceEmail)
	assert.True(t, result.UserAccountEmailIsVerified)
}

func TestLinkTypeWorldUserAccountDecodesIdentity(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		w.Write([]byte(`{"response":"success","anonymousUserID":"user1","userName":"Ada","userEmail":"ada@example.com"}`))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})
	result, errMsg := c.LinkTypeWorldUserAccount(context.Background(), "anon-app-1", "top-secret")

	require.True(t, errMsg.IsZero())
	assert.Equal(t, "user1", result.AnonymousUserID)
	assert.Equal(t, "ada@example.com", result.UserEmail)
}
