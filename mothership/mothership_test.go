package mothership

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostSuccess(t *testing.T) {
	var gotForm url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		gotForm = r.Form
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"response":"success","canonicalURL":"typeworld://json+https//sub1@example.com"}`))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, AppID: "com.example.app", ClientVersion: "1.0"})
	env, errMsg := c.Post(context.Background(), "endpointCommand", "anon-app-1", map[string]string{
		"subscriptionSecretKey": "shhh",
	})

	require.True(t, errMsg.IsZero())
	assert.Equal(t, "success", env.Response)
	assert.Equal(t, "anon-app-1", gotForm.Get("sourceAnonymousAppID"))
	assert.Equal(t, "com.example.app", gotForm.Get("appID"))
}

func TestPostErrorCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"response":"seatAllowanceReached"}`))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})
	_, errMsg := c.Post(context.Background(), "installFonts", "anon-app-1", nil)

	assert.False(t, errMsg.IsZero())
	assert.Equal(t, "seatAllowanceReached", errMsg.Code())
}

func TestRedactHidesKeysAndSecrets(t *testing.T) {
	out := redact(map[string]string{
		"subscriptionSecretKey": "shhh",
		"accessSecret":          "shhh2",
		"anonymousAppID":        "abc",
	})

	assert.Equal(t, "*****", out["subscriptionSecretKey"])
	assert.Equal(t, "*****", out["accessSecret"])
	assert.Equal(t, "abc", out["anonymousAppID"])
}

func TestWithTestScenarioIsSentAsParameter(t *testing.T) {
	var gotScenario string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		gotScenario = r.Form.Get("testScenario")
		w.Write([]byte(`{"response":"success"}`))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL}).WithTestScenario("simulateBreakingAPIVersion")
	_, errMsg := c.Post(context.Background(), "endpointCommand", "anon-app-1", nil)

	require.True(t, errMsg.IsZero())
	assert.Equal(t, "simulateBreakingAPIVersion", gotScenario)
}
