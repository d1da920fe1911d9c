package main

import (
	"context"
	"testing"

	"github.com/typeworld/client/cache"
	"github.com/typeworld/client/client"
	"github.com/typeworld/client/keyring"
	"github.com/typeworld/client/mothership"
	"github.com/typeworld/client/preferences"
	"github.com/typeworld/client/protocol"
)

func TestParseCommercialApps(t *testing.T) {
	testCases := []struct {
		raw  string
		want []string
	}{
		{raw: "", want: nil},
		{raw: "com.foo.app", want: []string{"com.foo.app"}},
		{raw: "com.foo.app,com.bar.app", want: []string{"com.foo.app", "com.bar.app"}},
	}

	for _, tc := range testCases {
		got := parseCommercialApps(tc.raw)
		if len(got) != len(tc.want) {
			t.Fatalf("parseCommercialApps(%q) = %v, want %v", tc.raw, got, tc.want)
		}
		for i := range got {
			if got[i] != tc.want[i] {
				t.Fatalf("parseCommercialApps(%q)[%d] = %q, want %q", tc.raw, i, got[i], tc.want[i])
			}
		}
	}
}

func newTestClient(t *testing.T) *client.Client {
	t.Helper()
	c, err := client.New(client.Config{
		Preferences:   preferences.NewMemory(),
		Keyring:       keyring.NewMemory(),
		Protocols:     protocol.NewRegistry(),
		Cache:         cache.New(nil),
		Mothership:    mothership.New(mothership.Config{BaseURL: "https://example.invalid", AppID: "test", ClientVersion: clientVersion}),
		AppID:         "test",
		ClientVersion: clientVersion,
	})
	if err != nil {
		t.Fatalf("client.New: %v", err)
	}
	return c
}

func TestFindSubscriptionEmptyClient(t *testing.T) {
	c := newTestClient(t)
	_, ok := findSubscription(c, "https://example.invalid/api/does-not-exist/")
	if ok {
		t.Fatal("expected no subscription in a freshly constructed client")
	}
}

func TestRunListOnEmptyClient(t *testing.T) {
	// runList must not panic on a client with no publishers.
	c := newTestClient(t)
	runList(c)
}

func TestClientOnlineProbeFailsAgainstUnreachableHost(t *testing.T) {
	c := newTestClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2)
	defer cancel()
	if c.Online(ctx) {
		t.Fatal("expected an unreachable mothership host to report offline")
	}
}
