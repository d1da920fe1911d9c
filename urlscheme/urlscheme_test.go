package urlscheme

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFullCredentials(t *testing.T) {
	u, err := Parse("typeworld://json+https//sub1:secret1:token1@example.com/api", nil)
	require.NoError(t, err)
	assert.Equal(t, "json", u.Protocol)
	assert.Equal(t, "https://", u.Transport)
	assert.Equal(t, "sub1", u.SubscriptionID)
	assert.Equal(t, "secret1", u.SecretKey)
	assert.Equal(t, "token1", u.AccessToken)
	assert.Equal(t, "example.com/api", u.RestDomain)
}

func TestParseSubscriptionAndSecretOnly(t *testing.T) {
	u, err := Parse("typeworld://json+http//sub1:secret1@example.com", nil)
	require.NoError(t, err)
	assert.Equal(t, "sub1", u.SubscriptionID)
	assert.Equal(t, "secret1", u.SecretKey)
	assert.Equal(t, "", u.AccessToken)
}

func TestParseSubscriptionOnly(t *testing.T) {
	u, err := Parse("typeworld://json+https//sub1@example.com", nil)
	require.NoError(t, err)
	assert.Equal(t, "sub1", u.SubscriptionID)
	assert.Equal(t, "", u.SecretKey)
}

func TestParseNoCredentials(t *testing.T) {
	u, err := Parse("typeworld://json+https//example.com", nil)
	require.NoError(t, err)
	assert.Equal(t, "", u.SubscriptionID)
	assert.Equal(t, "example.com", u.RestDomain)
}

func TestParseRejectsUnknownProtocol(t *testing.T) {
	known := map[string]struct{}{"json": {}}
	_, err := Parse("typeworld://xml+https//example.com", known)
	assert.Error(t, err)

	_, err = Parse("typeworld://json+https//example.com", known)
	assert.NoError(t, err)
}

func TestParseRejectsMissingScheme(t *testing.T) {
	_, err := Parse("json+https//example.com", nil)
	assert.Error(t, err)
}

func TestParseRejectsMultipleAtSigns(t *testing.T) {
	_, err := Parse("typeworld://json+https//sub@secret@example.com", nil)
	assert.Error(t, err)
}

func TestParseRejectsMultipleSchemeSeparators(t *testing.T) {
	_, err := Parse("typeworld://json+https://sub@example.com", nil)
	assert.Error(t, err)
}

func TestParseRejectsMissingPlusSeparator(t *testing.T) {
	_, err := Parse("typeworld://jsonhttps//example.com", nil)
	assert.Error(t, err)
}

func TestParseRejectsUnknownTransport(t *testing.T) {
	_, err := Parse("typeworld://json+ftp//example.com", nil)
	assert.Error(t, err)
}

func TestURLRenderRoundTrip(t *testing.T) {
	u, err := Parse("typeworld://json+https//sub1:secret1@example.com/api", nil)
	require.NoError(t, err)

	assert.Equal(t, "typeworld://json+https//sub1:secret1@example.com/api", u.SecretURL())
	assert.Equal(t, "typeworld://json+https//sub1:secretKey@example.com/api", u.UnsecretURL())
	assert.Equal(t, "typeworld://json+https//sub1@example.com/api", u.ShortUnsecretURL())
	assert.Equal(t, "https://example.com/api", u.HTTPURL())
}

func TestIdentityStability(t *testing.T) {
	// unsecretURL(secretURL(u)) == unsecretURL(u), the invariant from §8.
	u, err := Parse("typeworld://json+https//sub1:secret1@example.com/api", nil)
	require.NoError(t, err)

	reparsed, err := Parse(u.SecretURL(), nil)
	require.NoError(t, err)

	assert.Equal(t, u.UnsecretURL(), reparsed.UnsecretURL())
}

func TestURLRenderNoCredentials(t *testing.T) {
	u, err := Parse("typeworld://json+https//example.com", nil)
	require.NoError(t, err)

	assert.Equal(t, "typeworld://json+https//example.com", u.SecretURL())
	assert.Equal(t, "typeworld://json+https//example.com", u.UnsecretURL())
	assert.Equal(t, "typeworld://json+https//example.com", u.ShortUnsecretURL())
}
