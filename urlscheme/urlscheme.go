// Package urlscheme parses and renders the client's custom subscription URL
// scheme:
//
//	typeworld://<protocol>+<http|https>//[<sub>[:<secret>[:<token>]]@]<rest>
//
// The double slash after the transport token is part of the scheme; it gets
// folded back into "://" before the rest of the URL is parsed (§6).
package urlscheme

import (
	"fmt"
	"strings"
)

const customScheme = "typeworld://"

// URL is a parsed subscription URL. The unsecret form is the identity used
// everywhere subscriptions are stored (§4.1).
type URL struct {
	Protocol       string // inner protocol token, e.g. "json"
	Transport      string // "http://" or "https://"
	SubscriptionID string
	SecretKey      string
	AccessToken    string
	RestDomain     string // host + path, no scheme
}

// Parse validates and decomposes a subscription URL. knownProtocols, if
// non-nil, rejects any inner protocol token not present in the set
// (requirement (d)); pass nil to skip that check (e.g. when the caller
// will resolve the protocol itself and surface its own error).
func Parse(raw string, knownProtocols map[string]struct{}) (URL, error) {
	// (a) ordering: "typeworld://" < "+" < "http" < the "//" following it.
	schemeIdx := strings.Index(raw, customScheme)
	plusIdx := strings.Index(raw, "+")
	httpIdx := strings.Index(raw, "http")
	var slashIdx int = -1
	if httpIdx != -1 {
		if rel := strings.Index(raw[httpIdx:], "//"); rel != -1 {
			slashIdx = httpIdx + rel
		}
	}
	if !(schemeIdx == 0 && schemeIdx < plusIdx && plusIdx != -1 && plusIdx < httpIdx && httpIdx != -1 && httpIdx < slashIdx) {
		return URL{}, fmt.Errorf("URL is malformed")
	}

	// (b) at most one '@'.
	if strings.Count(raw, "@") > 1 {
		return URL{}, fmt.Errorf("URL contains more than one @ sign, so don't know how to parse it")
	}

	// (c) at most one "://" in the raw string (the scheme's own).
	if strings.Count(raw, "://") > 1 {
		return URL{}, fmt.Errorf("URL contains more than one :// combination, so don't know how to parse it")
	}

	rest := strings.TrimPrefix(raw, customScheme)
	protocol := rest[:strings.Index(rest, "+")]
	if protocol == "" {
		return URL{}, fmt.Errorf("URL is malformed: empty protocol token")
	}
	if knownProtocols != nil {
		if _, ok := knownProtocols[protocol]; !ok {
			return URL{}, fmt.Errorf("unknown custom protocol %q", protocol)
		}
	}
	rest = rest[strings.Index(rest, "+")+1:]

	// Fold the scheme's doubled slash back into a normal "://".
	var transport string
	var tail string
	switch {
	case strings.HasPrefix(rest, "https//"), strings.HasPrefix(rest, "HTTPS//"):
		transport = "https://"
		tail = rest[len("https//"):]
	case strings.HasPrefix(rest, "http//"), strings.HasPrefix(rest, "HTTP//"):
		transport = "http://"
		tail = rest[len("http//"):]
	default:
		return URL{}, fmt.Errorf("URL is malformed: unknown transport")
	}

	var subscriptionID, secretKey, accessToken, domain string
	if strings.Contains(tail, "@") {
		parts := strings.SplitN(tail, "@", 2)
		credentials, dom := parts[0], parts[1]
		domain = dom

		credParts := strings.Split(credentials, ":")
		switch len(credParts) {
		case 3:
			subscriptionID, secretKey, accessToken = credParts[0], credParts[1], credParts[2]
		case 2:
			subscriptionID, secretKey = credParts[0], credParts[1]
		case 1:
			subscriptionID = credParts[0]
		default:
			return URL{}, fmt.Errorf("URL is malformed: too many credential parts")
		}
	} else {
		domain = tail
	}

	return URL{
		Protocol:       protocol,
		Transport:      transport,
		SubscriptionID: subscriptionID,
		SecretKey:      secretKey,
		AccessToken:    accessToken,
		RestDomain:     domain,
	}, nil
}

func (u URL) transportSlashes() string {
	return strings.Replace(u.Transport, "://", "//", 1)
}

// SecretURL renders the full form including the secret key, suitable for
// handing to a Protocol for authenticated requests.
func (u URL) SecretURL() string {
	switch {
	case u.SubscriptionID != "" && u.SecretKey != "":
		return fmt.Sprintf("%s%s+%s%s:%s@%s", customScheme, u.Protocol, u.transportSlashes(), u.SubscriptionID, u.SecretKey, u.RestDomain)
	case u.SubscriptionID != "":
		return fmt.Sprintf("%s%s+%s%s@%s", customScheme, u.Protocol, u.transportSlashes(), u.SubscriptionID, u.RestDomain)
	default:
		return fmt.Sprintf("%s%s+%s%s", customScheme, u.Protocol, u.transportSlashes(), u.RestDomain)
	}
}

// UnsecretURL renders the form with the secret key replaced by the literal
// "secretKey". This is the identity key under which every Subscription is
// stored (§3, §4.1, §8 "Identity stability").
func (u URL) UnsecretURL() string {
	switch {
	case u.SubscriptionID != "" && u.SecretKey != "":
		return fmt.Sprintf("%s%s+%s%s:secretKey@%s", customScheme, u.Protocol, u.transportSlashes(), u.SubscriptionID, u.RestDomain)
	case u.SubscriptionID != "":
		return fmt.Sprintf("%s%s+%s%s@%s", customScheme, u.Protocol, u.transportSlashes(), u.SubscriptionID, u.RestDomain)
	default:
		return fmt.Sprintf("%s%s+%s%s", customScheme, u.Protocol, u.transportSlashes(), u.RestDomain)
	}
}

// ShortUnsecretURL renders the form with the secret omitted entirely (used
// as the push-topic name, §6).
func (u URL) ShortUnsecretURL() string {
	if u.SubscriptionID != "" {
		return fmt.Sprintf("%s%s+%s%s@%s", customScheme, u.Protocol, u.transportSlashes(), u.SubscriptionID, u.RestDomain)
	}
	return fmt.Sprintf("%s%s+%s%s", customScheme, u.Protocol, u.transportSlashes(), u.RestDomain)
}

// HTTPURL renders the bare HTTP(S) endpoint with no custom scheme wrapping.
func (u URL) HTTPURL() string {
	return u.Transport + u.RestDomain
}
