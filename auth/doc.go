// Package auth provides the admission-token primitives used when a client
// session is created. A client presents a JWT in the "auth.token" property of
// its CREATE_CLIENT request; the agent hands that string to an Authenticator
// and admits the session only when it yields a UserInfo.
//
// Only admission is authenticated. Once admitted, a session is addressed by
// its client key alone and later requests carry no token; transports should
// be reachable only from networks trusted to present valid keys.
//
// The public surface stays small: an Authenticator validates a token string
// and returns a UserInfo (or an error). Callers compare errors against the
// ErrUnauthorized and ErrInsufficientScope sentinels with errors.Is.
//
// # Token Authentication
//
// NewFromDiscovery constructs an Authenticator that uses OpenID Connect
// discovery to obtain the issuer's JWKS. NewStatic skips discovery and reads
// keys straight from a configured JWKS URL. Both accept the same functional
// options (required scopes, accepted token types, leeway, allowed
// algorithms, extra audiences).
//
// Example:
//
//	authn, err := auth.NewFromDiscovery(ctx, "https://issuer.example", "xrce://agent.example",
//	    auth.WithRequiredScopes("xrce:admit"),
//	)
//	if err != nil { log.Fatal(err) }
//
//	ui, err := authn.CheckAuthentication(ctx, token)
//	if errors.Is(err, auth.ErrUnauthorized) { /* reject admission */ }
//
// # Scopes
//
// WithRequiredScopes enforces that all provided scopes are present in the
// token's space-delimited scope claim; WithAnyRequiredScope relaxes this so
// at least one matches. Subsequent calls overwrite the scope mode.
//
// # Algorithms & Clock Skew
//
// Only RS256 is accepted unless WithAllowedAlgs says otherwise. "none" is
// always rejected. WithLeeway adjusts the tolerance applied to exp, nbf and
// iat (default 60s).
package auth
