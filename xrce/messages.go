package xrce

// TokenProperty is the admission property carrying an optional bearer token
// when the agent is configured with an authenticator.
const TokenProperty = "auth.token"

// CreateClientRequest is the admission payload of a new client session.
type CreateClientRequest struct {
	RequestID    RequestID
	ClientKey    ClientKey
	RootObjectID ObjectID
	Cookie       Cookie
	Version      Version
	// Properties carries optional key/value admission metadata such as
	// TokenProperty.
	Properties map[string]string
	// Origin is the transport address the request arrived from. It is
	// informational and never used for routing.
	Origin string
}

// DeleteClientRequest tears down the session named by ClientKey. ObjectID is
// conventionally the session's root object id; its value does not affect the
// outcome.
type DeleteClientRequest struct {
	RequestID RequestID
	ClientKey ClientKey
	ObjectID  ObjectID
}

// CreateObjectRequest creates an entity at ObjectID inside a session.
type CreateObjectRequest struct {
	RequestID RequestID
	ObjectID  ObjectID
	Object    ObjectVariant
}

// DeleteObjectRequest deletes the entity at ObjectID inside a session.
type DeleteObjectRequest struct {
	RequestID RequestID
	ObjectID  ObjectID
}
