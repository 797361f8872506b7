package auth

// Principal is the interface for any entity making a request against the
// authorizer (an operator, a service account, or the authorizer itself).
type Principal interface {
	GetID() string
}

// Caller is the minimal Principal: a bare principal identifier.
// Caller identities are opaque strings; the timelock compares them
// byte-for-byte against its admin and pendingAdmin fields.
type Caller string

func (c Caller) GetID() string { return string(c) }
