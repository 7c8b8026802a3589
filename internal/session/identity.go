// ABOUTME: Identity record for one authentication tier (zSession or an application)
// ABOUTME: Includes the guest placeholder used when gateway auth is disabled

package session

// Identity is the normalized identity produced by a credential validator.
// Empty strings mean the optional field is absent.
type Identity struct {
	Authenticated bool   `json:"authenticated"`
	ID            string `json:"id,omitempty"`
	Username      string `json:"username,omitempty"`
	Role          string `json:"role,omitempty"`
	APIKey        string `json:"-"` // never serialized to clients
}

// GuestID is the identity ID assigned to connections admitted without auth.
const GuestID = "guest"

// Guest returns the placeholder identity for unauthenticated admission.
// Authenticated stays false.
func Guest() Identity {
	return Identity{
		ID:       GuestID,
		Username: "guest",
		Role:     "guest",
	}
}

// IsGuest reports whether the identity is the guest placeholder.
func (i Identity) IsGuest() bool {
	return !i.Authenticated && i.ID == GuestID
}

// DisplayName returns a human-readable name for logs.
func (i Identity) DisplayName() string {
	switch {
	case i.Username != "":
		return i.Username
	case i.ID != "":
		return i.ID
	default:
		return "anonymous"
	}
}
