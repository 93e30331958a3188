package models

// Identity is the authenticated owner as reported by the host application.
// An empty ID means there is no authenticated owner.
type Identity struct {
	ID      string `json:"id"`
	Loading bool   `json:"loading"`
}

// NoIdentity is the null identity.
var NoIdentity = Identity{}

// NewIdentity returns a settled identity for id.
func NewIdentity(id string) Identity {
	return Identity{ID: id}
}

// Present reports whether an owner is authenticated.
func (i Identity) Present() bool {
	return i.ID != ""
}

// SameOwner reports whether both identities name the same owner.
func (i Identity) SameOwner(other Identity) bool {
	return i.ID == other.ID
}

func (i Identity) String() string {
	if !i.Present() {
		return "<none>"
	}
	return i.ID
}
