package provider

import "context"

// IdentityKind distinguishes individual users from spaces.
type IdentityKind string

const (
	// KindIndividual marks an identity backed by a single user account.
	KindIndividual IdentityKind = "individual"
	// KindSpace marks an identity backed by a space (group) account.
	KindSpace IdentityKind = "space"
)

// Identity is the resolved form of a user or space handle.
type Identity struct {
	ID     string
	Handle string
	Kind   IdentityKind
}

// IsSpace reports whether the identity belongs to a space.
func (i Identity) IsSpace() bool {
	return i.Kind == KindSpace
}

// Space describes a group whose members all receive fan-out pointers.
type Space struct {
	Handle    string
	MemberIDs []string
}

// RelationshipStatus enumerates the states a pairwise relationship can be in.
type RelationshipStatus string

const (
	// RelationshipConfirmed means both parties accepted the connection.
	RelationshipConfirmed RelationshipStatus = "confirmed"
	// RelationshipPending means the connection request awaits acceptance.
	RelationshipPending RelationshipStatus = "pending"
	// RelationshipNone means no relationship exists between the parties.
	RelationshipNone RelationshipStatus = "none"
)

// IdentityLookup resolves handles and ids to identities. Implementations
// return false, not an error, when the identity is unknown.
type IdentityLookup interface {
	Resolve(ctx context.Context, kind IdentityKind, handle string) (Identity, bool, error)
	ByID(ctx context.Context, id string) (Identity, bool, error)
}

// RelationshipLookup exposes confirmed, symmetric connections.
type RelationshipLookup interface {
	ConnectionsOf(ctx context.Context, identityID string) ([]Identity, error)
	RelationshipBetween(ctx context.Context, a, b Identity) (RelationshipStatus, error)
}

// SpaceLookup exposes space membership in both directions.
type SpaceLookup interface {
	SpaceByHandle(ctx context.Context, handle string) (Space, bool, error)
	MemberSpacesOf(ctx context.Context, handle string) ([]Space, error)
}
