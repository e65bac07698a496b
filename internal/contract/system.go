package contract

import "context"

// System defines the public contract for extraction contract operations.
type System interface {
	Handler() *Handler

	// List returns all contract versions, newest first.
	List(ctx context.Context) ([]Contract, error)

	// Active returns the single active contract, compiled.
	Active(ctx context.Context) (*Compiled, error)

	// Find returns a specific contract version, compiled.
	Find(ctx context.Context, ref Ref) (*Compiled, error)

	// Create registers a new version of the named contract. The schema
	// must compile; the new version is not active until activated.
	Create(ctx context.Context, cmd CreateCommand) (*Contract, error)

	// Activate makes the referenced version the active contract and
	// deactivates all others.
	Activate(ctx context.Context, ref Ref) (*Contract, error)
}
