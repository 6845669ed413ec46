package domain

import "context"

// DisputeRepository is the abstraction for any kind of database intended to
// persist the SwapAndDispute records held by dispute agents.
type DisputeRepository interface {
	// StoreSwapAndDispute inserts or replaces the given record.
	StoreSwapAndDispute(ctx context.Context, sad *SwapAndDispute) error
	// GetSwapAndDispute returns the record with the given identity, or
	// ErrDisputeNotFound.
	GetSwapAndDispute(ctx context.Context, id, chainID string) (*SwapAndDispute, error)
	// UpdateSwapAndDisputeState updates the persisted agent-side dispute
	// state.
	UpdateSwapAndDisputeState(ctx context.Context, id, chainID, state string) error
	// UpdateSwapAndDisputeAgent0InterfaceID updates the persisted interface
	// ID announced by the first dispute agent.
	UpdateSwapAndDisputeAgent0InterfaceID(ctx context.Context, id, chainID, interfaceID string) error
	// UpdateMakerCommunicationKey updates the persisted maker communication
	// key, Base64 encoded.
	UpdateMakerCommunicationKey(ctx context.Context, id, chainID, key string) error
	// UpdateTakerCommunicationKey updates the persisted taker communication
	// key, Base64 encoded.
	UpdateTakerCommunicationKey(ctx context.Context, id, chainID, key string) error
	// UpdateAgentCommunicationKey updates the persisted agent-to-agent
	// communication key, Base64 encoded.
	UpdateAgentCommunicationKey(ctx context.Context, id, chainID, key string) error
}
