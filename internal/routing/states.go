package routing

// State is a routing attempt's position in the lifecycle. Every attempt moves
// forward through the main sequence; closing/completed is the explicit
// teardown branch and error is terminal from any state.
type State string

const (
	StateIdle                State = "idle"
	StateCheckingSuitability State = "checking_suitability"
	StateGeneratingManifest  State = "generating_manifest"
	StateSelectingProvider   State = "selecting_provider"
	StatePayingEscrow        State = "paying_escrow"
	StateCreatingDeployment  State = "creating_deployment"
	StateWaitingBids         State = "waiting_bids"
	StateAcceptingBid        State = "accepting_bid"
	StateActive              State = "active"
	StateClosing             State = "closing"
	StateCompleted           State = "completed"
	StateError               State = "error"
)
