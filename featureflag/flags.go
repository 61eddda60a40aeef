package featureflag

type Flag string

const (
	// Cancels the planting of patches whose node left the visible set.
	FlagCancelHiddenPlanting Flag = "CANCEL_HIDDEN_PLANTING"

	// Replants patches that planted no items once their retry interval
	// elapsed.
	FlagRetryEmptyPatches Flag = "RETRY_EMPTY_PATCHES"

	// Keeps visible nodes in leaf id order instead of distance order.
	FlagDisableNodeResort Flag = "DISABLE_NODE_RESORT"
)
