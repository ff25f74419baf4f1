package estimator

// Params are the fixed retrieval hyperparameters.
type Params struct {
	// TopK is the number of neighbors considered before masking.
	TopK int
	// Tau is the softmax temperature; lower concentrates weight on the
	// closest matches.
	Tau float64
	// Alpha and Beta blend the two similarity views when a secondary
	// embedding set is configured.
	Alpha float64
	Beta  float64
}

// Evidence is one surviving neighbor behind an estimate. Every numeric
// estimate must be traceable to its exact weighted evidence set.
type Evidence struct {
	Rank          int
	Similarity    float64
	Weight        float64
	Name          string
	SourceID      string
	InitialBudget float64
	// FinalBudget is NaN when the source row has no final-budget value.
	FinalBudget float64
}

// Result is a pure computation outcome; it is never stored.
type Result struct {
	CanEstimate     bool
	EstimateInitial float64
	// EstimateFinal and Ratio are NaN when no final-budget estimate could
	// be formed. They must be scrubbed to an absent marker before they
	// cross a serialization boundary.
	EstimateFinal float64
	Ratio         float64
	Evidence      []Evidence
	Reason        string
}
