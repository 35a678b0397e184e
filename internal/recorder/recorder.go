package recorder

// UnhealthyEvent records one observation of an account below the liquidation
// threshold.
type UnhealthyEvent struct {
	Account       string
	Vault         string
	HealthScore   float64
	ValueBorrowed string // wei, decimal string
}

// AttemptEvent records the outcome of one profitability simulation.
type AttemptEvent struct {
	Account         string
	Vault           string
	CollateralVault string
	Profitable      bool
	Profit          string // wei, decimal string
}

// ResultEvent records an executed liquidation.
type ResultEvent struct {
	Account         string
	Vault           string
	CollateralVault string
	TxHash          string
	RepayAmount     string
	SeizedShares    string
}

// Recorder persists historical liquidation activity for analysis.
type Recorder interface {
	RecordUnhealthy(evt *UnhealthyEvent) error
	RecordAttempt(evt *AttemptEvent) error
	RecordResult(evt *ResultEvent) error
	Close() error
}
