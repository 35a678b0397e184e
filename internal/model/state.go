package model

import "math"

// State is the persisted warm-start snapshot. It is a cache only: health
// scores and the schedule are recomputed after restore, never trusted.
type State struct {
	Accounts       map[string]AccountRecord `json:"accounts"`
	Vaults         []string                 `json:"vaults"`
	LastSavedBlock uint64                   `json:"last_saved_block"`
}

// AccountRecord is the serialized form of one account.
type AccountRecord struct {
	Address     string  `json:"address"`
	Controller  string  `json:"controller_address"`
	NextCheck   int64   `json:"time_of_next_check"`
	HealthScore float64 `json:"current_health_score"`
}

// Record serializes an account. JSON has no +Inf, so a no-borrow account
// saves its health score as -1; restore recomputes it anyway.
func (a *Account) Record() AccountRecord {
	hs := a.HealthScore()
	if math.IsInf(hs, 1) {
		hs = -1
	}
	return AccountRecord{
		Address:     a.Address.Hex(),
		Controller:  a.Controller.Hex(),
		NextCheck:   a.NextCheck(),
		HealthScore: hs,
	}
}
