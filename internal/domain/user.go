package domain

import "time"

// User holds the per-user settings the runtime needs: the venue credential
// and the copy-trading policy knobs. Account management lives elsewhere.
type User struct {
	ID    string
	Email string

	// EncryptedToken is the venue API token, encrypted at rest by the
	// crypto package. Empty if the user never linked an account.
	EncryptedToken string

	// Copy-trading settings (follower side).
	CopyTradingEnabled bool
	InvestmentPerTrade float64 // fixed stake per replicated trade; 0 = unset
	RiskPercentage     float64 // percent of balance per trade; 0 = unset
	MaxDailyLoss       float64 // follower daily-loss ceiling; 0 = unlimited

	CreatedAt time.Time
	UpdatedAt time.Time
}

// CopyStake computes the stake for one replicated trade from the follower's
// settings and current balance. Fixed amount wins over percentage, which wins
// over the default of min(leader stake, 2% of balance).
func (u *User) CopyStake(leaderStake, balance float64) float64 {
	if u.InvestmentPerTrade > 0 {
		return u.InvestmentPerTrade
	}
	if u.RiskPercentage > 0 {
		return balance * u.RiskPercentage / 100
	}
	stake := balance * 0.02
	if leaderStake < stake {
		stake = leaderStake
	}
	return stake
}
