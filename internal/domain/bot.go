package domain

import "time"

// BotStatus is the lifecycle state of a bot as persisted.
type BotStatus string

const (
	BotStatusStopped BotStatus = "stopped"
	BotStatusRunning BotStatus = "running"
	BotStatusPaused  BotStatus = "paused"
)

// Bot is the persisted configuration for one automated strategy instance.
type Bot struct {
	ID       string
	UserID   string
	Name     string
	Symbol   string
	Strategy string

	// Order parameters.
	Stake        float64
	Duration     int
	DurationUnit string
	Currency     string

	// Risk limits. Zero means unlimited.
	MaxDailyLoss  float64
	MaxLossStreak int

	// Trading hours in the bot's local day, [StartHour, EndHour).
	// StartHour == EndHour means no restriction.
	StartHour int
	EndHour   int

	Status    BotStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TradingHoursOpen reports whether t falls inside the configured window.
// Windows that wrap midnight (e.g. 22 to 6) are supported.
func (b *Bot) TradingHoursOpen(t time.Time) bool {
	if b.StartHour == b.EndHour {
		return true
	}
	h := t.Hour()
	if b.StartHour < b.EndHour {
		return h >= b.StartHour && h < b.EndHour
	}
	return h >= b.StartHour || h < b.EndHour
}

// BotStats is the aggregate performance record for one bot.
type BotStats struct {
	BotID         string
	UserID        string
	Wins          int
	Losses        int
	CurrentStreak int // positive = consecutive wins, negative = consecutive losses
	BestTrade     float64
	WorstTrade    float64
	GrossProfit   float64
	GrossLoss     float64 // stored as a positive magnitude
	UpdatedAt     time.Time
}

// Record folds one settled trade's profit into the aggregate.
func (s *BotStats) Record(profit float64) {
	if profit >= 0 {
		s.Wins++
		s.GrossProfit += profit
		if s.CurrentStreak < 0 {
			s.CurrentStreak = 0
		}
		s.CurrentStreak++
	} else {
		s.Losses++
		s.GrossLoss += -profit
		if s.CurrentStreak > 0 {
			s.CurrentStreak = 0
		}
		s.CurrentStreak--
	}
	if profit > s.BestTrade {
		s.BestTrade = profit
	}
	if profit < s.WorstTrade {
		s.WorstTrade = profit
	}
}

// ProfitFactor is gross profit over gross loss. Zero loss yields 0 with no
// wins, otherwise the gross profit itself.
func (s *BotStats) ProfitFactor() float64 {
	if s.GrossLoss == 0 {
		return s.GrossProfit
	}
	return s.GrossProfit / s.GrossLoss
}

// AvgWin is the mean profit of winning trades.
func (s *BotStats) AvgWin() float64 {
	if s.Wins == 0 {
		return 0
	}
	return s.GrossProfit / float64(s.Wins)
}

// AvgLoss is the mean magnitude of losing trades.
func (s *BotStats) AvgLoss() float64 {
	if s.Losses == 0 {
		return 0
	}
	return s.GrossLoss / float64(s.Losses)
}
