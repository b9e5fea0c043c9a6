// Package copytrade replicates a leader's confirmed trades onto the
// sessions of that leader's registered followers.
package copytrade

import "sync"

// Registry maps leaders to their follower sets and tracks each follower's
// daily-loss accumulator. Register and Unregister are the only mutators of
// the follower sets; both are idempotent.
type Registry struct {
	mu        sync.RWMutex
	followers map[string]map[string]struct{} // leader id -> follower ids
	dailyLoss map[string]float64             // follower id -> loss since reset
}

func NewRegistry() *Registry {
	return &Registry{
		followers: make(map[string]map[string]struct{}),
		dailyLoss: make(map[string]float64),
	}
}

// Register subscribes a follower to a leader. Re-registering is a no-op.
func (r *Registry) Register(leaderID, followerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.followers[leaderID]
	if !ok {
		set = make(map[string]struct{})
		r.followers[leaderID] = set
	}
	set[followerID] = struct{}{}
}

// Unregister removes a follower from a leader. Unknown pairs are a no-op.
func (r *Registry) Unregister(leaderID, followerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.followers[leaderID]
	if !ok {
		return
	}
	delete(set, followerID)
	if len(set) == 0 {
		delete(r.followers, leaderID)
	}
}

// Followers returns a snapshot of the leader's follower set.
func (r *Registry) Followers(leaderID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.followers[leaderID]
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}

// FollowerCount returns the number of followers registered to a leader.
func (r *Registry) FollowerCount(leaderID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.followers[leaderID])
}

// IsFollowing reports whether the follower is subscribed to the leader.
func (r *Registry) IsFollowing(leaderID, followerID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.followers[leaderID][followerID]
	return ok
}

// AddDailyLoss folds a loss magnitude into a follower's accumulator.
func (r *Registry) AddDailyLoss(followerID string, amount float64) {
	if amount <= 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dailyLoss[followerID] += amount
}

// DailyLoss returns a follower's accumulated loss since the last reset.
func (r *Registry) DailyLoss(followerID string) float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.dailyLoss[followerID]
}

// ResetDailyLoss zeroes every follower's accumulator. Invoked by the daily
// rollover sweep.
func (r *Registry) ResetDailyLoss() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.dailyLoss)
}
