package cachemanager

import (
	"testing"

	"github.com/azuredevops/cachesync/internal/dataupdate"
	"github.com/azuredevops/cachesync/internal/updater"
)

func TestTransitionRefresh(t *testing.T) {
	search := updater.Search{Kind: updater.KindQuery}
	tests := []struct {
		name   string
		from   State
		want   State
		action action
	}{
		{"idle starts a refresh", Idle, Refreshing, actionStartRefresh},
		{"refreshing coalesces to pending, cancelling the in-flight dispatch", Refreshing, PendingRefresh, actionCancelInFlight},
		{"periodic updating coalesces to pending, cancelling the in-flight dispatch", PeriodicUpdating, PendingRefresh, actionCancelInFlight},
		{"already pending just replaces the stashed params", PendingRefresh, PendingRefresh, actionNone},
		{"pending clear cache ignores a refresh request", PendingClearCache, PendingClearCache, actionNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, act := transition(tt.from, input{kind: inputRefresh, params: &search})
			if got != tt.want || act != tt.action {
				t.Errorf("transition(%v, refresh) = (%v, %v), want (%v, %v)", tt.from, got, act, tt.want, tt.action)
			}
		})
	}
}

func TestTransitionPeriodicUpdate(t *testing.T) {
	tests := []struct {
		name   string
		from   State
		want   State
		action action
	}{
		{"idle starts the periodic cycle", Idle, PeriodicUpdating, actionStartPeriodic},
		{"already refreshing ignores the tick", Refreshing, Refreshing, actionNone},
		{"already periodic updating ignores the tick", PeriodicUpdating, PeriodicUpdating, actionNone},
		{"pending refresh ignores the tick", PendingRefresh, PendingRefresh, actionNone},
		{"pending clear cache ignores the tick", PendingClearCache, PendingClearCache, actionNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, act := transition(tt.from, input{kind: inputPeriodicUpdate})
			if got != tt.want || act != tt.action {
				t.Errorf("transition(%v, periodicUpdate) = (%v, %v), want (%v, %v)", tt.from, got, act, tt.want, tt.action)
			}
		})
	}
}

func TestTransitionClearCache(t *testing.T) {
	tests := []struct {
		name   string
		from   State
		want   State
		action action
	}{
		{"idle starts a purge directly", Idle, Idle, actionStartPurge},
		{"refreshing moves to pending clear, cancelling the in-flight dispatch", Refreshing, PendingClearCache, actionCancelInFlight},
		{"periodic updating moves to pending clear, cancelling the in-flight dispatch", PeriodicUpdating, PendingClearCache, actionCancelInFlight},
		{"pending refresh moves to pending clear, cancelling the in-flight dispatch", PendingRefresh, PendingClearCache, actionCancelInFlight},
		{"already pending clear just replaces", PendingClearCache, PendingClearCache, actionNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, act := transition(tt.from, input{kind: inputClearCache})
			if got != tt.want || act != tt.action {
				t.Errorf("transition(%v, clearCache) = (%v, %v), want (%v, %v)", tt.from, got, act, tt.want, tt.action)
			}
		})
	}
}

func TestTransitionHandleUpdate(t *testing.T) {
	ev := dataupdate.Event{Kind: dataupdate.EventSuccess}
	tests := []struct {
		name   string
		from   State
		want   State
		action action
	}{
		{"refreshing returns to idle", Refreshing, Idle, actionNone},
		{"periodic updating returns to idle", PeriodicUpdating, Idle, actionNone},
		{"pending refresh drains into a stashed refresh", PendingRefresh, Idle, actionStartStashedRefresh},
		{"pending clear cache drains into a purge", PendingClearCache, Idle, actionStartPurge},
		{"idle is a no-op (no dispatch was in flight)", Idle, Idle, actionNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, act := transition(tt.from, input{kind: inputHandleUpdate, event: &ev})
			if got != tt.want || act != tt.action {
				t.Errorf("transition(%v, handleUpdate) = (%v, %v), want (%v, %v)", tt.from, got, act, tt.want, tt.action)
			}
		})
	}
}

// TestTransitionPendingRefreshCoalescesToLatestParams exercises the
// pending-refresh coalescing order (spec §8): a second Refresh call while
// one is already pending does not start a new dispatch or change state,
// but the driver (Manager.Refresh) is responsible for swapping in the
// newer params so the eventual drained dispatch uses them, not the first.
func TestTransitionPendingRefreshCoalescesToLatestParams(t *testing.T) {
	first := updater.Search{Kind: updater.KindQuery}
	second := updater.Search{Kind: updater.KindPipeline}

	got, act := transition(PendingRefresh, input{kind: inputRefresh, params: &first})
	if got != PendingRefresh || act != actionNone {
		t.Fatalf("first coalesce: got (%v, %v)", got, act)
	}
	got, act = transition(PendingRefresh, input{kind: inputRefresh, params: &second})
	if got != PendingRefresh || act != actionNone {
		t.Fatalf("second coalesce: got (%v, %v)", got, act)
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{Idle, "Idle"},
		{Refreshing, "Refreshing"},
		{PeriodicUpdating, "PeriodicUpdating"},
		{PendingRefresh, "PendingRefresh"},
		{PendingClearCache, "PendingClearCache"},
		{State(99), "Unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
