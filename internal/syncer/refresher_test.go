package syncer

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/questlog/questlog/internal/provider"
)

func TestRefreshDue_RefreshesAndPersists(t *testing.T) {
	st := newSyncTestStore(t)
	seedSteamAccount(t, st, nil)
	adapter := &fakeAdapter{id: provider.Steam, needsRefresh: true}
	r := NewRefresher(st, provider.NewRegistry(adapter), time.Minute, zap.NewNop())

	r.RefreshDue(context.Background())

	if adapter.refreshed != 1 {
		t.Fatalf("refresh ran %d times", adapter.refreshed)
	}
	account, err := st.GetAccount(context.Background(), "acc-1")
	if err != nil {
		t.Fatal(err)
	}
	if account.Credentials != `{"refreshed":true}` {
		t.Errorf("credentials = %s", account.Credentials)
	}
	if !account.IsActive {
		t.Error("successful refresh must keep the account active")
	}
}

func TestRefreshDue_SkipsFreshAccounts(t *testing.T) {
	st := newSyncTestStore(t)
	seedSteamAccount(t, st, nil)
	adapter := &fakeAdapter{id: provider.Steam, needsRefresh: false}
	r := NewRefresher(st, provider.NewRegistry(adapter), time.Minute, zap.NewNop())

	r.RefreshDue(context.Background())

	if adapter.refreshed != 0 {
		t.Errorf("fresh account refreshed %d times", adapter.refreshed)
	}
}

func TestRefreshDue_PermanentFailureDeactivates(t *testing.T) {
	st := newSyncTestStore(t)
	seedSteamAccount(t, st, nil)
	adapter := &fakeAdapter{id: provider.Steam, needsRefresh: true, refreshError: "provider rejected grant: invalid_grant"}
	r := NewRefresher(st, provider.NewRegistry(adapter), time.Minute, zap.NewNop())

	r.RefreshDue(context.Background())

	account, _ := st.GetAccount(context.Background(), "acc-1")
	if account.IsActive {
		t.Fatal("revoked grant must deactivate the account")
	}

	// Deactivated accounts drop out of the next pass.
	r.RefreshDue(context.Background())
	if adapter.refreshed != 1 {
		t.Errorf("deactivated account refreshed again, total %d", adapter.refreshed)
	}
}

func TestRefreshDue_TransientFailureStaysActive(t *testing.T) {
	st := newSyncTestStore(t)
	seedSteamAccount(t, st, nil)
	adapter := &fakeAdapter{id: provider.Steam, needsRefresh: true, refreshError: "provider returned 503 (retryable): upstream busy"}
	r := NewRefresher(st, provider.NewRegistry(adapter), time.Minute, zap.NewNop())

	r.RefreshDue(context.Background())

	account, _ := st.GetAccount(context.Background(), "acc-1")
	if !account.IsActive {
		t.Fatal("transient failure must not deactivate the account")
	}

	r.RefreshDue(context.Background())
	if adapter.refreshed != 2 {
		t.Errorf("transient failure should retry next pass, total %d", adapter.refreshed)
	}
}

func TestIsPermanentRefreshFailure(t *testing.T) {
	cases := []struct {
		message string
		want    bool
	}{
		{"invalid_grant", true},
		{"oauth error invalid_client", true},
		{"token has been revoked by the user", true},
		{"provider returned 401 (auth): token expired", true},
		{"provider returned 503 (retryable): try later", false},
		{"connection reset by peer", false},
	}
	for _, tc := range cases {
		if got := isPermanentRefreshFailure(tc.message); got != tc.want {
			t.Errorf("isPermanentRefreshFailure(%q) = %v, want %v", tc.message, got, tc.want)
		}
	}
}
