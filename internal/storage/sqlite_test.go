package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"castbot/pkg/logx"
)

func openTestStore(t *testing.T) Store {
	t.Helper()
	st, err := Open(Config{Path: filepath.Join(t.TempDir(), "bot.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestUserLifecycle(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	if err := st.EnsureUser(ctx, 7, "fa"); err != nil {
		t.Fatalf("EnsureUser: %v", err)
	}
	if err := st.SetFooter(ctx, 7, "— via Bot"); err != nil {
		t.Fatalf("SetFooter: %v", err)
	}
	u, ok, err := st.GetUser(ctx, 7)
	if err != nil || !ok {
		t.Fatalf("GetUser: ok=%v err=%v", ok, err)
	}
	if u.LanguageCode != "fa" || u.FooterText != "— via Bot" {
		t.Fatalf("unexpected user: %+v", u)
	}

	// Ensure is an upsert: language updates, footer survives.
	if err := st.EnsureUser(ctx, 7, "en"); err != nil {
		t.Fatalf("EnsureUser again: %v", err)
	}
	u, _, _ = st.GetUser(ctx, 7)
	if u.LanguageCode != "en" || u.FooterText != "— via Bot" {
		t.Fatalf("upsert clobbered fields: %+v", u)
	}

	// An empty code keeps the existing language.
	if err := st.EnsureUser(ctx, 7, ""); err != nil {
		t.Fatalf("EnsureUser with empty code: %v", err)
	}
	u, _, _ = st.GetUser(ctx, 7)
	if u.LanguageCode != "en" {
		t.Fatalf("empty-code ensure cleared the language: %+v", u)
	}

	if err := st.SetFooter(ctx, 99, "x"); err != ErrNotFound {
		t.Fatalf("SetFooter for missing user: %v, want ErrNotFound", err)
	}
}

func TestChannelRegistration(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	for _, ch := range []int64{-100123, -100456} {
		if err := st.AddChannel(ctx, ch, 7); err != nil {
			t.Fatalf("AddChannel: %v", err)
		}
	}
	// duplicate add is a no-op
	if err := st.AddChannel(ctx, -100123, 7); err != nil {
		t.Fatalf("duplicate AddChannel: %v", err)
	}

	ok, err := st.IsChannelRegistered(ctx, -100123, 7)
	if err != nil || !ok {
		t.Fatalf("IsChannelRegistered: ok=%v err=%v", ok, err)
	}
	ok, _ = st.IsChannelRegistered(ctx, -100123, 8)
	if ok {
		t.Fatal("channel should not be registered for another user")
	}

	ids, err := st.UserChannels(ctx, 7)
	if err != nil {
		t.Fatalf("UserChannels: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("UserChannels = %v, want 2 entries", ids)
	}

	if err := st.RemoveChannel(ctx, -100123, 7); err != nil {
		t.Fatalf("RemoveChannel: %v", err)
	}
	ids, _ = st.UserChannels(ctx, 7)
	if len(ids) != 1 || ids[0] != -100456 {
		t.Fatalf("after remove: %v", ids)
	}
}

func TestQuotaCounters(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	q, err := st.QuotaState(ctx, 7)
	if err != nil {
		t.Fatalf("QuotaState: %v", err)
	}
	if q.PostsThisMonth != 0 || q.TotalPosts != 0 {
		t.Fatalf("fresh state: %+v", q)
	}
	if q.LastReset.IsZero() {
		t.Fatal("fresh state should carry a reset marker")
	}

	for i := 0; i < 3; i++ {
		if err := st.IncrementQuota(ctx, 7); err != nil {
			t.Fatalf("IncrementQuota: %v", err)
		}
	}
	q, _ = st.QuotaState(ctx, 7)
	if q.PostsThisMonth != 3 || q.TotalPosts != 3 {
		t.Fatalf("after increments: %+v", q)
	}

	mark := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	if err := st.ResetQuota(ctx, 7, mark); err != nil {
		t.Fatalf("ResetQuota: %v", err)
	}
	q, _ = st.QuotaState(ctx, 7)
	if q.PostsThisMonth != 0 {
		t.Fatalf("monthly counter not reset: %+v", q)
	}
	if q.TotalPosts != 3 {
		t.Fatalf("lifetime counter must survive resets: %+v", q)
	}
	if !q.LastReset.Equal(mark) {
		t.Fatalf("reset marker = %v, want %v", q.LastReset, mark)
	}
}

func TestPremiumStatus(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	if err := st.EnsureUser(ctx, 7, "en"); err != nil {
		t.Fatalf("EnsureUser: %v", err)
	}

	p, err := st.UserPremium(ctx, 7)
	if err != nil || p.Flagged {
		t.Fatalf("fresh premium: %+v err=%v", p, err)
	}

	until := time.Now().Add(30 * 24 * time.Hour).UTC().Format(time.RFC3339)
	if err := st.SetUserPremium(ctx, 7, PremiumStatus{Flagged: true, Until: until}); err != nil {
		t.Fatalf("SetUserPremium: %v", err)
	}
	p, _ = st.UserPremium(ctx, 7)
	if !p.Flagged || p.Until != until {
		t.Fatalf("premium round trip: %+v", p)
	}

	// Channel premium rows are created on demand.
	if err := st.SetChannelPremium(ctx, -100123, PremiumStatus{Flagged: true}); err != nil {
		t.Fatalf("SetChannelPremium: %v", err)
	}
	cp, _ := st.ChannelPremium(ctx, -100123)
	if !cp.Flagged || cp.Until != "" {
		t.Fatalf("channel premium: %+v", cp)
	}
	// Unknown channel reads as not premium, not an error.
	cp, err = st.ChannelPremium(ctx, -100999)
	if err != nil || cp.Flagged {
		t.Fatalf("unknown channel premium: %+v err=%v", cp, err)
	}
}

func TestJobLifecycle(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	due := time.Date(2026, 9, 1, 11, 0, 0, 0, time.UTC)
	j := Job{
		ID:              "job-1",
		SubjectID:       7,
		SourceChatID:    7,
		SourceMessageID: 42,
		ChannelID:       -100123,
		Caption:         "hello\n\n— via Bot",
		DueAt:           due,
	}
	if err := st.CreateJob(ctx, j); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	got, ok, err := st.GetJob(ctx, "job-1")
	if err != nil || !ok {
		t.Fatalf("GetJob: ok=%v err=%v", ok, err)
	}
	if got.ID != j.ID || got.SubjectID != j.SubjectID || got.SourceChatID != j.SourceChatID ||
		got.SourceMessageID != j.SourceMessageID || got.ChannelID != j.ChannelID || got.Caption != j.Caption {
		t.Fatalf("GetJob = %+v, want %+v", got, j)
	}
	if !got.DueAt.Equal(due) {
		t.Fatalf("DueAt = %v, want %v", got.DueAt, due)
	}

	jobs, err := st.ListJobs(ctx)
	if err != nil || len(jobs) != 1 {
		t.Fatalf("ListJobs: %v %v", jobs, err)
	}

	if err := st.DeleteJob(ctx, "job-1"); err != nil {
		t.Fatalf("DeleteJob: %v", err)
	}
	_, ok, _ = st.GetJob(ctx, "job-1")
	if ok {
		t.Fatal("job should be gone after delete")
	}
	// Deleting an absent job is a no-op.
	if err := st.DeleteJob(ctx, "job-1"); err != nil {
		t.Fatalf("second DeleteJob: %v", err)
	}
}

func TestResetStaleQuotas(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	// Seed two counters, then roll one month forward.
	for _, id := range []int64{7, 8} {
		if _, err := st.QuotaState(ctx, id); err != nil {
			t.Fatalf("QuotaState(%d): %v", id, err)
		}
		if err := st.IncrementQuota(ctx, id); err != nil {
			t.Fatalf("IncrementQuota(%d): %v", id, err)
		}
	}

	monthStart := time.Now().UTC().AddDate(0, 1, 0)
	n, err := st.ResetStaleQuotas(ctx, monthStart)
	if err != nil {
		t.Fatalf("ResetStaleQuotas: %v", err)
	}
	if n != 2 {
		t.Fatalf("swept %d rows, want 2", n)
	}
	qs, _ := st.QuotaState(ctx, 7)
	if qs.PostsThisMonth != 0 || qs.TotalPosts != 1 {
		t.Fatalf("after sweep: %+v, want monthly 0 and lifetime 1", qs)
	}

	// A second sweep with the same marker touches nothing.
	n, err = st.ResetStaleQuotas(ctx, monthStart)
	if err != nil || n != 0 {
		t.Fatalf("repeat sweep: n=%d err=%v", n, err)
	}
}

func TestExpirePremium(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	for _, id := range []int64{7, 8, 9} {
		if err := st.EnsureUser(ctx, id, "en"); err != nil {
			t.Fatalf("EnsureUser: %v", err)
		}
	}
	past := time.Now().Add(-time.Hour).UTC().Format(time.RFC3339)
	future := time.Now().Add(time.Hour).UTC().Format(time.RFC3339)
	if err := st.SetUserPremium(ctx, 7, PremiumStatus{Flagged: true, Until: past}); err != nil {
		t.Fatal(err)
	}
	if err := st.SetUserPremium(ctx, 8, PremiumStatus{Flagged: true, Until: future}); err != nil {
		t.Fatal(err)
	}
	if err := st.SetUserPremium(ctx, 9, PremiumStatus{Flagged: true}); err != nil { // permanent
		t.Fatal(err)
	}
	if err := st.SetChannelPremium(ctx, -100123, PremiumStatus{Flagged: true, Until: past}); err != nil {
		t.Fatal(err)
	}

	n, err := st.ExpirePremium(ctx, time.Now())
	if err != nil {
		t.Fatalf("ExpirePremium: %v", err)
	}
	if n != 2 {
		t.Fatalf("expired %d rows, want 2 (one user, one channel)", n)
	}

	p, _ := st.UserPremium(ctx, 7)
	if p.Flagged {
		t.Fatalf("user 7 should have expired: %+v", p)
	}
	p, _ = st.UserPremium(ctx, 8)
	if !p.Flagged {
		t.Fatal("user 8 premium should survive")
	}
	p, _ = st.UserPremium(ctx, 9)
	if !p.Flagged {
		t.Fatal("permanent premium must never expire")
	}
	cp, _ := st.ChannelPremium(ctx, -100123)
	if cp.Flagged {
		t.Fatalf("channel premium should have expired: %+v", cp)
	}
}

func TestOperatorReports(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	for _, id := range []int64{1, 2, 3} {
		if err := st.EnsureUser(ctx, id, "fa"); err != nil {
			t.Fatal(err)
		}
	}
	// User 2 posted twice, user 3 once, user 1 never.
	for _, id := range []int64{2, 2, 3} {
		if _, err := st.QuotaState(ctx, id); err != nil {
			t.Fatal(err)
		}
		if err := st.IncrementQuota(ctx, id); err != nil {
			t.Fatal(err)
		}
	}

	ids, err := st.ListUserIDs(ctx)
	if err != nil {
		t.Fatalf("ListUserIDs: %v", err)
	}
	if len(ids) != 3 || ids[0] != 1 || ids[2] != 3 {
		t.Fatalf("unexpected user ids: %v", ids)
	}

	top, err := st.TopUsers(ctx, 10)
	if err != nil {
		t.Fatalf("TopUsers: %v", err)
	}
	if len(top) != 2 {
		t.Fatalf("got %d top users, want 2: %+v", len(top), top)
	}
	if top[0].UserID != 2 || top[0].TotalPosts != 2 || top[1].UserID != 3 {
		t.Fatalf("unexpected ranking: %+v", top)
	}

	// Everyone joined just now, so all three are active; moving the
	// cutoff past now leaves only the ones with posts this month.
	active, err := st.ActiveUsers(ctx, time.Now().Add(-time.Hour), 20)
	if err != nil {
		t.Fatalf("ActiveUsers: %v", err)
	}
	if len(active) != 3 {
		t.Fatalf("got %d active users, want 3: %+v", len(active), active)
	}
	active, err = st.ActiveUsers(ctx, time.Now().Add(time.Hour), 20)
	if err != nil {
		t.Fatalf("ActiveUsers: %v", err)
	}
	if len(active) != 2 {
		t.Fatalf("got %d active users, want 2 posters: %+v", len(active), active)
	}

	now := time.Now()
	future := now.Add(48 * time.Hour).UTC().Format(time.RFC3339)
	past := now.Add(-time.Hour).UTC().Format(time.RFC3339)
	if err := st.SetChannelPremium(ctx, -100, PremiumStatus{Flagged: true, Until: future}); err != nil {
		t.Fatal(err)
	}
	if err := st.SetChannelPremium(ctx, -200, PremiumStatus{Flagged: true}); err != nil { // permanent
		t.Fatal(err)
	}
	if err := st.SetChannelPremium(ctx, -300, PremiumStatus{Flagged: true, Until: past}); err != nil {
		t.Fatal(err)
	}

	prem, err := st.PremiumChannels(ctx, now)
	if err != nil {
		t.Fatalf("PremiumChannels: %v", err)
	}
	if len(prem) != 2 {
		t.Fatalf("got %d premium channels, want 2: %+v", len(prem), prem)
	}
	if prem[0].ChannelID != -100 || prem[0].Until != future {
		t.Fatalf("expiring channel should sort first: %+v", prem)
	}
	if prem[1].ChannelID != -200 || prem[1].Until != "" {
		t.Fatalf("permanent channel should sort last: %+v", prem)
	}
}
