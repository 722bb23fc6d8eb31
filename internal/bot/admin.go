package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"castbot/internal/storage"
	"castbot/pkg/logx"
)

// Operator commands. Negative ids address channels, positive ids users,
// matching how Telegram hands them out.

func (h *Handler) isOperator(userID int64) bool {
	return h.cfg.DeveloperID != 0 && userID == h.cfg.DeveloperID
}

// onSetPremium handles /setpremium <id> [days]. Without days the premium
// never expires.
func (h *Handler) onSetPremium(c tele.Context) error {
	if !h.isOperator(c.Sender().ID) {
		return nil
	}
	ctx, cancel := h.ctx()
	defer cancel()

	args := strings.Fields(c.Message().Payload)
	if len(args) < 1 || len(args) > 2 {
		return c.Send(text("usage_setpremium", LangEn))
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return c.Send(text("usage_setpremium", LangEn))
	}

	st := storage.PremiumStatus{Flagged: true}
	if len(args) == 2 {
		days, err := strconv.Atoi(args[1])
		if err != nil || days <= 0 {
			return c.Send(text("usage_setpremium", LangEn))
		}
		st.Until = time.Now().UTC().AddDate(0, 0, days).Format(time.RFC3339)
	}

	if err := h.setPremium(ctx, id, st); err != nil {
		if err == storage.ErrNotFound {
			return c.Send(text("user_not_found", LangEn))
		}
		h.log.Error("set premium failed", logx.Int64("subject", id), logx.Err(err))
		return c.Send(text("error_generic", LangEn))
	}
	if st.Until == "" {
		return c.Send(fmt.Sprintf(text("premium_set_permanent", LangEn), id))
	}
	return c.Send(fmt.Sprintf(text("premium_set", LangEn), id, st.Until))
}

func (h *Handler) onRemovePremium(c tele.Context) error {
	if !h.isOperator(c.Sender().ID) {
		return nil
	}
	ctx, cancel := h.ctx()
	defer cancel()

	args := strings.Fields(c.Message().Payload)
	if len(args) != 1 {
		return c.Send(text("usage_removepremium", LangEn))
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return c.Send(text("usage_removepremium", LangEn))
	}
	if err := h.setPremium(ctx, id, storage.PremiumStatus{}); err != nil {
		if err == storage.ErrNotFound {
			return c.Send(text("user_not_found", LangEn))
		}
		h.log.Error("remove premium failed", logx.Int64("subject", id), logx.Err(err))
		return c.Send(text("error_generic", LangEn))
	}
	return c.Send(fmt.Sprintf(text("premium_removed", LangEn), id))
}

func (h *Handler) setPremium(ctx context.Context, id int64, st storage.PremiumStatus) error {
	if id < 0 {
		return h.store.SetChannelPremium(ctx, id, st)
	}
	return h.store.SetUserPremium(ctx, id, st)
}

func (h *Handler) onUserInfo(c tele.Context) error {
	if !h.isOperator(c.Sender().ID) {
		return nil
	}
	ctx, cancel := h.ctx()
	defer cancel()

	args := strings.Fields(c.Message().Payload)
	if len(args) != 1 {
		return c.Send(text("usage_userinfo", LangEn))
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return c.Send(text("usage_userinfo", LangEn))
	}

	u, ok, err := h.store.GetUser(ctx, id)
	if err != nil {
		h.log.Error("user lookup failed", logx.Int64("user", id), logx.Err(err))
		return c.Send(text("error_generic", LangEn))
	}
	if !ok {
		return c.Send(text("user_not_found", LangEn))
	}
	qs, err := h.store.QuotaState(ctx, id)
	if err != nil {
		h.log.Error("quota lookup failed", logx.Int64("user", id), logx.Err(err))
		return c.Send(text("error_generic", LangEn))
	}
	prem, err := h.store.UserPremium(ctx, id)
	if err != nil {
		h.log.Error("premium lookup failed", logx.Int64("user", id), logx.Err(err))
		return c.Send(text("error_generic", LangEn))
	}
	channels, err := h.store.UserChannels(ctx, id)
	if err != nil {
		channels = nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "User %d\n", u.ID)
	fmt.Fprintf(&b, "Language: %s\n", orDash(u.LanguageCode))
	fmt.Fprintf(&b, "Footer: %s\n", orDash(u.FooterText))
	fmt.Fprintf(&b, "Channels: %d\n", len(channels))
	fmt.Fprintf(&b, "Posts this month: %d\n", qs.PostsThisMonth)
	fmt.Fprintf(&b, "Posts total: %d\n", qs.TotalPosts)
	if prem.Flagged {
		if prem.Until == "" {
			b.WriteString("Premium: permanent\n")
		} else {
			fmt.Fprintf(&b, "Premium until: %s\n", prem.Until)
		}
	} else {
		b.WriteString("Premium: no\n")
	}
	return c.Send(b.String())
}

func (h *Handler) onStats(c tele.Context) error {
	if !h.isOperator(c.Sender().ID) {
		return nil
	}
	ctx, cancel := h.ctx()
	defer cancel()

	st, err := h.store.Stats(ctx)
	if err != nil {
		h.log.Error("stats failed", logx.Err(err))
		return c.Send(text("error_generic", LangEn))
	}
	var b strings.Builder
	b.WriteString("Bot statistics\n")
	fmt.Fprintf(&b, "Users: %d (premium: %d)\n", st.Users, st.PremiumUsers)
	fmt.Fprintf(&b, "Channels: %d\n", st.Channels)
	fmt.Fprintf(&b, "Posts this month: %d\n", st.PostsThisMonth)
	fmt.Fprintf(&b, "Posts total: %d\n", st.TotalPosts)
	fmt.Fprintf(&b, "Pending jobs: %d\n", st.PendingJobs)
	return c.Send(b.String())
}

// --- announcement to every user ---

// onAnnounce opens the broadcast-to-all-users flow; the next text message
// from the operator becomes the draft and an explicit confirmation follows.
func (h *Handler) onAnnounce(c tele.Context) error {
	if !h.isOperator(c.Sender().ID) {
		return nil
	}
	h.setPending(c.Sender().ID, inputAnnouncement)
	return c.Send(text("announce_prompt", LangEn))
}

func (h *Handler) processAnnouncementDraft(ctx context.Context, c tele.Context, body string) error {
	userID := c.Sender().ID
	h.setPending(userID, inputNone)
	if !h.isOperator(userID) {
		return nil
	}
	if strings.TrimSpace(body) == "" {
		return c.Send(text("announce_prompt", LangEn))
	}

	ids, err := h.store.ListUserIDs(ctx)
	if err != nil {
		h.log.Error("user list failed", logx.Err(err))
		return c.Send(text("error_generic", LangEn))
	}
	if len(ids) == 0 {
		return c.Send(text("no_users_found", LangEn))
	}

	h.mu.Lock()
	h.drafts[userID] = body
	h.mu.Unlock()

	preview := []rune(body)
	if len(preview) > 100 {
		preview = append(preview[:100], []rune("...")...)
	}
	return c.Send(fmt.Sprintf(text("announce_preview", LangEn), len(ids), string(preview)),
		announceConfirmKeyboard())
}

func (h *Handler) onAnnounceConfirm(c tele.Context) error {
	userID := c.Sender().ID
	if !h.isOperator(userID) {
		return nil
	}
	h.mu.Lock()
	draft, ok := h.drafts[userID]
	delete(h.drafts, userID)
	h.mu.Unlock()
	if !ok {
		return c.Edit(text("error_generic", LangEn))
	}

	// The fan-out can take far longer than one update round-trip.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	ids, err := h.store.ListUserIDs(ctx)
	if err != nil {
		h.log.Error("user list failed", logx.Err(err))
		return c.Edit(text("error_generic", LangEn))
	}
	_ = c.Edit(text("announce_sending", LangEn))

	var delivered, failed int
	for _, id := range ids {
		lang := h.lang(ctx, id)
		if err := h.tg.SendMessage(ctx, id, fmt.Sprintf(text("announce_from_admin", lang), draft)); err != nil {
			failed++
			h.log.Warn("announcement delivery failed", logx.Int64("user", id), logx.Err(err))
			continue
		}
		delivered++
	}
	h.log.Info("announcement finished",
		logx.Int("delivered", delivered), logx.Int("failed", failed))
	return c.Send(fmt.Sprintf(text("announce_done", LangEn), delivered, failed))
}

func (h *Handler) onAnnounceCancel(c tele.Context) error {
	userID := c.Sender().ID
	if !h.isOperator(userID) {
		return nil
	}
	h.mu.Lock()
	delete(h.drafts, userID)
	h.mu.Unlock()
	return c.Edit(text("announce_cancelled", LangEn))
}

// --- activity reports ---

func (h *Handler) onTopUsers(c tele.Context) error {
	if !h.isOperator(c.Sender().ID) {
		return nil
	}
	ctx, cancel := h.ctx()
	defer cancel()

	rows, err := h.store.TopUsers(ctx, 10)
	if err != nil {
		h.log.Error("top users report failed", logx.Err(err))
		return c.Send(text("error_generic", LangEn))
	}
	if len(rows) == 0 {
		return c.Send(text("report_empty", LangEn))
	}
	var b strings.Builder
	b.WriteString(text("top_users_header", LangEn))
	b.WriteString("\n\n")
	for i, r := range rows {
		fmt.Fprintf(&b, "%d. user %d: total %d, this month %d, lang %s\n",
			i+1, r.UserID, r.TotalPosts, r.PostsThisMonth, orDash(r.LanguageCode))
	}
	return c.Send(b.String())
}

func (h *Handler) onActiveUsers(c tele.Context) error {
	if !h.isOperator(c.Sender().ID) {
		return nil
	}
	ctx, cancel := h.ctx()
	defer cancel()

	since := time.Now().UTC().AddDate(0, 0, -7)
	rows, err := h.store.ActiveUsers(ctx, since, 20)
	if err != nil {
		h.log.Error("active users report failed", logx.Err(err))
		return c.Send(text("error_generic", LangEn))
	}
	if len(rows) == 0 {
		return c.Send(text("report_empty", LangEn))
	}
	var b strings.Builder
	b.WriteString(text("active_users_header", LangEn))
	b.WriteString("\n\n")
	for _, r := range rows {
		joined := "-"
		if !r.CreatedAt.IsZero() {
			joined = r.CreatedAt.Format("2006-01-02")
		}
		fmt.Fprintf(&b, "user %d: joined %s, %d this month, lang %s\n",
			r.UserID, joined, r.PostsThisMonth, orDash(r.LanguageCode))
	}
	return c.Send(b.String())
}

func (h *Handler) onPremiumChannels(c tele.Context) error {
	if !h.isOperator(c.Sender().ID) {
		return nil
	}
	ctx, cancel := h.ctx()
	defer cancel()

	rows, err := h.store.PremiumChannels(ctx, time.Now())
	if err != nil {
		h.log.Error("premium channels report failed", logx.Err(err))
		return c.Send(text("error_generic", LangEn))
	}
	if len(rows) == 0 {
		return c.Send(text("report_empty", LangEn))
	}
	var b strings.Builder
	b.WriteString(text("premium_channels_header", LangEn))
	b.WriteString("\n\n")
	for _, r := range rows {
		until := r.Until
		if until == "" {
			until = "permanent"
		}
		fmt.Fprintf(&b, "channel %d: until %s\n", r.ChannelID, until)
	}
	fmt.Fprintf(&b, "\nTotal: %d", len(rows))
	return c.Send(b.String())
}

func orDash(v string) string {
	if strings.TrimSpace(v) == "" {
		return "-"
	}
	return v
}
