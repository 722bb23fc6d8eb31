// Package bot is the conversational front-end: it turns Telegram updates
// into session transitions and hands finalized sessions to the dispatcher.
package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"

	"castbot/internal/broadcast"
	"castbot/internal/quota"
	"castbot/internal/session"
	"castbot/internal/storage"
	"castbot/pkg/jalali"
	"castbot/pkg/logx"
)

// Telegram is the slice of the adapter the handlers need beyond what
// telebot contexts already carry.
type Telegram interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
	IsAdmin(ctx context.Context, chatID, userID int64) (bool, error)
	ChatTitle(ctx context.Context, chatID int64) (string, error)
	BotID() int64
}

type Config struct {
	// DeveloperID gates the operator commands; 0 disables them.
	DeveloperID int64
}

// inputMode marks what the next plain-text message from a user means when
// it is not part of a broadcast session.
type inputMode int

const (
	inputNone inputMode = iota
	inputFooter
	inputChannelForward
	inputAnnouncement
)

type Handler struct {
	cfg        Config
	log        logx.Logger
	store      storage.Store
	sessions   *session.Manager
	ledger     *quota.Ledger
	dispatcher *broadcast.Service
	tg         Telegram
	loc        *time.Location

	mu      sync.Mutex
	pending map[int64]inputMode
	drafts  map[int64]string // announcement text awaiting confirmation
}

func New(cfg Config, store storage.Store, sessions *session.Manager, ledger *quota.Ledger,
	dispatcher *broadcast.Service, tg Telegram, loc *time.Location, log logx.Logger) *Handler {
	if loc == nil {
		loc = time.UTC
	}
	return &Handler{
		cfg:        cfg,
		log:        log,
		store:      store,
		sessions:   sessions,
		ledger:     ledger,
		dispatcher: dispatcher,
		tg:         tg,
		loc:        loc,
		pending:    map[int64]inputMode{},
		drafts:     map[int64]string{},
	}
}

// Register wires every update kind onto the telebot instance.
func (h *Handler) Register(b *tele.Bot) {
	b.Handle("/start", h.onStart)
	b.Handle("/menu", h.onMenu)
	b.Handle("/setpremium", h.onSetPremium)
	b.Handle("/removepremium", h.onRemovePremium)
	b.Handle("/userinfo", h.onUserInfo)
	b.Handle("/stats", h.onStats)
	b.Handle("/broadcast", h.onAnnounce)
	b.Handle("/topusers", h.onTopUsers)
	b.Handle("/activeusers", h.onActiveUsers)
	b.Handle("/premiumchannels", h.onPremiumChannels)
	b.Handle(tele.OnText, h.onText)
	b.Handle(tele.OnCallback, h.onCallback)
	for _, kind := range []string{tele.OnPhoto, tele.OnVideo, tele.OnDocument, tele.OnAudio, tele.OnVoice} {
		b.Handle(kind, h.onMedia)
	}
}

func (h *Handler) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 15*time.Second)
}

func (h *Handler) lang(ctx context.Context, userID int64) Lang {
	u, ok, err := h.store.GetUser(ctx, userID)
	if err != nil || !ok {
		return LangEn
	}
	return toLang(u.LanguageCode)
}

func (h *Handler) setPending(userID int64, m inputMode) {
	h.mu.Lock()
	if m == inputNone {
		delete(h.pending, userID)
	} else {
		h.pending[userID] = m
	}
	h.mu.Unlock()
}

func (h *Handler) pendingMode(userID int64) inputMode {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pending[userID]
}

// --- commands and menus ---

func (h *Handler) onStart(c tele.Context) error {
	ctx, cancel := h.ctx()
	defer cancel()
	if err := h.store.EnsureUser(ctx, c.Sender().ID, ""); err != nil {
		h.log.Error("ensure user failed", logx.Int64("user", c.Sender().ID), logx.Err(err))
	}
	return c.Send(text("welcome", LangFa)+"\n"+text("welcome", LangEn), languageKeyboard())
}

func (h *Handler) onMenu(c tele.Context) error {
	ctx, cancel := h.ctx()
	defer cancel()
	lang := h.lang(ctx, c.Sender().ID)
	return c.Send(text("main_menu", lang), mainMenuKeyboard(lang))
}

// --- plain text routing ---

func (h *Handler) onText(c tele.Context) error {
	ctx, cancel := h.ctx()
	defer cancel()
	userID := c.Sender().ID
	lang := h.lang(ctx, userID)
	body := c.Message().Text

	// A forward settles the add-channel flow regardless of its text.
	if h.pendingMode(userID) == inputChannelForward {
		return h.processChannelForward(ctx, c, lang)
	}
	if h.pendingMode(userID) == inputAnnouncement {
		return h.processAnnouncementDraft(ctx, c, body)
	}
	if h.pendingMode(userID) == inputFooter {
		h.setPending(userID, inputNone)
		if err := h.store.SetFooter(ctx, userID, body); err != nil {
			h.log.Error("set footer failed", logx.Int64("user", userID), logx.Err(err))
			return c.Send(text("error_generic", lang))
		}
		return c.Send(text("footer_set_success", lang))
	}

	if sess, ok := h.sessions.Get(userID); ok {
		switch sess.State() {
		case session.StateChoosingTime:
			return h.processTimeInput(ctx, c, sess, lang, body)
		case session.StateAwaitingCaptionText:
			if err := sess.SetCaption(body); err != nil {
				return c.Send(text("error_generic", lang))
			}
			return h.finalize(ctx, c, sess, lang)
		}
	}

	switch body {
	case text("set_footer_button", LangFa), text("set_footer_button", LangEn):
		h.setPending(userID, inputFooter)
		return c.Send(text("prompt_for_footer", lang))
	case text("manage_channels_button", LangFa), text("manage_channels_button", LangEn):
		return c.Send(text("channels_menu_title", lang), channelsMenuKeyboard(lang))
	}

	// Anything else is content to broadcast.
	return h.onContent(ctx, c, lang)
}

func (h *Handler) onMedia(c tele.Context) error {
	ctx, cancel := h.ctx()
	defer cancel()
	userID := c.Sender().ID
	lang := h.lang(ctx, userID)
	if h.pendingMode(userID) == inputChannelForward {
		return h.processChannelForward(ctx, c, lang)
	}
	return h.onContent(ctx, c, lang)
}

// onContent is the broadcast entry point: any qualifying post opens a new
// session, replacing an unfinished one.
func (h *Handler) onContent(ctx context.Context, c tele.Context, lang Lang) error {
	userID := c.Sender().ID
	if err := h.store.EnsureUser(ctx, userID, ""); err != nil {
		h.log.Error("ensure user failed", logx.Int64("user", userID), logx.Err(err))
	}

	prompt := text("post_action_menu_title", lang)
	if h.ledger.Mode() == quota.ModeUser {
		dec, err := h.ledger.CanAdmit(ctx, userID, userID)
		if err != nil {
			h.log.Error("quota check failed", logx.Int64("user", userID), logx.Err(err))
			return c.Send(text("error_generic", lang))
		}
		if !dec.Admitted {
			return c.Send(text("quota_exhausted", lang))
		}
		if dec.Remaining != quota.Unlimited {
			prompt += "\n" + fmt.Sprintf(text("quota_remaining", lang), dec.Remaining)
		}
	}

	channels, err := h.store.UserChannels(ctx, userID)
	if err != nil {
		h.log.Error("channel list failed", logx.Int64("user", userID), logx.Err(err))
		return c.Send(text("error_generic", lang))
	}
	if len(channels) == 0 {
		return c.Send(text("error_no_channels_for_broadcast", lang))
	}

	h.sessions.Begin(userID, c.Chat().ID, c.Message().ID)
	return c.Send(prompt, postActionKeyboard(lang))
}

func (h *Handler) processTimeInput(ctx context.Context, c tele.Context, sess *session.Session, lang Lang, body string) error {
	switch err := sess.SetTime(body, h.loc, time.Now()); err {
	case nil:
		return h.showChannelSelection(ctx, c, sess, lang, false)
	case session.ErrInvalidTime:
		return c.Send(text("invalid_time", lang))
	case session.ErrPastTime:
		return c.Send(text("past_time", lang))
	default:
		return c.Send(text("error_generic", lang))
	}
}

// --- callback routing ---

func (h *Handler) onCallback(c tele.Context) error {
	ctx, cancel := h.ctx()
	defer cancel()
	userID := c.Sender().ID
	lang := h.lang(ctx, userID)
	data := strings.TrimPrefix(strings.TrimSpace(c.Callback().Data), "\f")

	defer func() {
		_ = c.Respond(&tele.CallbackResponse{})
	}()

	switch {
	case strings.HasPrefix(data, cbLangPrefix):
		return h.processLanguage(ctx, c, strings.TrimPrefix(data, cbLangPrefix))
	case data == cbCancel:
		h.sessions.End(userID)
		h.setPending(userID, inputNone)
		return c.Edit(text("operation_cancelled", lang))
	case data == cbAddChannel:
		h.setPending(userID, inputChannelForward)
		return c.Edit(text("prompt_forward_message", lang))
	case data == cbMyChannels:
		return h.listChannels(ctx, c, lang)
	case strings.HasPrefix(data, cbRemovePrefix):
		return h.onRemoveChannel(ctx, c, lang, strings.TrimPrefix(data, cbRemovePrefix))
	case data == cbAnnounceConfirm:
		return h.onAnnounceConfirm(c)
	case data == cbAnnounceCancel:
		return h.onAnnounceCancel(c)
	case data == cbCalIgnore:
		return nil
	}

	sess, ok := h.sessions.Get(userID)
	if !ok {
		return c.Edit(text("not_in_flow", lang))
	}

	switch {
	case data == cbSendNow:
		if err := sess.ChooseImmediate(); err != nil {
			return c.Edit(text("error_generic", lang))
		}
		return h.showChannelSelection(ctx, c, sess, lang, true)
	case data == cbSendScheduled:
		if err := sess.ChooseScheduled(); err != nil {
			return c.Edit(text("error_generic", lang))
		}
		today := jalali.FromTime(time.Now().In(h.loc))
		return c.Edit(text("choose_date_prompt", lang), calendarKeyboard(today.Year, today.Month))
	case strings.HasPrefix(data, cbCalPrevPrefix):
		y, m, ok := parseYearMonth(strings.TrimPrefix(data, cbCalPrevPrefix))
		if !ok {
			return nil
		}
		return c.Edit(text("choose_date_prompt", lang), calendarKeyboard(y, m))
	case strings.HasPrefix(data, cbCalNextPrefix):
		y, m, ok := parseYearMonth(strings.TrimPrefix(data, cbCalNextPrefix))
		if !ok {
			return nil
		}
		return c.Edit(text("choose_date_prompt", lang), calendarKeyboard(y, m))
	case strings.HasPrefix(data, cbCalDayPrefix):
		return h.processDatePick(ctx, c, sess, lang, strings.TrimPrefix(data, cbCalDayPrefix))
	case strings.HasPrefix(data, cbSelectPrefix):
		id, err := strconv.ParseInt(strings.TrimPrefix(data, cbSelectPrefix), 10, 64)
		if err != nil {
			return nil
		}
		if _, err := sess.ToggleDestination(id); err != nil {
			return c.Edit(text("error_generic", lang))
		}
		return h.showChannelSelection(ctx, c, sess, lang, true)
	case data == cbConfirmChannels:
		return h.processConfirm(ctx, c, sess, lang)
	case data == cbCaptionYes:
		if err := sess.WantCaption(); err != nil {
			return c.Edit(text("error_generic", lang))
		}
		return c.Edit(text("prompt_for_caption", lang))
	case data == cbCaptionNo:
		if err := sess.SkipCaption(); err != nil {
			return c.Edit(text("error_generic", lang))
		}
		return h.finalize(ctx, c, sess, lang)
	}
	return nil
}

func (h *Handler) processLanguage(ctx context.Context, c tele.Context, code string) error {
	userID := c.Sender().ID
	lang := toLang(code)
	if err := h.store.EnsureUser(ctx, userID, string(lang)); err != nil {
		h.log.Error("ensure user failed", logx.Int64("user", userID), logx.Err(err))
	}
	if err := h.store.SetLanguage(ctx, userID, string(lang)); err != nil {
		h.log.Error("set language failed", logx.Int64("user", userID), logx.Err(err))
		return c.Edit(text("error_generic", lang))
	}
	if err := c.Edit(text("lang_selected", lang)); err != nil {
		return err
	}
	return c.Send(text("main_menu", lang), mainMenuKeyboard(lang))
}

func (h *Handler) processDatePick(ctx context.Context, c tele.Context, sess *session.Session, lang Lang, payload string) error {
	parts := strings.Split(payload, "_")
	if len(parts) != 3 {
		return nil
	}
	y, err1 := strconv.Atoi(parts[0])
	m, err2 := strconv.Atoi(parts[1])
	d, err3 := strconv.Atoi(parts[2])
	if err1 != nil || err2 != nil || err3 != nil {
		return nil
	}
	if err := sess.SetDate(jalali.Date{Year: y, Month: m, Day: d}); err != nil {
		return c.Edit(text("error_generic", lang))
	}
	return c.Edit(text("choose_time_prompt", lang))
}

// showChannelSelection renders the destination picker. edit selects
// between editing the callback message and sending a fresh one (the time
// input path arrives via a plain message).
func (h *Handler) showChannelSelection(ctx context.Context, c tele.Context, sess *session.Session, lang Lang, edit bool) error {
	ids, err := h.store.UserChannels(ctx, sess.UserID)
	if err != nil {
		h.log.Error("channel list failed", logx.Int64("user", sess.UserID), logx.Err(err))
		return c.Send(text("error_generic", lang))
	}
	entries := make([]channelEntry, 0, len(ids))
	for _, id := range ids {
		title, err := h.tg.ChatTitle(ctx, id)
		if err != nil {
			h.log.Warn("channel title lookup failed", logx.Int64("channel", id), logx.Err(err))
			title = strconv.FormatInt(id, 10)
		}
		entries = append(entries, channelEntry{ID: id, Title: title})
	}
	kb := channelSelectKeyboard(lang, entries, sess.Destinations())
	if edit {
		return c.Edit(text("select_channels_prompt", lang), kb)
	}
	return c.Send(text("select_channels_prompt", lang), kb)
}

// processConfirm closes destination selection. In channel-keyed quota mode
// every selected channel must still have quota; over-quota channels are
// named and selection stays open.
func (h *Handler) processConfirm(ctx context.Context, c tele.Context, sess *session.Session, lang Lang) error {
	if h.ledger.Mode() == quota.ModeChannel {
		var over []string
		for _, dest := range sess.Destinations() {
			dec, err := h.ledger.CanAdmit(ctx, dest, sess.UserID)
			if err != nil {
				h.log.Error("quota check failed", logx.Int64("channel", dest), logx.Err(err))
				return c.Edit(text("error_generic", lang))
			}
			if !dec.Admitted {
				over = append(over, strconv.FormatInt(dest, 10))
			}
		}
		if len(over) > 0 {
			return c.Edit(fmt.Sprintf(text("channel_over_quota", lang), strings.Join(over, ", ")))
		}
	}
	switch err := sess.ConfirmDestinations(); err {
	case nil:
	case session.ErrEmptyDestinations:
		return h.showChannelSelection(ctx, c, sess, lang, true)
	default:
		return c.Edit(text("error_generic", lang))
	}
	return c.Edit(text("ask_for_caption_prompt", lang), captionChoiceKeyboard(lang))
}

// finalize hands the session to the dispatcher and reports the outcome.
func (h *Handler) finalize(ctx context.Context, c tele.Context, sess *session.Session, lang Lang) error {
	scheduled := sess.Scheduled()
	_ = c.Send(text("sending", lang))
	rep, err := h.dispatcher.Finalize(ctx, sess)
	h.sessions.End(sess.UserID)
	if err != nil {
		h.log.Error("dispatch failed", logx.Int64("user", sess.UserID), logx.Err(err))
		return c.Send(text("error_generic", lang))
	}
	switch {
	case scheduled:
		return c.Send(fmt.Sprintf(text("post_scheduled", lang), rep.Scheduled))
	case rep.Failed > 0:
		return c.Send(fmt.Sprintf(text("broadcast_partial", lang), rep.Delivered, rep.Failed))
	default:
		return c.Send(fmt.Sprintf(text("broadcast_success", lang), rep.Delivered))
	}
}

// --- channel registration ---

// processChannelForward registers the channel a forwarded message came
// from, after checking that both the bot and the user administer it.
func (h *Handler) processChannelForward(ctx context.Context, c tele.Context, lang Lang) error {
	userID := c.Sender().ID
	h.setPending(userID, inputNone)

	origin := forwardedChannel(c.Message())
	if origin == nil || origin.Type != tele.ChatChannel {
		return c.Send(text("forward_not_channel", lang))
	}
	channelID := origin.ID

	registered, err := h.store.IsChannelRegistered(ctx, channelID, userID)
	if err != nil {
		h.log.Error("registration check failed", logx.Int64("channel", channelID), logx.Err(err))
		return c.Send(text("error_generic", lang))
	}
	if registered {
		return c.Send(text("channel_already_registered", lang))
	}

	botAdmin, err := h.tg.IsAdmin(ctx, channelID, h.tg.BotID())
	if err != nil {
		h.log.Warn("bot admin check failed", logx.Int64("channel", channelID), logx.Err(err))
		return c.Send(text("error_bot_not_admin", lang))
	}
	if !botAdmin {
		return c.Send(text("error_bot_not_admin", lang))
	}
	userAdmin, err := h.tg.IsAdmin(ctx, channelID, userID)
	if err != nil || !userAdmin {
		return c.Send(text("error_not_admin_in_channel", lang))
	}

	if err := h.store.AddChannel(ctx, channelID, userID); err != nil {
		h.log.Error("channel registration failed", logx.Int64("channel", channelID), logx.Err(err))
		return c.Send(text("error_generic", lang))
	}
	return c.Send(text("channel_add_success", lang))
}

func (h *Handler) listChannels(ctx context.Context, c tele.Context, lang Lang) error {
	return h.renderChannelList(ctx, c, lang, "")
}

// onRemoveChannel unregisters one channel and refreshes the list. A stale
// button for an already removed channel just re-renders.
func (h *Handler) onRemoveChannel(ctx context.Context, c tele.Context, lang Lang, payload string) error {
	id, err := strconv.ParseInt(payload, 10, 64)
	if err != nil {
		return nil
	}
	if err := h.store.RemoveChannel(ctx, id, c.Sender().ID); err != nil {
		h.log.Error("channel removal failed", logx.Int64("channel", id), logx.Err(err))
		return c.Edit(text("error_generic", lang))
	}
	return h.renderChannelList(ctx, c, lang, text("channel_removed", lang))
}

func (h *Handler) renderChannelList(ctx context.Context, c tele.Context, lang Lang, notice string) error {
	ids, err := h.store.UserChannels(ctx, c.Sender().ID)
	if err != nil {
		h.log.Error("channel list failed", logx.Int64("user", c.Sender().ID), logx.Err(err))
		return c.Edit(text("error_generic", lang))
	}
	var b strings.Builder
	if notice != "" {
		b.WriteString(notice)
		b.WriteString("\n\n")
	}
	if len(ids) == 0 {
		b.WriteString(text("no_channels_found", lang))
		return c.Edit(b.String())
	}
	b.WriteString(text("your_channels_list", lang))
	b.WriteString("\n\n")
	entries := make([]channelEntry, 0, len(ids))
	for _, id := range ids {
		title, err := h.tg.ChatTitle(ctx, id)
		if err != nil {
			title = "?"
		}
		fmt.Fprintf(&b, "- %s (%d)\n", title, id)
		entries = append(entries, channelEntry{ID: id, Title: title})
	}
	return c.Edit(b.String(), channelListKeyboard(entries))
}

// --- executor outcome notifications ---

// JobDelivered and JobFailed implement the dispatcher's Reporter.

func (h *Handler) JobDelivered(ctx context.Context, job storage.Job) {
	lang := h.lang(ctx, job.SubjectID)
	if err := h.tg.SendMessage(ctx, job.SubjectID, text("scheduled_delivered", lang)); err != nil {
		h.log.Warn("delivery notice failed", logx.Int64("user", job.SubjectID), logx.Err(err))
	}
}

func (h *Handler) JobFailed(ctx context.Context, job storage.Job) {
	lang := h.lang(ctx, job.SubjectID)
	if err := h.tg.SendMessage(ctx, job.SubjectID, text("scheduled_failed", lang)); err != nil {
		h.log.Warn("failure notice failed", logx.Int64("user", job.SubjectID), logx.Err(err))
	}
}

// forwardedChannel extracts the source chat of a forwarded message.
// Newer API versions report it in forward_origin, older ones in
// forward_from_chat; both are checked.
func forwardedChannel(m *tele.Message) *tele.Chat {
	if m == nil {
		return nil
	}
	if m.Origin != nil && m.Origin.Chat != nil {
		return m.Origin.Chat
	}
	return m.OriginalChat
}

func parseYearMonth(payload string) (year, month int, ok bool) {
	parts := strings.Split(payload, "_")
	if len(parts) != 2 {
		return 0, 0, false
	}
	y, err1 := strconv.Atoi(parts[0])
	m, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil || m < 1 || m > 12 {
		return 0, 0, false
	}
	return y, m, true
}
