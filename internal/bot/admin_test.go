package bot

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	tele "gopkg.in/telebot.v4"

	"castbot/internal/quota"
	"castbot/internal/session"
	"castbot/internal/storage"
	"castbot/pkg/logx"
)

// stubTelegram records outgoing messages per chat and can be told to fail
// delivery for specific chats.
type stubTelegram struct {
	mu      sync.Mutex
	sent    map[int64][]string
	failFor map[int64]bool
}

func (s *stubTelegram) SendMessage(ctx context.Context, chatID int64, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failFor[chatID] {
		return errors.New("forbidden: bot was blocked by the user")
	}
	if s.sent == nil {
		s.sent = map[int64][]string{}
	}
	s.sent[chatID] = append(s.sent[chatID], text)
	return nil
}

func (s *stubTelegram) IsAdmin(ctx context.Context, chatID, userID int64) (bool, error) {
	return true, nil
}

func (s *stubTelegram) ChatTitle(ctx context.Context, chatID int64) (string, error) {
	return "chan", nil
}

func (s *stubTelegram) BotID() int64 { return 42 }

func (s *stubTelegram) deliveries(chatID int64) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sent[chatID]
}

// teleCtx is a telebot context stub; only the methods the handlers touch
// are implemented, everything else panics through the embedded nil.
type teleCtx struct {
	tele.Context
	sender   *tele.User
	message  *tele.Message
	callback *tele.Callback
	sent     []string
	edited   []string
}

func (c *teleCtx) Sender() *tele.User       { return c.sender }
func (c *teleCtx) Chat() *tele.Chat         { return &tele.Chat{ID: c.sender.ID} }
func (c *teleCtx) Message() *tele.Message   { return c.message }
func (c *teleCtx) Callback() *tele.Callback { return c.callback }

func (c *teleCtx) Send(what interface{}, opts ...interface{}) error {
	if s, ok := what.(string); ok {
		c.sent = append(c.sent, s)
	}
	return nil
}

func (c *teleCtx) Edit(what interface{}, opts ...interface{}) error {
	if s, ok := what.(string); ok {
		c.edited = append(c.edited, s)
	}
	return nil
}

func (c *teleCtx) Respond(resp ...*tele.CallbackResponse) error { return nil }

func (c *teleCtx) lastSent(t *testing.T) string {
	t.Helper()
	if len(c.sent) == 0 {
		t.Fatal("nothing was sent")
	}
	return c.sent[len(c.sent)-1]
}

func (c *teleCtx) lastEdited(t *testing.T) string {
	t.Helper()
	if len(c.edited) == 0 {
		t.Fatal("nothing was edited")
	}
	return c.edited[len(c.edited)-1]
}

const testOperatorID int64 = 99

func newTestHandler(t *testing.T) (*Handler, storage.Store, *stubTelegram) {
	t.Helper()
	st, err := storage.Open(storage.Config{Path: filepath.Join(t.TempDir(), "bot.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	ledger := quota.New(quota.Config{
		Mode:         quota.ModeUser,
		MonthlyLimit: 2,
		DeveloperID:  testOperatorID,
	}, st, time.UTC, logx.Nop())
	sessions := session.NewManager(time.Hour, logx.Nop())
	tg := &stubTelegram{failFor: map[int64]bool{}}

	h := New(Config{DeveloperID: testOperatorID}, st, sessions, ledger, nil, tg, time.UTC, logx.Nop())
	return h, st, tg
}

func operatorCtx(text string) *teleCtx {
	return &teleCtx{
		sender:  &tele.User{ID: testOperatorID},
		message: &tele.Message{ID: 1, Text: text},
	}
}

func TestAnnounceFanOutTallies(t *testing.T) {
	h, st, tg := newTestHandler(t)
	ctx := context.Background()
	for _, id := range []int64{1, 2, 3} {
		if err := st.EnsureUser(ctx, id, "en"); err != nil {
			t.Fatal(err)
		}
	}
	tg.failFor[2] = true

	start := operatorCtx("/broadcast")
	if err := h.onAnnounce(start); err != nil {
		t.Fatalf("onAnnounce: %v", err)
	}
	if got := start.lastSent(t); got != text("announce_prompt", LangEn) {
		t.Fatalf("prompt = %q", got)
	}

	draft := operatorCtx("service maintenance tonight")
	if err := h.onText(draft); err != nil {
		t.Fatalf("onText draft: %v", err)
	}
	if got := draft.lastSent(t); !strings.Contains(got, "3 user(s)") {
		t.Fatalf("preview = %q, want the recipient count", got)
	}

	confirm := operatorCtx("")
	confirm.callback = &tele.Callback{Data: cbAnnounceConfirm}
	if err := h.onCallback(confirm); err != nil {
		t.Fatalf("onCallback confirm: %v", err)
	}
	want := fmt.Sprintf(text("announce_done", LangEn), 2, 1)
	if got := confirm.lastSent(t); got != want {
		t.Fatalf("summary = %q, want %q", got, want)
	}
	for _, id := range []int64{1, 3} {
		msgs := tg.deliveries(id)
		if len(msgs) != 1 || !strings.Contains(msgs[0], "service maintenance tonight") {
			t.Fatalf("user %d deliveries = %q", id, msgs)
		}
	}
	if len(tg.deliveries(2)) != 0 {
		t.Fatal("blocked user must not be counted as delivered")
	}
}

func TestAnnounceRequiresOperator(t *testing.T) {
	h, st, tg := newTestHandler(t)
	if err := st.EnsureUser(context.Background(), 1, "en"); err != nil {
		t.Fatal(err)
	}

	c := &teleCtx{sender: &tele.User{ID: 5}, message: &tele.Message{ID: 1, Text: "/broadcast"}}
	if err := h.onAnnounce(c); err != nil {
		t.Fatalf("onAnnounce: %v", err)
	}
	if len(c.sent) != 0 {
		t.Fatalf("non-operator got a reply: %q", c.sent)
	}

	confirm := &teleCtx{sender: &tele.User{ID: 5}, callback: &tele.Callback{Data: cbAnnounceConfirm}}
	if err := h.onCallback(confirm); err != nil {
		t.Fatalf("onCallback: %v", err)
	}
	if len(tg.sent) != 0 {
		t.Fatal("non-operator confirm must not send anything")
	}
}

func TestAnnounceCancelDiscardsDraft(t *testing.T) {
	h, st, tg := newTestHandler(t)
	if err := st.EnsureUser(context.Background(), 1, "en"); err != nil {
		t.Fatal(err)
	}

	if err := h.onAnnounce(operatorCtx("/broadcast")); err != nil {
		t.Fatal(err)
	}
	if err := h.onText(operatorCtx("never mind")); err != nil {
		t.Fatal(err)
	}

	cancel := operatorCtx("")
	cancel.callback = &tele.Callback{Data: cbAnnounceCancel}
	if err := h.onCallback(cancel); err != nil {
		t.Fatal(err)
	}
	if got := cancel.lastEdited(t); got != text("announce_cancelled", LangEn) {
		t.Fatalf("cancel reply = %q", got)
	}

	confirm := operatorCtx("")
	confirm.callback = &tele.Callback{Data: cbAnnounceConfirm}
	if err := h.onCallback(confirm); err != nil {
		t.Fatal(err)
	}
	if len(tg.sent) != 0 {
		t.Fatal("cancelled draft must not be delivered")
	}
	if got := confirm.lastEdited(t); got != text("error_generic", LangEn) {
		t.Fatalf("confirm after cancel = %q", got)
	}
}

func TestRemoveChannelCallback(t *testing.T) {
	h, st, _ := newTestHandler(t)
	ctx := context.Background()
	if err := st.EnsureUser(ctx, 5, "en"); err != nil {
		t.Fatal(err)
	}
	for _, ch := range []int64{-100, -200} {
		if err := st.AddChannel(ctx, ch, 5); err != nil {
			t.Fatal(err)
		}
	}

	c := &teleCtx{
		sender:   &tele.User{ID: 5},
		callback: &tele.Callback{Data: cbRemovePrefix + "-100"},
	}
	if err := h.onCallback(c); err != nil {
		t.Fatalf("onCallback: %v", err)
	}
	got := c.lastEdited(t)
	if !strings.Contains(got, text("channel_removed", LangEn)) {
		t.Fatalf("reply = %q, want the removal notice", got)
	}
	if !strings.Contains(got, "(-200)") {
		t.Fatalf("reply = %q, want the surviving channel listed", got)
	}

	left, err := st.UserChannels(ctx, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(left) != 1 || left[0] != -200 {
		t.Fatalf("channels after removal = %v, want [-200]", left)
	}
}

func TestContentShowsRemainingQuota(t *testing.T) {
	h, st, _ := newTestHandler(t)
	ctx := context.Background()
	if err := st.EnsureUser(ctx, 6, "en"); err != nil {
		t.Fatal(err)
	}
	if err := st.AddChannel(ctx, -300, 6); err != nil {
		t.Fatal(err)
	}

	c := &teleCtx{sender: &tele.User{ID: 6}, message: &tele.Message{ID: 10, Text: "big news"}}
	if err := h.onText(c); err != nil {
		t.Fatalf("onText: %v", err)
	}
	want := fmt.Sprintf(text("quota_remaining", LangEn), 2)
	if got := c.lastSent(t); !strings.Contains(got, want) {
		t.Fatalf("prompt = %q, want it to carry %q", got, want)
	}
}
