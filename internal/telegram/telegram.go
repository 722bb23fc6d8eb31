// Package telegram adapts the bot API behind the narrow surfaces the rest
// of the program needs: message delivery for the dispatcher and chat
// inspection for channel registration.
package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"

	"castbot/pkg/logx"
)

type Config struct {
	Token       string
	PollTimeout time.Duration
}

type Client struct {
	cfg Config
	log logx.Logger
	bot *tele.Bot

	runMu     sync.Mutex
	running   bool
	runCancel context.CancelFunc
	runWG     sync.WaitGroup
}

func New(cfg Config, log logx.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	return &Client{cfg: cfg, log: log, bot: b}, nil
}

// Bot exposes the underlying handle for handler registration.
func (c *Client) Bot() *tele.Bot { return c.bot }

// BotID is the bot's own user id.
func (c *Client) BotID() int64 { return c.bot.Me.ID }

func (c *Client) Start(ctx context.Context) {
	c.runMu.Lock()
	if c.running {
		c.runMu.Unlock()
		return
	}
	c.running = true
	rctx, cancel := context.WithCancel(ctx)
	c.runCancel = cancel
	c.runWG.Add(1)
	c.runMu.Unlock()

	go func() {
		defer c.runWG.Done()
		go func() {
			<-rctx.Done()
			c.bot.Stop()
		}()
		c.log.Info("polling started")
		c.bot.Start() // blocks until Stop() is called
	}()
}

// Stop shuts the long poller down without letting a pending getUpdates
// call stall the whole shutdown.
func (c *Client) Stop(ctx context.Context) error {
	c.runMu.Lock()
	cancel := c.runCancel
	c.runCancel = nil
	wasRunning := c.running
	c.running = false
	c.runMu.Unlock()

	if !wasRunning {
		return nil
	}
	if cancel != nil {
		cancel()
	}
	go c.bot.Stop()

	done := make(chan struct{})
	go func() {
		c.runWG.Wait()
		close(done)
	}()

	grace := 2 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem > 0 && rem < grace {
			grace = rem
		}
	}
	t := time.NewTimer(grace)
	defer t.Stop()

	select {
	case <-done:
		c.log.Info("polling stopped")
		return nil
	case <-ctx.Done():
		c.log.Warn("telegram stop cancelled", logx.Err(ctx.Err()))
		return ctx.Err()
	case <-t.C:
		c.log.Warn("telegram stop grace elapsed, continuing shutdown")
		return nil
	}
}

// CopyMessage re-posts the source message into dest without the forward
// header, replacing the caption when one is given. telebot's Copy helper
// cannot override the caption, so this goes through the raw API.
func (c *Client) CopyMessage(ctx context.Context, dest, fromChat int64, messageID int, caption string) (int, error) {
	params := map[string]string{
		"chat_id":      strconv.FormatInt(dest, 10),
		"from_chat_id": strconv.FormatInt(fromChat, 10),
		"message_id":   strconv.Itoa(messageID),
	}
	if caption != "" {
		params["caption"] = caption
	}
	data, err := c.bot.Raw("copyMessage", params)
	if err != nil {
		return 0, err
	}
	var resp struct {
		Result struct {
			MessageID int `json:"message_id"`
		} `json:"result"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return 0, err
	}
	return resp.Result.MessageID, nil
}

func (c *Client) SendMessage(ctx context.Context, chatID int64, text string) error {
	_, err := c.bot.Send(&tele.Chat{ID: chatID}, text)
	return err
}

// IsAdmin reports whether the user is a creator or administrator of the
// chat. The bot must itself be a member to ask.
func (c *Client) IsAdmin(ctx context.Context, chatID, userID int64) (bool, error) {
	member, err := c.bot.ChatMemberOf(&tele.Chat{ID: chatID}, &tele.User{ID: userID})
	if err != nil {
		return false, err
	}
	return member.Role == tele.Creator || member.Role == tele.Administrator, nil
}

// ChatTitle resolves the display title for a chat id.
func (c *Client) ChatTitle(ctx context.Context, chatID int64) (string, error) {
	chat, err := c.bot.ChatByID(chatID)
	if err != nil {
		return "", err
	}
	return chat.Title, nil
}
