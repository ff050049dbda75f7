// Package telegram implements the send capability over the Telegram Bot API.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"

	"blastbot/internal/transport"
	logx "blastbot/pkg/logx"
)

type Config struct {
	// APITimeout bounds a single API round-trip.
	APITimeout time.Duration
}

// Account pairs an opaque pool handle with the token backing it.
type Account struct {
	Handle string
	Token  string
}

// Adapter holds one bot session per account handle. Sessions are created
// lazily on first use so startup does not depend on the network.
type Adapter struct {
	cfg  Config
	log  logx.Logger
	http *http.Client

	mu     sync.Mutex
	tokens map[string]string
	bots   map[string]*tele.Bot
}

func New(cfg Config, accounts []Account, log logx.Logger) (*Adapter, error) {
	if len(accounts) == 0 {
		return nil, errors.New("telegram: no accounts configured")
	}
	timeout := cfg.APITimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	tokens := make(map[string]string, len(accounts))
	for _, a := range accounts {
		h := strings.TrimSpace(a.Handle)
		if h == "" || strings.TrimSpace(a.Token) == "" {
			return nil, fmt.Errorf("telegram: account %q has no token", a.Handle)
		}
		tokens[h] = a.Token
	}

	return &Adapter{
		cfg:    cfg,
		log:    log,
		http:   &http.Client{Timeout: timeout},
		tokens: tokens,
		bots:   map[string]*tele.Bot{},
	}, nil
}

func (a *Adapter) bot(account string) (*tele.Bot, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if b := a.bots[account]; b != nil {
		return b, nil
	}
	token, ok := a.tokens[account]
	if !ok {
		return nil, fmt.Errorf("telegram: unknown account %q", account)
	}
	b, err := tele.NewBot(tele.Settings{
		Token:   token,
		Client:  a.http,
		Offline: true, // sessions are validated by the first real send
	})
	if err != nil {
		return nil, err
	}
	a.bots[account] = b
	return b, nil
}

// userRecipient addresses a target by public handle.
type userRecipient string

func (r userRecipient) Recipient() string { return "@" + string(r) }

func (a *Adapter) Send(ctx context.Context, account string, to transport.Target, msg transport.Message) error {
	b, err := a.bot(account)
	if err != nil {
		// No session means this account cannot send at all.
		return fmt.Errorf("%w: %v", transport.ErrAccountRestricted, err)
	}

	var rcpt tele.Recipient
	if to.UserID != 0 {
		rcpt = tele.ChatID(to.UserID)
	} else {
		rcpt = userRecipient(to.Handle)
	}

	opt := &tele.SendOptions{
		ParseMode:             msg.ParseMode,
		DisableWebPagePreview: true,
	}

	done := make(chan error, 1)
	go func() { // telebot has no context-aware send; bound it ourselves.
		_, err := b.Send(rcpt, msg.Text, opt)
		done <- err
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err = <-done:
	}
	if err == nil {
		return nil
	}

	mapped := classify(err)
	a.log.Debug("send failed",
		logx.String("account", account),
		logx.String("target", to.Key()),
		logx.Err(mapped),
	)
	return mapped
}

// classify maps telebot/network errors onto the transport taxonomy.
func classify(err error) error {
	var fe tele.FloodError
	if errors.As(err, &fe) {
		return &transport.FloodError{RetryAfter: time.Duration(fe.RetryAfter) * time.Second, Err: err}
	}

	switch {
	case errors.Is(err, tele.ErrBlockedByUser),
		errors.Is(err, tele.ErrUserIsDeactivated),
		errors.Is(err, tele.ErrChatNotFound):
		return fmt.Errorf("%w: %v", transport.ErrTargetUnreachable, err)
	case errors.Is(err, tele.ErrUnauthorized):
		return fmt.Errorf("%w: %v", transport.ErrAccountRestricted, err)
	}

	var te *tele.Error
	if errors.As(err, &te) {
		switch {
		case te.Code == 401:
			return fmt.Errorf("%w: %v", transport.ErrAccountRestricted, err)
		case te.Code == 400 || te.Code == 403 || te.Code == 404:
			return fmt.Errorf("%w: %v", transport.ErrTargetUnreachable, err)
		}
	}

	var ne net.Error
	if errors.As(err, &ne) {
		return err // plain transient
	}
	return err
}
