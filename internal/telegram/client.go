// Package telegram provides a client for sending notifications via Telegram Bot API.
// It formats seasonality digests into human-readable messages and handles
// delivery with retry logic for reliability.
//
// Messages use MarkdownV2; every piece of user-supplied text goes through
// escapeMarkdownV2. Digests longer than a single Telegram message are split at
// company boundaries.
package telegram

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/rewired-gh/callseason/internal/models"
)

// maxMessageLen stays under Telegram's 4096 character limit.
const maxMessageLen = 4000

// sender is the part of tgbotapi.BotAPI the client uses.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Client handles Telegram notifications
type Client struct {
	bot            sender
	chatID         int64
	maxRetries     int
	retryDelayBase time.Duration
	now            func() time.Time
}

// NewClient creates a new Telegram client
func NewClient(botToken, chatID string, maxRetries int, retryDelayBase time.Duration) (*Client, error) {
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}
	return newClient(bot, chatID, maxRetries, retryDelayBase)
}

func newClient(bot sender, chatID string, maxRetries int, retryDelayBase time.Duration) (*Client, error) {
	chatIDInt, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chat ID: %w", err)
	}

	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelayBase <= 0 {
		retryDelayBase = time.Second
	}

	return &Client{
		bot:            bot,
		chatID:         chatIDInt,
		maxRetries:     maxRetries,
		retryDelayBase: retryDelayBase,
		now:            time.Now,
	}, nil
}

// SendDigest sends the seasonality digest of a run. failed is the number of
// companies that could not be analyzed.
func (c *Client) SendDigest(runID string, digests []models.CompanyDigest, failed int) error {
	for i, message := range c.formatDigest(runID, digests, failed) {
		if err := c.send(message); err != nil {
			return fmt.Errorf("failed to send digest part %d: %w", i+1, err)
		}
	}
	return nil
}

// SendError reports a failed digest run.
func (c *Client) SendError(err error) error {
	message := fmt.Sprintf("⚠️ *Seasonality digest failed*\n\n%s\n\n_%s_",
		escapeMarkdownV2(err.Error()),
		escapeMarkdownV2(c.now().UTC().Format("2006-01-02 15:04 MST")))
	return c.send(message)
}

// SendRecovery reports that digests succeed again after failedRuns failures.
func (c *Client) SendRecovery(failedRuns int) error {
	runs := "run"
	if failedRuns != 1 {
		runs = "runs"
	}
	message := fmt.Sprintf("✅ *Seasonality digest recovered* after %d failed %s",
		failedRuns, runs)
	return c.send(message)
}

// send delivers one message with linear backoff between attempts
func (c *Client) send(text string) error {
	msg := tgbotapi.NewMessage(c.chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdownV2
	msg.DisableWebPagePreview = true

	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		_, err := c.bot.Send(msg)
		if err == nil {
			return nil
		}
		lastErr = err
		if i < c.maxRetries-1 {
			time.Sleep(c.retryDelayBase * time.Duration(i+1))
		}
	}

	return fmt.Errorf("failed to send message after %d retries: %w", c.maxRetries, lastErr)
}

// formatDigest renders a digest as one or more messages, never splitting a company.
func (c *Client) formatDigest(runID string, digests []models.CompanyDigest, failed int) []string {
	header := "📊 *Seasonality Digest*\n"
	if len(digests) > 0 {
		header += fmt.Sprintf("📅 %s\n", escapeMarkdownV2(digests[0].GeneratedAt.UTC().Format("2006-01-02 15:04 MST")))
	}
	header += "\n"

	footer := fmt.Sprintf("%d %s analyzed",
		len(digests), plural(len(digests), "company", "companies"))
	if failed > 0 {
		footer += fmt.Sprintf(", %d failed", failed)
	}
	if runID != "" {
		footer += "\nrun " + shortID(runID)
	}
	footer = "_" + escapeMarkdownV2(footer) + "_"

	if len(digests) == 0 {
		return []string{header + "No companies to report\\.\n\n" + footer}
	}

	var messages []string
	var b strings.Builder
	b.WriteString(header)
	for i, d := range digests {
		entry := formatCompany(i+1, d)
		if b.Len() > len(header) && b.Len()+len(entry)+len(footer) > maxMessageLen {
			messages = append(messages, b.String())
			b.Reset()
		}
		b.WriteString(entry)
	}
	b.WriteString(footer)
	return append(messages, b.String())
}

func formatCompany(n int, d models.CompanyDigest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d\\. *%s*\n", n, escapeMarkdownV2(d.CompanyName))

	years := strconv.Itoa(d.FirstYear)
	if d.LastYear != d.FirstYear {
		years += "-" + strconv.Itoa(d.LastYear)
	}
	fmt.Fprintf(&b, "   📞 %s calls, %s\n",
		escapeMarkdownV2(humanize.Comma(int64(math.Round(d.TotalVolume)))),
		escapeMarkdownV2(years))

	if len(d.States) > 0 {
		fmt.Fprintf(&b, "   📍 %s\n", escapeMarkdownV2(strings.Join(d.States, ", ")))
	}
	fmt.Fprintf(&b, "   📈 Peaks: %s\n", formatLabels(d.Peaks))
	fmt.Fprintf(&b, "   📉 Valleys: %s\n\n", formatLabels(d.Valleys))
	return b.String()
}

func formatLabels(labels []string) string {
	if len(labels) == 0 {
		return "none"
	}
	return escapeMarkdownV2(strings.Join(labels, ", "))
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// escapeMarkdownV2 escapes special characters for Telegram MarkdownV2
func escapeMarkdownV2(text string) string {
	// Characters that need escaping in MarkdownV2:
	// _ * [ ] ( ) ~ ` > # + - = | { } . ! and the backslash itself
	var b strings.Builder
	b.Grow(len(text))
	for _, char := range text {
		switch char {
		case '\\', '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!':
			b.WriteByte('\\')
		}
		b.WriteRune(char)
	}
	return b.String()
}
