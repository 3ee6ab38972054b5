// Package notify sends deal alerts to Telegram through direct Bot API calls.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/exiletrade/deal-engine/internal/metrics"
	"github.com/exiletrade/deal-engine/internal/model"
)

// DefaultAPIBase is the Bot API prefix; the token is appended to it.
const DefaultAPIBase = "https://api.telegram.org/bot"

// Notifier sends deal alerts to one Telegram chat.
type Notifier struct {
	botToken string
	chatID   string
	apiBase  string
	client   *http.Client
}

// NewNotifier creates a Telegram notifier.
func NewNotifier(botToken, chatID string) *Notifier {
	return &Notifier{
		botToken: botToken,
		chatID:   chatID,
		apiBase:  DefaultAPIBase,
		client:   &http.Client{Timeout: 30 * time.Second},
	}
}

// WithAPIBase points the notifier at another Bot API host.
func (n *Notifier) WithAPIBase(base string) *Notifier {
	n.apiBase = base
	return n
}

type sendMessageRequest struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	ParseMode             string `json:"parse_mode"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
}

type telegramResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description,omitempty"`
}

// SendDeal sends one formatted deal alert. key names the search the deal
// came from.
func (n *Notifier) SendDeal(ctx context.Context, key string, deal model.ScoredListing) error {
	if err := n.sendMessage(ctx, formatDeal(key, deal)); err != nil {
		return err
	}
	metrics.AlertsSent.WithLabelValues("telegram").Inc()
	return nil
}

// SendStartup announces that the watcher is running.
func (n *Notifier) SendStartup(ctx context.Context, key string, interval time.Duration, minMargin float64) error {
	msg := fmt.Sprintf(
		"<b>Deal watcher started</b>\n"+
			"Search: <code>%s</code>\n"+
			"Interval: %s\n"+
			"Min margin: %.0f%%",
		escapeHTML(key), interval, minMargin,
	)
	return n.sendMessage(ctx, msg)
}

func (n *Notifier) sendMessage(ctx context.Context, text string) error {
	body, err := json.Marshal(sendMessageRequest{
		ChatID:                n.chatID,
		Text:                  text,
		ParseMode:             "HTML",
		DisableWebPagePreview: true,
	})
	if err != nil {
		return fmt.Errorf("marshaling message request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.apiBase+n.botToken+"/sendMessage", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading telegram response: %w", err)
	}

	var tgResp telegramResponse
	if err := json.Unmarshal(respBody, &tgResp); err != nil {
		return fmt.Errorf("parsing telegram response (status %d): %w", resp.StatusCode, err)
	}
	if !tgResp.OK {
		return fmt.Errorf("telegram API error: %s", tgResp.Description)
	}
	return nil
}

func formatDeal(key string, d model.ScoredListing) string {
	var sb strings.Builder

	name := d.Listing.Name
	if d.Listing.BaseType != "" && d.Listing.BaseType != name {
		name += " (" + d.Listing.BaseType + ")"
	}
	fmt.Fprintf(&sb, "<b>%s</b>\n", escapeHTML(name))

	price := d.Listing.Price
	if price == "" {
		price = "unpriced"
	}
	fmt.Fprintf(&sb, "Price: %s", escapeHTML(price))
	if d.Listing.ChaosEquivalent.Valid && d.Listing.PriceCurrency != "chaos" {
		fmt.Fprintf(&sb, " (%s chaos)", d.Listing.ChaosEquivalent.Decimal.StringFixed(1))
	}
	sb.WriteString("\n")

	fmt.Fprintf(&sb, "Market: %s chaos | Margin: %.1f%%\n", d.MarketEstimate.StringFixed(1), d.MarginPct)
	if d.Listing.Seller != "" {
		fmt.Fprintf(&sb, "Seller: %s\n", escapeHTML(d.Listing.Seller))
	}
	fmt.Fprintf(&sb, "Search: <code>%s</code>", escapeHTML(key))
	if d.Listing.TradeURL != "" {
		fmt.Fprintf(&sb, "\n<a href=\"%s\">Open trade search</a>", escapeHTML(d.Listing.TradeURL))
	}
	return sb.String()
}

func escapeHTML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	s = strings.ReplaceAll(s, "\"", "&quot;")
	return s
}
