// Package notification delivers trade and risk alerts to configured
// providers. Delivery is fire-and-forget: failures are logged, never
// propagated to the trading path.
package notification

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"futures-trading-engine/config"
)

// AlertKind represents the type of trade alert
type AlertKind string

const (
	AlertTradeOpened  AlertKind = "trade_opened"
	AlertTradeClosed  AlertKind = "trade_closed"
	AlertPartialClose AlertKind = "partial_close"
	AlertRisk         AlertKind = "risk"
)

// Notification is a rendered alert handed to providers.
type Notification struct {
	Kind      AlertKind
	Title     string
	Message   string
	Symbol    string
	Price     float64
	PnL       float64
	Timestamp time.Time
}

// Notifier is a single delivery provider
type Notifier interface {
	Send(notification *Notification) error
	Name() string
	IsEnabled() bool
}

// Manager fans alerts out to all enabled providers.
type Manager struct {
	notifiers []Notifier
	enabled   bool
	logger    zerolog.Logger
}

// NewManager creates a notification manager from config.
func NewManager(cfg config.NotificationConfig, logger zerolog.Logger) *Manager {
	m := &Manager{
		enabled: cfg.Enabled,
		logger:  logger.With().Str("component", "Notifier").Logger(),
	}
	m.AddNotifier(NewTelegramNotifier(cfg.Telegram))
	m.AddNotifier(NewDiscordNotifier(cfg.Discord))
	return m
}

// AddNotifier adds a notification provider
func (m *Manager) AddNotifier(n Notifier) {
	m.notifiers = append(m.notifiers, n)
}

func (m *Manager) send(n *Notification) {
	if !m.enabled {
		return
	}
	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now()
	}
	for _, notifier := range m.notifiers {
		if !notifier.IsEnabled() {
			continue
		}
		if err := notifier.Send(n); err != nil {
			m.logger.Warn().
				Err(err).
				Str("provider", notifier.Name()).
				Str("kind", string(n.Kind)).
				Msg("Notification delivery failed")
		}
	}
}

// TradeOpened sends a position-opened alert.
func (m *Manager) TradeOpened(symbol, side string, entryPrice, size, stopLoss float64) {
	m.send(&Notification{
		Kind:    AlertTradeOpened,
		Title:   fmt.Sprintf("Position opened: %s", symbol),
		Message: fmt.Sprintf("%s %s @ %.4f\nSize: %.6f | SL: %.4f", side, symbol, entryPrice, size, stopLoss),
		Symbol:  symbol,
		Price:   entryPrice,
	})
}

// TradeClosed sends a full-close alert.
func (m *Manager) TradeClosed(symbol, reason string, entryPrice, exitPrice, pnl, pnlPercent float64) {
	m.send(&Notification{
		Kind:    AlertTradeClosed,
		Title:   fmt.Sprintf("Position closed: %s", symbol),
		Message: fmt.Sprintf("Entry %.4f -> Exit %.4f\nP&L: %.4f (%.2f%%)\nReason: %s", entryPrice, exitPrice, pnl, pnlPercent, reason),
		Symbol:  symbol,
		Price:   exitPrice,
		PnL:     pnl,
	})
}

// PartialClose sends a take-profit alert.
func (m *Manager) PartialClose(symbol string, level int, exitPrice, quantity, pnl float64) {
	m.send(&Notification{
		Kind:    AlertPartialClose,
		Title:   fmt.Sprintf("Take profit %d hit: %s", level, symbol),
		Message: fmt.Sprintf("Closed %.6f @ %.4f\nP&L: %.4f", quantity, exitPrice, pnl),
		Symbol:  symbol,
		Price:   exitPrice,
		PnL:     pnl,
	})
}

// RiskAlert sends a risk alert.
func (m *Manager) RiskAlert(message string) {
	m.send(&Notification{
		Kind:    AlertRisk,
		Title:   "Risk alert",
		Message: message,
	})
}

// =============================================================================
// TELEGRAM NOTIFIER
// =============================================================================

// TelegramNotifier sends notifications via Telegram
type TelegramNotifier struct {
	botToken string
	chatID   string
	enabled  bool
	client   *http.Client
}

// NewTelegramNotifier creates a new Telegram notifier
func NewTelegramNotifier(cfg config.TelegramConfig) *TelegramNotifier {
	return &TelegramNotifier{
		botToken: cfg.BotToken,
		chatID:   cfg.ChatID,
		enabled:  cfg.Enabled && cfg.BotToken != "" && cfg.ChatID != "",
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (t *TelegramNotifier) Name() string {
	return "telegram"
}

func (t *TelegramNotifier) IsEnabled() bool {
	return t.enabled
}

func (t *TelegramNotifier) Send(notification *Notification) error {
	if !t.enabled {
		return nil
	}

	message := fmt.Sprintf("*%s*\n\n%s", notification.Title, notification.Message)
	payload := map[string]interface{}{
		"chat_id":    t.chatID,
		"text":       message,
		"parse_mode": "Markdown",
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", t.botToken)
	resp, err := t.client.Post(url, "application/json", bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to send telegram message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram API returned status %d", resp.StatusCode)
	}
	return nil
}

// =============================================================================
// DISCORD NOTIFIER
// =============================================================================

// DiscordNotifier sends notifications via Discord webhook
type DiscordNotifier struct {
	webhookURL string
	enabled    bool
	client     *http.Client
}

// NewDiscordNotifier creates a new Discord notifier
func NewDiscordNotifier(cfg config.DiscordConfig) *DiscordNotifier {
	return &DiscordNotifier{
		webhookURL: cfg.WebhookURL,
		enabled:    cfg.Enabled && cfg.WebhookURL != "",
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

func (d *DiscordNotifier) Name() string {
	return "discord"
}

func (d *DiscordNotifier) IsEnabled() bool {
	return d.enabled
}

func (d *DiscordNotifier) Send(notification *Notification) error {
	if !d.enabled {
		return nil
	}

	color := 0x00FF00
	if notification.Kind == AlertRisk || notification.PnL < 0 {
		color = 0xFF0000
	}

	embed := map[string]interface{}{
		"title":       notification.Title,
		"description": notification.Message,
		"color":       color,
		"timestamp":   notification.Timestamp.Format(time.RFC3339),
	}
	if notification.Symbol != "" {
		embed["fields"] = []map[string]interface{}{
			{"name": "Symbol", "value": notification.Symbol, "inline": true},
			{"name": "Price", "value": fmt.Sprintf("%.4f", notification.Price), "inline": true},
		}
	}

	payload := map[string]interface{}{
		"embeds": []map[string]interface{}{embed},
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal discord payload: %w", err)
	}

	resp, err := d.client.Post(d.webhookURL, "application/json", bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to send discord message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("discord API returned status %d", resp.StatusCode)
	}
	return nil
}
