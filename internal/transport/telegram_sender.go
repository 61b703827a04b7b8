package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// TelegramSender delivers messages through the Telegram Bot API.
// Media references are Telegram file_ids and are forwarded unchanged:
// one sendPhoto per media ref (the first carrying the text as its
// caption), or a plain sendMessage when the entry has no media.
type TelegramSender struct {
	logger     *slog.Logger
	httpClient *http.Client
	apiBaseURL string
	botToken   string
}

const defaultTelegramAPIBaseURL = "https://api.telegram.org"

// NewTelegramSender creates a TelegramSender. apiBaseURL may be empty
// to use the public Bot API endpoint; tests point it at a local stub.
func NewTelegramSender(logger *slog.Logger, botToken, apiBaseURL string, httpClient *http.Client) *TelegramSender {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	if apiBaseURL == "" {
		apiBaseURL = defaultTelegramAPIBaseURL
	}
	return &TelegramSender{
		logger:     logger.With("transport", "telegram"),
		httpClient: httpClient,
		apiBaseURL: apiBaseURL,
		botToken:   botToken,
	}
}

func (s *TelegramSender) Name() string { return "telegram" }

type telegramSendMessageRequest struct {
	ChatID string `json:"chat_id"`
	Text   string `json:"text"`
}

type telegramSendPhotoRequest struct {
	ChatID  string `json:"chat_id"`
	Photo   string `json:"photo"`
	Caption string `json:"caption,omitempty"`
}

type telegramResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description,omitempty"`
	ErrorCode   int    `json:"error_code,omitempty"`
	Result      struct {
		MessageID int64 `json:"message_id"`
	} `json:"result"`
}

func (s *TelegramSender) Send(ctx context.Context, msg Message) (*Receipt, error) {
	s.logger.DebugContext(ctx, "TelegramSender: Send called",
		"recipient", msg.RecipientAddress, "media_count", len(msg.MediaRefs))

	if len(msg.MediaRefs) == 0 {
		return s.call(ctx, "sendMessage", telegramSendMessageRequest{
			ChatID: msg.RecipientAddress,
			Text:   msg.Text,
		})
	}

	var receipt *Receipt
	for i, ref := range msg.MediaRefs {
		caption := ""
		if i == 0 {
			caption = msg.Text
		}
		r, err := s.call(ctx, "sendPhoto", telegramSendPhotoRequest{
			ChatID:  msg.RecipientAddress,
			Photo:   ref,
			Caption: caption,
		})
		if err != nil {
			return nil, err
		}
		receipt = r
	}
	return receipt, nil
}

func (s *TelegramSender) call(ctx context.Context, method string, payload any) (*Receipt, error) {
	reqBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal telegram %s request: %w", method, err)
	}

	url := fmt.Sprintf("%s/bot%s/%s", s.apiBaseURL, s.botToken, method)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(reqBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram %s request: %w", method, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := s.httpClient.Do(httpReq)
	if err != nil {
		// Network-level failures (including client timeouts) may never
		// have reached Telegram.
		return nil, NewRetryableError("telegram %s request failed: %v", method, err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, 1<<20))
	if err != nil {
		return nil, NewRetryableError("failed to read telegram %s response: %v", method, err)
	}

	var resp telegramResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, NewRetryableError("failed to decode telegram %s response: %v", method, err)
	}

	if !resp.OK {
		return nil, s.classify(httpResp.StatusCode, resp.Description)
	}

	return &Receipt{ProviderMessageID: fmt.Sprintf("%d", resp.Result.MessageID)}, nil
}

// classify maps Bot API failures onto the retry policy. A bot blocked
// by the user or an unknown chat will never succeed; rate limits and
// server-side errors will.
func (s *TelegramSender) classify(statusCode int, description string) error {
	switch {
	case statusCode == http.StatusForbidden: // bot blocked by the user
		return NewPermanentError("telegram: %s", description)
	case statusCode == http.StatusBadRequest: // chat not found, invalid chat_id
		return NewPermanentError("telegram: %s", description)
	case statusCode == http.StatusTooManyRequests:
		return NewRetryableError("telegram rate limited: %s", description)
	case statusCode >= 500:
		return NewRetryableError("telegram server error (%d): %s", statusCode, description)
	default:
		return NewRetryableError("telegram error (%d): %s", statusCode, description)
	}
}

var _ Sender = (*TelegramSender)(nil)
