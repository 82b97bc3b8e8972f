package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// TelegramClient 封裝 Bot API 的 sendMessage / sendPhoto / sendDocument，訊息固定送往同一個 chat。
type TelegramClient struct {
	token      string
	chatID     int64
	prefix     string
	baseURL    string
	httpClient *http.Client
}

func NewTelegramClient(token string, chatID int64, prefix string) *TelegramClient {
	return &TelegramClient{
		token:   token,
		chatID:  chatID,
		prefix:  prefix,
		baseURL: "https://api.telegram.org",
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// SendMessage 將文字訊息推送到指定 chat。
func (c *TelegramClient) SendMessage(ctx context.Context, text string) error {
	if err := c.ready(); err != nil {
		return err
	}
	payload := map[string]interface{}{
		"chat_id": c.chatID,
		"text":    c.withPrefix(text),
	}
	return c.postJSON(ctx, "sendMessage", payload)
}

// SendPhoto 以 URL 傳送圖片，caption 可為空。
func (c *TelegramClient) SendPhoto(ctx context.Context, photoURL, caption string) error {
	if err := c.ready(); err != nil {
		return err
	}
	if photoURL == "" {
		return fmt.Errorf("photo url is required")
	}
	payload := map[string]interface{}{
		"chat_id": c.chatID,
		"photo":   photoURL,
	}
	if caption != "" {
		payload["caption"] = c.withPrefix(caption)
	}
	return c.postJSON(ctx, "sendPhoto", payload)
}

// SendDocument 以 multipart 上傳本機檔案。
func (c *TelegramClient) SendDocument(ctx context.Context, path, caption string) error {
	if err := c.ready(); err != nil {
		return err
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open document: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField("chat_id", strconv.FormatInt(c.chatID, 10)); err != nil {
		return err
	}
	if caption != "" {
		if err := w.WriteField("caption", c.withPrefix(caption)); err != nil {
			return err
		}
	}
	part, err := w.CreateFormFile("document", filepath.Base(path))
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, f); err != nil {
		return fmt.Errorf("read document: %w", err)
	}
	if err := w.Close(); err != nil {
		return err
	}
	return c.post(ctx, "sendDocument", w.FormDataContentType(), &buf)
}

func (c *TelegramClient) ready() error {
	if c == nil {
		return fmt.Errorf("telegram client is nil")
	}
	if c.token == "" || c.chatID == 0 {
		return fmt.Errorf("telegram token or chat_id missing")
	}
	return nil
}

func (c *TelegramClient) withPrefix(text string) string {
	if c.prefix == "" {
		return text
	}
	return fmt.Sprintf("[%s] %s", c.prefix, text)
}

func (c *TelegramClient) postJSON(ctx context.Context, method string, payload map[string]interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return c.post(ctx, method, "application/json", bytes.NewReader(body))
}

func (c *TelegramClient) post(ctx context.Context, method, contentType string, body io.Reader) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method), body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("telegram %s failed status=%d body=%s", method, resp.StatusCode, string(raw))
	}
	return nil
}
