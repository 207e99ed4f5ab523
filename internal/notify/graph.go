package notify

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/Lllllllleong/gisrequestflow/internal/config"
	"golang.org/x/oauth2/clientcredentials"
)

const graphScope = "https://graph.microsoft.com/.default"

// GraphMailer sends mail through the Microsoft Graph sendMail endpoint as the
// configured application.
type GraphMailer struct {
	client   *http.Client
	endpoint string
}

// NewGraphMailer returns a mailer whose HTTP client fetches and refreshes app-only
// tokens from the tenant.
func NewGraphMailer(ctx context.Context, cfg config.NotifyConfig) *GraphMailer {
	cc := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/token", url.PathEscape(cfg.TenantID)),
		Scopes:       []string{graphScope},
	}
	return NewGraphMailerWithClient(cc.Client(ctx), cfg.Endpoint)
}

// NewGraphMailerWithClient uses an already authenticated client (for testing).
func NewGraphMailerWithClient(client *http.Client, endpoint string) *GraphMailer {
	return &GraphMailer{client: client, endpoint: strings.TrimRight(endpoint, "/")}
}

type emailAddress struct {
	Address string `json:"address"`
}

type recipient struct {
	EmailAddress emailAddress `json:"emailAddress"`
}

type itemBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

type fileAttachment struct {
	ODataType    string `json:"@odata.type"`
	Name         string `json:"name"`
	ContentType  string `json:"contentType"`
	ContentBytes string `json:"contentBytes"`
}

type graphMessage struct {
	Subject      string           `json:"subject"`
	Body         itemBody         `json:"body"`
	ToRecipients []recipient      `json:"toRecipients"`
	CcRecipients []recipient      `json:"ccRecipients"`
	Attachments  []fileAttachment `json:"attachments,omitempty"`
}

type sendMailRequest struct {
	Message         graphMessage `json:"message"`
	SaveToSentItems bool         `json:"saveToSentItems"`
}

// Send posts msg and expects 202 Accepted.
func (m *GraphMailer) Send(ctx context.Context, msg Message) error {
	payload, err := buildSendMail(msg)
	if err != nil {
		return err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal sendMail payload: %w", err)
	}

	from := cleanAddress(msg.From)
	endpoint := fmt.Sprintf("%s/v1.0/users/%s/sendMail", m.endpoint, url.PathEscape(from))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("sendMail request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("sendMail returned %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	return nil
}

func buildSendMail(msg Message) (sendMailRequest, error) {
	html, err := RenderHTML(msg)
	if err != nil {
		return sendMailRequest{}, fmt.Errorf("failed to render email body: %w", err)
	}
	gm := graphMessage{
		Subject:      msg.Subject,
		Body:         itemBody{ContentType: "HTML", Content: html},
		ToRecipients: recipients(msg.To),
		CcRecipients: recipients(msg.CC),
	}
	for _, path := range msg.Attachments {
		a, err := attachment(path)
		if err != nil {
			return sendMailRequest{}, err
		}
		gm.Attachments = append(gm.Attachments, a)
	}
	return sendMailRequest{Message: gm, SaveToSentItems: true}, nil
}

func recipients(addrs []string) []recipient {
	out := make([]recipient, 0, len(addrs))
	for _, a := range addrs {
		if a = cleanAddress(a); a != "" {
			out = append(out, recipient{EmailAddress: emailAddress{Address: a}})
		}
	}
	return out
}

// cleanAddress strips whitespace and stray quotes that settings files tend to carry.
func cleanAddress(a string) string {
	return strings.Trim(strings.TrimSpace(a), `"'`)
}

func attachment(path string) (fileAttachment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return fileAttachment{}, fmt.Errorf("failed to read attachment %s: %w", path, err)
	}
	contentType := mime.TypeByExtension(filepath.Ext(path))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return fileAttachment{
		ODataType:    "#microsoft.graph.fileAttachment",
		Name:         filepath.Base(path),
		ContentType:  contentType,
		ContentBytes: base64.StdEncoding.EncodeToString(data),
	}, nil
}
