package mailer

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/oauth2/clientcredentials"
)

const (
	graphBaseURL = "https://graph.microsoft.com/v1.0"
	graphScope   = "https://graph.microsoft.com/.default"
)

// GraphSender delivers through the Microsoft Graph sendMail endpoint using an
// app-only client credentials token.
type GraphSender struct {
	cfg      Config
	BaseURL  string
	TokenURL string
}

func NewGraphSender(cfg Config) (*GraphSender, error) {
	if cfg.TenantID == "" || cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, errors.New("GRAPH_TENANT_ID, GRAPH_CLIENT_ID and GRAPH_CLIENT_SECRET are required for graph delivery")
	}
	if cfg.User == "" {
		return nil, errors.New("EMAIL_USER is required for graph delivery")
	}
	return &GraphSender{
		cfg:      cfg,
		BaseURL:  graphBaseURL,
		TokenURL: fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/token", url.PathEscape(cfg.TenantID)),
	}, nil
}

type graphAddress struct {
	EmailAddress struct {
		Address string `json:"address"`
	} `json:"emailAddress"`
}

type graphAttachment struct {
	ODataType    string `json:"@odata.type"`
	Name         string `json:"name"`
	ContentType  string `json:"contentType"`
	ContentBytes string `json:"contentBytes"`
}

type graphMessage struct {
	Subject string `json:"subject"`
	Body    struct {
		ContentType string `json:"contentType"`
		Content     string `json:"content"`
	} `json:"body"`
	ToRecipients []graphAddress    `json:"toRecipients"`
	Attachments  []graphAttachment `json:"attachments"`
}

type graphSendMail struct {
	Message         graphMessage `json:"message"`
	SaveToSentItems bool         `json:"saveToSentItems"`
}

func (g *GraphSender) Send(ctx context.Context, msg Message) error {
	if err := validate(msg); err != nil {
		return err
	}
	raw, err := os.ReadFile(msg.AttachmentPath)
	if err != nil {
		return err
	}

	var payload graphSendMail
	payload.SaveToSentItems = true
	payload.Message.Subject = Subject(msg.Period, g.cfg.CompanyName)
	payload.Message.Body.ContentType = "Text"
	payload.Message.Body.Content = Body(msg.Name, msg.Period, g.cfg.CompanyName)
	var to graphAddress
	to.EmailAddress.Address = msg.To
	payload.Message.ToRecipients = []graphAddress{to}
	payload.Message.Attachments = []graphAttachment{{
		ODataType:    "#microsoft.graph.fileAttachment",
		Name:         filepath.Base(msg.AttachmentPath),
		ContentType:  "application/pdf",
		ContentBytes: base64.StdEncoding.EncodeToString(raw),
	}}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	creds := clientcredentials.Config{
		ClientID:     g.cfg.ClientID,
		ClientSecret: g.cfg.ClientSecret,
		TokenURL:     g.TokenURL,
		Scopes:       []string{graphScope},
	}
	client := creds.Client(ctx)

	endpoint := strings.TrimRight(g.BaseURL, "/") + "/users/" + url.PathEscape(g.cfg.User) + "/sendMail"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("graph sendMail: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return fmt.Errorf("graph sendMail: status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	return nil
}
