package gmail

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"tcgledger/internal"
	"tcgledger/internal/config"
	"tcgledger/internal/mail"
)

type Connector struct {
	service *gmail.Service
}

func NewConnector(cfg config.Config) (*Connector, error) {
	if err := cfg.Require("GMAIL_CLIENT_ID", cfg.GmailClientID); err != nil {
		return nil, err
	}
	if err := cfg.Require("GMAIL_CLIENT_SECRET", cfg.GmailClientSecret); err != nil {
		return nil, err
	}
	if err := cfg.Require("GMAIL_REFRESH_TOKEN", cfg.GmailRefreshToken); err != nil {
		return nil, err
	}

	scopes := []string{gmail.GmailReadonlyScope}
	oauthCfg := &oauth2.Config{
		ClientID:     cfg.GmailClientID,
		ClientSecret: cfg.GmailClientSecret,
		Endpoint:     google.Endpoint,
		RedirectURL:  cfg.GmailRedirectURI,
		Scopes:       scopes,
	}

	tokenSource := oauthCfg.TokenSource(context.Background(), &oauth2.Token{RefreshToken: cfg.GmailRefreshToken})
	svc, err := gmail.NewService(context.Background(), option.WithTokenSource(tokenSource))
	if err != nil {
		return nil, mail.WrapError(mail.KindAuth, "gmail service", err)
	}

	return &Connector{service: svc}, nil
}

func (c *Connector) FetchCandidates(ctx context.Context, filter mail.Filter) ([]internal.RawMessage, error) {
	max := int64(filter.Max)
	if max <= 0 {
		max = 50
	}

	listCall := c.service.Users.Messages.List("me").Q(buildQuery(filter)).MaxResults(max).Context(ctx)
	if filter.Mailbox != "" {
		listCall = listCall.LabelIds(filter.Mailbox)
	}
	listResp, err := listCall.Do()
	if err != nil {
		return nil, classifyAPIErr("list", err)
	}

	out := make([]internal.RawMessage, 0, len(listResp.Messages))
	for _, msgRef := range listResp.Messages {
		if msgRef.Id == "" {
			continue
		}

		rawResp, err := c.service.Users.Messages.Get("me", msgRef.Id).Format("raw").Context(ctx).Do()
		if err != nil {
			return nil, classifyAPIErr("get raw", err)
		}
		metaResp, err := c.service.Users.Messages.Get("me", msgRef.Id).Format("metadata").MetadataHeaders("Subject", "From", "Date", "Message-ID").Context(ctx).Do()
		if err != nil {
			return nil, classifyAPIErr("get metadata", err)
		}
		if rawResp.Raw == "" {
			continue
		}

		rawBytes, err := decodeBase64URL(rawResp.Raw)
		if err != nil {
			return nil, mail.WrapError(mail.KindConnection, "decode raw", err)
		}

		headers := map[string]string{}
		if metaResp.Payload != nil {
			for _, h := range metaResp.Payload.Headers {
				headers[strings.ToLower(h.Name)] = h.Value
			}
		}

		subject := headers["subject"]
		from := headers["from"]
		if !filter.Matches(from, subject) {
			continue
		}

		received := time.Now().UTC().Format(time.RFC3339)
		if dateHeader := headers["date"]; dateHeader != "" {
			if t, err := mailDateFallback(dateHeader); err == nil {
				received = t.UTC().Format(time.RFC3339)
			}
		}

		messageID := headers["message-id"]
		if messageID == "" {
			messageID = msgRef.Id
		}

		out = append(out, internal.RawMessage{
			Provider:   "gmail",
			MessageID:  messageID,
			Subject:    subject,
			From:       from,
			ReceivedAt: received,
			Raw:        rawBytes,
		})
	}

	return out, nil
}

func buildQuery(filter mail.Filter) string {
	parts := []string{}
	if filter.UnreadOnly {
		parts = append(parts, "is:unread")
	}
	if filter.LookbackDays > 0 {
		parts = append(parts, fmt.Sprintf("newer_than:%dd", filter.LookbackDays))
	}
	return strings.Join(parts, " ")
}

func classifyAPIErr(op string, err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && (apiErr.Code == 401 || apiErr.Code == 403) {
		return mail.WrapError(mail.KindAuth, op, err)
	}
	var tokenErr *oauth2.RetrieveError
	if errors.As(err, &tokenErr) {
		return mail.WrapError(mail.KindAuth, op, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return mail.WrapError(mail.KindTimeout, op, err)
	}
	return mail.WrapError(mail.KindConnection, op, err)
}

func decodeBase64URL(input string) ([]byte, error) {
	decoded, err := base64.RawURLEncoding.DecodeString(input)
	if err == nil {
		return decoded, nil
	}
	decoded, err = base64.URLEncoding.DecodeString(input)
	if err == nil {
		return decoded, nil
	}
	return nil, fmt.Errorf("decode gmail raw payload: %w", err)
}

func mailDateFallback(value string) (time.Time, error) {
	layouts := []string{time.RFC1123Z, time.RFC1123, time.RFC822Z, time.RFC822, time.RFC850, time.ANSIC}
	for _, layout := range layouts {
		if parsed, err := time.Parse(layout, value); err == nil {
			return parsed, nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported date format")
}
