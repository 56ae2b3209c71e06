package imap

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	imapclient "github.com/emersion/go-imap/client"

	"tcgledger/internal"
	"tcgledger/internal/config"
	"tcgledger/internal/mail"
)

type Connector struct {
	host     string
	port     int
	secure   bool
	user     string
	password string
}

func NewConnector(cfg config.Config) (*Connector, error) {
	if err := cfg.Require("IMAP_HOST", cfg.IMAPHost); err != nil {
		return nil, err
	}
	if err := cfg.Require("IMAP_USER", cfg.IMAPUser); err != nil {
		return nil, err
	}
	if err := cfg.Require("IMAP_PASSWORD", cfg.IMAPPassword); err != nil {
		return nil, err
	}

	return &Connector{
		host:     cfg.IMAPHost,
		port:     cfg.IMAPPort,
		secure:   cfg.IMAPSecure,
		user:     cfg.IMAPUser,
		password: cfg.IMAPPassword,
	}, nil
}

func (c *Connector) FetchCandidates(ctx context.Context, filter mail.Filter) ([]internal.RawMessage, error) {
	addr := fmt.Sprintf("%s:%d", c.host, c.port)
	dialer := &net.Dialer{}
	if deadline, ok := ctx.Deadline(); ok {
		dialer.Timeout = time.Until(deadline)
	}

	var client *imapclient.Client
	var err error
	if c.secure {
		client, err = imapclient.DialWithDialerTLS(dialer, addr, &tls.Config{ServerName: c.host})
	} else {
		client, err = imapclient.DialWithDialer(dialer, addr)
	}
	if err != nil {
		return nil, classifyNetErr("dial", err)
	}
	defer client.Logout()

	if deadline, ok := ctx.Deadline(); ok {
		client.Timeout = time.Until(deadline)
	}

	if err := client.Login(c.user, c.password); err != nil {
		return nil, mail.WrapError(mail.KindAuth, "login", err)
	}

	mailbox := filter.Mailbox
	if mailbox == "" {
		mailbox = "INBOX"
	}
	if _, err := client.Select(mailbox, false); err != nil {
		return nil, classifyNetErr("select", err)
	}

	criteria := imap.NewSearchCriteria()
	if filter.UnreadOnly {
		criteria.WithoutFlags = []string{imap.SeenFlag}
	}
	if since := filter.Since(); !since.IsZero() {
		criteria.Since = since
	}
	ids, err := client.Search(criteria)
	if err != nil {
		return nil, classifyNetErr("search", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	if filter.Max > 0 && len(ids) > filter.Max {
		ids = ids[len(ids)-filter.Max:]
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(ids...)

	section := &imap.BodySectionName{}
	items := []imap.FetchItem{imap.FetchEnvelope, imap.FetchInternalDate, imap.FetchUid, section.FetchItem()}
	messages := make(chan *imap.Message, len(ids))
	fetchDone := make(chan error, 1)
	go func() { fetchDone <- client.Fetch(seqset, items, messages) }()

	out := make([]internal.RawMessage, 0, len(ids))
	for msg := range messages {
		if msg == nil {
			continue
		}
		body := msg.GetBody(section)
		if body == nil {
			continue
		}
		raw, err := io.ReadAll(body)
		if err != nil {
			return nil, classifyNetErr("read body", err)
		}

		messageID := ""
		subject := ""
		from := ""
		if msg.Envelope != nil {
			messageID = msg.Envelope.MessageId
			subject = msg.Envelope.Subject
			from = formatAddresses(msg.Envelope.From)
		}
		if messageID == "" {
			messageID = fmt.Sprintf("imap-%d", msg.Uid)
		}

		// Sender/subject filtering happens client-side.
		if !filter.Matches(from, subject) {
			continue
		}

		received := time.Now().UTC().Format(time.RFC3339)
		if !msg.InternalDate.IsZero() {
			received = msg.InternalDate.UTC().Format(time.RFC3339)
		}

		out = append(out, internal.RawMessage{
			Provider:   "imap",
			MessageID:  messageID,
			Subject:    subject,
			From:       from,
			ReceivedAt: received,
			Raw:        raw,
		})

		if filter.MarkSeen {
			single := new(imap.SeqSet)
			single.AddNum(msg.SeqNum)
			op := imap.FormatFlagsOp(imap.AddFlags, true)
			flags := []interface{}{imap.SeenFlag}
			if err := client.Store(single, op, flags, nil); err != nil {
				return nil, classifyNetErr("mark seen", err)
			}
		}
	}

	if err := <-fetchDone; err != nil {
		return nil, classifyNetErr("fetch", err)
	}

	return out, nil
}

func classifyNetErr(op string, err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return mail.WrapError(mail.KindTimeout, op, err)
	}
	return mail.WrapError(mail.KindConnection, op, err)
}

func formatAddresses(addrs []*imap.Address) string {
	if len(addrs) == 0 {
		return ""
	}
	parts := make([]string, 0, len(addrs))
	for _, a := range addrs {
		if a == nil {
			continue
		}
		email := strings.Trim(strings.Join([]string{a.MailboxName, a.HostName}, "@"), "@")
		if a.PersonalName != "" {
			parts = append(parts, fmt.Sprintf("%s <%s>", a.PersonalName, email))
		} else {
			parts = append(parts, email)
		}
	}
	return strings.Join(parts, ", ")
}
