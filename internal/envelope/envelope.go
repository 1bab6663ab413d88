// Package envelope parses raw RFC 822 messages into the evaluation context
// the routing engine consumes. Only the parts conditions can test are kept:
// addresses, subject, headers, attachment metadata, a capped body excerpt,
// total size and the message's own date.
package envelope

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"

	"mail-router/internal/routing"
)

// maxBodyExcerpt caps how much body text is retained for body conditions.
// Rules inspect openings, not full archives.
const maxBodyExcerpt = 8192

// FromRaw parses a full raw message. Size is the byte length of the raw
// message, not the decoded parts.
func FromRaw(r io.Reader, organizationID, domainID string, dir routing.Direction) (*routing.MessageContext, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read raw message: %w", err)
	}

	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) {
		return nil, fmt.Errorf("parse message: %w", err)
	}
	if mr == nil {
		return nil, fmt.Errorf("parse message: no readable content")
	}

	msg := &routing.MessageContext{
		OrganizationID: organizationID,
		DomainID:       domainID,
		Direction:      dir,
		Size:           int64(len(raw)),
		Headers:        make(map[string]string),
	}

	header := mr.Header
	if id, err := header.MessageID(); err == nil && id != "" {
		msg.MessageID = "<" + id + ">"
	}
	if subject, err := header.Subject(); err == nil {
		msg.Subject = subject
	}
	if date, err := header.Date(); err == nil {
		msg.Date = date
	}
	if from, err := header.AddressList("From"); err == nil && len(from) > 0 {
		msg.Sender = from[0].Address
	}
	if to, err := header.AddressList("To"); err == nil {
		msg.Recipients = addressStrings(to)
	}
	if cc, err := header.AddressList("Cc"); err == nil {
		msg.CC = addressStrings(cc)
	}

	fields := header.Fields()
	for fields.Next() {
		key := fields.Key()
		if _, seen := msg.Headers[key]; seen {
			continue
		}
		if value, err := fields.Text(); err == nil {
			msg.Headers[key] = value
		}
	}

	if err := readParts(mr, msg); err != nil {
		return nil, err
	}

	return msg, nil
}

// readParts walks the MIME structure, keeping the first text body as the
// excerpt and recording attachment metadata. Undecodable parts are skipped;
// a rule that cannot see a part simply does not match it.
func readParts(mr *mail.Reader, msg *routing.MessageContext) error {
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			if message.IsUnknownCharset(err) {
				continue
			}
			return fmt.Errorf("read message part: %w", err)
		}

		switch h := p.Header.(type) {
		case *mail.InlineHeader:
			contentType, _, _ := h.ContentType()
			if msg.BodyExcerpt == "" && strings.HasPrefix(contentType, "text/") {
				b, err := io.ReadAll(io.LimitReader(p.Body, maxBodyExcerpt))
				if err == nil {
					msg.BodyExcerpt = string(b)
				}
			} else {
				io.Copy(io.Discard, p.Body)
			}

		case *mail.AttachmentHeader:
			filename, _ := h.Filename()
			contentType, _, _ := h.ContentType()
			size, _ := io.Copy(io.Discard, p.Body)
			msg.Attachments = append(msg.Attachments, routing.Attachment{
				Filename:    filename,
				ContentType: contentType,
				Size:        size,
			})
		}
	}
}

func addressStrings(addrs []*mail.Address) []string {
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, a.Address)
	}
	return out
}
