package provider

import (
	"encoding/base64"
	"fmt"
	"mime"
	"net/mail"
	"strings"
	"time"

	"mailbot/adapter/out/provider/gmail"
	"mailbot/core/domain"
	"mailbot/core/port/out"

	gmailv1 "google.golang.org/api/gmail/v1"
)

const maxMimeDepth = 10

// convertMessage maps a full-format Gmail message onto the domain message.
func convertMessage(msg *gmailv1.Message) *domain.Message {
	if msg == nil {
		return nil
	}

	result := &domain.Message{
		MessageID: msg.Id,
		ThreadID:  msg.ThreadId,
		LabelIDs:  msg.LabelIds,
	}
	if msg.InternalDate > 0 {
		result.ReceivedAt = time.UnixMilli(msg.InternalDate).UTC()
	}

	if msg.Payload == nil {
		result.BodyText = msg.Snippet
		return result
	}

	headers := msg.Payload.Headers
	result.From = getHeader(headers, "From")
	result.FromName, result.FromEmail = parseEmailAddress(result.From)
	result.Subject = decodeHeader(getHeader(headers, "Subject"))
	result.RFCMessageID = getHeader(headers, "Message-ID")
	result.References = getHeader(headers, "References")
	result.Automated = gmail.IsAutomated(
		getHeader(headers, "Auto-Submitted"),
		getHeader(headers, "Precedence"),
		getHeader(headers, "List-Id"),
	)

	body := extractPlainText(msg.Payload, 0)
	if body == "" {
		if html := extractHTML(msg.Payload, 0); html != "" {
			body = stripHTMLTags(html)
		}
	}
	if body == "" {
		body = msg.Snippet
	}
	result.BodyText = body

	return result
}

// extractPlainText walks the MIME tree and returns the first text/plain body.
func extractPlainText(part *gmailv1.MessagePart, depth int) string {
	if part == nil || depth > maxMimeDepth {
		return ""
	}

	mimeType := strings.ToLower(part.MimeType)
	if mimeType == "text/plain" && part.Body != nil && part.Body.Data != "" {
		return decodeBase64URL(part.Body.Data)
	}

	for _, sub := range part.Parts {
		if strings.ToLower(sub.MimeType) == "text/plain" {
			if body := extractPlainText(sub, depth+1); body != "" {
				return body
			}
		}
	}
	for _, sub := range part.Parts {
		if body := extractPlainText(sub, depth+1); body != "" {
			return body
		}
	}
	return ""
}

func extractHTML(part *gmailv1.MessagePart, depth int) string {
	if part == nil || depth > maxMimeDepth {
		return ""
	}
	if strings.ToLower(part.MimeType) == "text/html" && part.Body != nil && part.Body.Data != "" {
		return decodeBase64URL(part.Body.Data)
	}
	for _, sub := range part.Parts {
		if body := extractHTML(sub, depth+1); body != "" {
			return body
		}
	}
	return ""
}

var htmlEntities = strings.NewReplacer(
	"&amp;", "&",
	"&lt;", "<",
	"&gt;", ">",
	"&quot;", "\"",
	"&#39;", "'",
	"&apos;", "'",
	"&nbsp;", " ",
)

// stripHTMLTags reduces an HTML body to readable text for keyword matching.
func stripHTMLTags(html string) string {
	for _, tag := range []string{"<br>", "<br/>", "<br />", "</p>", "</div>", "</tr>", "</li>"} {
		html = strings.ReplaceAll(html, tag, "\n")
		html = strings.ReplaceAll(html, strings.ToUpper(tag), "\n")
	}

	var b strings.Builder
	inTag := false
	for _, r := range html {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
		case !inTag:
			b.WriteRune(r)
		}
	}

	text := htmlEntities.Replace(b.String())
	for strings.Contains(text, "\n\n\n") {
		text = strings.ReplaceAll(text, "\n\n\n", "\n\n")
	}
	return strings.TrimSpace(text)
}

// decodeBase64URL decodes Gmail body data, which may or may not be padded.
func decodeBase64URL(data string) string {
	b, err := base64.URLEncoding.DecodeString(data)
	if err != nil {
		b, err = base64.RawURLEncoding.DecodeString(data)
		if err != nil {
			return ""
		}
	}
	return string(b)
}

func getHeader(headers []*gmailv1.MessagePartHeader, name string) string {
	for _, h := range headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

var wordDecoder = new(mime.WordDecoder)

// decodeHeader decodes RFC 2047 encoded words. The raw value is kept on failure.
func decodeHeader(v string) string {
	decoded, err := wordDecoder.DecodeHeader(v)
	if err != nil {
		return v
	}
	return decoded
}

// parseEmailAddress splits a From header into display name and address.
func parseEmailAddress(s string) (name, email string) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", ""
	}
	addr, err := mail.ParseAddress(s)
	if err != nil {
		if lt := strings.LastIndex(s, "<"); lt >= 0 {
			if gt := strings.LastIndex(s, ">"); gt > lt {
				return strings.Trim(strings.TrimSpace(s[:lt]), `"`), strings.ToLower(strings.TrimSpace(s[lt+1 : gt]))
			}
		}
		return "", strings.ToLower(s)
	}
	return addr.Name, strings.ToLower(addr.Address)
}

// buildRawReply renders an RFC 5322 reply with the auto-response headers.
func buildRawReply(from string, reply out.OutgoingReply) string {
	var buf strings.Builder

	if from != "" {
		buf.WriteString(fmt.Sprintf("From: %s\r\n", from))
	}
	buf.WriteString(fmt.Sprintf("To: %s\r\n", reply.To))
	buf.WriteString(fmt.Sprintf("Subject: %s\r\n", mime.QEncoding.Encode("utf-8", reply.Subject)))

	if reply.InReplyTo != "" {
		buf.WriteString(fmt.Sprintf("In-Reply-To: %s\r\n", reply.InReplyTo))
		references := strings.TrimSpace(reply.References + " " + reply.InReplyTo)
		if reply.References != "" && strings.Contains(reply.References, reply.InReplyTo) {
			references = reply.References
		}
		buf.WriteString(fmt.Sprintf("References: %s\r\n", references))
	} else if reply.References != "" {
		buf.WriteString(fmt.Sprintf("References: %s\r\n", reply.References))
	}

	for _, h := range gmail.AutoReplyHeaders {
		buf.WriteString(fmt.Sprintf("%s: %s\r\n", h[0], h[1]))
	}

	buf.WriteString("MIME-Version: 1.0\r\n")
	buf.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	buf.WriteString("\r\n")
	buf.WriteString(reply.Body)

	return buf.String()
}
