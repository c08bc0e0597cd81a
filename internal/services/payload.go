package services

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/tbourn/go-chat-notifier/internal/domain"
)

const (
	defaultTitle = "New message"
	payloadType  = "chat_message"
)

// BuildPayload renders the notification for req. The body is
// "<sender>: <content>", NFC-normalized and clipped to maxBodyRunes when
// positive.
func BuildPayload(req domain.DispatchRequest, title string, maxBodyRunes int) domain.Payload {
	title = strings.TrimSpace(title)
	if title == "" {
		title = defaultTitle
	}

	body := norm.NFC.String(req.SenderName + ": " + strings.TrimSpace(req.Content))
	body = clipRunes(body, maxBodyRunes)

	return domain.Payload{
		Title: title,
		Body:  body,
		Data: map[string]string{
			"type":    payloadType,
			"roomId":  req.RoomID,
			"eventId": req.EventID,
		},
	}
}

// clipRunes cuts s to at most n runes, ending with an ellipsis when cut.
func clipRunes(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	if n == 1 {
		return "…"
	}
	r := []rune(s)
	return strings.TrimRightFunc(string(r[:n-1]), isSpace) + "…"
}

func isSpace(r rune) bool { return r == ' ' || r == '\t' || r == '\n' || r == '\r' }
