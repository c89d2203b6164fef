// SPDX-License-Identifier: MIT
package subscription

import (
	"encoding/xml"
	"fmt"
	"strings"
)

// DialogInfoState is what we extract from an inbound dialog-info+xml body:
// the entity under observation and the current dialog state. Unknown
// elements are ignored so newer producers keep working.
type DialogInfoState struct {
	Entity    string
	ID        string
	Direction string
	State     string
	Valid     bool
}

// BuildDialogInfo renders an RFC 4235 full-state document. A terminated
// state with no call id renders the empty form used for initial and
// terminal NOTIFYs.
func BuildDialogInfo(entity string, version uint32, callID, state, direction, callerURI, calleeURI string) string {
	var b strings.Builder
	b.Grow(1024)

	b.WriteString("<?xml version=\"1.0\" encoding=\"UTF-8\"?>\n")
	b.WriteString("<dialog-info xmlns=\"urn:ietf:params:xml:ns:dialog-info\"\n")
	fmt.Fprintf(&b, "  version=\"%d\"\n", version)
	b.WriteString("  state=\"full\"\n")
	b.WriteString("  entity=\"")
	escapeXML(&b, entity)
	b.WriteString("\">\n")

	if state != "terminated" || callID != "" {
		b.WriteString("  <dialog id=\"")
		escapeXML(&b, callID)
		b.WriteString("\"")
		if callID != "" {
			b.WriteString(" call-id=\"")
			escapeXML(&b, callID)
			b.WriteString("\"")
		}
		if direction != "" {
			b.WriteString(" direction=\"")
			escapeXML(&b, direction)
			b.WriteString("\"")
		}
		b.WriteString(">\n    <state>")
		escapeXML(&b, state)
		b.WriteString("</state>\n")

		if callerURI != "" && calleeURI != "" {
			local, remote := callerURI, calleeURI
			if direction == "inbound" || direction == "recipient" {
				local, remote = calleeURI, callerURI
			}
			b.WriteString("    <local>\n      <identity>")
			escapeXML(&b, local)
			b.WriteString("</identity>\n    </local>\n")
			b.WriteString("    <remote>\n      <identity>")
			escapeXML(&b, remote)
			b.WriteString("</identity>\n    </remote>\n")
		}

		b.WriteString("  </dialog>\n")
	}

	b.WriteString("</dialog-info>\n")
	return b.String()
}

// BuildEmptyDialogInfo renders the no-dialog document: initial NOTIFY for a
// fresh subscription and the body of a terminal NOTIFY.
func BuildEmptyDialogInfo(entity string, version uint32) string {
	var b strings.Builder
	b.Grow(256)
	b.WriteString("<?xml version=\"1.0\" encoding=\"UTF-8\"?>\n")
	fmt.Fprintf(&b, "<dialog-info xmlns=\"urn:ietf:params:xml:ns:dialog-info\" version=\"%d\" state=\"full\" entity=\"", version)
	escapeXML(&b, entity)
	b.WriteString("\"/>\n")
	return b.String()
}

// ParseDialogInfo extracts entity, dialog id/direction and <state> by
// literal scan. Tolerates bodies that are not well-formed XML as long as
// the elements we need are present.
func ParseDialogInfo(body string) DialogInfoState {
	var st DialogInfoState
	st.Entity = findAttr(body, "dialog-info", "entity")

	if s := strings.Index(body, "<state>"); s >= 0 {
		s += len("<state>")
		if e := strings.Index(body[s:], "</state>"); e >= 0 {
			st.State = strings.TrimSpace(body[s : s+e])
			st.Valid = st.State != ""
		}
	}

	st.ID = findAttr(body, "dialog", "id")
	st.Direction = findAttr(body, "dialog", "direction")
	return st
}

func findAttr(body, tag, attr string) string {
	tagPos := strings.Index(body, "<"+tag)
	if tagPos < 0 {
		return ""
	}
	rest := body[tagPos:]
	attrPos := strings.Index(rest, attr+"=\"")
	if attrPos < 0 {
		return ""
	}
	valStart := attrPos + len(attr) + 2
	valEnd := strings.IndexByte(rest[valStart:], '"')
	if valEnd < 0 {
		return ""
	}
	return rest[valStart : valStart+valEnd]
}

func escapeXML(b *strings.Builder, s string) {
	// EscapeText cannot fail on a strings.Builder.
	_ = xml.EscapeText(b, []byte(s))
}

// MessageSummary is the parsed content of an RFC 3842 body.
type MessageSummary struct {
	MessagesWaiting bool
	Account         string
	NewMessages     int
	OldMessages     int
	NewUrgent       int
	OldUrgent       int
	Valid           bool
}

// BuildMessageSummary renders a simple-message-summary body from current
// counts.
func BuildMessageSummary(waiting bool, account string, newMsgs, oldMsgs int) string {
	var b strings.Builder
	b.Grow(128)
	if waiting {
		b.WriteString("Messages-Waiting: yes\r\n")
	} else {
		b.WriteString("Messages-Waiting: no\r\n")
	}
	if account != "" {
		fmt.Fprintf(&b, "Message-Account: %s\r\n", account)
	}
	fmt.Fprintf(&b, "Voice-Message: %d/%d (0/0)\r\n", newMsgs, oldMsgs)
	return b.String()
}

// ParseMessageSummary reads a simple-message-summary body line by line.
// Header names are case-insensitive; unknown headers are skipped.
func ParseMessageSummary(body string) MessageSummary {
	var sum MessageSummary
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(strings.TrimSuffix(line, "\r"))
		if line == "" {
			continue
		}
		lower := strings.ToLower(line)
		switch {
		case strings.HasPrefix(lower, "messages-waiting:"):
			val := strings.ToLower(strings.TrimSpace(line[len("messages-waiting:"):]))
			sum.MessagesWaiting = val == "yes"
			sum.Valid = true
		case strings.HasPrefix(lower, "message-account:"):
			sum.Account = strings.TrimSpace(line[len("message-account:"):])
		case strings.HasPrefix(lower, "voice-message:"):
			val := strings.TrimSpace(line[len("voice-message:"):])
			var n, o, nu, ou int
			if c, _ := fmt.Sscanf(val, "%d/%d (%d/%d)", &n, &o, &nu, &ou); c >= 2 {
				sum.NewMessages, sum.OldMessages = n, o
				sum.NewUrgent, sum.OldUrgent = nu, ou
				sum.Valid = true
			} else if c, _ := fmt.Sscanf(val, "%d/%d", &n, &o); c == 2 {
				sum.NewMessages, sum.OldMessages = n, o
				sum.Valid = true
			}
		}
	}
	return sum
}
