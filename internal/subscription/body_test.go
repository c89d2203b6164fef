// SPDX-License-Identifier: MIT
package subscription

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildDialogInfoConfirmed(t *testing.T) {
	body := BuildDialogInfo("sip:2001@pbx.example.com", 3,
		"abc-123", "confirmed", "initiator",
		"sip:2001@pbx.example.com", "sip:2002@pbx.example.com")

	assert.Contains(t, body, `version="3"`)
	assert.Contains(t, body, `state="full"`)
	assert.Contains(t, body, `entity="sip:2001@pbx.example.com"`)
	assert.Contains(t, body, `call-id="abc-123"`)
	assert.Contains(t, body, `direction="initiator"`)
	assert.Contains(t, body, "<state>confirmed</state>")
	// Outbound call: watched party is the caller, so local identity is
	// the caller and remote is the callee.
	localPos := indexOf(t, body, "<local>")
	remotePos := indexOf(t, body, "<remote>")
	assert.Less(t, localPos, remotePos)
	assert.Contains(t, body[localPos:remotePos], "sip:2001@pbx.example.com")
	assert.Contains(t, body[remotePos:], "sip:2002@pbx.example.com")
}

func TestBuildDialogInfoInboundSwapsIdentities(t *testing.T) {
	body := BuildDialogInfo("sip:2002@pbx.example.com", 1,
		"abc-123", "early", "recipient",
		"sip:2001@pbx.example.com", "sip:2002@pbx.example.com")

	localPos := indexOf(t, body, "<local>")
	remotePos := indexOf(t, body, "<remote>")
	assert.Contains(t, body[localPos:remotePos], "sip:2002@pbx.example.com")
	assert.Contains(t, body[remotePos:], "sip:2001@pbx.example.com")
}

func TestBuildDialogInfoTerminatedWithoutCallOmitsDialog(t *testing.T) {
	body := BuildDialogInfo("sip:2001@pbx.example.com", 5, "", "terminated", "", "", "")
	assert.NotContains(t, body, "<dialog ")
	assert.Contains(t, body, `version="5"`)
}

func TestBuildDialogInfoEscapes(t *testing.T) {
	body := BuildDialogInfo(`sip:"a&b"@x.com`, 0, "id<1>", "trying", "", "", "")
	assert.Contains(t, body, "&quot;a&amp;b&quot;")
	assert.Contains(t, body, "id&lt;1&gt;")
}

func TestParseDialogInfoRoundTrip(t *testing.T) {
	body := BuildDialogInfo("sip:2001@pbx.example.com", 7,
		"call-9", "confirmed", "initiator",
		"sip:2001@pbx.example.com", "sip:2002@pbx.example.com")

	st := ParseDialogInfo(body)
	require.True(t, st.Valid)
	assert.Equal(t, "sip:2001@pbx.example.com", st.Entity)
	assert.Equal(t, "confirmed", st.State)
	assert.Equal(t, "call-9", st.ID)
	assert.Equal(t, "initiator", st.Direction)
}

func TestParseDialogInfoMissingState(t *testing.T) {
	st := ParseDialogInfo(`<dialog-info entity="sip:a@b"/>`)
	assert.False(t, st.Valid)
	assert.Equal(t, "sip:a@b", st.Entity)
}

func TestBuildEmptyDialogInfo(t *testing.T) {
	body := BuildEmptyDialogInfo("sip:2001@pbx.example.com", 0)
	assert.Contains(t, body, `version="0"`)
	assert.NotContains(t, body, "<dialog ")
	st := ParseDialogInfo(body)
	assert.False(t, st.Valid)
	assert.Equal(t, "sip:2001@pbx.example.com", st.Entity)
}

func TestParseMessageSummary(t *testing.T) {
	sum := ParseMessageSummary("Messages-Waiting: yes\r\nMessage-Account: sip:vm@pbx\r\nVoice-Message: 3/8 (1/2)\r\n")
	require.True(t, sum.Valid)
	assert.True(t, sum.MessagesWaiting)
	assert.Equal(t, "sip:vm@pbx", sum.Account)
	assert.Equal(t, 3, sum.NewMessages)
	assert.Equal(t, 8, sum.OldMessages)
	assert.Equal(t, 1, sum.NewUrgent)
	assert.Equal(t, 2, sum.OldUrgent)
}

func TestParseMessageSummaryCaseInsensitive(t *testing.T) {
	sum := ParseMessageSummary("MESSAGES-WAITING: Yes\nvoice-message: 1/0\n")
	require.True(t, sum.Valid)
	assert.True(t, sum.MessagesWaiting)
	assert.Equal(t, 1, sum.NewMessages)
}

func TestParseMessageSummaryGarbage(t *testing.T) {
	assert.False(t, ParseMessageSummary("hello world").Valid)
	assert.False(t, ParseMessageSummary("").Valid)
}

func TestBuildMessageSummaryRoundTrip(t *testing.T) {
	body := BuildMessageSummary(true, "sip:vm@pbx.example.com", 2, 5)
	sum := ParseMessageSummary(body)
	require.True(t, sum.Valid)
	assert.True(t, sum.MessagesWaiting)
	assert.Equal(t, "sip:vm@pbx.example.com", sum.Account)
	assert.Equal(t, 2, sum.NewMessages)
	assert.Equal(t, 5, sum.OldMessages)
}

func indexOf(t *testing.T, haystack, needle string) int {
	t.Helper()
	idx := strings.Index(haystack, needle)
	require.GreaterOrEqual(t, idx, 0, "missing %q", needle)
	return idx
}
