package ua

import (
	"encoding/xml"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildPresenceDocument(t *testing.T) {
	tests := []struct {
		status   string
		note     string
		activity string
	}{
		{status: "available", note: "<note>Online</note>"},
		{status: "away", note: "<note>Away</note>", activity: "<rpid:away>"},
		{status: "dnd", note: "<note>Busy (DND)</note>", activity: "<rpid:dnd>"},
		{status: "on-the-phone", activity: "<rpid:on-the-phone>"},
	}
	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			doc, err := BuildPresenceDocument("sip:alice@example.com", tt.status)
			require.NoError(t, err)
			s := string(doc)

			assert.True(t, strings.HasPrefix(s, xml.Header))
			assert.Contains(t, s, `entity="sip:alice@example.com"`)
			assert.Contains(t, s, `xmlns="urn:ietf:params:xml:ns:pidf"`)
			assert.Contains(t, s, "<basic>open</basic>")
			assert.Contains(t, s, `<contact priority="1.0">sip:alice@example.com</contact>`)
			assert.Contains(t, s, "<rpid:activities>")

			if tt.note != "" {
				assert.Contains(t, s, tt.note)
			} else {
				assert.NotContains(t, s, "<note>")
			}
			if tt.activity != "" {
				assert.Contains(t, s, tt.activity)
			} else {
				assert.NotContains(t, s, "<rpid:available>")
			}
		})
	}
}

func TestPresenceDocumentIsWellFormed(t *testing.T) {
	doc, err := BuildPresenceDocument("sip:alice@example.com", "away")
	require.NoError(t, err)

	var parsed struct {
		Entity string `xml:"entity,attr"`
		Tuple  struct {
			ID    string `xml:"id,attr"`
			Basic string `xml:"status>basic"`
		} `xml:"tuple"`
	}
	require.NoError(t, xml.Unmarshal(doc, &parsed))
	assert.Equal(t, "sip:alice@example.com", parsed.Entity)
	assert.Equal(t, "open", parsed.Tuple.Basic)
	assert.Regexp(t, `^ID-[0-9a-f]{6}$`, parsed.Tuple.ID)
}

func TestBuildPresenceDocumentRejectsStatus(t *testing.T) {
	for _, status := range []string{"on the phone", "1st", "-busy", "a:b", "<x>"} {
		t.Run(status, func(t *testing.T) {
			_, err := BuildPresenceDocument("sip:alice@example.com", status)
			assert.ErrorIs(t, err, ErrInvalidPresenceStatus)

			_, err = presenceContents(mustUri("sip:alice@example.com"), status, "")
			var uaErr *Error
			require.ErrorAs(t, err, &uaErr)
			assert.Equal(t, "INVALID_PRESENCE_STATUS", uaErr.Code)
		})
	}
}

func TestValidPresenceStatus(t *testing.T) {
	for _, status := range []string{"", "away", "on-the-phone", "_x", "meal.2", "отошел"} {
		assert.True(t, ValidPresenceStatus(status), status)
	}
	assert.False(t, ValidPresenceStatus("on the phone"))
}

func TestPresenceContentsStripsParams(t *testing.T) {
	body, err := presenceContents(mustUri("sip:alice@example.com;transport=tcp"), "away", "")
	require.NoError(t, err)
	assert.Equal(t, PidfContentType, body.ContentType)
	assert.Contains(t, string(body.Body), `entity="sip:alice@example.com"`)

	body, err = presenceContents(mustUri("sip:alice@example.com"), "away", "application/xpidf+xml")
	require.NoError(t, err)
	assert.Equal(t, "application/xpidf+xml", body.ContentType)
}
