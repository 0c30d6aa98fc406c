package privacy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskPhoneNumber(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"+1234567890", "+******7890"},
		{"5511999998888", "*********8888"},
		{"", ""},
		{"+", "+"},
		{"+123", "+***"},
		{"+12345", "+*2345"},
		{"1234", "****"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, MaskPhoneNumber(tt.input), "MaskPhoneNumber(%q)", tt.input)
	}
}

func TestMaskJID(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"5511999998888@s.whatsapp.net", "*********8888@s.whatsapp.net"},
		{"120363025246125486@g.us", "**************5486@g.us"},
		{"5511999998888:12@s.whatsapp.net", "*********8888@s.whatsapp.net"},
		{"123@s.whatsapp.net", "***@s.whatsapp.net"},
		{"unknown", "***nown"},
		{"", ""},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, MaskJID(tt.input), "MaskJID(%q)", tt.input)
	}
}

func TestMaskMessageID(t *testing.T) {
	assert.Equal(t, "**************1E5C3B", MaskMessageID("3EB0C767D26A1D1E5C3B"))
	assert.Equal(t, "*****", MaskMessageID("ABCDE"))
	assert.Equal(t, "", MaskMessageID(""))
}

func TestMaskAccountID(t *testing.T) {
	assert.Equal(t, "****5a10", MaskAccountID("abcd5a10"))
	assert.Equal(t, "", MaskAccountID(""))
}

func TestMaskInstanceName(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"acme-sales-br01", "acme-*****-**01"},
		{"acct1", "**ct1"},
		{"a-b", "a-*"},
		{"", ""},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, MaskInstanceName(tt.input), "MaskInstanceName(%q)", tt.input)
	}
}

func TestMaskSensitiveFields(t *testing.T) {
	assert.Nil(t, MaskSensitiveFields(nil))

	masked := MaskSensitiveFields(map[string]interface{}{
		"sender":     "5511999998888@s.whatsapp.net",
		"number":     "5511999998888",
		"message_id": "3EB0C767D26A1D1E5C3B",
		"account_id": "abcd5a10",
		"content":    "secret text",
		"instance":   "acct1",
		"count":      3,
	})

	assert.Equal(t, "*********8888@s.whatsapp.net", masked["sender"])
	assert.Equal(t, "*********8888", masked["number"])
	assert.Equal(t, "**************1E5C3B", masked["message_id"])
	assert.Equal(t, "****5a10", masked["account_id"])
	assert.Equal(t, "[hidden]", masked["content"])
	assert.Equal(t, "acct1", masked["instance"])
	assert.Equal(t, 3, masked["count"])
}
