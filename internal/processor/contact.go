package processor

import "strings"

const (
	userJIDSuffix  = "@s.whatsapp.net"
	groupJIDSuffix = "@g.us"
)

// SanitizePhoneNumber strips the WhatsApp JID suffix and a leading plus.
func SanitizePhoneNumber(jid string) string {
	s := strings.TrimSuffix(strings.TrimSpace(jid), userJIDSuffix)
	s = strings.TrimSuffix(s, groupJIDSuffix)
	return strings.TrimPrefix(s, "+")
}

// FormatDisplayName prefers the push name and falls back to the bare number.
func FormatDisplayName(name *string, jid string) string {
	if name != nil && strings.TrimSpace(*name) != "" {
		return *name
	}
	return SanitizePhoneNumber(jid)
}

// IsGroupJID reports whether the JID addresses a group chat.
func IsGroupJID(jid string) bool {
	return strings.HasSuffix(jid, groupJIDSuffix)
}

// Recipient converts a contact identifier into the form the gateway expects
// for outgoing text. Group JIDs pass through; everything else is sent as
// bare digits.
func Recipient(number string) string {
	number = strings.TrimSpace(number)
	if IsGroupJID(number) {
		return number
	}
	return SanitizePhoneNumber(number)
}
