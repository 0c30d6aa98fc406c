package privacy

import (
	"strings"
)

// MaskPhoneNumber masks a phone number showing only the last 4 digits
// Example: "+5511999998888" -> "+*********8888"
func MaskPhoneNumber(phone string) string {
	if phone == "" {
		return ""
	}

	if strings.HasPrefix(phone, "+") {
		if len(phone) == 1 {
			return phone
		}
		if len(phone) <= 5 {
			return "+" + strings.Repeat("*", len(phone)-1)
		}
		return "+" + strings.Repeat("*", len(phone)-5) + phone[len(phone)-4:]
	}

	return maskString(phone, 4)
}

// MaskJID masks the user part of a WhatsApp JID and keeps the server part.
// Example: "5511999998888@s.whatsapp.net" -> "*********8888@s.whatsapp.net"
func MaskJID(jid string) string {
	if jid == "" {
		return ""
	}

	user, server, found := strings.Cut(jid, "@")
	if !found {
		return maskString(jid, 4)
	}
	// Device suffixes ("5511...:12@s.whatsapp.net") are dropped from the output.
	user, _, _ = strings.Cut(user, ":")
	return maskString(user, 4) + "@" + server
}

// MaskMessageID masks a gateway message id, keeping the last 6 characters
// for correlation with gateway logs.
// Example: "3EB0C767D26A1D1E5C3B" -> "**************1E5C3B"
func MaskMessageID(messageID string) string {
	return maskString(messageID, 6)
}

// MaskAccountID masks an account identifier
// Example: "user5a10" -> "****5a10"
func MaskAccountID(accountID string) string {
	return maskString(accountID, 4)
}

// MaskInstanceName masks an instance name while keeping some readability
// Example: "acme-sales-br01" -> "acme-*****-**01"
func MaskInstanceName(name string) string {
	if name == "" {
		return ""
	}

	parts := strings.Split(name, "-")
	if len(parts) < 2 {
		return maskString(name, 3)
	}

	result := parts[0]
	for i := 1; i < len(parts)-1; i++ {
		result += "-" + strings.Repeat("*", len(parts[i]))
	}
	return result + "-" + maskString(parts[len(parts)-1], 2)
}

// maskString masks a string showing only the last n characters
func maskString(s string, keepLast int) string {
	if s == "" {
		return ""
	}

	if len(s) <= keepLast {
		return strings.Repeat("*", len(s))
	}

	return strings.Repeat("*", len(s)-keepLast) + s[len(s)-keepLast:]
}

// MaskSensitiveFields applies appropriate masking to common logging fields
func MaskSensitiveFields(fields map[string]interface{}) map[string]interface{} {
	if fields == nil {
		return nil
	}

	masked := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		s, ok := v.(string)
		if !ok {
			masked[k] = v
			continue
		}

		switch k {
		case "phone", "phone_number", "number", "to":
			masked[k] = MaskPhoneNumber(s)
		case "sender", "sender_number", "remote_jid", "remoteJid", "contact":
			masked[k] = MaskJID(s)
		case "message_id", "messageId", "external_id", "whatsappId":
			masked[k] = MaskMessageID(s)
		case "account_id", "accountId", "user_id", "userId", "owner_id":
			masked[k] = MaskAccountID(s)
		case "content", "text", "qr", "pairing_code":
			masked[k] = "[hidden]"
		default:
			masked[k] = v
		}
	}

	return masked
}
