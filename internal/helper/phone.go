package helper

import (
	"fmt"
	"regexp"
	"strings"

	"go.mau.fi/whatsmeow/types"
)

var (
	allowedChars = regexp.MustCompile(`^[\d\s\+\-\(\)]+$`)
	nonDigits    = regexp.MustCompile(`[^\d]`)
)

// FormatPhoneNumber converts a phone number in loose international format to
// a WhatsApp user JID. Accepts digits with optional +, spaces, dashes and
// parentheses; rejects anything else.
func FormatPhoneNumber(phone string) (types.JID, error) {
	if !allowedChars.MatchString(phone) {
		return types.JID{}, fmt.Errorf("invalid phone number format: contains invalid characters")
	}

	cleaned := nonDigits.ReplaceAllString(phone, "")
	if len(cleaned) < 8 || len(cleaned) > 15 {
		return types.JID{}, fmt.Errorf("invalid phone number length")
	}

	return types.JID{
		User:   cleaned,
		Server: types.DefaultUserServer,
	}, nil
}

// NormalizePhone returns the bare digit string for pairing-code requests.
func NormalizePhone(phone string) (string, error) {
	jid, err := FormatPhoneNumber(phone)
	if err != nil {
		return "", err
	}
	return jid.User, nil
}

// ExtractPhoneFromJID pulls the bare number out of a full JID string,
// e.g. "6285148107612:43@s.whatsapp.net" -> "6285148107612".
func ExtractPhoneFromJID(jid string) string {
	beforeAt := strings.SplitN(jid, "@", 2)[0]
	return strings.SplitN(beforeAt, ":", 2)[0]
}
