package services

import "strings"

// ConversationSeparator joins the two participant ids of a conversation key.
const ConversationSeparator = "--"

// ConversationID returns the key of the conversation between a and b. The
// ids are sorted first, so the result does not depend on argument order.
func ConversationID(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + ConversationSeparator + b
}

// Participants splits a conversation key back into its two ids.
func Participants(conversationID string) (string, string, bool) {
	a, b, ok := strings.Cut(conversationID, ConversationSeparator)
	if !ok || a == "" || b == "" {
		return "", "", false
	}
	return a, b, true
}
