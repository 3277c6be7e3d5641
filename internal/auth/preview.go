package auth

// Preview shortens a token for logs: the first and last six characters.
func Preview(token string) string {
	if len(token) > 12 {
		return token[:6] + "…" + token[len(token)-6:]
	}
	return token
}
