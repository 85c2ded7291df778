package mail

// ResolveThreadID implements SPEC_FULL.md §4.2's thread-id rule: use the
// server-supplied thread id when present; otherwise walk References (oldest
// first) to the earliest known ancestor and use its Message-ID; if
// References is empty, fall back to In-Reply-To; if neither is present, the
// message is its own thread root.
func ResolveThreadID(serverThreadID, messageID, inReplyTo string, references []string) string {
	if serverThreadID != "" {
		return serverThreadID
	}
	if len(references) > 0 {
		return references[0]
	}
	if inReplyTo != "" {
		return inReplyTo
	}
	return messageID
}
