package handler

// IssueRequest asks the gate to mint a consent token for a declared intent.
type IssueRequest struct {
	Operation string `json:"operation"`
	RequestID string `json:"request_id"`
	Channel   string `json:"channel"`
	SessionID string `json:"session_id"`
	Tier      string `json:"tier"`
}

// AuthorizeRequest presents a token together with the context the caller is
// about to execute under.
type AuthorizeRequest struct {
	TokenID   string `json:"token_id"`
	Operation string `json:"operation"`
	RequestID string `json:"request_id"`
	Channel   string `json:"channel"`
	SessionID string `json:"session_id"`
	Tier      string `json:"tier"`
}
