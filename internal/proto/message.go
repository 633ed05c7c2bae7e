package proto

// TimestampLayout is the format history timestamps are rendered in.
const TimestampLayout = "2006-01-02 15:04:05"

// Frame types sent to the client.
const (
	TypeChatMessage = "chat_message"
	TypeError       = "error"
)

// Error codes carried by error frames.
const (
	CodeBadRequest   = "bad_request"
	CodeStorageError = "storage_error"
	CodeRateLimited  = "rate_limited"
)

// Inbound is a chat message coming from the client.
type Inbound struct {
	Message  string `json:"message"`
	Username string `json:"username"`
}

// ChatMessage is the outbound chat frame. Timestamp is set only on history
// replay entries; live broadcasts omit it.
type ChatMessage struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	Username  string `json:"username"`
	Timestamp string `json:"timestamp,omitempty"`
}

// Error describes a protocol-level error response.
type Error struct {
	Type string `json:"type"`
	Code string `json:"code"`
	Msg  string `json:"msg"`
}
