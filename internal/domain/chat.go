package domain

// Role tags who produced a ChatTurn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ChatTurn is one role-tagged entry of a session transcript.
type ChatTurn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Valid reports whether the turn carries a known role.
func (t ChatTurn) Valid() bool {
	return t.Role == RoleUser || t.Role == RoleAssistant
}

// UserTurn and AssistantTurn build turns for the two roles.
func UserTurn(content string) ChatTurn {
	return ChatTurn{Role: RoleUser, Content: content}
}

func AssistantTurn(content string) ChatTurn {
	return ChatTurn{Role: RoleAssistant, Content: content}
}
