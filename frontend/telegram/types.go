package telegram

// Update is one incoming update from the Telegram Bot API.
type Update struct {
	UpdateID int64    `json:"update_id"`
	Message  *Message `json:"message,omitempty"`
}

// Message is a Telegram message.
type Message struct {
	MessageID int64    `json:"message_id"`
	From      *User    `json:"from,omitempty"`
	Chat      Chat     `json:"chat"`
	Text      string   `json:"text,omitempty"`
	Entities  []Entity `json:"entities,omitempty"`
}

// Chat is a Telegram chat. Group chats stand in for both the guild and
// the channel of an incoming event.
type Chat struct {
	ID    int64  `json:"id"`
	Type  string `json:"type,omitempty"`
	Title string `json:"title,omitempty"`
}

// User is a Telegram user.
type User struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	Username  string `json:"username,omitempty"`
}

// Entity is a span of special text inside a message. text_mention
// entities carry the mentioned user; plain mentions only the @username.
type Entity struct {
	Type   string `json:"type"`
	Offset int    `json:"offset"`
	Length int    `json:"length"`
	User   *User  `json:"user,omitempty"`
}

// ChatMember is the getChatMember result; Status is creator,
// administrator, member, restricted, left, or kicked.
type ChatMember struct {
	Status string `json:"status"`
	User   *User  `json:"user,omitempty"`
}
