package model

import "time"

// Message is a direct message between two users, optionally about an item.
//
// ReadAt is set exactly when Read is true.
type Message struct {
	ID         string     `json:"id"               bson:"_id"`
	SenderID   string     `json:"senderId"         bson:"senderId"`
	ReceiverID string     `json:"receiverId"       bson:"receiverId"`
	ItemID     string     `json:"itemId,omitempty" bson:"itemId,omitempty"`
	Content    string     `json:"content"          bson:"content"`
	Read       bool       `json:"read"             bson:"read"`
	ReadAt     *time.Time `json:"readAt"           bson:"readAt"`
	CreatedAt  time.Time  `json:"createdAt"        bson:"createdAt"`
}

// OtherParty returns the participant of m that is not userID.
func (m *Message) OtherParty(userID string) string {
	if m.SenderID == userID {
		return m.ReceiverID
	}
	return m.SenderID
}

// Participant is the display projection of a message's sender or receiver.
type Participant struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ItemRef is the display projection of a message's item.
type ItemRef struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// MessageView is a message with its references resolved for display. It is
// what clients receive, over HTTP and over the realtime channel.
type MessageView struct {
	ID        string      `json:"id"`
	Sender    Participant `json:"sender"`
	Receiver  Participant `json:"receiver"`
	Item      *ItemRef    `json:"item,omitempty"`
	Content   string      `json:"content"`
	Read      bool        `json:"read"`
	ReadAt    *time.Time  `json:"readAt"`
	CreatedAt time.Time   `json:"createdAt"`
}

// Conversation summarizes the messages a user exchanged with one other user.
type Conversation struct {
	OtherUserID string       `json:"otherUserId"`
	OtherUser   *Participant `json:"otherUser,omitempty"`
	LastMessage Message      `json:"lastMessage"`
	UnreadCount int          `json:"unreadCount"`
}
