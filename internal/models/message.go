package models

// Control message kinds exchanged as text frames. Binary frames carry
// opaque document-update fragments and have no kind field.
const (
	KindCursorMove      = "cursorMove"
	KindSelectionChange = "selectionChange"
	KindPing            = "ping"
	KindPong            = "pong"
	KindUserJoined      = "userJoined"
	KindUserLeft        = "userLeft"
)

// UserInfo identifies a connected user to their peers.
type UserInfo struct {
	UserID    string `json:"userId"`
	UserName  string `json:"userName"`
	UserColor string `json:"userColor"`
}

// CursorPosition is where a user's cursor currently sits.
type CursorPosition struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// SelectionRange is the user's current text selection.
type SelectionRange struct {
	From int `json:"from"`
	To   int `json:"to"`
}

// ControlMessage is an inbound text frame from a client.
type ControlMessage struct {
	Kind      string          `json:"kind"`
	Cursor    *CursorPosition `json:"cursor,omitempty"`
	Selection *SelectionRange `json:"selection,omitempty"`
}

// Notification is an outbound text frame to clients. Fields are populated
// per kind: userJoined carries User, userLeft carries UserID/UserName,
// cursorMove and selectionChange carry UserID plus the presence payload.
type Notification struct {
	Kind      string          `json:"kind"`
	UserID    string          `json:"userId,omitempty"`
	UserName  string          `json:"userName,omitempty"`
	User      *UserInfo       `json:"user,omitempty"`
	Cursor    *CursorPosition `json:"cursor,omitempty"`
	Selection *SelectionRange `json:"selection,omitempty"`
	Timestamp int64           `json:"timestamp"`
}
