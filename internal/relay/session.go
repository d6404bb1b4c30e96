package relay

import "time"

type Status string

const (
	StatusOnline Status = "online"
	StatusAway   Status = "away"
	StatusBusy   Status = "busy"
)

type Position struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

type Selection struct {
	Start Position `json:"start"`
	End   Position `json:"end"`
}

type Cursor struct {
	FilePath  string     `json:"filePath"`
	Position  Position   `json:"position"`
	Selection *Selection `json:"selection,omitempty"`
}

func (c *Cursor) clone() *Cursor {
	if c == nil {
		return nil
	}
	out := *c
	if c.Selection != nil {
		sel := *c.Selection
		out.Selection = &sel
	}
	return &out
}

// DisplayInfo is copied from the user record when a session joins.
type DisplayInfo struct {
	Username  string `json:"username"`
	FullName  string `json:"fullName,omitempty"`
	AvatarURL string `json:"avatarUrl,omitempty"`
}

// Session is the presence state of one connection inside one project room.
type Session struct {
	ConnectionID string `json:"connectionId"`
	UserID       string `json:"userId"`
	ProjectID    string `json:"projectId"`
	DisplayInfo
	JoinedAt     time.Time `json:"joinedAt"`
	LastActivity time.Time `json:"lastActivity"`
	Cursor       *Cursor   `json:"cursor,omitempty"`
	Status       Status    `json:"status"`
}

func (s Session) snapshot() Session {
	s.Cursor = s.Cursor.clone()
	return s
}

// member is a session together with the connection it is addressed through.
type member struct {
	Session
	conn Conn
}
