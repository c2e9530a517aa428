package types

// ClientMessage is the flat inbound frame. Only the fields relevant to Type
// are populated.
type ClientMessage struct {
	Type         string `json:"type"`
	GameID       string `json:"gameId,omitempty"`
	IsSpectator  bool   `json:"isSpectator,omitempty"`
	PlayerName   string `json:"playerName,omitempty"`
	UserID       string `json:"userId,omitempty"`
	Username     string `json:"username,omitempty"`
	Direction    string `json:"direction,omitempty"`
	Message      string `json:"message,omitempty"`
	LobbyID      string `json:"lobbyId,omitempty"`
	TournamentID string `json:"tournamentId,omitempty"`
}

// DisplayName picks whichever name field the client filled in.
func (m ClientMessage) DisplayName() string {
	if m.PlayerName != "" {
		return m.PlayerName
	}
	return m.Username
}

// ServerMessage is the outbound frame: an event name plus its payload.
type ServerMessage struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

func NewServerMessage(eventType string, data any) ServerMessage {
	return ServerMessage{Type: eventType, Data: data}
}
