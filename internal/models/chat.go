package models

// ChatKind classifies a chat channel.
type ChatKind string

const (
	KindGlobal ChatKind = "GLOBAL"
	KindDirect ChatKind = "DIRECT"
	KindClan   ChatKind = "CLAN"
)

// ChatSummary is one entry of the listChats result.
type ChatSummary struct {
	ID   string   `json:"id"`
	Kind ChatKind `json:"kind"`
}

// Player is the display metadata of a message sender.
type Player struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	IconURL string `json:"iconUrl,omitempty"`
}
