package ws

import (
	"encoding/json"

	"github.com/example/doc-collab-engine/internal/types"
)

// Message type tags. Every frame is a single JSON object carrying one tag.
const (
	TypeJoin          = "join"
	TypeContentUpdate = "content-update"
	TypePatchUpdate   = "patch-update"
	TypeCursorUpdate  = "cursor-update"
	TypeJoined        = "joined"
	TypePresence      = "presence"
	TypeSaved         = "saved"
	TypeSaveError     = "save-error"
	TypeError         = "error"
)

// Inbound is the decoded shape of any client frame. Fields irrelevant to the
// tagged type are left at their zero value.
type Inbound struct {
	Type           string           `json:"type"`
	DocID          types.DocumentID `json:"docId,omitempty"`
	AuthToken      string           `json:"authToken,omitempty"`
	ShareToken     string           `json:"shareToken,omitempty"`
	ClientID       string           `json:"clientId,omitempty"`
	DisplayName    string           `json:"displayName,omitempty"`
	Color          string           `json:"color,omitempty"`
	Content        string           `json:"content,omitempty"`
	Patches        string           `json:"patches,omitempty"`
	SelectionStart int              `json:"selectionStart,omitempty"`
	SelectionEnd   int              `json:"selectionEnd,omitempty"`
}

// JoinedFrame acknowledges a successful join with the full room state.
type JoinedFrame struct {
	Type          string           `json:"type"`
	DocID         types.DocumentID `json:"docId"`
	Content       string           `json:"content"`
	ServerVersion int64            `json:"serverVersion"`
	Role          types.Role       `json:"role"`
	Users         []types.RoomUser `json:"users"`
}

// PresenceFrame carries the current user list of a room.
type PresenceFrame struct {
	Type  string           `json:"type"`
	Users []types.RoomUser `json:"users"`
}

// ContentUpdateFrame rebroadcasts a full content replacement.
type ContentUpdateFrame struct {
	Type          string           `json:"type"`
	DocID         types.DocumentID `json:"docId"`
	Content       string           `json:"content"`
	ServerVersion int64            `json:"serverVersion"`
	From          types.ClientID   `json:"from"`
}

// PatchUpdateFrame rebroadcasts the original serialized patch-set unmodified;
// recomputed content never travels on this path.
type PatchUpdateFrame struct {
	Type          string           `json:"type"`
	DocID         types.DocumentID `json:"docId"`
	Patches       string           `json:"patches"`
	ServerVersion int64            `json:"serverVersion"`
	From          types.ClientID   `json:"from"`
}

// CursorUser identifies the session whose selection moved.
type CursorUser struct {
	ClientID types.ClientID `json:"clientId"`
	Name     string         `json:"name"`
	Color    string         `json:"color"`
}

// CursorUpdateFrame relays a selection change.
type CursorUpdateFrame struct {
	Type           string           `json:"type"`
	DocID          types.DocumentID `json:"docId"`
	SelectionStart int              `json:"selectionStart"`
	SelectionEnd   int              `json:"selectionEnd"`
	User           CursorUser       `json:"user"`
}

// SavedFrame confirms a completed persistence write.
type SavedFrame struct {
	Type    string           `json:"type"`
	DocID   types.DocumentID `json:"docId"`
	Version int64            `json:"version"`
	SavedAt string           `json:"savedAt"`
}

// SaveErrorFrame reports a failed persistence write.
type SaveErrorFrame struct {
	Type    string           `json:"type"`
	DocID   types.DocumentID `json:"docId"`
	Message string           `json:"message"`
}

// ErrorFrame surfaces a request-level failure to one client.
type ErrorFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Marshal encodes an outbound frame. The frame structs above cannot fail to
// encode, so the error is intentionally discarded.
func Marshal(v any) []byte {
	payload, _ := json.Marshal(v)
	return payload
}
