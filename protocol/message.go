package protocol

import (
	"github.com/ssau-fiit/cloudocs-sync/document"
)

type MessageType string

// Client to server.
const (
	TypeJoinSession MessageType = "join_session"
	TypeOperation   MessageType = "operation"
	TypeSyncRequest MessageType = "sync_request"
)

// Server to client.
const (
	TypeWelcome            MessageType = "welcome"
	TypeSessionJoined      MessageType = "session_joined"
	TypeOperationAck       MessageType = "operation_ack"
	TypeRemoteOperation    MessageType = "remote_operation"
	TypeSyncResponse       MessageType = "sync_response"
	TypeCollaboratorJoined MessageType = "collaborator_joined"
	TypeCollaboratorLeft   MessageType = "collaborator_left"
	TypeError              MessageType = "error"
	TypeHeartbeat          MessageType = "heartbeat"
)

type JoinSession struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	ClientID  string      `json:"client_id"`
}

type OperationMessage struct {
	Type      MessageType        `json:"type"`
	Operation document.Operation `json:"operation"`
}

type SyncRequest struct {
	Type        MessageType `json:"type"`
	SessionID   string      `json:"session_id"`
	ClientID    string      `json:"client_id"`
	LastVersion int64       `json:"last_version"`
}

type Welcome struct {
	Type     MessageType `json:"type"`
	Server   string      `json:"server"`
	ClientID string      `json:"client_id,omitempty"`
}

type SessionJoined struct {
	Type          MessageType `json:"type"`
	SessionID     string      `json:"session_id"`
	ClientID      string      `json:"client_id"`
	Version       int64       `json:"version"`
	Collaborators []string    `json:"collaborators"`
}

type OperationAck struct {
	Type        MessageType `json:"type"`
	OperationID string      `json:"operation_id"`
	Version     int64       `json:"version,omitempty"`
}

type RemoteOperation struct {
	Type       MessageType        `json:"type"`
	Operation  document.Operation `json:"operation"`
	FromClient string             `json:"from_client"`
}

type SyncResponse struct {
	Type           MessageType `json:"type"`
	Content        string      `json:"content"`
	CurrentVersion int64       `json:"current_version"`
	Checksum       string      `json:"checksum"`
	Timestamp      float64     `json:"timestamp"`
}

// Collaborator is the payload of collaborator_joined and collaborator_left.
type Collaborator struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	ClientID  string      `json:"client_id"`
}

type Error struct {
	Type    MessageType `json:"type"`
	Message string      `json:"message"`
	Code    string      `json:"code,omitempty"`
}

type Heartbeat struct {
	Type MessageType `json:"type"`
}

func NewJoinSession(sessionID, clientID string) JoinSession {
	return JoinSession{Type: TypeJoinSession, SessionID: sessionID, ClientID: clientID}
}

func NewOperation(op document.Operation) OperationMessage {
	return OperationMessage{Type: TypeOperation, Operation: op}
}

func NewSyncRequest(sessionID, clientID string, lastVersion int64) SyncRequest {
	return SyncRequest{Type: TypeSyncRequest, SessionID: sessionID, ClientID: clientID, LastVersion: lastVersion}
}
