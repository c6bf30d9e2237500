package collab

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/example/doc-collab-engine/internal/auth"
	"github.com/example/doc-collab-engine/internal/observability"
	"github.com/example/doc-collab-engine/internal/patch"
	"github.com/example/doc-collab-engine/internal/room"
	"github.com/example/doc-collab-engine/internal/store"
	"github.com/example/doc-collab-engine/internal/types"
	"github.com/example/doc-collab-engine/internal/ws"
)

const defaultColor = "#3b82f6"

// Conn is the transport surface the service needs from a connection.
// *ws.Connection satisfies it; tests substitute fakes.
type Conn interface {
	room.Sender
	ID() string
	CloseWithCode(code int, reason string)
}

// Saver is the slice of the save scheduler the service drives.
type Saver interface {
	Schedule(docID types.DocumentID)
	Flush(ctx context.Context, docID types.DocumentID)
}

// Config carries the service limits.
type Config struct {
	MaxRoomSessions int
}

// Service orchestrates joins, content mutations and presence for all rooms.
// One instance serves every connection; per-connection state lives in the
// bindings table keyed by transport connection ID.
type Service struct {
	rooms    *room.Registry
	docs     store.Documents
	identity auth.IdentityResolver
	access   auth.AccessResolver
	codec    patch.Codec
	saver    Saver
	logger   zerolog.Logger
	cfg      Config

	mu       sync.RWMutex
	bindings map[string]*binding
}

// binding is the session attribute block fixed at join time.
type binding struct {
	docID    types.DocumentID
	clientID types.ClientID
	name     string
	color    string
	role     types.Role
}

// NewService wires the collaboration core together.
func NewService(rooms *room.Registry, docs store.Documents, identity auth.IdentityResolver, access auth.AccessResolver, codec patch.Codec, saver Saver, logger zerolog.Logger, cfg Config) *Service {
	if cfg.MaxRoomSessions <= 0 {
		cfg.MaxRoomSessions = 10
	}
	return &Service{
		rooms:    rooms,
		docs:     docs,
		identity: identity,
		access:   access,
		codec:    codec,
		saver:    saver,
		logger:   logger,
		cfg:      cfg,
		bindings: make(map[string]*binding),
	}
}

// Hooks adapts the service to the gateway's callback contract.
func (s *Service) Hooks() ws.Hooks {
	return ws.Hooks{
		OnMessage: func(ctx context.Context, conn *ws.Connection, payload []byte) {
			s.HandleMessage(ctx, conn, payload)
		},
		OnDisconnect: func(conn *ws.Connection) {
			s.HandleDisconnect(conn)
		},
	}
}

// HandleMessage decodes one inbound frame and dispatches on its type tag.
// A malformed frame is dropped for that message only.
func (s *Service) HandleMessage(ctx context.Context, conn Conn, payload []byte) {
	var msg ws.Inbound
	if err := json.Unmarshal(payload, &msg); err != nil {
		logger := observability.LoggerWithTrace(ctx, s.logger)
		logger.Debug().
			Err(err).Str("connection", conn.ID()).Msg("dropping malformed frame")
		return
	}
	messagesTotal.WithLabelValues(msg.Type).Inc()

	switch msg.Type {
	case ws.TypeJoin:
		s.handleJoin(ctx, conn, msg)
	case ws.TypeContentUpdate:
		s.handleContentUpdate(conn, msg)
	case ws.TypePatchUpdate:
		s.handlePatchUpdate(conn, msg)
	case ws.TypeCursorUpdate:
		s.handleCursorUpdate(conn, msg)
	}
}

func (s *Service) handleJoin(ctx context.Context, conn Conn, msg ws.Inbound) {
	clientID := types.ClientID(msg.ClientID)
	if clientID == "" {
		clientID = types.ClientID(conn.ID())
	}
	color := msg.Color
	if color == "" {
		color = defaultColor
	}
	displayName := msg.DisplayName

	var (
		doc  types.Document
		role types.Role
		err  error
	)
	switch {
	case msg.ShareToken != "":
		doc, role, err = s.resolveShareJoin(ctx, msg.ShareToken)
		if displayName == "" {
			displayName = "Guest"
		}
	case msg.AuthToken != "":
		var user types.User
		doc, role, user, err = s.resolveAuthJoin(ctx, msg.AuthToken, msg.DocID)
		if err == nil {
			displayName = user.DisplayName()
		}
	default:
		err = errors.New("Missing auth")
	}
	if err != nil {
		joinsTotal.WithLabelValues("rejected").Inc()
		s.sendError(conn, err.Error())
		return
	}

	rm := s.rooms.GetOrCreate(doc.ID, doc.Content, doc.Version)

	sess := &room.Session{
		Conn:     conn,
		ClientID: clientID,
		Name:     displayName,
		Color:    color,
		Role:     role,
	}
	if err := rm.AddSession(conn.ID(), sess, s.cfg.MaxRoomSessions); err != nil {
		joinsTotal.WithLabelValues("full").Inc()
		s.sendError(conn, "Room is full")
		conn.CloseWithCode(websocket.ClosePolicyViolation, "room is full")
		return
	}

	s.mu.Lock()
	s.bindings[conn.ID()] = &binding{
		docID:    doc.ID,
		clientID: clientID,
		name:     displayName,
		color:    color,
		role:     role,
	}
	s.mu.Unlock()

	content, version := rm.Snapshot()
	_ = conn.Send(ws.Marshal(ws.JoinedFrame{
		Type:          ws.TypeJoined,
		DocID:         doc.ID,
		Content:       content,
		ServerVersion: version,
		Role:          role,
		Users:         rm.Users(),
	}))
	s.broadcastPresence(rm)

	joinsTotal.WithLabelValues("ok").Inc()
	s.logger.Info().Stringer("document", doc.ID).Str("client", string(clientID)).Str("role", string(role)).Msg("session joined")
}

// resolveShareJoin admits anonymous/guest collaboration through a share link.
func (s *Service) resolveShareJoin(ctx context.Context, token string) (types.Document, types.Role, error) {
	hash := auth.HashShareToken(token)
	doc, err := s.docs.FindByShareHash(ctx, hash)
	if errors.Is(err, store.ErrNotFound) {
		return types.Document{}, "", errors.New("Share link not found")
	}
	if err != nil {
		s.logger.Error().Err(err).Msg("share lookup failed")
		return types.Document{}, "", errors.New("Share link not found")
	}
	if doc.Status != types.StatusActive {
		return types.Document{}, "", errors.New("Forbidden")
	}
	role := doc.ShareRole
	if role == "" {
		role = types.RoleEditor
	}
	return doc, role, nil
}

// resolveAuthJoin admits an authenticated user against the access resolver.
func (s *Service) resolveAuthJoin(ctx context.Context, token string, docID types.DocumentID) (types.Document, types.Role, types.User, error) {
	user, err := s.identity.Resolve(ctx, token)
	if err != nil {
		return types.Document{}, "", types.User{}, errors.New("Invalid user")
	}

	doc, err := s.docs.FindByID(ctx, docID)
	if errors.Is(err, store.ErrNotFound) {
		return types.Document{}, "", types.User{}, errors.New("Document not found")
	}
	if err != nil {
		s.logger.Error().Err(err).Stringer("document", docID).Msg("document lookup failed")
		return types.Document{}, "", types.User{}, errors.New("Document not found")
	}
	if doc.Status != types.StatusActive {
		return types.Document{}, "", types.User{}, errors.New("Forbidden")
	}

	canView, err := s.access.CanView(ctx, doc, user)
	if err != nil || !canView {
		return types.Document{}, "", types.User{}, errors.New("Forbidden")
	}
	role, err := s.access.ResolveRole(ctx, doc, user)
	if err != nil {
		return types.Document{}, "", types.User{}, errors.New("Forbidden")
	}
	if role == "" && doc.IsPublic {
		role = types.RoleViewer
	}
	return doc, role, user, nil
}

func (s *Service) handleContentUpdate(conn Conn, msg ws.Inbound) {
	b, rm, ok := s.session(conn)
	if !ok {
		return
	}
	if !b.role.CanEdit() {
		s.sendError(conn, "Not allowed to edit")
		return
	}

	version := rm.Replace(msg.Content)
	rm.Broadcast(ws.Marshal(ws.ContentUpdateFrame{
		Type:          ws.TypeContentUpdate,
		DocID:         b.docID,
		Content:       msg.Content,
		ServerVersion: version,
		From:          b.clientID,
	}))
	s.saver.Schedule(b.docID)
}

func (s *Service) handlePatchUpdate(conn Conn, msg ws.Inbound) {
	b, rm, ok := s.session(conn)
	if !ok {
		return
	}
	if !b.role.CanEdit() {
		s.sendError(conn, "Not allowed to edit")
		return
	}

	version, err := rm.ApplyPatch(s.codec, msg.Patches)
	if err != nil {
		// Unparseable patch-set: drop silently, nothing was mutated.
		s.logger.Warn().Err(err).Stringer("document", b.docID).Str("client", string(b.clientID)).Msg("patch apply failed")
		return
	}

	// The original serialized payload is rebroadcast unmodified.
	rm.Broadcast(ws.Marshal(ws.PatchUpdateFrame{
		Type:          ws.TypePatchUpdate,
		DocID:         b.docID,
		Patches:       msg.Patches,
		ServerVersion: version,
		From:          b.clientID,
	}))
	s.saver.Schedule(b.docID)
}

func (s *Service) handleCursorUpdate(conn Conn, msg ws.Inbound) {
	b, rm, ok := s.session(conn)
	if !ok {
		return
	}

	rm.Broadcast(ws.Marshal(ws.CursorUpdateFrame{
		Type:           ws.TypeCursorUpdate,
		DocID:          b.docID,
		SelectionStart: msg.SelectionStart,
		SelectionEnd:   msg.SelectionEnd,
		User: ws.CursorUser{
			ClientID: b.clientID,
			Name:     b.name,
			Color:    b.color,
		},
	}))
}

// HandleDisconnect tears down the session. When the last session leaves, the
// room is persisted immediately and evicted from the registry. A join that
// lands between the final removal and the eviction binds to the doomed room;
// its messages are dropped until the client rejoins.
func (s *Service) HandleDisconnect(conn Conn) {
	s.mu.Lock()
	b, ok := s.bindings[conn.ID()]
	if ok {
		delete(s.bindings, conn.ID())
	}
	s.mu.Unlock()
	if !ok {
		return
	}

	rm, ok := s.rooms.Lookup(b.docID)
	if !ok {
		return
	}

	if remaining := rm.RemoveSession(conn.ID()); remaining == 0 {
		s.saver.Flush(context.Background(), b.docID)
		s.rooms.Evict(b.docID)
		s.logger.Info().Stringer("document", b.docID).Msg("room evicted after final save")
		return
	}
	s.broadcastPresence(rm)
}

func (s *Service) session(conn Conn) (*binding, *room.Room, bool) {
	s.mu.RLock()
	b, ok := s.bindings[conn.ID()]
	s.mu.RUnlock()
	if !ok {
		return nil, nil, false
	}
	rm, ok := s.rooms.Lookup(b.docID)
	if !ok {
		return nil, nil, false
	}
	return b, rm, true
}

func (s *Service) broadcastPresence(rm *room.Room) {
	rm.Broadcast(ws.Marshal(ws.PresenceFrame{
		Type:  ws.TypePresence,
		Users: rm.Users(),
	}))
}

func (s *Service) sendError(conn Conn, message string) {
	_ = conn.Send(ws.Marshal(ws.ErrorFrame{Type: ws.TypeError, Message: message}))
}
