// Package relay is the realtime session relay: it authenticates websocket
// connections, tracks session participants, and fans translated messages
// out to everyone in a session.
package relay

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/zulandar/ledgerline/internal/auth"
	"github.com/zulandar/ledgerline/internal/config"
	"github.com/zulandar/ledgerline/internal/conversation"
	"github.com/zulandar/ledgerline/internal/models"
	"github.com/zulandar/ledgerline/internal/translate"
	"golang.org/x/sync/semaphore"
)

// SessionStore is the persistence the relay needs.
type SessionStore interface {
	Snapshot(ctx context.Context, sessionID uint) (*conversation.Snapshot, error)
	GetSession(ctx context.Context, id uint) (*models.ConversationSession, error)
	AppendMessage(ctx context.Context, msg *models.ConversationMessage) error
}

// CompanyLookup resolves the company a principal acts for. It returns 0
// when the principal has none.
type CompanyLookup interface {
	CompanyFor(ctx context.Context, p auth.Principal) (uint, error)
}

// AudioSaver stores raw audio and returns a path for it.
type AudioSaver interface {
	Save(sessionID uint, data []byte, mimeType string) (string, error)
}

// Opts holds parameters for creating a Relay.
type Opts struct {
	Verifier    auth.TokenVerifier
	Store       SessionStore
	Companies   CompanyLookup         // nil limits joins to company-bound tokens
	Translator  translate.Translator  // defaults to translate.Passthrough
	Transcriber translate.Transcriber // defaults to translate.Passthrough
	Audio       AudioSaver            // nil disables AUDIO_MESSAGE
	Registry    *Registry             // defaults to a new Registry
	Fanout      Fanout                // defaults to LocalFanout over Registry
	Config      config.RelayConfig
}

// Relay serves websocket connections. It implements http.Handler.
type Relay struct {
	verifier    auth.TokenVerifier
	store       SessionStore
	companies   CompanyLookup
	translator  translate.Translator
	transcriber translate.Transcriber
	audio       AudioSaver
	registry    *Registry
	fanout      Fanout

	timing     timing
	sendBuffer int
	jobs       *semaphore.Weighted
	upgrader   websocket.Upgrader

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex // guards closed and wg.Add
	closed bool
	wg     sync.WaitGroup
}

// New creates a Relay.
func New(opts Opts) (*Relay, error) {
	if opts.Verifier == nil {
		return nil, fmt.Errorf("relay: verifier is required")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("relay: store is required")
	}
	if opts.Translator == nil {
		opts.Translator = translate.Passthrough{}
	}
	if opts.Transcriber == nil {
		opts.Transcriber = translate.Passthrough{}
	}
	if opts.Registry == nil {
		opts.Registry = NewRegistry()
	}
	if opts.Fanout == nil {
		opts.Fanout = NewLocalFanout(opts.Registry)
	}

	cfg := opts.Config
	t := timing{
		pingInterval:    secondsOr(cfg.PingIntervalSec, 30),
		readTimeout:     secondsOr(cfg.ReadTimeoutSec, 60),
		writeTimeout:    secondsOr(cfg.WriteTimeoutSec, 10),
		maxMessageBytes: cfg.MaxMessageBytes,
	}
	if t.maxMessageBytes <= 0 {
		t.maxMessageBytes = 10 << 20
	}
	sendBuffer := cfg.SendBuffer
	if sendBuffer <= 0 {
		sendBuffer = 256
	}
	jobs := cfg.MaxConcurrentJobs
	if jobs <= 0 {
		jobs = 8
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Relay{
		verifier:    opts.Verifier,
		store:       opts.Store,
		companies:   opts.Companies,
		translator:  opts.Translator,
		transcriber: opts.Transcriber,
		audio:       opts.Audio,
		registry:    opts.Registry,
		fanout:      opts.Fanout,
		timing:      t,
		sendBuffer:  sendBuffer,
		jobs:        semaphore.NewWeighted(jobs),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Browsers connect from the web app's origin; the query token
			// is what authenticates the connection.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

func secondsOr(sec, def int) time.Duration {
	if sec <= 0 {
		sec = def
	}
	return time.Duration(sec) * time.Second
}

// Registry returns the relay's registry.
func (r *Relay) Registry() *Registry { return r.registry }

// Close disconnects every client and waits for in-flight message jobs.
func (r *Relay) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	r.cancel()
	for _, p := range r.registry.Peers() {
		p.Close(websocket.CloseGoingAway, "server shutting down")
	}
	r.wg.Wait()
}

// ServeHTTP upgrades the request, authenticates the ?token= query value and
// runs the connection until it closes.
func (r *Relay) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		log.Printf("relay: upgrade: %v", err)
		return
	}

	token := req.URL.Query().Get("token")
	if token == "" {
		closeWith(conn, CloseAuthRequired, "Authentication required", r.timing.writeTimeout)
		_ = conn.Close()
		return
	}
	principal, err := r.verifier.Verify(token)
	if err != nil {
		closeWith(conn, CloseInvalidToken, "Invalid token", r.timing.writeTimeout)
		_ = conn.Close()
		return
	}

	c := newClient(conn, principal, r.sendBuffer)
	if prev := r.registry.Register(principal.UserID, c); prev != nil {
		prev.Close(CloseConnectionError, "connection replaced")
	}
	go c.writePump(r.timing)

	log.Printf("relay: user %d connected (%s)", principal.UserID, c.ID)
	// A replacing connection inherits the user's memberships.
	sessions := r.registry.Sessions(principal.UserID)
	if sessions == nil {
		sessions = []uint{}
	}
	r.sendJSON(c, connectionEstablished{
		Type:         TypeConnectionEstablished,
		UserID:       principal.UserID,
		ConnectionID: c.ID,
		Sessions:     sessions,
	})

	c.readPump(r.timing, func(data []byte) { r.dispatch(c, data) })
	r.disconnect(c)
}

// disconnect drops c. If c was the user's current connection, the user
// leaves every session and the remaining participants are told.
func (r *Relay) disconnect(c *Client) {
	c.Close(websocket.CloseNormalClosure, "")
	userID := c.UserID()
	if !r.registry.Unregister(userID, c) {
		return
	}
	for _, sessionID := range r.registry.LeaveAll(userID) {
		r.publish(sessionID, userID, participantEvent{Type: TypeUserLeft, SessionID: sessionID, UserID: userID})
	}
	log.Printf("relay: user %d disconnected (%s)", userID, c.ID)
}

// dispatch routes one inbound frame by its type. Failures are reported to
// the sender only and never close the connection.
func (r *Relay) dispatch(c *Client, data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		r.sendError(c, "Invalid message format")
		return
	}

	switch env.Type {
	case TypeJoinSession:
		r.handleJoin(c, data)
	case TypeLeaveSession:
		r.handleLeave(c, data)
	case TypeTextMessage:
		r.handleText(c, data)
	case TypeAudioMessage:
		r.handleAudio(c, data)
	case TypeTypingIndicator:
		r.handleTyping(c, data)
	default:
		r.sendError(c, "Unknown message type: "+env.Type)
	}
}

func (r *Relay) handleJoin(c *Client, data []byte) {
	var req sessionRequest
	if err := json.Unmarshal(data, &req); err != nil || req.SessionID == 0 {
		r.sendError(c, "sessionId is required")
		return
	}
	sessionID := uint(req.SessionID)

	snap, err := r.store.Snapshot(r.ctx, sessionID)
	if errors.Is(err, conversation.ErrSessionNotFound) {
		r.sendError(c, "Session not found")
		return
	}
	if err != nil {
		log.Printf("relay: join session %d: %v", sessionID, err)
		r.sendError(c, "Failed to join session")
		return
	}
	companyID, err := r.companyFor(c.Principal)
	if err != nil {
		log.Printf("relay: join session %d: %v", sessionID, err)
		r.sendError(c, "Failed to join session")
		return
	}
	// Sessions of other companies are indistinguishable from missing ones.
	if companyID == 0 || companyID != snap.Session.CompanyID {
		r.sendError(c, "Session not found")
		return
	}

	userID := c.UserID()
	added := r.registry.Join(sessionID, userID)

	messages := snap.Messages
	if messages == nil {
		messages = []models.ConversationMessage{}
	}
	r.sendJSON(c, sessionJoined{Type: TypeSessionJoined, Session: snap.Session, Messages: messages})

	if added {
		r.publish(sessionID, userID, participantEvent{Type: TypeUserJoined, SessionID: sessionID, UserID: userID})
	}
}

func (r *Relay) handleLeave(c *Client, data []byte) {
	var req sessionRequest
	if err := json.Unmarshal(data, &req); err != nil || req.SessionID == 0 {
		r.sendError(c, "sessionId is required")
		return
	}
	sessionID := uint(req.SessionID)
	userID := c.UserID()

	if left, remaining := r.registry.Leave(sessionID, userID); left && remaining > 0 {
		r.publish(sessionID, userID, participantEvent{Type: TypeUserLeft, SessionID: sessionID, UserID: userID})
	}
}

func (r *Relay) handleTyping(c *Client, data []byte) {
	var req typingRequest
	if err := json.Unmarshal(data, &req); err != nil || req.SessionID == 0 {
		r.sendError(c, "sessionId is required")
		return
	}
	sessionID := uint(req.SessionID)
	userID := c.UserID()
	if !r.registry.IsParticipant(sessionID, userID) {
		r.sendError(c, "Not joined to session")
		return
	}
	r.publish(sessionID, userID, typingEvent{
		Type:      TypeTypingIndicator,
		SessionID: sessionID,
		UserID:    userID,
		IsTyping:  req.IsTyping,
	})
}

func (r *Relay) handleText(c *Client, data []byte) {
	var req textRequest
	if err := json.Unmarshal(data, &req); err != nil || req.SessionID == 0 {
		r.sendError(c, "sessionId is required")
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		r.sendError(c, "Message content is required")
		return
	}
	if !r.registry.IsParticipant(uint(req.SessionID), c.UserID()) {
		r.sendError(c, "Not joined to session")
		return
	}

	r.goJob(func() {
		if !r.acquire() {
			return
		}
		defer r.jobs.Release(1)
		r.processText(c, req)
	})
}

func (r *Relay) processText(c *Client, req textRequest) {
	sessionID := uint(req.SessionID)
	session, err := r.store.GetSession(r.ctx, sessionID)
	if err != nil {
		log.Printf("relay: text for session %d: %v", sessionID, err)
		r.sendError(c, "Failed to process message")
		return
	}
	if session.Status == models.SessionClosed {
		r.sendError(c, "Session is closed")
		return
	}

	source, target := languages(session, req.SourceLanguage, req.TargetLanguage)
	translated, err := r.translator.Translate(r.ctx, req.Content, source, target)
	if err != nil {
		log.Printf("relay: translate for session %d: %v", sessionID, err)
		r.sendError(c, "Translation failed")
		return
	}

	msg := models.ConversationMessage{
		SessionID:         sessionID,
		SenderID:          c.UserID(),
		Role:              roleFor(session, c.UserID()),
		Kind:              models.KindText,
		OriginalContent:   req.Content,
		TranslatedContent: translated,
		SourceLanguage:    source,
		TargetLanguage:    target,
	}
	if err := r.store.AppendMessage(r.ctx, &msg); err != nil {
		log.Printf("relay: persist message for session %d: %v", sessionID, err)
		r.sendError(c, "Failed to save message")
		return
	}

	r.publish(sessionID, 0, messageEvent{Type: TypeNewMessage, Message: msg})
}

func (r *Relay) handleAudio(c *Client, data []byte) {
	var req audioRequest
	if err := json.Unmarshal(data, &req); err != nil || req.SessionID == 0 {
		r.sendError(c, "sessionId is required")
		return
	}
	if r.audio == nil {
		r.sendError(c, "Audio messages are not supported")
		return
	}
	if !r.registry.IsParticipant(uint(req.SessionID), c.UserID()) {
		r.sendError(c, "Not joined to session")
		return
	}
	audio, err := decodeAudio(req.AudioData)
	if err != nil {
		r.sendError(c, "Invalid audio data")
		return
	}

	r.goJob(func() { r.processAudio(c, req, audio) })
}

func (r *Relay) processAudio(c *Client, req audioRequest, audio []byte) {
	sessionID := uint(req.SessionID)
	userID := c.UserID()

	if !r.acquire() {
		return
	}
	defer r.jobs.Release(1)

	session, err := r.store.GetSession(r.ctx, sessionID)
	if err != nil {
		log.Printf("relay: audio for session %d: %v", sessionID, err)
		r.sendError(c, "Failed to process audio")
		return
	}
	if session.Status == models.SessionClosed {
		r.sendError(c, "Session is closed")
		return
	}

	audioPath, err := r.audio.Save(sessionID, audio, req.MimeType)
	if err != nil {
		log.Printf("relay: store audio for session %d: %v", sessionID, err)
		r.sendError(c, "Failed to store audio")
		return
	}
	r.publish(sessionID, 0, audioReceived{Type: TypeAudioReceived, SessionID: sessionID, UserID: userID, AudioPath: audioPath})

	source, target := languages(session, req.SourceLanguage, req.TargetLanguage)

	text, err := r.transcriber.Transcribe(r.ctx, audio, path.Base(audioPath), source)
	if err != nil && !errors.Is(err, translate.ErrNotConfigured) {
		log.Printf("relay: transcribe for session %d: %v", sessionID, err)
		r.sendError(c, "Transcription failed")
		return
	}

	var translated string
	if text != "" {
		translated, err = r.translator.Translate(r.ctx, text, source, target)
		if err != nil {
			log.Printf("relay: translate audio for session %d: %v", sessionID, err)
			r.sendError(c, "Translation failed")
			return
		}
	}

	msg := models.ConversationMessage{
		SessionID:         sessionID,
		SenderID:          userID,
		Role:              roleFor(session, userID),
		Kind:              models.KindAudio,
		OriginalContent:   text,
		TranslatedContent: translated,
		SourceLanguage:    source,
		TargetLanguage:    target,
		AudioPath:         audioPath,
	}
	if err := r.store.AppendMessage(r.ctx, &msg); err != nil {
		log.Printf("relay: persist audio message for session %d: %v", sessionID, err)
		r.sendError(c, "Failed to save message")
		return
	}

	r.publish(sessionID, 0, messageEvent{Type: TypeNewAudioMessage, Message: msg})
}

// goJob runs fn on its own goroutine, tracked for Close. It reports false
// and drops fn once Close has begun.
func (r *Relay) goJob(fn func()) bool {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return false
	}
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()
		fn()
	}()
	return true
}

// acquire takes a job slot, failing only when the relay is closing.
func (r *Relay) acquire() bool {
	return r.jobs.Acquire(r.ctx, 1) == nil
}

func (r *Relay) sendJSON(c *Client, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("relay: marshal %T: %v", v, err)
		return
	}
	c.Send(data)
}

func (r *Relay) sendError(c *Client, message string) {
	r.sendJSON(c, errorEvent{Type: TypeError, Message: message})
}

func (r *Relay) publish(sessionID, exclude uint, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("relay: marshal %T: %v", v, err)
		return
	}
	r.fanout.Publish(sessionID, exclude, data)
}

// roleFor is "user" for the session owner and "client" for anyone else.
func roleFor(session *models.ConversationSession, userID uint) string {
	if session.OwnerID == userID {
		return models.RoleUser
	}
	return models.RoleClient
}

// languages falls back to the session's languages for unset tags.
func languages(session *models.ConversationSession, source, target string) (string, string) {
	if source == "" {
		source = session.SourceLanguage
	}
	if target == "" {
		target = session.TargetLanguage
	}
	return source, target
}

// companyFor returns the company bound into the token, else the one the
// lookup finds for the user.
func (r *Relay) companyFor(p auth.Principal) (uint, error) {
	if p.CompanyID != nil && *p.CompanyID != 0 {
		return *p.CompanyID, nil
	}
	if r.companies == nil {
		return 0, nil
	}
	return r.companies.CompanyFor(r.ctx, p)
}

// decodeAudio accepts raw base64 or a data: URL.
func decodeAudio(s string) ([]byte, error) {
	if strings.HasPrefix(s, "data:") {
		i := strings.Index(s, ",")
		if i < 0 {
			return nil, errors.New("malformed data url")
		}
		s = s[i+1:]
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, errors.New("empty audio")
	}
	return data, nil
}
