package relay

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"github.com/zulandar/ledgerline/internal/auth"
	"github.com/zulandar/ledgerline/internal/config"
	"github.com/zulandar/ledgerline/internal/conversation"
	"github.com/zulandar/ledgerline/internal/db/dbtest"
	"github.com/zulandar/ledgerline/internal/models"
	"github.com/zulandar/ledgerline/internal/storage"
	"github.com/zulandar/ledgerline/internal/tenant"
	"gorm.io/gorm"
)

const (
	testSecret  = "relay-test-secret"
	testIssuer  = "ledgerline"
	testSession = 100
)

// prefixTranslator marks translated text so tests can tell it apart.
type prefixTranslator struct {
	gate chan struct{} // when set, "slow" blocks until closed
}

func (p prefixTranslator) Translate(ctx context.Context, text, _, target string) (string, error) {
	if text == "slow" && p.gate != nil {
		select {
		case <-p.gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if text == "boom" {
		return "", errors.New("provider down")
	}
	return "[" + target + "] " + text, nil
}

type fixedTranscriber struct{ text string }

func (f fixedTranscriber) Transcribe(_ context.Context, audio []byte, filename, _ string) (string, error) {
	if len(audio) == 0 || filename == "" {
		return "", errors.New("no audio")
	}
	return f.text, nil
}

type harness struct {
	db     *gorm.DB
	store  *conversation.Store
	issuer *auth.Issuer
	relay  *Relay
	audio  *storage.AudioStore
	url    string
}

func newHarness(t *testing.T, customize func(*Opts)) *harness {
	t.Helper()

	gormDB := dbtest.New(t)
	dbtest.SeedCompany(t, gormDB, 1, "Acme")
	dbtest.SeedCompany(t, gormDB, 2, "Globex")
	for _, id := range []uint{1, 2, 3} {
		dbtest.SeedUser(t, gormDB, id, 1)
	}
	dbtest.SeedSession(t, gormDB, testSession, 1, 1)

	store, err := conversation.NewStore(conversation.StoreOpts{DB: gormDB})
	require.NoError(t, err)
	issuer, err := auth.NewIssuer(testSecret, testIssuer)
	require.NoError(t, err)
	verifier, err := auth.NewVerifier(testSecret, testIssuer)
	require.NoError(t, err)
	audio, err := storage.NewAudioStore(t.TempDir())
	require.NoError(t, err)

	opts := Opts{
		Verifier:    verifier,
		Store:       store,
		Companies:   tenant.PrincipalLookup{DB: gormDB},
		Translator:  prefixTranslator{},
		Transcriber: fixedTranscriber{text: "hello there"},
		Audio:       audio,
		Config: config.RelayConfig{
			PingIntervalSec:   30,
			ReadTimeoutSec:    60,
			WriteTimeoutSec:   5,
			SendBuffer:        64,
			MaxConcurrentJobs: 2,
		},
	}
	if customize != nil {
		customize(&opts)
	}
	rel, err := New(opts)
	require.NoError(t, err)

	srv := httptest.NewServer(rel)
	t.Cleanup(func() {
		rel.Close()
		srv.Close()
	})

	return &harness{
		db:     gormDB,
		store:  store,
		issuer: issuer,
		relay:  rel,
		audio:  audio,
		url:    "ws" + strings.TrimPrefix(srv.URL, "http"),
	}
}

func (h *harness) token(t *testing.T, userID uint, companyID *uint) string {
	t.Helper()
	tok, err := h.issuer.Issue(userID, companyID, time.Hour)
	require.NoError(t, err)
	return tok
}

func (h *harness) dialRaw(t *testing.T, query string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(h.url+"/ws"+query, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// connect dials as userID and consumes CONNECTION_ESTABLISHED.
func (h *harness) connect(t *testing.T, userID uint) *websocket.Conn {
	t.Helper()
	conn := h.dialRaw(t, "?token="+h.token(t, userID, nil))
	ev := readEvent(t, conn)
	require.Equal(t, TypeConnectionEstablished, ev.Type)
	require.Equal(t, userID, ev.UserID)
	require.NotEmpty(t, ev.ConnectionID)
	return conn
}

// join sends JOIN_SESSION and consumes SESSION_JOINED.
func join(t *testing.T, conn *websocket.Conn, sessionID uint) event {
	t.Helper()
	send(t, conn, map[string]interface{}{"type": TypeJoinSession, "sessionId": sessionID})
	ev := readEvent(t, conn)
	require.Equal(t, TypeSessionJoined, ev.Type, "got %s", ev.raw)
	return ev
}

type event struct {
	Type         string                       `json:"type"`
	UserID       uint                         `json:"userId"`
	SessionID    uint                         `json:"sessionId"`
	ConnectionID string                       `json:"connectionId"`
	Sessions     []uint                       `json:"sessions"`
	IsTyping     bool                         `json:"isTyping"`
	AudioPath    string                       `json:"audioPath"`
	Session      models.ConversationSession   `json:"session"`
	Messages     []models.ConversationMessage `json:"messages"`
	Message      json.RawMessage              `json:"message"`

	raw []byte
}

func (e event) errorText(t *testing.T) string {
	t.Helper()
	var s string
	require.NoError(t, json.Unmarshal(e.Message, &s), "not an error event: %s", e.raw)
	return s
}

func (e event) message(t *testing.T) models.ConversationMessage {
	t.Helper()
	var m models.ConversationMessage
	require.NoError(t, json.Unmarshal(e.Message, &m), "not a message event: %s", e.raw)
	return m
}

func send(t *testing.T, conn *websocket.Conn, v interface{}) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(v))
}

func readEvent(t *testing.T, conn *websocket.Conn) event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var ev event
	require.NoError(t, json.Unmarshal(data, &ev))
	ev.raw = data
	return ev
}

func readCloseCode(t *testing.T, conn *websocket.Conn) int {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		_, _, err := conn.ReadMessage()
		if err == nil {
			continue
		}
		var ce *websocket.CloseError
		require.True(t, errors.As(err, &ce), "expected close error, got %v", err)
		return ce.Code
	}
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Opts{})
	require.ErrorContains(t, err, "verifier is required")

	verifier, err := auth.NewVerifier(testSecret, "")
	require.NoError(t, err)
	_, err = New(Opts{Verifier: verifier})
	require.ErrorContains(t, err, "store is required")
}

func TestRelay_HandshakeRejections(t *testing.T) {
	h := newHarness(t, nil)

	conn := h.dialRaw(t, "")
	require.Equal(t, CloseAuthRequired, readCloseCode(t, conn))

	conn = h.dialRaw(t, "?token=not-a-jwt")
	require.Equal(t, CloseInvalidToken, readCloseCode(t, conn))

	other, err := auth.NewIssuer("another-secret", testIssuer)
	require.NoError(t, err)
	forged, err := other.Issue(1, nil, time.Hour)
	require.NoError(t, err)
	conn = h.dialRaw(t, "?token="+forged)
	require.Equal(t, CloseInvalidToken, readCloseCode(t, conn))

	require.Equal(t, 0, h.relay.Registry().ConnectionCount())
}

func TestRelay_JoinReturnsSnapshot(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.store.AppendMessage(context.Background(), &models.ConversationMessage{
		SessionID: testSession, SenderID: 1, Role: models.RoleUser, OriginalContent: "earlier",
	}))

	conn := h.connect(t, 1)
	ev := join(t, conn, testSession)
	require.Equal(t, uint(testSession), ev.Session.ID)
	require.Len(t, ev.Messages, 1)
	require.Equal(t, "earlier", ev.Messages[0].OriginalContent)
}

func TestRelay_JoinEmptySessionSendsEmptyList(t *testing.T) {
	h := newHarness(t, nil)
	conn := h.connect(t, 1)

	// String ids are accepted.
	send(t, conn, map[string]interface{}{"type": TypeJoinSession, "sessionId": "100"})
	ev := readEvent(t, conn)
	require.Equal(t, TypeSessionJoined, ev.Type)
	require.Contains(t, string(ev.raw), `"messages":[]`)
}

func TestRelay_JoinTwiceIsIdempotent(t *testing.T) {
	h := newHarness(t, nil)
	owner := h.connect(t, 1)
	guest := h.connect(t, 2)

	join(t, owner, testSession)
	join(t, guest, testSession)

	ev := readEvent(t, owner)
	require.Equal(t, TypeUserJoined, ev.Type)
	require.Equal(t, uint(2), ev.UserID)
	require.Equal(t, uint(testSession), ev.SessionID)

	// A repeated join answers the joiner but is not announced again.
	join(t, guest, testSession)
	send(t, guest, map[string]interface{}{"type": TypeTypingIndicator, "sessionId": testSession, "isTyping": true})

	ev = readEvent(t, owner)
	require.Equal(t, TypeTypingIndicator, ev.Type)
	require.Equal(t, []uint{1, 2}, h.relay.Registry().Participants(testSession))
}

func TestRelay_JoinErrors(t *testing.T) {
	h := newHarness(t, nil)
	conn := h.connect(t, 1)

	send(t, conn, map[string]interface{}{"type": TypeJoinSession, "sessionId": 999})
	ev := readEvent(t, conn)
	require.Equal(t, TypeError, ev.Type)
	require.Equal(t, "Session not found", ev.errorText(t))

	send(t, conn, map[string]interface{}{"type": TypeJoinSession})
	ev = readEvent(t, conn)
	require.Equal(t, "sessionId is required", ev.errorText(t))

	require.False(t, h.relay.Registry().HasSession(999))
}

func TestRelay_JoinOtherCompanySessionHidden(t *testing.T) {
	h := newHarness(t, nil)
	globex := uint(2)
	conn := h.dialRaw(t, "?token="+h.token(t, 3, &globex))
	require.Equal(t, TypeConnectionEstablished, readEvent(t, conn).Type)

	send(t, conn, map[string]interface{}{"type": TypeJoinSession, "sessionId": testSession})
	ev := readEvent(t, conn)
	require.Equal(t, "Session not found", ev.errorText(t))
	require.False(t, h.relay.Registry().IsParticipant(testSession, 3))
}

func TestRelay_JoinFollowsPrincipalCompany(t *testing.T) {
	h := newHarness(t, nil)
	dbtest.SeedSession(t, h.db, 200, 2, 2)
	dbtest.SeedUser(t, h.db, 4, 0)

	// User 1 defaults to company 1, so company 2's session is hidden.
	conn := h.connect(t, 1)
	send(t, conn, map[string]interface{}{"type": TypeJoinSession, "sessionId": 200})
	require.Equal(t, "Session not found", readEvent(t, conn).errorText(t))
	require.False(t, h.relay.Registry().HasSession(200))

	// A user with no company at all sees nothing.
	conn = h.connect(t, 4)
	send(t, conn, map[string]interface{}{"type": TypeJoinSession, "sessionId": testSession})
	require.Equal(t, "Session not found", readEvent(t, conn).errorText(t))

	// A token bound to company 2 wins over the default company.
	globex := uint(2)
	conn = h.dialRaw(t, "?token="+h.token(t, 3, &globex))
	require.Equal(t, TypeConnectionEstablished, readEvent(t, conn).Type)
	ev := join(t, conn, 200)
	require.Equal(t, uint(2), ev.Session.CompanyID)
}

func TestRelay_JoinWithoutLookupNeedsBoundToken(t *testing.T) {
	h := newHarness(t, func(o *Opts) { o.Companies = nil })

	conn := h.connect(t, 1)
	send(t, conn, map[string]interface{}{"type": TypeJoinSession, "sessionId": testSession})
	require.Equal(t, "Session not found", readEvent(t, conn).errorText(t))

	acme := uint(1)
	conn = h.dialRaw(t, "?token="+h.token(t, 2, &acme))
	require.Equal(t, TypeConnectionEstablished, readEvent(t, conn).Type)
	join(t, conn, testSession)
}

func TestRelay_ClosedSessionRejectsMessages(t *testing.T) {
	h := newHarness(t, nil)
	conn := h.connect(t, 1)
	require.NoError(t, h.store.CloseSession(context.Background(), testSession))

	// History stays readable.
	ev := join(t, conn, testSession)
	require.Equal(t, models.SessionClosed, ev.Session.Status)

	send(t, conn, map[string]interface{}{"type": TypeTextMessage, "sessionId": testSession, "content": "late"})
	require.Equal(t, "Session is closed", readEvent(t, conn).errorText(t))

	send(t, conn, map[string]interface{}{
		"type": TypeAudioMessage, "sessionId": testSession,
		"audioData": base64.StdEncoding.EncodeToString([]byte("late")), "mimeType": "audio/ogg",
	})
	require.Equal(t, "Session is closed", readEvent(t, conn).errorText(t))

	count, err := h.store.MessageCount(context.Background(), testSession)
	require.NoError(t, err)
	require.Zero(t, count)
	require.Zero(t, countFiles(t, h.audio.Dir()))
}

func countFiles(t *testing.T, dir string) int {
	t.Helper()
	n := 0
	err := filepath.WalkDir(dir, func(_ string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			n++
		}
		return nil
	})
	require.NoError(t, err)
	return n
}

func TestRelay_TextMessageBroadcastAndPersist(t *testing.T) {
	h := newHarness(t, nil)
	owner := h.connect(t, 1)
	guest := h.connect(t, 2)
	join(t, owner, testSession)
	join(t, guest, testSession)
	require.Equal(t, TypeUserJoined, readEvent(t, owner).Type)

	send(t, owner, map[string]interface{}{"type": TypeTextMessage, "sessionId": testSession, "content": "Hello"})

	for _, conn := range []*websocket.Conn{owner, guest} {
		ev := readEvent(t, conn)
		require.Equal(t, TypeNewMessage, ev.Type)
		msg := ev.message(t)
		require.Equal(t, "Hello", msg.OriginalContent)
		require.Equal(t, "[RUSSIAN] Hello", msg.TranslatedContent)
		require.Equal(t, models.RoleUser, msg.Role)
		require.Equal(t, models.KindText, msg.Kind)
		require.NotZero(t, msg.ID)
	}

	send(t, guest, map[string]interface{}{
		"type": TypeTextMessage, "sessionId": testSession, "content": "Privet",
		"sourceLanguage": "RUSSIAN", "targetLanguage": "ENGLISH",
	})
	ev := readEvent(t, owner)
	msg := ev.message(t)
	require.Equal(t, models.RoleClient, msg.Role)
	require.Equal(t, "[ENGLISH] Privet", msg.TranslatedContent)
	require.Equal(t, uint(2), msg.SenderID)
	readEvent(t, guest)

	history, err := h.store.History(context.Background(), testSession)
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, "Hello", history[0].OriginalContent)
	require.Equal(t, "Privet", history[1].OriginalContent)
}

func TestRelay_TextRequiresMembership(t *testing.T) {
	h := newHarness(t, nil)
	conn := h.connect(t, 3)

	send(t, conn, map[string]interface{}{"type": TypeTextMessage, "sessionId": testSession, "content": "hi"})
	ev := readEvent(t, conn)
	require.Equal(t, TypeError, ev.Type)
	require.Equal(t, "Not joined to session", ev.errorText(t))

	count, err := h.store.MessageCount(context.Background(), testSession)
	require.NoError(t, err)
	require.Zero(t, count)
}

func TestRelay_TextValidationAndFailures(t *testing.T) {
	h := newHarness(t, nil)
	conn := h.connect(t, 1)
	join(t, conn, testSession)

	send(t, conn, map[string]interface{}{"type": TypeTextMessage, "sessionId": testSession, "content": "  "})
	require.Equal(t, "Message content is required", readEvent(t, conn).errorText(t))

	send(t, conn, map[string]interface{}{"type": TypeTextMessage, "sessionId": testSession, "content": "boom"})
	require.Equal(t, "Translation failed", readEvent(t, conn).errorText(t))

	count, err := h.store.MessageCount(context.Background(), testSession)
	require.NoError(t, err)
	require.Zero(t, count)
}

func TestRelay_PersistedOrderMatchesBroadcastOrder(t *testing.T) {
	gate := make(chan struct{})
	h := newHarness(t, func(o *Opts) { o.Translator = prefixTranslator{gate: gate} })
	conn := h.connect(t, 1)
	join(t, conn, testSession)

	send(t, conn, map[string]interface{}{"type": TypeTextMessage, "sessionId": testSession, "content": "slow"})
	send(t, conn, map[string]interface{}{"type": TypeTextMessage, "sessionId": testSession, "content": "fast"})

	first := readEvent(t, conn).message(t)
	require.Equal(t, "fast", first.OriginalContent)

	close(gate)
	second := readEvent(t, conn).message(t)
	require.Equal(t, "slow", second.OriginalContent)
	require.Greater(t, second.ID, first.ID)

	history, err := h.store.History(context.Background(), testSession)
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, []string{"fast", "slow"}, []string{history[0].OriginalContent, history[1].OriginalContent})
}

func TestRelay_TypingGoesToOthersOnly(t *testing.T) {
	h := newHarness(t, nil)
	owner := h.connect(t, 1)
	guest := h.connect(t, 2)
	join(t, owner, testSession)
	join(t, guest, testSession)
	require.Equal(t, TypeUserJoined, readEvent(t, owner).Type)

	send(t, guest, map[string]interface{}{"type": TypeTypingIndicator, "sessionId": testSession, "isTyping": true})
	ev := readEvent(t, owner)
	require.Equal(t, TypeTypingIndicator, ev.Type)
	require.Equal(t, uint(2), ev.UserID)
	require.True(t, ev.IsTyping)

	// The typist's next frame is the reply to its own later request.
	send(t, guest, map[string]interface{}{"type": "PING"})
	ev = readEvent(t, guest)
	require.Equal(t, TypeError, ev.Type)
}

func TestRelay_UnknownTypeAndBadJSONKeepConnection(t *testing.T) {
	h := newHarness(t, nil)
	conn := h.connect(t, 1)

	send(t, conn, map[string]interface{}{"type": "FOO"})
	require.Equal(t, "Unknown message type: FOO", readEvent(t, conn).errorText(t))

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	require.Equal(t, "Invalid message format", readEvent(t, conn).errorText(t))

	join(t, conn, testSession)
}

func TestRelay_LeaveNotifiesRemaining(t *testing.T) {
	h := newHarness(t, nil)
	owner := h.connect(t, 1)
	guest := h.connect(t, 2)
	join(t, owner, testSession)
	join(t, guest, testSession)
	require.Equal(t, TypeUserJoined, readEvent(t, owner).Type)

	send(t, guest, map[string]interface{}{"type": TypeLeaveSession, "sessionId": testSession})
	ev := readEvent(t, owner)
	require.Equal(t, TypeUserLeft, ev.Type)
	require.Equal(t, uint(2), ev.UserID)
	require.Equal(t, []uint{1}, h.relay.Registry().Participants(testSession))

	send(t, owner, map[string]interface{}{"type": TypeLeaveSession, "sessionId": testSession})
	require.Eventually(t, func() bool {
		return !h.relay.Registry().HasSession(testSession)
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRelay_DisconnectCleansUp(t *testing.T) {
	h := newHarness(t, nil)
	owner := h.connect(t, 1)
	guest := h.connect(t, 2)
	join(t, owner, testSession)
	join(t, guest, testSession)
	require.Equal(t, TypeUserJoined, readEvent(t, owner).Type)

	require.NoError(t, guest.Close())

	ev := readEvent(t, owner)
	require.Equal(t, TypeUserLeft, ev.Type)
	require.Equal(t, uint(2), ev.UserID)
	require.Equal(t, uint(testSession), ev.SessionID)

	reg := h.relay.Registry()
	require.Eventually(t, func() bool { return reg.ConnectionCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, []uint{1}, reg.Participants(testSession))

	require.NoError(t, owner.Close())
	require.Eventually(t, func() bool {
		return reg.ConnectionCount() == 0 && !reg.HasSession(testSession)
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRelay_ReconnectReplacesConnection(t *testing.T) {
	h := newHarness(t, nil)
	first := h.connect(t, 1)
	join(t, first, testSession)

	second := h.dialRaw(t, "?token="+h.token(t, 1, nil))
	established := readEvent(t, second)
	require.Equal(t, TypeConnectionEstablished, established.Type)
	require.Equal(t, []uint{testSession}, established.Sessions)
	require.Equal(t, CloseConnectionError, readCloseCode(t, first))

	// Memberships survive the replacement.
	require.True(t, h.relay.Registry().IsParticipant(testSession, 1))
	send(t, second, map[string]interface{}{"type": TypeTextMessage, "sessionId": testSession, "content": "still here"})
	ev := readEvent(t, second)
	require.Equal(t, TypeNewMessage, ev.Type)
	require.Equal(t, "still here", ev.message(t).OriginalContent)
	require.Equal(t, 1, h.relay.Registry().ConnectionCount())
}

func TestRelay_AudioMessage(t *testing.T) {
	h := newHarness(t, nil)
	owner := h.connect(t, 1)
	guest := h.connect(t, 2)
	join(t, owner, testSession)
	join(t, guest, testSession)
	require.Equal(t, TypeUserJoined, readEvent(t, owner).Type)

	payload := "data:audio/webm;base64," + base64.StdEncoding.EncodeToString([]byte("fake-audio"))
	send(t, owner, map[string]interface{}{
		"type": TypeAudioMessage, "sessionId": testSession, "audioData": payload, "mimeType": "audio/webm",
	})

	for _, conn := range []*websocket.Conn{owner, guest} {
		ev := readEvent(t, conn)
		require.Equal(t, TypeAudioReceived, ev.Type)
		require.Equal(t, uint(1), ev.UserID)
		require.True(t, strings.HasPrefix(ev.AudioPath, "100/"), ev.AudioPath)
		require.True(t, strings.HasSuffix(ev.AudioPath, ".webm"), ev.AudioPath)

		ev = readEvent(t, conn)
		require.Equal(t, TypeNewAudioMessage, ev.Type)
		msg := ev.message(t)
		require.Equal(t, models.KindAudio, msg.Kind)
		require.Equal(t, "hello there", msg.OriginalContent)
		require.Equal(t, "[RUSSIAN] hello there", msg.TranslatedContent)
		require.NotEmpty(t, msg.AudioPath)

		data, err := os.ReadFile(filepath.Join(h.audio.Dir(), filepath.FromSlash(msg.AudioPath)))
		require.NoError(t, err)
		require.Equal(t, "fake-audio", string(data))
	}
}

func TestRelay_AudioWithoutTranscriber(t *testing.T) {
	h := newHarness(t, func(o *Opts) { o.Transcriber = nil })
	conn := h.connect(t, 1)
	join(t, conn, testSession)

	send(t, conn, map[string]interface{}{
		"type": TypeAudioMessage, "sessionId": testSession,
		"audioData": base64.StdEncoding.EncodeToString([]byte("x")), "mimeType": "audio/ogg",
	})
	require.Equal(t, TypeAudioReceived, readEvent(t, conn).Type)
	msg := readEvent(t, conn).message(t)
	require.Equal(t, models.KindAudio, msg.Kind)
	require.Empty(t, msg.OriginalContent)
	require.True(t, strings.HasSuffix(msg.AudioPath, ".ogg"), msg.AudioPath)
}

func TestRelay_AudioWaitsForJobSlot(t *testing.T) {
	gate := make(chan struct{})
	h := newHarness(t, func(o *Opts) {
		o.Translator = prefixTranslator{gate: gate}
		o.Config.MaxConcurrentJobs = 1
	})
	conn := h.connect(t, 1)
	join(t, conn, testSession)

	send(t, conn, map[string]interface{}{"type": TypeTextMessage, "sessionId": testSession, "content": "slow"})
	time.Sleep(50 * time.Millisecond)
	send(t, conn, map[string]interface{}{
		"type": TypeAudioMessage, "sessionId": testSession,
		"audioData": base64.StdEncoding.EncodeToString([]byte("queued")), "mimeType": "audio/ogg",
	})

	// The text job holds the only slot, so nothing is written yet.
	time.Sleep(100 * time.Millisecond)
	require.Zero(t, countFiles(t, h.audio.Dir()))

	close(gate)
	require.Equal(t, TypeNewMessage, readEvent(t, conn).Type)
	require.Equal(t, TypeAudioReceived, readEvent(t, conn).Type)
	require.Equal(t, TypeNewAudioMessage, readEvent(t, conn).Type)
	require.Equal(t, 1, countFiles(t, h.audio.Dir()))
}

func TestRelay_AudioErrors(t *testing.T) {
	h := newHarness(t, nil)
	conn := h.connect(t, 1)
	join(t, conn, testSession)

	send(t, conn, map[string]interface{}{"type": TypeAudioMessage, "sessionId": testSession, "audioData": "%%%"})
	require.Equal(t, "Invalid audio data", readEvent(t, conn).errorText(t))

	noAudio := newHarness(t, func(o *Opts) { o.Audio = nil })
	conn = noAudio.connect(t, 1)
	join(t, conn, testSession)
	send(t, conn, map[string]interface{}{"type": TypeAudioMessage, "sessionId": testSession, "audioData": "eA=="})
	require.Equal(t, "Audio messages are not supported", readEvent(t, conn).errorText(t))
}

func TestRelay_CloseDisconnectsClients(t *testing.T) {
	h := newHarness(t, nil)
	conn := h.connect(t, 1)

	h.relay.Close()
	require.Equal(t, websocket.CloseGoingAway, readCloseCode(t, conn))
}

func TestRelay_NoJobsAfterClose(t *testing.T) {
	h := newHarness(t, nil)
	h.relay.Close()

	ran := h.relay.goJob(func() { t.Error("job ran after Close") })
	require.False(t, ran)
}
