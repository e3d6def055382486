package api

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/handlers"

	"github.com/npezzotti/chatcore/internal/chat"
	"github.com/npezzotti/chatcore/internal/config"
	"github.com/npezzotti/chatcore/internal/types"
)

// ChatSession is what the UI API drives. *chat.Session implements it.
type ChatSession interface {
	Start(ctx context.Context, token string, user types.User) error
	Stop()
	Status(ctx context.Context) (chat.Status, error)
	SetNewMessageAlerts(ctx context.Context, enabled bool) error

	Rooms(ctx context.Context) ([]types.Room, error)
	RefreshRooms(ctx context.Context) error
	SetRoomList(ctx context.Context, rooms []types.Room) error
	OpenRoom(ctx context.Context, roomId types.RoomId) error
	CloseRoom(ctx context.Context) error
	RemoveRoom(ctx context.Context, roomId types.RoomId) error

	Messages(ctx context.Context, roomId types.RoomId) ([]types.Message, int, error)
	SendMessage(ctx context.Context, roomId types.RoomId, body string) (types.Message, error)
	PostSystemMessage(ctx context.Context, roomId types.RoomId, body string) (types.Message, error)
	MarkRead(ctx context.Context, roomId types.RoomId, messageId int64) error

	Notifications(ctx context.Context) ([]types.NotificationEntry, error)
	CloseNotification(ctx context.Context, id string) error
	RemoveNotification(ctx context.Context, id string) error

	Updates() (<-chan chat.Update, func())
}

var _ ChatSession = (*chat.Session)(nil)

type ChatApp struct {
	log            *log.Logger
	session        ChatSession
	allowedOrigins []string
	srv            *http.Server
}

// NewChatApp registers the UI routes on mux. The stats updater registers
// GET /debug/vars on the same mux.
func NewChatApp(mux *http.ServeMux, logger *log.Logger, session ChatSession, cfg *config.Config) *ChatApp {
	s := &ChatApp{
		log:            logger,
		session:        session,
		allowedOrigins: cfg.AllowedOrigins,
	}

	mux.HandleFunc("GET /healthz", s.healthCheck)
	mux.HandleFunc("GET /api/events", s.serveUpdates)

	mux.HandleFunc("POST /api/session", s.noCache(s.startSession))
	mux.HandleFunc("GET /api/session", s.noCache(s.getSession))
	mux.HandleFunc("DELETE /api/session", s.noCache(s.stopSession))
	mux.HandleFunc("PUT /api/session/alerts", s.noCache(s.setAlerts))

	mux.HandleFunc("GET /api/rooms", s.noCache(s.getRooms))
	mux.HandleFunc("PUT /api/rooms", s.noCache(s.setRooms))
	mux.HandleFunc("POST /api/rooms/refresh", s.noCache(s.refreshRooms))
	mux.HandleFunc("POST /api/rooms/close", s.noCache(s.closeRoom))
	mux.HandleFunc("POST /api/rooms/{id}/open", s.noCache(s.openRoom))
	mux.HandleFunc("DELETE /api/rooms/{id}", s.noCache(s.removeRoom))
	mux.HandleFunc("GET /api/rooms/{id}/messages", s.noCache(s.getMessages))
	mux.HandleFunc("POST /api/rooms/{id}/messages", s.noCache(s.sendMessage))
	mux.HandleFunc("POST /api/rooms/{id}/system-messages", s.noCache(s.postSystemMessage))
	mux.HandleFunc("POST /api/rooms/{id}/read", s.noCache(s.markRead))

	mux.HandleFunc("GET /api/notifications", s.noCache(s.getNotifications))
	mux.HandleFunc("POST /api/notifications/{id}/close", s.noCache(s.closeNotification))
	mux.HandleFunc("DELETE /api/notifications/{id}", s.noCache(s.removeNotification))

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept"}),
		handlers.AllowCredentials(),
	)(mux)

	h = handlers.LoggingHandler(logger.Writer(), h)
	h = s.errorHandler(h)

	s.srv = &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: h,
	}

	return s
}

// Handler returns the fully wrapped handler, for tests and embedding.
func (s *ChatApp) Handler() http.Handler {
	return s.srv.Handler
}

func (s *ChatApp) Start() error {
	s.log.Printf("starting server on %s\n", s.srv.Addr)
	return s.srv.ListenAndServe()
}

func (s *ChatApp) Shutdown(ctx context.Context) error {
	s.log.Println("shutting down HTTP server...")
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
