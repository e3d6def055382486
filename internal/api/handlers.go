package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/npezzotti/chatcore/internal/chat"
	"github.com/npezzotti/chatcore/internal/types"
)

type StartSessionRequest struct {
	AccessToken string `json:"accessToken"`
	UserNo      int64  `json:"userNo"`
	Username    string `json:"username"`
}

type AlertsRequest struct {
	Enabled bool `json:"enabled"`
}

type SendMessageRequest struct {
	Content string `json:"content"`
}

type MarkReadRequest struct {
	MessageNo int64 `json:"messageNo"`
}

type MessagesResponse struct {
	Messages []types.Message `json:"messages"`
	// UnreadDivider is the index of the first unread message, if any.
	UnreadDivider *int `json:"unreadDivider"`
}

func (s *ChatApp) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Printf("json encode: %v", err)
	}
}

func (s *ChatApp) writeError(w http.ResponseWriter, err error) {
	errResp := errorFor(err)
	if errResp.StatusCode >= http.StatusInternalServerError {
		s.log.Println(err)
	}
	s.writeJson(w, errResp.StatusCode, errResp)
}

func (s *ChatApp) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return false
	}
	return true
}

func roomIdParam(r *http.Request) types.RoomId {
	return types.RoomId(r.PathValue("id"))
}

func (s *ChatApp) healthCheck(w http.ResponseWriter, r *http.Request) {
	if _, err := s.session.Status(r.Context()); err != nil {
		s.log.Printf("health check: %v", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *ChatApp) startSession(w http.ResponseWriter, r *http.Request) {
	var req StartSessionRequest
	if !s.decode(w, r, &req) {
		return
	}

	if req.AccessToken == "" || req.UserNo == 0 {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	user := types.User{Id: req.UserNo, Username: req.Username}
	if err := s.session.Start(r.Context(), req.AccessToken, user); err != nil {
		s.writeError(w, err)
		return
	}

	s.getSession(w, r)
}

func (s *ChatApp) getSession(w http.ResponseWriter, r *http.Request) {
	status, err := s.session.Status(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJson(w, http.StatusOK, status)
}

func (s *ChatApp) stopSession(w http.ResponseWriter, r *http.Request) {
	s.session.Stop()
	w.WriteHeader(http.StatusNoContent)
}

func (s *ChatApp) setAlerts(w http.ResponseWriter, r *http.Request) {
	var req AlertsRequest
	if !s.decode(w, r, &req) {
		return
	}

	if err := s.session.SetNewMessageAlerts(r.Context(), req.Enabled); err != nil {
		s.writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *ChatApp) getRooms(w http.ResponseWriter, r *http.Request) {
	rooms, err := s.session.Rooms(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJson(w, http.StatusOK, rooms)
}

func (s *ChatApp) setRooms(w http.ResponseWriter, r *http.Request) {
	var rooms []types.Room
	if !s.decode(w, r, &rooms) {
		return
	}

	for _, room := range rooms {
		if room.Id == "" || !room.Kind.Valid() {
			errResp := NewBadRequestError()
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}
	}

	if err := s.session.SetRoomList(r.Context(), rooms); err != nil {
		s.writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *ChatApp) refreshRooms(w http.ResponseWriter, r *http.Request) {
	if err := s.session.RefreshRooms(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}

	s.getRooms(w, r)
}

func (s *ChatApp) openRoom(w http.ResponseWriter, r *http.Request) {
	if err := s.session.OpenRoom(r.Context(), roomIdParam(r)); err != nil {
		s.writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *ChatApp) closeRoom(w http.ResponseWriter, r *http.Request) {
	if err := s.session.CloseRoom(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *ChatApp) removeRoom(w http.ResponseWriter, r *http.Request) {
	if err := s.session.RemoveRoom(r.Context(), roomIdParam(r)); err != nil {
		s.writeError(w, err)
		return
	}

	// the room goes away once the broker announces the removal
	w.WriteHeader(http.StatusAccepted)
}

func (s *ChatApp) getMessages(w http.ResponseWriter, r *http.Request) {
	messages, divider, err := s.session.Messages(r.Context(), roomIdParam(r))
	if err != nil {
		s.writeError(w, err)
		return
	}

	resp := MessagesResponse{Messages: messages}
	if resp.Messages == nil {
		resp.Messages = []types.Message{}
	}
	if divider >= 0 {
		resp.UnreadDivider = &divider
	}

	s.writeJson(w, http.StatusOK, resp)
}

func (s *ChatApp) sendMessage(w http.ResponseWriter, r *http.Request) {
	var req SendMessageRequest
	if !s.decode(w, r, &req) {
		return
	}

	msg, err := s.session.SendMessage(r.Context(), roomIdParam(r), req.Content)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJson(w, http.StatusCreated, msg)
}

func (s *ChatApp) postSystemMessage(w http.ResponseWriter, r *http.Request) {
	var req SendMessageRequest
	if !s.decode(w, r, &req) {
		return
	}

	if req.Content == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	msg, err := s.session.PostSystemMessage(r.Context(), roomIdParam(r), req.Content)
	if err != nil {
		var sendErr *chat.SendError
		if errors.As(err, &sendErr) && msg.HasId() {
			// stored but not broadcast
			s.log.Printf("system message %d: %v", msg.MessageId, err)
			s.writeJson(w, http.StatusAccepted, msg)
			return
		}
		s.writeError(w, err)
		return
	}

	s.writeJson(w, http.StatusCreated, msg)
}

func (s *ChatApp) markRead(w http.ResponseWriter, r *http.Request) {
	var req MarkReadRequest
	if q := r.URL.Query().Get("messageNo"); q != "" {
		req.MessageNo, _ = parseMessageNo(q)
	} else if !s.decode(w, r, &req) {
		return
	}

	if req.MessageNo <= 0 {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if err := s.session.MarkRead(r.Context(), roomIdParam(r), req.MessageNo); err != nil {
		s.writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *ChatApp) getNotifications(w http.ResponseWriter, r *http.Request) {
	entries, err := s.session.Notifications(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}

	if entries == nil {
		entries = []types.NotificationEntry{}
	}
	s.writeJson(w, http.StatusOK, entries)
}

func (s *ChatApp) closeNotification(w http.ResponseWriter, r *http.Request) {
	if err := s.session.CloseNotification(r.Context(), r.PathValue("id")); err != nil {
		s.writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *ChatApp) removeNotification(w http.ResponseWriter, r *http.Request) {
	if err := s.session.RemoveNotification(r.Context(), r.PathValue("id")); err != nil {
		s.writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// parseMessageNo accepts the pointer as a query parameter, the way the
// REST read endpoint takes it.
func parseMessageNo(s string) (int64, bool) {
	n, err := strconv.ParseInt(s, 10, 64)
	return n, err == nil && n > 0
}
