package chatapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"time"

	"github.com/npezzotti/chatcore/internal/types"
)

const maxResponseSize = 1 << 20

var _ Backend = (*Client)(nil)

// Client talks to the chat REST service and to the support bot.
type Client struct {
	baseURL *url.URL
	botURL  *url.URL
	http    *http.Client
}

func NewClient(baseURL, botURL string, timeout time.Duration) (*Client, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	bot, err := url.Parse(botURL)
	if err != nil {
		return nil, fmt.Errorf("parse bot url: %w", err)
	}

	return &Client{
		baseURL: base,
		botURL:  bot,
		http:    &http.Client{Timeout: timeout},
	}, nil
}

type roomResponse struct {
	RoomNo       types.RoomId    `json:"roomNo"`
	Type         types.RoomKind  `json:"type"`
	RoomName     string          `json:"roomName"`
	ClassName    string          `json:"className"`
	UserCount    int             `json:"userCount"`
	Notification *string         `json:"notification"`
	Messages     []types.Message `json:"messages"`
}

func (r roomResponse) toRoom() types.Room {
	title := r.RoomName
	if title == "" {
		title = r.ClassName
	}

	messages := r.Messages
	if messages == nil {
		messages = []types.Message{}
	}

	return types.Room{
		Id:          r.RoomNo,
		Kind:        r.Type,
		Title:       title,
		MemberCount: r.UserCount,
		// rooms without an explicit flag notify
		NotificationEnabled: types.BoolPtr(r.Notification == nil || *r.Notification == "Y"),
		Messages:            messages,
	}
}

func (c *Client) GetRooms(ctx context.Context, userNo int64) ([]types.Room, error) {
	req, err := c.newRequest(ctx, http.MethodGet, c.baseURL, nil, "rooms", strconv.FormatInt(userNo, 10))
	if err != nil {
		return nil, err
	}

	var resp []roomResponse
	if err := c.do(req, &resp); err != nil {
		return nil, fmt.Errorf("get rooms: %w", err)
	}

	rooms := make([]types.Room, 0, len(resp))
	for _, r := range resp {
		if !r.Type.Valid() {
			continue
		}
		rooms = append(rooms, r.toRoom())
	}

	return rooms, nil
}

// GetLastRead returns the server's last-read message number for the room,
// or zero when the user has never read it.
func (c *Client) GetLastRead(ctx context.Context, userNo int64, roomId types.RoomId) (int64, error) {
	req, err := c.newRequest(ctx, http.MethodGet, c.baseURL, nil, "reads", strconv.FormatInt(userNo, 10), roomId.String())
	if err != nil {
		return 0, err
	}

	var raw json.RawMessage
	if err := c.do(req, &raw); err != nil {
		return 0, fmt.Errorf("get last read: %w", err)
	}

	id, err := parseLastRead(raw)
	if err != nil {
		return 0, fmt.Errorf("get last read: %w", err)
	}
	return id, nil
}

func parseLastRead(raw json.RawMessage) (int64, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, nil
	}

	var n int64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, nil
	}

	var obj struct {
		MessageNo         *int64 `json:"messageNo"`
		LastReadMessageNo *int64 `json:"lastReadMessageNo"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return 0, fmt.Errorf("decode last read: %w", err)
	}

	switch {
	case obj.LastReadMessageNo != nil:
		return *obj.LastReadMessageNo, nil
	case obj.MessageNo != nil:
		return *obj.MessageNo, nil
	}
	return 0, nil
}

func (c *Client) UpdateLastRead(ctx context.Context, userNo int64, roomId types.RoomId, messageId int64) error {
	req, err := c.newRequest(ctx, http.MethodPatch, c.baseURL, nil, "reads")
	if err != nil {
		return err
	}

	q := req.URL.Query()
	q.Set("userNo", strconv.FormatInt(userNo, 10))
	q.Set("roomNo", roomId.String())
	q.Set("messageNo", strconv.FormatInt(messageId, 10))
	req.URL.RawQuery = q.Encode()

	if err := c.do(req, nil); err != nil {
		return fmt.Errorf("update last read: %w", err)
	}
	return nil
}

// SaveMessage stores msg as the message of record and returns the stored
// copy, which carries the server-assigned message number.
func (c *Client) SaveMessage(ctx context.Context, kind types.RoomKind, roomId types.RoomId, msg types.Message) (types.Message, error) {
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="message"; filename="blob"`)
	h.Set("Content-Type", "application/json")
	part, err := mw.CreatePart(h)
	if err != nil {
		return types.Message{}, fmt.Errorf("create message part: %w", err)
	}
	if err := json.NewEncoder(part).Encode(msg); err != nil {
		return types.Message{}, fmt.Errorf("encode message: %w", err)
	}
	if err := mw.Close(); err != nil {
		return types.Message{}, fmt.Errorf("close multipart: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, c.baseURL, body, "messages", string(kind), roomId.String())
	if err != nil {
		return types.Message{}, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var saved types.Message
	if err := c.do(req, &saved); err != nil {
		return types.Message{}, fmt.Errorf("save message: %w", err)
	}
	return saved, nil
}

type botRequest struct {
	Question string `json:"question"`
}

type botResponse struct {
	Answer  string            `json:"answer"`
	Content string            `json:"content"`
	Button  *types.ActionLink `json:"button"`
}

func (c *Client) AskBot(ctx context.Context, userNo int64, question string) (BotReply, error) {
	payload, err := json.Marshal(botRequest{Question: question})
	if err != nil {
		return BotReply{}, fmt.Errorf("encode question: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, c.botURL, bytes.NewReader(payload), strconv.FormatInt(userNo, 10))
	if err != nil {
		return BotReply{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	var resp botResponse
	if err := c.do(req, &resp); err != nil {
		return BotReply{}, fmt.Errorf("ask bot: %w", err)
	}

	answer := resp.Answer
	if answer == "" {
		answer = resp.Content
	}
	return BotReply{Answer: answer, Button: resp.Button}, nil
}

func (c *Client) newRequest(ctx context.Context, method string, base *url.URL, body io.Reader, elem ...string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, base.JoinPath(elem...).String(), body)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if token, ok := Token(ctx); ok {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	return req, nil
}

func (c *Client) do(req *http.Request, v any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return newApiError(resp, body)
	}

	if v == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}

	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
