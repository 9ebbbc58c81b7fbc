// Package notify tells the chat service which course rooms a user belongs in.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	log "github.com/sirupsen/logrus"
)

const defaultTimeout = 30 * time.Second

type room struct {
	Name string `json:"room_name"`
}

type addUserRequest struct {
	UserID string `json:"user_id"`
	Rooms  []room `json:"rooms"`
}

// RoomNotifier posts room memberships to the chat service's
// add_user_to_rooms endpoint.
type RoomNotifier struct {
	url    string
	domain string
	client *resty.Client
}

// NewRoomNotifier creates a notifier for endpoint url. Users are addressed as
// @username:domain.
func NewRoomNotifier(url, domain string, timeout time.Duration) *RoomNotifier {
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	client := resty.New()
	client.SetTimeout(timeout)
	client.SetHeader("Content-Type", "application/json")
	client.SetHeader("Accept", "application/json")

	return &RoomNotifier{
		url:    url,
		domain: domain,
		client: client,
	}
}

// UserID returns the chat id of username.
func (n *RoomNotifier) UserID(username string) string {
	return fmt.Sprintf("@%s:%s", username, n.domain)
}

func (n *RoomNotifier) AddUserToRooms(ctx context.Context, username string, rooms []string) error {
	body := addUserRequest{
		UserID: n.UserID(username),
		Rooms:  make([]room, 0, len(rooms)),
	}
	for _, name := range rooms {
		body.Rooms = append(body.Rooms, room{Name: name})
	}

	res, err := n.client.R().
		SetContext(ctx).
		SetBody(body).
		Post(n.url)
	if err != nil {
		return fmt.Errorf("failed to post rooms: %w", err)
	}
	if res.IsError() {
		return fmt.Errorf("room service answered %s: %s", res.Status(), res.String())
	}

	log.WithField("user-id", body.UserID).WithField("rooms", len(rooms)).Debug("added user to rooms")
	return nil
}
