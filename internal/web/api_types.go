package web

import (
	"github.com/bevel/coach/internal/coach"
	"github.com/bevel/coach/internal/db"
)

// SendMessageRequest is the body of POST /api/chat/{chat_id}/send.
type SendMessageRequest struct {
	Message      string             `json:"message"`
	Conversation coach.Conversation `json:"conversation"`
}

// SendMessageResponse is the reply to a chat turn.
type SendMessageResponse struct {
	Message      coach.Message      `json:"message"`
	Conversation coach.Conversation `json:"conversation"`
}

// ChatErrorResponse is returned when a chat turn fails.
type ChatErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details"`
}

// APICheckInsResponse wraps a list of check-ins for JSON API responses.
type APICheckInsResponse struct {
	CheckIns []APICheckIn `json:"checkins"`
}

// APICheckIn is the JSON representation of a check-in.
type APICheckIn struct {
	EventID        int64  `json:"event_id"`
	MessageContent string `json:"message_content"`
	CheckInTime    string `json:"check_in_time"`
	Category       string `json:"category"`
	CreatedAt      string `json:"created_at"`
	Status         string `json:"status"`
}

// APICreateCheckInRequest is the body of POST /api/v1/checkins.
type APICreateCheckInRequest struct {
	MessageContent string `json:"message_content" validate:"required"`
	CheckInTime    string `json:"check_in_time" validate:"required"`
	Category       string `json:"category" validate:"required"`
	Status         string `json:"status" validate:"omitempty,oneof=active completed dismissed"`
}

// APIUpdateCheckInRequest is the body of PUT /api/v1/checkins/{id}. Absent
// fields keep their current value.
type APIUpdateCheckInRequest struct {
	MessageContent *string `json:"message_content" validate:"omitnil,min=1"`
	CheckInTime    *string `json:"check_in_time" validate:"omitnil,min=1"`
	Category       *string `json:"category" validate:"omitnil,min=1"`
	Status         *string `json:"status" validate:"omitnil,oneof=active completed dismissed"`
}

func toAPICheckIn(c db.CheckIn) APICheckIn {
	return APICheckIn{
		EventID:        c.EventID,
		MessageContent: c.MessageContent,
		CheckInTime:    c.CheckInTime,
		Category:       c.Category,
		CreatedAt:      c.CreatedAt,
		Status:         c.Status,
	}
}

func toAPICheckIns(checkIns []db.CheckIn) []APICheckIn {
	out := make([]APICheckIn, len(checkIns))
	for i, c := range checkIns {
		out[i] = toAPICheckIn(c)
	}
	return out
}
