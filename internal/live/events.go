package live

import "github.com/satriahrh/liveview/domain/entities"

// EventType names a session event delivered to the observer
type EventType string

const (
	EventMessage      EventType = "message"
	EventMessageState EventType = "message_state"
	EventStats        EventType = "stats"
	EventNotice       EventType = "notice"
	EventCallState    EventType = "call_state"
	EventCleared      EventType = "cleared"
)

// PlaybackUpdate reports the playback state of one message
type PlaybackUpdate struct {
	MessageID string         `json:"message_id"`
	Status    PlaybackStatus `json:"status"`
	PausedAt  float64        `json:"paused_at"`
}

// Event is one observable change in a live session
type Event struct {
	Type      EventType
	Message   *entities.Message
	Playback  *PlaybackUpdate
	Stats     *entities.StreamStats
	Notice    *entities.Notice
	CallState CallState
}

// Observer receives session events. It must not block.
type Observer func(Event)

func (o Observer) notify(e Event) {
	if o != nil {
		o(e)
	}
}

func (o Observer) notice(level entities.NoticeLevel, code, text string) {
	o.notify(Event{Type: EventNotice, Notice: &entities.Notice{Level: level, Code: code, Text: text}})
}
