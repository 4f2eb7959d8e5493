package events

import (
	"encoding/json"
	"log"

	socketio "github.com/googollee/go-socket.io"
)

// handleRequestEvents replays missed events to a reconnecting
// dashboard. The client sends its topic and last seen event id; if the
// gap is small the missed events are replayed one by one, otherwise
// the client is told to refetch through the REST API.
func handleRequestEvents(s socketio.Conn, data interface{}) {
	topic := TopicTasks
	var lastEventID int64
	if dataMap, ok := data.(map[string]interface{}); ok {
		if t, ok := dataMap["topic"].(string); ok && t != "" {
			topic = t
		}
		if id, ok := dataMap["lastEventId"].(float64); ok {
			lastEventID = int64(id)
		}
	}

	maxCount := 500
	evts, err := GetIncrementalEvents(topic, lastEventID, maxCount)
	if err != nil {
		log.Printf("[Events] Failed to query incremental events: %v", err)
		s.Emit("error", map[string]interface{}{
			"message": "Failed to query events",
		})
		return
	}

	latestEventID, _ := GetLatestEventID(topic)

	if len(evts) >= maxCount {
		// Too far behind to replay; client refetches state over REST
		s.Emit(topic+":resync", map[string]interface{}{
			"lastEventId": latestEventID,
		})
		return
	}

	for _, event := range evts {
		var payload interface{}
		if err := json.Unmarshal([]byte(event.Payload), &payload); err != nil {
			log.Printf("[Events] Failed to unmarshal event payload: %v", err)
			continue
		}
		s.Emit(topic+":update", map[string]interface{}{
			"eventId": event.ID,
			"type":    event.EventType,
			"data":    payload,
		})
	}

	s.Emit(topic+":caughtup", map[string]interface{}{
		"lastEventId": latestEventID,
		"replayed":    len(evts),
	})
}
