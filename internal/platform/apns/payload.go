package apns

import "time"

// Title shown by the local notification shadow that some platforms
// require even for silent VoIP wakes. The client app keys off the lumi
// block, not the alert.
const voipAlertTitle = "Lumi"

type voipAlert struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

type voipAPS struct {
	Alert voipAlert `json:"alert"`
}

// VoipData is the app-namespaced block the client parses to decide
// behavior (here: start the AI call for a routine reminder).
type VoipData struct {
	Type      string `json:"type"`
	TaskID    string `json:"taskId"`
	TaskTitle string `json:"taskTitle"`
	TaskTime  string `json:"taskTime"`
	Action    string `json:"action"`
}

// VoipPayload is the JSON body for a VoIP wake-up push.
type VoipPayload struct {
	APS  voipAPS  `json:"aps"`
	Lumi VoipData `json:"lumi"`
}

// NewVoipPayload builds the VoIP wake-up body. Pure: no network or
// signing work, all data arrives already resolved.
func NewVoipPayload(taskID, taskTitle, taskTime string) VoipPayload {
	return VoipPayload{
		APS: voipAPS{
			Alert: voipAlert{Title: voipAlertTitle, Body: taskTitle},
		},
		Lumi: VoipData{
			Type:      "routine_reminder",
			TaskID:    taskID,
			TaskTitle: taskTitle,
			TaskTime:  taskTime,
			Action:    "start_ai_call",
		},
	}
}

// ContentState is the dynamic portion of the Live Activity countdown.
type ContentState struct {
	RemainingSeconds int     `json:"remainingSeconds"`
	TotalSeconds     int     `json:"totalSeconds"`
	Progress         float64 `json:"progress"`
	Status           string  `json:"status"`
}

// ActivityAttributes mirrors the Swift TaskActivityAttributes struct.
type ActivityAttributes struct {
	TaskID        string `json:"taskId"`
	TaskTitle     string `json:"taskTitle"`
	ScheduledTime string `json:"scheduledTime"`
	UserID        string `json:"userId"`
}

type liveActivityAPS struct {
	Timestamp      int64              `json:"timestamp"`
	Event          string             `json:"event"`
	ContentState   ContentState       `json:"content-state"`
	AttributesType string             `json:"attributes-type"`
	Attributes     ActivityAttributes `json:"attributes"`
}

// LiveActivityStartPayload is the JSON body for a Live Activity
// push-to-start.
type LiveActivityStartPayload struct {
	APS liveActivityAPS `json:"aps"`
}

// NewLiveActivityStartPayload builds the push-to-start body. The
// activity begins at 100% of its countdown, so progress is always 1.0
// and totalSeconds equals remainingSeconds.
func NewLiveActivityStartPayload(taskID, taskTitle, scheduledTime, userID string, remainingSeconds int, now time.Time) LiveActivityStartPayload {
	return LiveActivityStartPayload{
		APS: liveActivityAPS{
			Timestamp: now.Unix(),
			Event:     "start",
			ContentState: ContentState{
				RemainingSeconds: remainingSeconds,
				TotalSeconds:     remainingSeconds,
				Progress:         1.0,
				Status:           "countdown",
			},
			AttributesType: "TaskActivityAttributes",
			Attributes: ActivityAttributes{
				TaskID:        taskID,
				TaskTitle:     taskTitle,
				ScheduledTime: scheduledTime,
				UserID:        userID,
			},
		},
	}
}
