package model

import "encoding/json"

// Wire event names
const (
	EventVideoDownloadUpdate = "video-download-update"
	EventPhotoAvatarUpdate   = "photo-avatar-update"
	EventAvatarReady         = "avatar-ready"
	EventVideoAvatarUpdate   = "video-avatar-update"
	EventScheduleStatus      = "schedule-status"
)

// Envelope is the outer frame of every push event. The payload keeps
// its raw bytes so each family can be decoded against its own shape.
type Envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// RawVideoEvent carries video-download-update payloads. Producers are
// inconsistent about field names, so both aliases of each field are
// declared and the normalizer picks the more specific one.
type RawVideoEvent struct {
	VideoID     string        `json:"videoId"`
	ID          string        `json:"id"`
	Status      string        `json:"status"`
	Type        string        `json:"type"`
	Message     string        `json:"message"`
	DownloadURL string        `json:"downloadUrl"`
	Data        *RawVideoData `json:"data"`
	Timestamp   string        `json:"timestamp"`
}

type RawVideoData struct {
	Message     string `json:"message"`
	DownloadURL string `json:"downloadUrl"`
}

// RawPhotoAvatarEvent carries photo-avatar-update payloads
type RawPhotoAvatarEvent struct {
	Step      string         `json:"step"`
	Status    string         `json:"status"`
	Data      *RawAvatarData `json:"data"`
	Timestamp string         `json:"timestamp"`
}

type RawAvatarData struct {
	Message         string `json:"message"`
	Error           string `json:"error"`
	AvatarID        string `json:"avatarId"`
	PreviewImageURL string `json:"previewImageUrl"`
}

// RawAvatarReadyEvent carries avatar-ready payloads. There is no
// timestamp on the wire; one is synthesized at receipt.
type RawAvatarReadyEvent struct {
	AvatarID        string `json:"avatarId"`
	PreviewImageURL string `json:"previewImageUrl"`
}

// RawVideoAvatarEvent carries video-avatar-update payloads
type RawVideoAvatarEvent struct {
	NotificationID string              `json:"notificationId"`
	AvatarID       string              `json:"avatarId"`
	Step           string              `json:"step"`
	Status         string              `json:"status"`
	Data           *RawVideoAvatarData `json:"data"`
	Timestamp      string              `json:"timestamp"`
}

type RawVideoAvatarData struct {
	Message  string `json:"message"`
	Error    string `json:"error"`
	Progress int    `json:"progress"`
}

// RawScheduleEvent carries schedule-status payloads
type RawScheduleEvent struct {
	Status    string           `json:"status"`
	Message   string           `json:"message"`
	Data      *RawScheduleData `json:"data"`
	Timestamp string           `json:"timestamp"`
}

type RawScheduleData struct {
	ScheduleID     string `json:"scheduleId"`
	Error          string `json:"error"`
	GenerationTime int    `json:"generationTime"`
}
