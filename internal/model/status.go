package model

// Domain identifies the event family an update belongs to
type Domain string

const (
	DomainVideo       Domain = "video"
	DomainAvatar      Domain = "avatar"
	DomainVideoAvatar Domain = "video-avatar"
	DomainSchedule    Domain = "schedule"
)

// UpdateStatus is the normalized status of a StatusUpdate
type UpdateStatus string

const (
	StatusPending    UpdateStatus = "pending"
	StatusProcessing UpdateStatus = "processing"
	StatusCompleted  UpdateStatus = "completed"
	StatusSuccess    UpdateStatus = "success"
	StatusFailed     UpdateStatus = "failed"
	StatusError      UpdateStatus = "error"
	StatusReady      UpdateStatus = "ready"
	StatusProgress   UpdateStatus = "progress"
)

// StatusUpdate is one normalized push event. It is immutable after
// creation; per-domain lists are append-only and "latest" is the last
// element.
type StatusUpdate struct {
	Domain    Domain       `json:"domain"`
	Status    UpdateStatus `json:"status"`
	Message   string       `json:"message"`
	Timestamp string       `json:"timestamp"`

	// Video payload
	VideoID     string `json:"videoId,omitempty"`
	DownloadURL string `json:"downloadUrl,omitempty"`

	// Avatar payload (photo and video avatars)
	AvatarID        string `json:"avatarId,omitempty"`
	PreviewImageURL string `json:"previewImageUrl,omitempty"`
	NotificationID  string `json:"notificationId,omitempty"`
	Step            string `json:"step,omitempty"`

	// Schedule payload
	ScheduleID string `json:"scheduleId,omitempty"`

	Progress int    `json:"progress,omitempty"`
	Error    string `json:"error,omitempty"`
}
