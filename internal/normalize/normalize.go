// Package normalize converts the heterogeneous wire events of the four
// push-event families into canonical StatusUpdate records and drops
// duplicates by composed identity key.
package normalize

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/makereels/sync/internal/model"
)

// ErrDuplicate marks an event whose identity key was already seen in
// this session. Callers discard it silently.
var ErrDuplicate = errors.New("duplicate event")

// SentinelVideoID stands in when a video event carries no id at all
const SentinelVideoID = "processing-video"

// NormalizationError reports an event that matches no known family
type NormalizationError struct {
	Event string
}

func (e *NormalizationError) Error() string {
	return fmt.Sprintf("unknown event family: %q", e.Event)
}

// Normalizer turns raw envelopes into StatusUpdates. Seen keys are
// remembered for the lifetime of one connection; construct a fresh
// Normalizer per user session.
type Normalizer struct {
	seen map[string]struct{}
	now  func() time.Time
}

func New() *Normalizer {
	return &Normalizer{
		seen: make(map[string]struct{}),
		now:  time.Now,
	}
}

// Normalize returns exactly one StatusUpdate for the envelope, or
// ErrDuplicate / *NormalizationError. Missing fields get defaults; a
// partial event is never rejected.
func (n *Normalizer) Normalize(env model.Envelope) (*model.StatusUpdate, error) {
	var (
		update *model.StatusUpdate
		ident  string
		err    error
	)

	switch env.Event {
	case model.EventVideoDownloadUpdate:
		update, ident, err = n.normalizeVideo(env.Payload)
	case model.EventPhotoAvatarUpdate:
		update, ident, err = n.normalizePhotoAvatar(env.Payload)
	case model.EventAvatarReady:
		update, ident, err = n.normalizeAvatarReady(env.Payload)
	case model.EventVideoAvatarUpdate:
		update, ident, err = n.normalizeVideoAvatar(env.Payload)
	case model.EventScheduleStatus:
		update, ident, err = n.normalizeSchedule(env.Payload)
	default:
		return nil, &NormalizationError{Event: env.Event}
	}
	if err != nil {
		return nil, err
	}

	key := fmt.Sprintf("%s|%s|%s", update.Domain, ident, update.Timestamp)
	if _, dup := n.seen[key]; dup {
		return nil, ErrDuplicate
	}
	n.seen[key] = struct{}{}

	return update, nil
}

func (n *Normalizer) normalizeVideo(payload json.RawMessage) (*model.StatusUpdate, string, error) {
	var raw model.RawVideoEvent
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, "", fmt.Errorf("failed to decode video event: %w", err)
	}

	videoID := firstNonEmpty(raw.VideoID, raw.ID, SentinelVideoID)
	message := raw.Message
	downloadURL := raw.DownloadURL
	if raw.Data != nil {
		// Nested fields are the more specific source when both are present
		message = firstNonEmpty(raw.Data.Message, message)
		downloadURL = firstNonEmpty(raw.Data.DownloadURL, downloadURL)
	}

	update := &model.StatusUpdate{
		Domain:      model.DomainVideo,
		Status:      mapVideoStatus(raw.Status, raw.Type),
		Message:     message,
		Timestamp:   n.timestampOrNow(raw.Timestamp),
		VideoID:     videoID,
		DownloadURL: downloadURL,
	}
	return update, videoID, nil
}

// mapVideoStatus folds the two ways producers tag in-flight work: a
// generic "progress" type with an explicit "processing" status, or a
// "progress" type alone. Everything else passes through, with the type
// field standing in for a missing status.
func mapVideoStatus(status, typ string) model.UpdateStatus {
	if typ == string(model.StatusProgress) {
		if status == "" || status == string(model.StatusProcessing) {
			return model.StatusProcessing
		}
	}
	if status == "" {
		if typ == "" {
			return model.StatusProcessing
		}
		return model.UpdateStatus(typ)
	}
	return model.UpdateStatus(status)
}

func (n *Normalizer) normalizePhotoAvatar(payload json.RawMessage) (*model.StatusUpdate, string, error) {
	var raw model.RawPhotoAvatarEvent
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, "", fmt.Errorf("failed to decode photo avatar event: %w", err)
	}

	update := &model.StatusUpdate{
		Domain:    model.DomainAvatar,
		Status:    model.UpdateStatus(firstNonEmpty(raw.Status, string(model.StatusProgress))),
		Timestamp: n.timestampOrNow(raw.Timestamp),
		Step:      raw.Step,
	}
	if raw.Data != nil {
		update.Message = raw.Data.Message
		update.Error = raw.Data.Error
		update.AvatarID = raw.Data.AvatarID
		update.PreviewImageURL = raw.Data.PreviewImageURL
	}

	return update, firstNonEmpty(update.AvatarID, raw.Step), nil
}

// normalizeAvatarReady synthesizes a terminal success update for the
// dedicated ready event, which carries neither status nor timestamp.
func (n *Normalizer) normalizeAvatarReady(payload json.RawMessage) (*model.StatusUpdate, string, error) {
	var raw model.RawAvatarReadyEvent
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, "", fmt.Errorf("failed to decode avatar ready event: %w", err)
	}

	update := &model.StatusUpdate{
		Domain:          model.DomainAvatar,
		Status:          model.StatusSuccess,
		Message:         "Avatar is ready",
		Timestamp:       n.now().UTC().Format(time.RFC3339Nano),
		AvatarID:        raw.AvatarID,
		PreviewImageURL: raw.PreviewImageURL,
	}
	return update, raw.AvatarID, nil
}

func (n *Normalizer) normalizeVideoAvatar(payload json.RawMessage) (*model.StatusUpdate, string, error) {
	var raw model.RawVideoAvatarEvent
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, "", fmt.Errorf("failed to decode video avatar event: %w", err)
	}

	update := &model.StatusUpdate{
		Domain:         model.DomainVideoAvatar,
		Status:         model.UpdateStatus(firstNonEmpty(raw.Status, string(model.StatusProgress))),
		Timestamp:      n.timestampOrNow(raw.Timestamp),
		NotificationID: raw.NotificationID,
		AvatarID:       raw.AvatarID,
		Step:           raw.Step,
	}
	if raw.Data != nil {
		update.Message = raw.Data.Message
		update.Error = raw.Data.Error
		update.Progress = raw.Data.Progress
	}

	return update, firstNonEmpty(raw.NotificationID, raw.AvatarID), nil
}

func (n *Normalizer) normalizeSchedule(payload json.RawMessage) (*model.StatusUpdate, string, error) {
	var raw model.RawScheduleEvent
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, "", fmt.Errorf("failed to decode schedule event: %w", err)
	}

	update := &model.StatusUpdate{
		Domain:    model.DomainSchedule,
		Status:    model.UpdateStatus(firstNonEmpty(raw.Status, string(model.StatusProcessing))),
		Message:   raw.Message,
		Timestamp: n.timestampOrNow(raw.Timestamp),
	}
	if raw.Data != nil {
		update.ScheduleID = raw.Data.ScheduleID
		update.Error = raw.Data.Error
	}

	return update, update.ScheduleID, nil
}

func (n *Normalizer) timestampOrNow(ts string) string {
	if ts != "" {
		return ts
	}
	return n.now().UTC().Format(time.RFC3339Nano)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
