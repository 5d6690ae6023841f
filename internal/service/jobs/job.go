// Package jobs defines the background work handed off by the conversation
// engine, the queue contract backends implement, and the worker that
// executes jobs against external collaborators.
package jobs

import (
	"encoding/json"
	"fmt"
)

// Kind tags a job variant on the wire.
type Kind string

const (
	KindSyncProfile Kind = "sync-profile"
	KindSyncMessage Kind = "sync-message"
)

// Job is one unit of background work. The concrete types are SyncProfile
// and SyncMessage.
type Job interface {
	Kind() Kind
	Participant() string
	isJob()
}

// SyncProfile replicates the participant's current profile to the survey
// web app.
type SyncProfile struct {
	ParticipantID string
	CabildoName   string
}

func (SyncProfile) Kind() Kind            { return KindSyncProfile }
func (j SyncProfile) Participant() string { return j.ParticipantID }
func (SyncProfile) isJob()                {}

// SyncMessage replicates one free-text fragment of a segment.
type SyncMessage struct {
	ParticipantID string
	Segment       string
	Payload       Payload
}

func (SyncMessage) Kind() Kind            { return KindSyncMessage }
func (j SyncMessage) Participant() string { return j.ParticipantID }
func (SyncMessage) isJob()                {}

// Payload is the content of a SyncMessage: Text or Audio.
type Payload interface {
	isPayload()
}

// Text is a typed message body.
type Text struct {
	Body string
}

// Audio is a voice clip still to be transcribed.
type Audio struct {
	MediaRef string
}

func (Text) isPayload()  {}
func (Audio) isPayload() {}

// envelope is the JSON shape stored by every backend.
type envelope struct {
	Kind          Kind    `json:"kind"`
	ParticipantID string  `json:"waId"`
	CabildoName   *string `json:"cabildoName,omitempty"`
	Segment       string  `json:"type,omitempty"`
	MsgType       string  `json:"msgType,omitempty"`
	Text          string  `json:"text,omitempty"`
	MediaID       string  `json:"mediaId,omitempty"`
}

// Encode serializes a job for storage.
func Encode(job Job) ([]byte, error) {
	env := envelope{Kind: job.Kind(), ParticipantID: job.Participant()}
	switch j := job.(type) {
	case SyncProfile:
		name := j.CabildoName
		env.CabildoName = &name
	case SyncMessage:
		env.Segment = j.Segment
		switch p := j.Payload.(type) {
		case Text:
			env.MsgType = "text"
			env.Text = p.Body
		case Audio:
			env.MsgType = "audio"
			env.MediaID = p.MediaRef
		default:
			return nil, fmt.Errorf("unknown payload %T", j.Payload)
		}
	default:
		return nil, fmt.Errorf("unknown job %T", job)
	}
	return json.Marshal(env)
}

// Decode parses a stored job.
func Decode(data []byte) (Job, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode job: %w", err)
	}
	if env.ParticipantID == "" {
		return nil, fmt.Errorf("decode job: missing participant")
	}

	switch env.Kind {
	case KindSyncProfile:
		j := SyncProfile{ParticipantID: env.ParticipantID}
		if env.CabildoName != nil {
			j.CabildoName = *env.CabildoName
		}
		return j, nil
	case KindSyncMessage:
		j := SyncMessage{ParticipantID: env.ParticipantID, Segment: env.Segment}
		switch env.MsgType {
		case "audio":
			j.Payload = Audio{MediaRef: env.MediaID}
		case "text", "":
			j.Payload = Text{Body: env.Text}
		default:
			return nil, fmt.Errorf("decode job: unknown msgType %q", env.MsgType)
		}
		return j, nil
	default:
		return nil, fmt.Errorf("decode job: unknown kind %q", env.Kind)
	}
}
