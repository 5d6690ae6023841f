// Package conversation is the per-participant survey state machine. It
// maps one inbound message plus the stored profile to a reply, a profile
// change and background jobs.
package conversation

import (
	"context"
	"errors"
	"strings"
	"time"

	waLog "go.mau.fi/whatsmeow/util/log"

	"cabildo-bot/internal/service/dedup"
	"cabildo-bot/internal/service/jobs"
	"cabildo-bot/internal/service/send"
	"cabildo-bot/internal/service/session"
	"cabildo-bot/internal/survey"
	"cabildo-bot/internal/utils/keylock"
)

// Kind is the inbound message kind.
type Kind string

const (
	KindText        Kind = "text"
	KindButton      Kind = "button"
	KindInteractive Kind = "interactive"
	KindAudio       Kind = "audio"
	KindOther       Kind = "other"
)

// Placeholder texts for messages without a text body.
const (
	AudioPlaceholder   = "[audio]"
	ContentPlaceholder = "[contenido]"
)

// Inbound is one message delivered by a transport.
type Inbound struct {
	ParticipantID string
	MessageID     string
	Kind          Kind
	Text          string
	// MediaRef is the opaque reference of an audio payload.
	MediaRef string
}

// Content returns the text the state machine sees.
func (in Inbound) Content() string {
	if in.Text != "" {
		return in.Text
	}
	switch in.Kind {
	case KindAudio:
		return AudioPlaceholder
	case KindOther:
		return ContentPlaceholder
	}
	return ""
}

// ProfileStore is the slice of the profile store the engine uses.
type ProfileStore interface {
	Get(ctx context.Context, id string) (*survey.Profile, error)
	Update(ctx context.Context, id string, changes ...survey.Change) (*survey.Profile, error)
	Delete(ctx context.Context, id string) error
}

// LinkForgetter drops cached linkage credentials.
type LinkForgetter interface {
	Forget(participantID string)
}

// Config holds the conversation timing and script variants.
type Config struct {
	IdleTimeout   time.Duration
	LegacyConsent bool
	VentEnabled   bool
	ResetKeyword  string
}

// Deps are the engine's collaborators. Outbox and Links are optional.
type Deps struct {
	Dedup    dedup.Deduplicator
	Sessions session.Store
	Profiles ProfileStore
	Sender   send.Sender
	Queue    jobs.Queue
	Outbox   send.Outbox
	Links    LinkForgetter
}

// Engine runs the survey conversation.
type Engine struct {
	cfg  Config
	deps Deps

	locks  *keylock.Locker
	timers *session.IdleTimers
	now    func() time.Time
	log    waLog.Logger
}

// NewEngine creates an Engine.
func NewEngine(cfg Config, deps Deps, log waLog.Logger) *Engine {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 15 * time.Minute
	}
	e := &Engine{
		cfg:   cfg,
		deps:  deps,
		locks: keylock.New(),
		now:   time.Now,
		log:   log.Sub("Conversation"),
	}
	e.timers = session.NewIdleTimers(cfg.IdleTimeout, e.expire)
	return e
}

// Close cancels all idle timers.
func (e *Engine) Close() {
	e.timers.Stop()
}

// turn is the work of one inbound message.
type turn struct {
	in      Inbound
	text    string
	sess    *session.Session
	profile *survey.Profile

	reply []string
	jobs  []jobs.Job
	ended bool
}

func (t *turn) say(lines ...string) {
	t.reply = append(t.reply, lines...)
}

func (t *turn) goTo(s session.State) {
	t.sess.State = s
}

// Handle processes one inbound message. Deliveries for the same
// participant are serialized; different participants run in parallel.
func (e *Engine) Handle(ctx context.Context, in Inbound) error {
	id := in.ParticipantID
	text := in.Content()
	if id == "" || strings.TrimSpace(text) == "" {
		return nil
	}

	if !e.deps.Dedup.FirstDelivery(ctx, in.MessageID) {
		e.log.Debugf("Skipping duplicate delivery %s from %s", in.MessageID, id)
		return nil
	}

	unlock := e.locks.Lock(id)
	defer unlock()

	sess := e.loadSession(ctx, id)
	profile, err := e.deps.Profiles.Get(ctx, id)
	if err != nil {
		return err
	}

	if e.cfg.ResetKeyword != "" && strings.TrimSpace(text) == e.cfg.ResetKeyword {
		return e.reset(ctx, id)
	}

	sess.Hydrate(profile)
	sess.LastSeen = e.now()

	t := &turn{in: in, text: text, sess: sess, profile: profile}
	if survey.IsMenuKeyword(text) {
		t.goTo(session.StateMenu)
		t.say(survey.WelcomeFor(profile, e.cfg.VentEnabled)...)
	} else if err := e.step(ctx, t); err != nil {
		return err
	}

	e.send(ctx, id, t.reply)

	if t.ended {
		e.endSession(ctx, id)
	} else {
		if err := e.deps.Sessions.Put(ctx, sess); err != nil {
			e.log.Errorf("Failed to store session for %s: %v", id, err)
		}
		e.timers.Arm(id, sess.Generation)
	}

	for _, job := range t.jobs {
		if err := e.deps.Queue.Enqueue(ctx, job); err != nil {
			e.log.Errorf("Failed to enqueue %s for %s: %v", job.Kind(), id, err)
		}
	}
	return nil
}

// loadSession returns the current session, or a fresh one when there is
// none or the stored one outlived the idle timeout.
func (e *Engine) loadSession(ctx context.Context, id string) *session.Session {
	now := e.now()
	sess, err := e.deps.Sessions.Get(ctx, id)
	switch {
	case errors.Is(err, session.ErrNotFound):
		return session.New(id, now)
	case err != nil:
		e.log.Warnf("Failed to load session for %s, starting over: %v", id, err)
		return session.New(id, now)
	case sess.Expired(now, e.cfg.IdleTimeout):
		e.log.Debugf("Discarding stale session %s for %s", sess.Generation, id)
		return session.New(id, now)
	}
	return sess
}

func (e *Engine) step(ctx context.Context, t *turn) error {
	switch t.sess.State {
	case session.StateStart:
		t.goTo(session.StateMenu)
		t.say(survey.WelcomeFor(t.profile, e.cfg.VentEnabled)...)
		return nil
	case session.StateMenu:
		return e.menu(t)
	case session.StateAskCabildoName:
		return e.askCabildoName(ctx, t)
	case session.StateDemographics:
		return e.demographics(ctx, t)
	case session.StateStationMenu:
		return e.stationMenu(t)
	case session.StateStationInput:
		return e.stationInput(ctx, t)
	case session.StateAfterStation:
		return e.afterStation(t)
	case session.StateFinalPhrase:
		return e.finalPhrase(ctx, t)
	case session.StateConsent:
		return e.consent(ctx, t)
	case session.StateVentInput:
		return e.ventInput(t)
	default:
		e.log.Warnf("Unknown state %q for %s, back to menu", t.sess.State, t.in.ParticipantID)
		t.goTo(session.StateMenu)
		t.say(survey.WelcomeFor(t.profile, e.cfg.VentEnabled)...)
		return nil
	}
}

func (e *Engine) menu(t *turn) error {
	if t.profile.CabildoCompleted {
		if _, ok := survey.PickNumber(t.text, []int{2}); ok && e.cfg.VentEnabled {
			t.sess.ResetBuffer()
			t.goTo(session.StateVentInput)
			t.say(survey.VentIntro...)
			return nil
		}
		t.say(survey.CompletedNotice...)
		return nil
	}

	if _, ok := survey.PickNumber(t.text, []int{1}); !ok {
		t.say(survey.MenuGuidance...)
		return nil
	}
	e.resume(t)
	return nil
}

// resume routes to the first incomplete part of the survey.
func (e *Engine) resume(t *turn) {
	if t.sess.CabildoName == "" {
		t.goTo(session.StateAskCabildoName)
		t.say(survey.AskCabildoName...)
		return
	}
	if idx, pending := t.profile.FirstPendingDemographic(); pending {
		t.goTo(session.StateDemographics)
		t.sess.DemographicIndex = idx
		t.say(survey.Questions[idx].Prompt())
		return
	}
	if remaining := t.profile.RemainingStations(t.sess.StationsDone); len(remaining) > 0 {
		t.goTo(session.StateStationMenu)
		t.say(survey.StationMenu(remaining)...)
		return
	}
	if t.profile.FinalWord == "" {
		t.goTo(session.StateFinalPhrase)
		t.say(survey.FinalPhrase...)
		return
	}
	t.goTo(session.StateConsent)
	t.say(e.consentAsk()...)
}

func (e *Engine) askCabildoName(ctx context.Context, t *turn) error {
	name := strings.TrimSpace(t.text)
	p, err := e.deps.Profiles.Update(ctx, t.in.ParticipantID, survey.SetCabildoName{CabildoName: name})
	if err != nil {
		return err
	}
	t.profile = p
	t.sess.CabildoName = name
	e.resume(t)
	return nil
}

func (e *Engine) demographics(ctx context.Context, t *turn) error {
	idx := t.sess.DemographicIndex
	if idx < 0 || idx >= len(survey.Questions) {
		e.resume(t)
		return nil
	}

	q := survey.Questions[idx]
	picked, ok := survey.PickOption(t.text, q.Options)
	if !ok {
		t.say(survey.InvalidOption, q.Prompt())
		return nil
	}

	p, err := e.deps.Profiles.Update(ctx, t.in.ParticipantID, survey.AnswerDemographic{Key: q.Key, Answer: picked})
	if err != nil {
		return err
	}
	t.profile = p

	if next, pending := p.FirstPendingDemographic(); pending {
		t.sess.DemographicIndex = next
		t.say(survey.Questions[next].Prompt())
		return nil
	}

	t.sess.DemographicIndex = 0
	t.jobs = append(t.jobs, jobs.SyncProfile{ParticipantID: t.in.ParticipantID, CabildoName: t.sess.CabildoName})
	e.resume(t)
	return nil
}

func (e *Engine) stationMenu(t *turn) error {
	remaining := t.profile.RemainingStations(t.sess.StationsDone)
	if len(remaining) == 0 {
		e.resume(t)
		return nil
	}

	n, ok := survey.PickNumber(t.text, remaining)
	if !ok {
		t.say(survey.InvalidOption)
		t.say(survey.StationMenu(remaining)...)
		return nil
	}

	t.sess.CurrentStation = n
	t.sess.ResetBuffer()
	t.goTo(session.StateStationInput)
	t.say(survey.StationPrompt(n))
	return nil
}

func (e *Engine) stationInput(ctx context.Context, t *turn) error {
	id := t.in.ParticipantID
	station := t.sess.CurrentStation

	if !survey.IsTerminator(t.text) {
		if station != 0 && syncable(t.in) {
			t.jobs = append(t.jobs, jobs.SyncMessage{
				ParticipantID: id,
				Segment:       survey.SegmentForStation(station),
				Payload:       payloadOf(t.in, t.text),
			})
		}
		t.sess.Buffer(fragmentOf(t.in, t.text, e.now()))
		t.say(survey.StationAck...)
		return nil
	}

	if station != 0 {
		p, err := e.deps.Profiles.Update(ctx, id, survey.CompleteStation{Station: station})
		if err != nil {
			return err
		}
		t.profile = p
		t.sess.MarkStationDone(station)
	}
	t.sess.CurrentStation = 0
	t.sess.ResetBuffer()

	if len(t.profile.RemainingStations(t.sess.StationsDone)) == 0 {
		t.goTo(session.StateFinalPhrase)
		t.say(survey.FinalPhrase...)
		return nil
	}
	t.goTo(session.StateAfterStation)
	t.say(survey.AfterStation...)
	return nil
}

func (e *Engine) afterStation(t *turn) error {
	n, ok := survey.PickNumber(t.text, []int{1, 2})
	switch {
	case !ok:
		t.say(survey.AfterStationFix...)
	case n == 1:
		remaining := t.profile.RemainingStations(t.sess.StationsDone)
		if len(remaining) == 0 {
			t.goTo(session.StateFinalPhrase)
			t.say(survey.FinalPhrase...)
		} else {
			t.goTo(session.StateStationMenu)
			t.say(survey.StationMenu(remaining)...)
		}
	default:
		t.say(survey.EarlyExit...)
		t.ended = true
	}
	return nil
}

func (e *Engine) finalPhrase(ctx context.Context, t *turn) error {
	id := t.in.ParticipantID
	word := strings.TrimSpace(t.text)

	p, err := e.deps.Profiles.Update(ctx, id, survey.SetFinalWord{Word: word})
	if err != nil {
		return err
	}
	t.profile = p
	if syncable(t.in) {
		t.jobs = append(t.jobs, jobs.SyncMessage{
			ParticipantID: id,
			Segment:       survey.SegmentFinal,
			Payload:       payloadOf(t.in, word),
		})
	}

	t.goTo(session.StateConsent)
	t.say(e.consentAsk()...)
	return nil
}

func (e *Engine) consentAsk() []string {
	if e.cfg.LegacyConsent {
		return survey.LegacyConsentAsk
	}
	return survey.ConsentAsk
}

func (e *Engine) consent(ctx context.Context, t *turn) error {
	allowed, fix := []int{1}, survey.ConsentFix
	if e.cfg.LegacyConsent {
		allowed, fix = []int{1, 2}, survey.LegacyConsentFix
	}

	n, ok := survey.PickNumber(t.text, allowed)
	if !ok {
		t.say(fix...)
		return nil
	}

	consent := survey.ConsentYes
	if n == 2 {
		consent = survey.ConsentNo
	}
	p, err := e.deps.Profiles.Update(ctx, t.in.ParticipantID, survey.GiveConsent{Consent: consent})
	if err != nil {
		return err
	}
	t.profile = p
	t.say(survey.Thanks...)
	t.ended = true
	return nil
}

func (e *Engine) ventInput(t *turn) error {
	if survey.IsTerminator(t.text) {
		t.say(survey.VentThanks...)
		t.ended = true
		return nil
	}
	t.sess.Buffer(fragmentOf(t.in, t.text, e.now()))
	t.say(survey.StationAck...)
	return nil
}

// syncable is false for voice clips whose download failed; the
// placeholder text is not worth replicating.
func syncable(in Inbound) bool {
	return in.Kind != KindAudio || in.MediaRef != ""
}

func payloadOf(in Inbound, text string) jobs.Payload {
	if in.Kind == KindAudio && in.MediaRef != "" {
		return jobs.Audio{MediaRef: in.MediaRef}
	}
	return jobs.Text{Body: text}
}

func fragmentOf(in Inbound, text string, at time.Time) session.Fragment {
	return session.Fragment{At: at, Kind: string(in.Kind), Text: text, MediaRef: in.MediaRef}
}

// send delivers the reply as one message. Failures are logged only; the
// conversation has already advanced.
func (e *Engine) send(ctx context.Context, to string, lines []string) {
	if len(lines) == 0 {
		return
	}
	if err := e.deps.Sender.Send(ctx, to, strings.Join(lines, "\n")); err != nil {
		e.log.Errorf("Failed to send reply to %s: %v", to, err)
	}
}

// endSession destroys everything ephemeral about a participant.
func (e *Engine) endSession(ctx context.Context, id string) {
	e.timers.Cancel(id)
	if err := e.deps.Sessions.Delete(ctx, id); err != nil {
		e.log.Warnf("Failed to delete session for %s: %v", id, err)
	}
	if e.deps.Outbox != nil {
		if err := e.deps.Outbox.Clear(ctx, id); err != nil {
			e.log.Warnf("Failed to clear outbox for %s: %v", id, err)
		}
	}
	if e.deps.Links != nil {
		e.deps.Links.Forget(id)
	}
}

func (e *Engine) reset(ctx context.Context, id string) error {
	e.endSession(ctx, id)
	if err := e.deps.Profiles.Delete(ctx, id); err != nil {
		return err
	}
	e.log.Infof("Participant %s reset their state", id)
	e.send(ctx, id, survey.ResetNotice)
	return nil
}

// Reset clears the session, profile and cached credential of a
// participant without messaging them.
func (e *Engine) Reset(ctx context.Context, id string, full bool) error {
	unlock := e.locks.Lock(id)
	defer unlock()

	e.endSession(ctx, id)
	if !full {
		return nil
	}
	return e.deps.Profiles.Delete(ctx, id)
}

// Session returns the participant's live session, if any.
func (e *Engine) Session(ctx context.Context, id string) (*session.Session, error) {
	return e.deps.Sessions.Get(ctx, id)
}

// expire runs when an idle timer fires. It only acts if the armed session
// is still the current one and really is idle.
func (e *Engine) expire(id, generation string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	unlock := e.locks.Lock(id)
	defer unlock()

	sess, err := e.deps.Sessions.Get(ctx, id)
	if err != nil || sess.Generation != generation || !sess.Expired(e.now(), e.cfg.IdleTimeout) {
		return
	}

	e.log.Debugf("Session %s for %s timed out", generation, id)
	e.send(ctx, id, survey.IdleNotice)
	e.endSession(ctx, id)
}
