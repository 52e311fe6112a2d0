package services

import (
	"context"
	"io"
	"slices"
	"sync"
	"time"

	"raffle/internal/draw"
	"raffle/internal/errors"
	"raffle/internal/events"
	"raffle/internal/history"
	"raffle/internal/hub"
	"raffle/internal/i18n"
	"raffle/internal/models"
	"raffle/internal/parser"

	"github.com/google/logger"
	"github.com/google/uuid"
)

var (
	ErrDrawInProgress         = errors.Conflict(i18n.MsgDrawInProgress)
	ErrDrawFinished           = errors.Conflict(i18n.MsgDrawFinished)
	ErrNoPendingDuplicates    = errors.Conflict(i18n.MsgNoPendingDuplicates)
	ErrInvalidDuplicateAction = errors.InvalidInput(i18n.MsgInvalidDuplicateAction)
)

// Status is the lifecycle stage of a session.
type Status string

const (
	StatusIdle     Status = "idle"
	StatusDrawing  Status = "drawing"
	StatusFinished Status = "finished"
)

// DuplicateAction resolves a pending duplicate warning.
type DuplicateAction string

const (
	KeepDuplicates   DuplicateAction = "keep"
	RemoveDuplicates DuplicateAction = "remove"
)

// Notifier delivers live updates to connected browsers.
type Notifier interface {
	Send(tenantID, msgType string, payload any)
	SendAll(msgType string, payload any)
}

type nopNotifier struct{}

func (nopNotifier) Send(string, string, any) {}
func (nopNotifier) SendAll(string, any)      {}

// Options tunes a RaffleService.
type Options struct {
	RevealDelay  time.Duration
	DefaultTitle string
	IdleTimeout  time.Duration
}

// RaffleSession holds the in-progress raffle of a single tenant.
type RaffleSession struct {
	mu sync.Mutex

	Title        string
	Winners      int
	Participants []models.Participant
	Locations    []models.Location
	Header       []string

	pendingParticipants *parser.ParticipantResult
	pendingLocations    *parser.LocationResult

	// Awards are the awards revealed so far.
	Awards      []models.Award
	Waitlist    []models.Participant
	RevealOrder []models.Location
	Status      Status
	// RaffleID is the history record this session saves into. It is set once
	// a draw completes or a raffle is loaded, and cleared by Reset.
	RaffleID string
	Date     time.Time

	LastActivity time.Time
}

// State is a snapshot of a session as sent to the browser.
type State struct {
	Title                 string               `json:"title"`
	Winners               int                  `json:"winners"`
	Participants          []models.Participant `json:"participants"`
	Locations             []models.Location    `json:"locations"`
	ParticipantCSVHeader  []string             `json:"participantCsvHeader,omitempty"`
	ParticipantDuplicates map[string]int       `json:"participantDuplicates,omitempty"`
	LocationDuplicates    map[string]int       `json:"locationDuplicates,omitempty"`
	Awards                []models.Award       `json:"awards"`
	Waitlist              []models.Participant `json:"waitlist"`
	Unassigned            []models.Location    `json:"unassigned,omitempty"`
	RevealOrder           []models.Location    `json:"revealOrder,omitempty"`
	NextLocation          *models.Location     `json:"nextLocation,omitempty"`
	Status                Status               `json:"status"`
	RaffleID              string               `json:"raffleId,omitempty"`
	Date                  *time.Time           `json:"date,omitempty"`
}

// AwardRevealed is broadcast every time the pacer shows one more award.
type AwardRevealed struct {
	Award        models.Award     `json:"award"`
	Index        int              `json:"index"`
	Total        int              `json:"total"`
	NextLocation *models.Location `json:"nextLocation,omitempty"`
}

// RaffleService manages one raffle session per tenant.
type RaffleService struct {
	mu       sync.RWMutex
	sessions map[string]*RaffleSession // Key: tenantID

	ctx       context.Context
	wg        sync.WaitGroup
	engine    *draw.Engine
	parser    *parser.Parser
	history   *history.Store
	notifier  Notifier
	publisher events.Publisher
	opts      Options
}

// NewRaffleService creates a RaffleService. Reveal pacers stop when ctx is
// cancelled. notifier and publisher may be nil.
func NewRaffleService(ctx context.Context, engine *draw.Engine, p *parser.Parser, h *history.Store,
	notifier Notifier, publisher events.Publisher, opts Options) *RaffleService {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	if publisher == nil {
		publisher = events.Nop{}
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = time.Hour
	}
	return &RaffleService{
		sessions:  make(map[string]*RaffleSession),
		ctx:       ctx,
		engine:    engine,
		parser:    p,
		history:   h,
		notifier:  notifier,
		publisher: publisher,
		opts:      opts,
	}
}

// SetNotifier replaces the notifier. It must be called before any session
// is used.
func (s *RaffleService) SetNotifier(n Notifier) {
	s.notifier = n
}

func (s *RaffleService) newSession() *RaffleSession {
	return &RaffleSession{
		Title:   s.opts.DefaultTitle,
		Winners: 1,
		Status:  StatusIdle,
	}
}

// getSession returns a session for a tenant, creating one if it doesn't exist.
func (s *RaffleService) getSession(tenantID string) *RaffleSession {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, exists := s.sessions[tenantID]
	if !exists {
		session = s.newSession()
		s.sessions[tenantID] = session
	}
	session.LastActivity = time.Now()
	return session
}

// editable reports whether the session accepts changes. Callers hold sess.mu.
func (sess *RaffleSession) editable() error {
	switch sess.Status {
	case StatusDrawing:
		return ErrDrawInProgress
	case StatusFinished:
		return ErrDrawFinished
	}
	return nil
}

// State returns a snapshot of the tenant's session.
func (s *RaffleService) State(tenantID string) State {
	sess := s.getSession(tenantID)
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.snapshot()
}

// Snapshot is State with the signature the hub expects.
func (s *RaffleService) Snapshot(tenantID string) any {
	return s.State(tenantID)
}

func (sess *RaffleSession) snapshot() State {
	st := State{
		Title:                sess.Title,
		Winners:              sess.Winners,
		Participants:         slices.Clone(sess.Participants),
		Locations:            slices.Clone(sess.Locations),
		ParticipantCSVHeader: slices.Clone(sess.Header),
		Awards:               slices.Clone(sess.Awards),
		Waitlist:             slices.Clone(sess.Waitlist),
		Status:               sess.Status,
		RaffleID:             sess.RaffleID,
	}
	if st.Participants == nil {
		st.Participants = []models.Participant{}
	}
	if st.Locations == nil {
		st.Locations = []models.Location{}
	}
	if st.Awards == nil {
		st.Awards = []models.Award{}
	}
	if st.Waitlist == nil {
		st.Waitlist = []models.Participant{}
	}
	if sess.pendingParticipants != nil {
		st.ParticipantDuplicates = sess.pendingParticipants.Duplicates
	}
	if sess.pendingLocations != nil {
		st.LocationDuplicates = sess.pendingLocations.Duplicates
	}
	if sess.Status == StatusDrawing {
		st.RevealOrder = slices.Clone(sess.RevealOrder)
		if next := len(sess.Awards); next < len(sess.RevealOrder) {
			loc := sess.RevealOrder[next]
			st.NextLocation = &loc
		}
	}
	st.Unassigned = sess.unassigned()
	if !sess.Date.IsZero() {
		d := sess.Date
		st.Date = &d
	}
	return st
}

// LoadParticipants replaces the participant list with the parsed upload. When
// the file contains duplicates the list stays empty until they are resolved.
func (s *RaffleService) LoadParticipants(tenantID, filename string, r io.Reader) (State, error) {
	sess := s.getSession(tenantID)
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if err := sess.editable(); err != nil {
		return State{}, err
	}
	sess.Participants = nil
	sess.Header = nil
	sess.pendingParticipants = nil

	result, err := s.parser.Participants(filename, r)
	if err != nil {
		logger.Warningf("services: tenant %s participant upload %q rejected: %v", tenantID, filename, err)
		return State{}, err
	}
	sess.Header = result.Header
	if len(result.Duplicates) > 0 {
		sess.pendingParticipants = result
		logger.Infof("services: tenant %s uploaded %d participants with %d duplicated names", tenantID, len(result.All), len(result.Duplicates))
	} else {
		sess.Participants = result.All
		logger.Infof("services: tenant %s uploaded %d participants", tenantID, len(result.All))
	}
	return sess.snapshot(), nil
}

// LoadLocations replaces the location list with the parsed upload. When the
// file contains duplicates the list stays empty until they are resolved.
func (s *RaffleService) LoadLocations(tenantID, filename string, r io.Reader) (State, error) {
	sess := s.getSession(tenantID)
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if err := sess.editable(); err != nil {
		return State{}, err
	}
	sess.Locations = nil
	sess.pendingLocations = nil

	result, err := s.parser.Locations(filename, r)
	if err != nil {
		logger.Warningf("services: tenant %s location upload %q rejected: %v", tenantID, filename, err)
		return State{}, err
	}
	if len(result.Duplicates) > 0 {
		sess.pendingLocations = result
		logger.Infof("services: tenant %s uploaded %d locations with %d duplicated names", tenantID, len(result.All), len(result.Duplicates))
	} else {
		sess.Locations = result.All
		logger.Infof("services: tenant %s uploaded %d locations", tenantID, len(result.All))
	}
	return sess.snapshot(), nil
}

// ResolveParticipantDuplicates applies the user's decision on a pending
// participant duplicate warning.
func (s *RaffleService) ResolveParticipantDuplicates(tenantID string, action DuplicateAction) (State, error) {
	sess := s.getSession(tenantID)
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if err := sess.editable(); err != nil {
		return State{}, err
	}
	pending := sess.pendingParticipants
	if pending == nil {
		return State{}, ErrNoPendingDuplicates
	}
	switch action {
	case KeepDuplicates:
		sess.Participants = pending.All
	case RemoveDuplicates:
		sess.Participants = pending.Unique
	default:
		return State{}, ErrInvalidDuplicateAction
	}
	sess.pendingParticipants = nil
	return sess.snapshot(), nil
}

// ResolveLocationDuplicates applies the user's decision on a pending location
// duplicate warning.
func (s *RaffleService) ResolveLocationDuplicates(tenantID string, action DuplicateAction) (State, error) {
	sess := s.getSession(tenantID)
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if err := sess.editable(); err != nil {
		return State{}, err
	}
	pending := sess.pendingLocations
	if pending == nil {
		return State{}, ErrNoPendingDuplicates
	}
	switch action {
	case KeepDuplicates:
		sess.Locations = pending.All
	case RemoveDuplicates:
		sess.Locations = pending.Unique
	default:
		return State{}, ErrInvalidDuplicateAction
	}
	sess.pendingLocations = nil
	return sess.snapshot(), nil
}

// SetTitle sets the raffle title.
func (s *RaffleService) SetTitle(tenantID, title string) (State, error) {
	sess := s.getSession(tenantID)
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if err := sess.editable(); err != nil {
		return State{}, err
	}
	sess.Title = title
	return sess.snapshot(), nil
}

// SetWinnerCount sets how many winners will be drawn. Values below 1 are
// raised to 1.
func (s *RaffleService) SetWinnerCount(tenantID string, n int) (State, error) {
	sess := s.getSession(tenantID)
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if err := sess.editable(); err != nil {
		return State{}, err
	}
	sess.Winners = max(n, 1)
	return sess.snapshot(), nil
}

// StartDraw validates the session, draws the winners and starts revealing
// them one by one. A finished session may be drawn again; it saves into the
// same history record. On validation failure nothing changes.
func (s *RaffleService) StartDraw(tenantID string) (State, error) {
	sess := s.getSession(tenantID)
	sess.mu.Lock()

	if sess.Status == StatusDrawing {
		sess.mu.Unlock()
		return State{}, ErrDrawInProgress
	}
	res, err := s.engine.Draw(draw.Request{
		Title:        sess.Title,
		Winners:      sess.Winners,
		Participants: sess.Participants,
		Locations:    sess.Locations,
	})
	if err != nil {
		sess.mu.Unlock()
		return State{}, err
	}

	sess.Status = StatusDrawing
	sess.Awards = []models.Award{}
	sess.Waitlist = nil
	sess.RevealOrder = res.RevealLocations()
	sess.Date = time.Time{}
	st := sess.snapshot()
	sess.mu.Unlock()

	logger.Infof("services: tenant %s started draw %q with %d winners out of %d participants", tenantID, st.Title, len(res.Awards), len(st.Participants))
	s.notifier.Send(tenantID, hub.TypeDrawStarted, st)

	s.wg.Add(1)
	go s.reveal(tenantID, sess, res)
	return st, nil
}

// reveal shows one award every RevealDelay and finishes the draw after the
// last one.
func (s *RaffleService) reveal(tenantID string, sess *RaffleSession, res *draw.Result) {
	defer s.wg.Done()

	timer := time.NewTimer(s.opts.RevealDelay)
	defer timer.Stop()

	total := len(res.Reveal)
	for i, award := range res.Reveal {
		select {
		case <-s.ctx.Done():
			logger.Warningf("services: draw for tenant %s interrupted after %d of %d awards", tenantID, i, total)
			return
		case <-timer.C:
		}

		sess.mu.Lock()
		sess.Awards = append(sess.Awards, award)
		msg := AwardRevealed{Award: award, Index: i, Total: total}
		if i+1 < len(sess.RevealOrder) {
			next := sess.RevealOrder[i+1]
			msg.NextLocation = &next
		}
		sess.mu.Unlock()

		s.notifier.Send(tenantID, hub.TypeAwardRevealed, msg)
		if i+1 < total {
			timer.Reset(s.opts.RevealDelay)
		}
	}
	s.finish(tenantID, sess, res)
}

func (s *RaffleService) finish(tenantID string, sess *RaffleSession, res *draw.Result) {
	sess.mu.Lock()
	sess.Awards = slices.Clone(res.Awards)
	sess.Waitlist = slices.Clone(res.Waitlist)
	sess.Status = StatusFinished
	sess.Date = time.Now().UTC()
	if sess.RaffleID == "" {
		sess.RaffleID = uuid.NewString()
	}
	raffle := models.Raffle{
		ID:                   sess.RaffleID,
		Title:                sess.Title,
		Date:                 sess.Date,
		Participants:         slices.Clone(sess.Participants),
		Locations:            slices.Clone(sess.Locations),
		Awards:               slices.Clone(res.Awards),
		Waitlist:             slices.Clone(res.Waitlist),
		ParticipantCSVHeader: slices.Clone(sess.Header),
	}
	st := sess.snapshot()
	sess.mu.Unlock()

	if err := s.history.Save(s.ctx, raffle); err != nil {
		logger.Errorf("services: failed to save raffle %s for tenant %s: %v", raffle.ID, tenantID, err)
	} else {
		s.notifier.SendAll(hub.TypeHistoryChanged, nil)
	}
	logger.Infof("services: tenant %s finished raffle %s with %d awards and %d on the waitlist", tenantID, raffle.ID, len(raffle.Awards), len(raffle.Waitlist))
	s.notifier.Send(tenantID, hub.TypeDrawFinished, st)

	err := s.publisher.Publish(s.ctx, events.Event{
		Type: events.RaffleCompleted,
		Payload: events.RaffleCompletedPayload{
			RaffleID:  raffle.ID,
			Title:     raffle.Title,
			Date:      raffle.Date,
			Winners:   len(raffle.Awards),
			Waitlist:  len(raffle.Waitlist),
			Synthetic: res.Synthetic,
		},
	})
	if err != nil {
		logger.Errorf("services: failed to publish completion of raffle %s: %v", raffle.ID, err)
	}
}

// Reset starts a new raffle for the tenant.
func (s *RaffleService) Reset(tenantID string) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.sessions[tenantID]; ok {
		old.mu.Lock()
		drawing := old.Status == StatusDrawing
		old.mu.Unlock()
		if drawing {
			return State{}, ErrDrawInProgress
		}
	}
	sess := s.newSession()
	sess.LastActivity = time.Now()
	s.sessions[tenantID] = sess
	logger.Infof("services: reset session for tenant %s", tenantID)
	return sess.snapshot(), nil
}

// LoadRaffle copies a stored raffle into the tenant's session as finished.
func (s *RaffleService) LoadRaffle(ctx context.Context, tenantID, raffleID string) (State, error) {
	raffle, err := s.history.Get(ctx, raffleID)
	if err != nil {
		return State{}, err
	}

	sess := s.getSession(tenantID)
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if sess.Status == StatusDrawing {
		return State{}, ErrDrawInProgress
	}
	sess.Title = raffle.Title
	sess.Participants = raffle.Participants
	sess.Locations = raffle.Locations
	sess.Header = raffle.ParticipantCSVHeader
	sess.Awards = raffle.Awards
	sess.Waitlist = raffle.Waitlist
	sess.Winners = max(len(raffle.Awards), 1)
	sess.RevealOrder = nil
	sess.pendingParticipants = nil
	sess.pendingLocations = nil
	sess.Status = StatusFinished
	sess.RaffleID = raffle.ID
	sess.Date = raffle.Date
	logger.Infof("services: tenant %s loaded raffle %s", tenantID, raffle.ID)
	return sess.snapshot(), nil
}

// Unassigned returns the custom locations that no winner received. It is
// empty until the draw is finished or when placeholder locations were used.
func (s *RaffleService) Unassigned(tenantID string) []models.Location {
	sess := s.getSession(tenantID)
	sess.mu.Lock()
	defer sess.mu.Unlock()

	return sess.unassigned()
}

func (sess *RaffleSession) unassigned() []models.Location {
	if sess.Status != StatusFinished {
		return nil
	}
	raffle := models.Raffle{Locations: sess.Locations, Awards: sess.Awards}
	return raffle.UnassignedLocations()
}

// ClearHistory deletes every stored raffle. The tenant's session no longer
// points at a history record afterwards.
func (s *RaffleService) ClearHistory(ctx context.Context, tenantID string) error {
	if err := s.history.Clear(ctx); err != nil {
		return err
	}
	sess := s.getSession(tenantID)
	sess.mu.Lock()
	sess.RaffleID = ""
	sess.mu.Unlock()

	logger.Infof("services: history cleared by tenant %s", tenantID)
	s.notifier.SendAll(hub.TypeHistoryChanged, nil)
	if err := s.publisher.Publish(ctx, events.Event{Type: events.HistoryCleared, Payload: map[string]string{"tenantId": tenantID}}); err != nil {
		logger.Errorf("services: failed to publish history clear: %v", err)
	}
	return nil
}

// ImportHistory merges a serialized history array into the stored history.
func (s *RaffleService) ImportHistory(ctx context.Context, r io.Reader) (int, error) {
	n, err := s.history.Import(ctx, r)
	if err != nil {
		return 0, err
	}
	s.notifier.SendAll(hub.TypeHistoryChanged, nil)
	return n, nil
}

// CleanUpInactiveSessions removes sessions idle for longer than the idle
// timeout. Sessions with a draw in progress are kept.
func (s *RaffleService) CleanUpInactiveSessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for tenantID, session := range s.sessions {
		if time.Since(session.LastActivity) <= s.opts.IdleTimeout {
			continue
		}
		session.mu.Lock()
		drawing := session.Status == StatusDrawing
		session.mu.Unlock()
		if drawing {
			continue
		}
		delete(s.sessions, tenantID)
		removed++
	}
	if removed > 0 {
		logger.Infof("services: removed %d inactive sessions, %d remaining", removed, len(s.sessions))
	}
	return removed
}

// SessionCount returns the number of live sessions.
func (s *RaffleService) SessionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Wait blocks until every running reveal has returned.
func (s *RaffleService) Wait() {
	s.wg.Wait()
}

