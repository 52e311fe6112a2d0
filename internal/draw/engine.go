// Package draw assigns raffle winners to prize locations.
package draw

import (
	crand "crypto/rand"
	"encoding/binary"
	"math/rand/v2"
	"slices"
	"strconv"
	"strings"
	"sync"

	"raffle/internal/errors"
	"raffle/internal/i18n"
	"raffle/internal/models"
)

var (
	ErrNoParticipants            = errors.Validation(i18n.MsgNoParticipants)
	ErrWinnersTooFew             = errors.Validation(i18n.MsgWinnersTooFew)
	ErrWinnersExceedParticipants = errors.Validation(i18n.MsgWinnersExceedParticipants)
	ErrWinnersExceedLocations    = errors.Validation(i18n.MsgWinnersExceedLocations)
	ErrTitleRequired             = errors.Validation(i18n.MsgTitleRequired)
)

// Request is the input of a draw.
type Request struct {
	Title        string
	Winners      int
	Participants []models.Participant
	Locations    []models.Location // empty: placeholder slots are generated
}

// Result is the outcome of a draw.
type Result struct {
	// Awards in natural order: Awards[i] pairs the i-th shuffled participant
	// with the i-th assigned location.
	Awards []models.Award
	// Reveal is the order awards are shown while pacing. Placeholder draws
	// reveal last-to-first; custom location draws reveal first-to-last.
	Reveal []models.Award
	// Waitlist holds the participants that did not win, in shuffled order.
	Waitlist []models.Participant
	// Synthetic is true when placeholder locations were generated.
	Synthetic bool
}

// RevealLocations returns the location of every award in reveal order.
func (r *Result) RevealLocations() []models.Location {
	out := make([]models.Location, len(r.Reveal))
	for i, a := range r.Reveal {
		out[i] = a.Location
	}
	return out
}

// Namer names the n-th (1-based) placeholder location.
type Namer func(n int) string

// Engine performs draws. It is safe for concurrent use.
type Engine struct {
	mu    sync.Mutex
	rng   *rand.Rand
	namer Namer
}

// New creates an Engine seeded from crypto randomness.
func New(namer Namer) *Engine {
	var seed [16]byte
	if _, err := crand.Read(seed[:]); err != nil {
		panic("draw: reading random seed: " + err.Error())
	}
	return newEngine(binary.LittleEndian.Uint64(seed[:8]), binary.LittleEndian.Uint64(seed[8:]), namer)
}

// NewSeeded creates an Engine whose draws are reproducible for a given seed.
func NewSeeded(seed uint64, namer Namer) *Engine {
	return newEngine(seed, seed^0x9e3779b97f4a7c15, namer)
}

func newEngine(s1, s2 uint64, namer Namer) *Engine {
	if namer == nil {
		namer = i18n.MustNew("en").SyntheticLocationName
	}
	return &Engine{rng: rand.New(rand.NewPCG(s1, s2)), namer: namer}
}

// Validate checks the preconditions of a draw in a fixed order and returns
// the first failure.
func Validate(req Request) error {
	switch {
	case len(req.Participants) == 0:
		return ErrNoParticipants
	case req.Winners <= 0:
		return ErrWinnersTooFew
	case req.Winners > len(req.Participants):
		return ErrWinnersExceedParticipants
	case len(req.Locations) > 0 && req.Winners > len(req.Locations):
		return ErrWinnersExceedLocations
	case strings.TrimSpace(req.Title) == "":
		return ErrTitleRequired
	}
	return nil
}

// SyntheticLocations generates n placeholder locations with ids "0".."n-1".
func SyntheticLocations(n int, namer Namer) []models.Location {
	out := make([]models.Location, n)
	for i := range out {
		out[i] = models.Location{ID: strconv.Itoa(i), Name: namer(i + 1)}
	}
	return out
}

// Draw validates req and assigns winners. The request slices are not modified.
func (e *Engine) Draw(req Request) (*Result, error) {
	if err := Validate(req); err != nil {
		return nil, err
	}
	n := req.Winners

	shuffled := slices.Clone(req.Participants)
	e.shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

	synthetic := len(req.Locations) == 0
	var assigned []models.Location
	if synthetic {
		assigned = SyntheticLocations(n, e.namer)
	} else {
		pool := slices.Clone(req.Locations)
		e.shuffle(len(pool), func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })
		assigned = pool[:n]
	}

	awards := make([]models.Award, n)
	for i := range awards {
		awards[i] = models.Award{Winner: shuffled[i], Location: assigned[i]}
	}

	reveal := slices.Clone(awards)
	if synthetic {
		slices.Reverse(reveal)
	}

	return &Result{
		Awards:    awards,
		Reveal:    reveal,
		Waitlist:  slices.Clone(shuffled[n:]),
		Synthetic: synthetic,
	}, nil
}

func (e *Engine) shuffle(n int, swap func(i, j int)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rng.Shuffle(n, swap)
}
