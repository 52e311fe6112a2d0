// Package history keeps completed raffles as one serialized array in a
// single key/value slot.
package history

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"strconv"
	"sync"

	"github.com/google/logger"
	"github.com/google/uuid"

	"raffle/internal/draw"
	"raffle/internal/errors"
	"raffle/internal/i18n"
	"raffle/internal/models"
	"raffle/internal/store"
)

// Key is the slot holding the serialized history array.
const Key = "raffleHistory"

var (
	ErrNotFound  = errors.NotFound(i18n.MsgRaffleNotFound)
	ErrNotArray  = errors.InvalidInput(i18n.MsgHistoryNotArray)
	ErrMalformed = errors.InvalidInput(i18n.MsgHistoryMalformed)
)

// Store reads and writes the history array. Writes are serialized so
// concurrent saves do not lose each other's records.
type Store struct {
	kv    store.KV
	namer draw.Namer
	mu    sync.Mutex
}

// New creates a Store over kv. namer names the locations synthesized for
// legacy records.
func New(kv store.KV, namer draw.Namer) *Store {
	return &Store{kv: kv, namer: namer}
}

// List returns every stored raffle, most recently created first.
func (s *Store) List(ctx context.Context) ([]models.Raffle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(ctx)
}

// Get returns the raffle with id.
func (s *Store) Get(ctx context.Context, id string) (*models.Raffle, error) {
	raffles, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	for i := range raffles {
		if raffles[i].ID == id {
			return &raffles[i], nil
		}
	}
	return nil, ErrNotFound
}

// Save replaces the raffle with the same id in place, or prepends it.
func (s *Store) Save(ctx context.Context, raffle models.Raffle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raffles, err := s.load(ctx)
	if err != nil {
		return err
	}
	return s.store(ctx, upsert(raffles, raffle))
}

// Import upserts every raffle of a serialized history array and returns how
// many were read. Legacy records are migrated; records without an id get one.
func (s *Store) Import(ctx context.Context, r io.Reader) (int, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrInvalidInput, i18n.MsgHistoryMalformed)
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '[' {
		if json.Valid(data) {
			return 0, ErrNotArray
		}
		return 0, ErrMalformed
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return 0, errors.Wrap(err, errors.ErrInvalidInput, i18n.MsgHistoryMalformed)
	}

	incoming := make([]models.Raffle, 0, len(raw))
	for i, item := range raw {
		raffle, err := s.migrate(item)
		if err != nil {
			return 0, errors.Wrap(fmt.Errorf("record %d: %w", i, err), errors.ErrInvalidInput, i18n.MsgHistoryMalformed)
		}
		if raffle.ID == "" {
			raffle.ID = uuid.NewString()
		}
		incoming = append(incoming, raffle)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	raffles, err := s.load(ctx)
	if err != nil {
		return 0, err
	}
	// Walk backwards so the imported array keeps its order at the front.
	for i := len(incoming) - 1; i >= 0; i-- {
		raffles = upsert(raffles, incoming[i])
	}
	if err := s.store(ctx, raffles); err != nil {
		return 0, err
	}
	logger.Infof("history: imported %d raffles", len(incoming))
	return len(incoming), nil
}

// Clear removes the whole history.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.kv.Delete(ctx, Key); err != nil {
		return errors.Internal(err)
	}
	return nil
}

// load reads the slot. An unreadable blob is logged and treated as empty.
func (s *Store) load(ctx context.Context) ([]models.Raffle, error) {
	data, err := s.kv.Get(ctx, Key)
	if stderrors.Is(err, store.ErrNotFound) {
		return []models.Raffle{}, nil
	}
	if err != nil {
		return nil, errors.Internal(err)
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		logger.Errorf("history: stored blob is not a JSON array, ignoring it: %v", err)
		return []models.Raffle{}, nil
	}
	raffles := make([]models.Raffle, 0, len(raw))
	for i, item := range raw {
		raffle, err := s.migrate(item)
		if err != nil {
			logger.Warningf("history: skipping unreadable record %d: %v", i, err)
			continue
		}
		raffles = append(raffles, raffle)
	}
	return raffles, nil
}

func (s *Store) store(ctx context.Context, raffles []models.Raffle) error {
	data, err := json.Marshal(raffles)
	if err != nil {
		return errors.Internal(err)
	}
	if err := s.kv.Put(ctx, Key, data); err != nil {
		return errors.Internal(err)
	}
	return nil
}

// legacyRaffle is a record written before awards and locations existed.
type legacyRaffle struct {
	models.Raffle
	Winners []models.Participant `json:"winners"`
}

// migrate decodes one record, upgrading a flat winners list into placeholder
// locations "1".."N" with matching awards.
func (s *Store) migrate(item json.RawMessage) (models.Raffle, error) {
	var rec legacyRaffle
	if err := json.Unmarshal(item, &rec); err != nil {
		return models.Raffle{}, err
	}
	raffle := rec.Raffle
	if rec.Winners == nil || raffle.Awards != nil {
		return raffle, nil
	}

	locations := make([]models.Location, len(rec.Winners))
	awards := make([]models.Award, len(rec.Winners))
	for i, winner := range rec.Winners {
		locations[i] = models.Location{ID: strconv.Itoa(i + 1), Name: s.namer(i + 1)}
		awards[i] = models.Award{Winner: winner, Location: locations[i]}
	}
	return models.Raffle{
		ID:           raffle.ID,
		Title:        raffle.Title,
		Date:         raffle.Date,
		Participants: raffle.Participants,
		Locations:    locations,
		Awards:       awards,
	}, nil
}

func upsert(raffles []models.Raffle, raffle models.Raffle) []models.Raffle {
	for i := range raffles {
		if raffles[i].ID == raffle.ID {
			raffles[i] = raffle
			return raffles
		}
	}
	return append([]models.Raffle{raffle}, raffles...)
}
