// Package parser turns uploaded participant and location files into model
// lists and reports names that occur more than once.
package parser

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	stderrors "errors"
	"io"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"raffle/internal/errors"
	"raffle/internal/i18n"
	"raffle/internal/models"
)

// Format is a supported upload format.
type Format int

const (
	FormatUnknown Format = iota
	FormatDelimited
	FormatJSON
)

var (
	ErrParticipantsEmpty      = errors.InvalidInput(i18n.MsgParticipantsEmpty)
	ErrParticipantsNotArray   = errors.InvalidInput(i18n.MsgParticipantsNotArray)
	ErrParticipantsMalformed  = errors.InvalidInput(i18n.MsgParticipantsMalformed)
	ErrParticipantsUnreadable = errors.InvalidInput(i18n.MsgParticipantsUnreadable)
	ErrLocationsEmpty         = errors.InvalidInput(i18n.MsgLocationsEmpty)
	ErrLocationsNotArray      = errors.InvalidInput(i18n.MsgLocationsNotArray)
	ErrLocationsMalformed     = errors.InvalidInput(i18n.MsgLocationsMalformed)
	ErrLocationsUnreadable    = errors.InvalidInput(i18n.MsgLocationsUnreadable)
	ErrUnsupportedFileType    = errors.InvalidInput(i18n.MsgUnsupportedFileType)
)

// headerHints are substrings that mark a first line as a header row.
var headerHints = []string{"name", "nombre", "id", "dni"}

// locationColumns are header names whose column fills Participant.Location.
var locationColumns = map[string]bool{"location": true, "ubicacion": true, "ubicación": true}

var utf8BOM = []byte("\xef\xbb\xbf")

// ParticipantResult is the outcome of parsing a participant file.
type ParticipantResult struct {
	All        []models.Participant
	Unique     []models.Participant
	Duplicates map[string]int // normalized name -> occurrences, only when > 1
	Header     []string
}

// LocationResult is the outcome of parsing a location file.
type LocationResult struct {
	All        []models.Location
	Unique     []models.Location
	Duplicates map[string]int
}

// Parser parses uploads. Fallback names are rendered with its translator.
type Parser struct {
	tr    *i18n.Translator
	newID func() string
}

// New creates a Parser that generates uuid identifiers.
func New(tr *i18n.Translator) *Parser {
	return &Parser{tr: tr, newID: uuid.NewString}
}

// DetectFormat maps a file name to its format by extension.
func DetectFormat(filename string) Format {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv", ".txt":
		return FormatDelimited
	case ".json":
		return FormatJSON
	default:
		return FormatUnknown
	}
}

// NormalizeName is the key used for duplicate detection.
func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Participants parses a participant upload.
func (p *Parser) Participants(filename string, r io.Reader) (*ParticipantResult, error) {
	format := DetectFormat(filename)
	if format == FormatUnknown {
		return nil, ErrUnsupportedFileType
	}
	data, err := readContent(r)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrInvalidInput, i18n.MsgParticipantsUnreadable)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, ErrParticipantsEmpty
	}

	var (
		participants []models.Participant
		header       []string
	)
	switch format {
	case FormatDelimited:
		participants, header, err = p.delimitedParticipants(data)
	case FormatJSON:
		participants, err = p.jsonParticipants(data)
	}
	if err != nil {
		return nil, err
	}
	if len(participants) == 0 {
		return nil, ErrParticipantsEmpty
	}

	unique, dups := dedupe(participants, func(p models.Participant) string { return p.Name })
	return &ParticipantResult{All: participants, Unique: unique, Duplicates: dups, Header: header}, nil
}

// Locations parses a location upload.
func (p *Parser) Locations(filename string, r io.Reader) (*LocationResult, error) {
	format := DetectFormat(filename)
	if format == FormatUnknown {
		return nil, ErrUnsupportedFileType
	}
	data, err := readContent(r)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrInvalidInput, i18n.MsgLocationsUnreadable)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, ErrLocationsEmpty
	}

	var locations []models.Location
	switch format {
	case FormatDelimited:
		locations, err = p.delimitedLocations(data)
	case FormatJSON:
		locations, err = p.jsonLocations(data)
	}
	if err != nil {
		return nil, err
	}
	if len(locations) == 0 {
		return nil, ErrLocationsEmpty
	}

	unique, dups := dedupe(locations, func(l models.Location) string { return l.Name })
	return &LocationResult{All: locations, Unique: unique, Duplicates: dups}, nil
}

func (p *Parser) delimitedParticipants(data []byte) ([]models.Participant, []string, error) {
	records, err := readRecords(data)
	if err != nil {
		return nil, nil, errors.Wrap(err, errors.ErrInvalidInput, i18n.MsgParticipantsMalformed)
	}
	if len(records) == 0 {
		return nil, nil, nil
	}

	var header []string
	locationCol := -1
	if len(records) > 1 && looksLikeHeader(records[0]) {
		header = records[0]
		records = records[1:]
		for i, h := range header {
			if locationColumns[strings.ToLower(h)] {
				locationCol = i
				break
			}
		}
	}

	participants := make([]models.Participant, 0, len(records))
	for i, cols := range records {
		var name string
		switch {
		case len(cols) > 1:
			name = strings.TrimSpace(cols[0] + " - " + cols[1])
		case cols[0] != "":
			name = cols[0]
		default:
			name = p.tr.Numbered(i18n.NameParticipantFallback, i+1)
		}
		participant := models.Participant{ID: p.newID(), Name: name, CSVData: cols}
		if locationCol >= 0 && locationCol < len(cols) {
			participant.Location = cols[locationCol]
		}
		participants = append(participants, participant)
	}
	return participants, header, nil
}

func (p *Parser) delimitedLocations(data []byte) ([]models.Location, error) {
	records, err := readRecords(data)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrInvalidInput, i18n.MsgLocationsMalformed)
	}
	locations := make([]models.Location, 0, len(records))
	for i, cols := range records {
		name := cols[0]
		if name == "" {
			name = p.tr.Numbered(i18n.NameLocationFallback, i+1)
		}
		locations = append(locations, models.Location{ID: p.newID(), Name: name})
	}
	return locations, nil
}

func (p *Parser) jsonParticipants(data []byte) ([]models.Participant, error) {
	items, err := decodeArray(data)
	if stderrors.Is(err, errNotArray) {
		return nil, ErrParticipantsNotArray
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrInvalidInput, i18n.MsgParticipantsMalformed)
	}

	participants := make([]models.Participant, 0, len(items))
	for i, item := range items {
		var participant models.Participant
		switch v := item.(type) {
		case string:
			participant.Name = strings.TrimSpace(v)
		case map[string]any:
			participant.ID = stringField(v["id"])
			participant.Name = strings.TrimSpace(stringField(v["name"]))
			participant.Location = stringField(v["location"])
		}
		if participant.ID == "" {
			participant.ID = p.newID()
		}
		if participant.Name == "" {
			participant.Name = p.tr.Numbered(i18n.NameParticipantFallback, i+1)
		}
		participants = append(participants, participant)
	}
	return participants, nil
}

func (p *Parser) jsonLocations(data []byte) ([]models.Location, error) {
	items, err := decodeArray(data)
	if stderrors.Is(err, errNotArray) {
		return nil, ErrLocationsNotArray
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrInvalidInput, i18n.MsgLocationsMalformed)
	}

	locations := make([]models.Location, 0, len(items))
	for i, item := range items {
		var location models.Location
		switch v := item.(type) {
		case string:
			location.Name = strings.TrimSpace(v)
		case map[string]any:
			location.ID = stringField(v["id"])
			location.Name = strings.TrimSpace(stringField(v["name"]))
		}
		if location.ID == "" {
			location.ID = p.newID()
		}
		if location.Name == "" {
			location.Name = p.tr.Numbered(i18n.NameLocationFallback, i+1)
		}
		locations = append(locations, location)
	}
	return locations, nil
}

func readContent(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return bytes.TrimPrefix(data, utf8BOM), nil
}

// readRecords reads comma-delimited lines with cleaned columns. Each line is
// parsed on its own so an unbalanced quote never spans rows. Blank lines are
// dropped and rows may have any number of columns.
func readRecords(data []byte) ([][]string, error) {
	var records [][]string
	for _, line := range strings.Split(strings.ReplaceAll(string(data), "\r\n", "\n"), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		reader := csv.NewReader(strings.NewReader(line))
		reader.LazyQuotes = true
		reader.TrimLeadingSpace = true
		record, err := reader.Read()
		if err != nil {
			return nil, err
		}
		blank := true
		for i, col := range record {
			col = strings.TrimSpace(col)
			col = strings.TrimSuffix(strings.TrimPrefix(col, `"`), `"`)
			record[i] = col
			if col != "" {
				blank = false
			}
		}
		if !blank {
			records = append(records, record)
		}
	}
	return records, nil
}

func looksLikeHeader(cols []string) bool {
	for _, col := range cols {
		col = strings.ToLower(col)
		for _, hint := range headerHints {
			if strings.Contains(col, hint) {
				return true
			}
		}
	}
	return false
}

var errNotArray = stderrors.New("not an array")

func decodeArray(data []byte) ([]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	items, ok := v.([]any)
	if !ok {
		return nil, errNotArray
	}
	return items, nil
}

func stringField(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case json.Number:
		return s.String()
	default:
		return ""
	}
}

func dedupe[T any](items []T, name func(T) string) ([]T, map[string]int) {
	counts := make(map[string]int, len(items))
	unique := make([]T, 0, len(items))
	for _, item := range items {
		key := NormalizeName(name(item))
		if counts[key] == 0 {
			unique = append(unique, item)
		}
		counts[key]++
	}

	dups := make(map[string]int)
	for key, n := range counts {
		if n > 1 {
			dups[key] = n
		}
	}
	return unique, dups
}
