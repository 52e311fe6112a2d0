// Package i18n holds the user-facing message catalog. Messages are keyed by
// their English text; other locales register translations on init.
package i18n

import (
	"fmt"
	"strconv"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// File parsing.
const (
	MsgParticipantsEmpty      = "The file is empty or has an invalid format. Each participant must be on its own line."
	MsgParticipantsNotArray   = "The JSON file must contain an array of participants."
	MsgParticipantsMalformed  = "Could not parse the file. Please check the file format."
	MsgParticipantsUnreadable = "The file could not be read."
	MsgLocationsEmpty         = "The locations file is empty."
	MsgLocationsNotArray      = "The JSON file must contain an array of locations."
	MsgLocationsMalformed     = "Could not parse the locations file. Please check the file format."
	MsgLocationsUnreadable    = "The locations file could not be read."
	MsgUnsupportedFileType    = "Unsupported file type. Please use CSV, TXT or JSON."
	MsgHistoryNotArray        = "The history file must contain an array of raffles."
	MsgHistoryMalformed       = "Could not parse the history file."
	MsgFileMissing            = "No file was uploaded."
	MsgFileTooLarge           = "The file is too large."
)

// Draw validation.
const (
	MsgNoParticipants            = "Please upload a list of participants."
	MsgWinnersTooFew             = "The number of winners must be at least 1."
	MsgWinnersExceedParticipants = "The number of winners cannot exceed the number of participants."
	MsgWinnersExceedLocations    = "The number of winners cannot exceed the number of available locations."
	MsgTitleRequired             = "Please provide a title for the raffle."
)

// Session and history.
const (
	MsgDrawInProgress         = "A draw is already in progress."
	MsgDrawFinished           = "This raffle is finished. Start a new raffle to make changes."
	MsgNoPendingDuplicates    = "There are no duplicates waiting for a decision."
	MsgInvalidDuplicateAction = "Unknown duplicate action."
	MsgRaffleNotFound         = "Raffle not found."
	MsgNothingToExport        = "There is nothing to export."
	MsgInvalidRequest         = "Invalid request."
	MsgInternal               = "An unexpected error occurred."
)

// Generated names.
const (
	NameSyntheticLocation   = "Winner #%s"
	NameParticipantFallback = "Participant %s"
	NameLocationFallback    = "Location %s"
)

// Exports and page labels.
const (
	LabelRaffleTitle         = "Raffle title: %s"
	LabelWaitlistTitle       = "Waitlist for raffle: %s"
	LabelDate                = "Date: %s"
	LabelLocation            = "Location"
	LabelWinner              = "Winner"
	LabelWinnerLocation      = "Winner location"
	LabelOrder               = "Order"
	LabelName                = "Name"
	LabelParticipantLocation = "Participant location"
	LabelWaitlist            = "Waitlist"
	LabelCongratulations     = "Congratulations to the winners!"
	FilePrefixWinners        = "winners"
	FilePrefixWaitlist       = "waitlist"
	FilePrefixUnassigned     = "unassigned"
	FileFallbackTitle        = "raffle"
)

var supported = []language.Tag{language.English, language.Spanish}

var matcher = language.NewMatcher(supported)

var dateLayouts = map[language.Tag]string{
	language.English: "Jan 2, 2006 3:04 PM",
	language.Spanish: "2/1/2006, 15:04:05",
}

func init() {
	for key, msg := range spanish {
		if err := message.SetString(language.Spanish, key, msg); err != nil {
			panic(fmt.Sprintf("i18n: register %q: %v", key, err))
		}
	}
}

// Translator renders catalog keys for a single locale.
type Translator struct {
	tag     language.Tag
	printer *message.Printer
}

// New returns a Translator for the best supported match of locale.
func New(locale string) (*Translator, error) {
	requested, err := language.Parse(locale)
	if err != nil {
		return nil, fmt.Errorf("invalid locale %q: %w", locale, err)
	}
	_, idx, confidence := matcher.Match(requested)
	if confidence == language.No {
		return nil, fmt.Errorf("unsupported locale %q", locale)
	}
	tag := supported[idx]
	return &Translator{tag: tag, printer: message.NewPrinter(tag)}, nil
}

// MustNew is New for locales known to be valid.
func MustNew(locale string) *Translator {
	t, err := New(locale)
	if err != nil {
		panic(err)
	}
	return t
}

// Tag returns the matched language.
func (t *Translator) Tag() language.Tag {
	return t.tag
}

// T translates key and formats it with args.
func (t *Translator) T(key string, args ...any) string {
	return t.printer.Sprintf(key, args...)
}

// FormatDate renders ts in the locale's date-time layout.
func (t *Translator) FormatDate(ts time.Time) string {
	return ts.Format(dateLayouts[t.tag])
}

// Numbered translates a key taking a single ordinal. The number is never
// grouped by locale.
func (t *Translator) Numbered(key string, n int) string {
	return t.T(key, strconv.Itoa(n))
}

// SyntheticLocationName names the n-th (1-based) placeholder prize slot.
func (t *Translator) SyntheticLocationName(n int) string {
	return t.Numbered(NameSyntheticLocation, n)
}
