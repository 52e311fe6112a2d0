// Package export renders finished raffles into downloadable files.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"raffle/internal/errors"
	"raffle/internal/i18n"
	"raffle/internal/models"
)

var ErrNothingToExport = errors.Validation(i18n.MsgNothingToExport)

// utf8BOM makes spreadsheet applications detect the encoding.
var utf8BOM = []byte("\xef\xbb\xbf")

// Exporter writes raffle exports with localized labels.
type Exporter struct {
	tr  *i18n.Translator
	now func() time.Time
}

// New creates an Exporter that labels files with tr.
func New(tr *i18n.Translator) *Exporter {
	return &Exporter{tr: tr, now: time.Now}
}

// SafeTitle turns a raffle title into a file name fragment: every rune other
// than an ASCII letter or digit becomes '_' and the result is lower-cased.
func SafeTitle(title string) string {
	var b strings.Builder
	for _, r := range title {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r + ('a' - 'A'))
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// Filename builds "<prefix>_<safe title><ext>" with a localized prefix.
func (e *Exporter) Filename(prefix, title, ext string) string {
	safe := SafeTitle(title)
	if safe == "" {
		safe = e.tr.T(i18n.FileFallbackTitle)
	}
	return e.tr.T(prefix) + "_" + safe + ext
}

// WinnersFilename is the download name of the winners CSV.
func (e *Exporter) WinnersFilename(r *models.Raffle) string {
	return e.Filename(i18n.FilePrefixWinners, r.Title, ".csv")
}

// WaitlistFilename is the download name of the waitlist CSV.
func (e *Exporter) WaitlistFilename(r *models.Raffle) string {
	return e.Filename(i18n.FilePrefixWaitlist, r.Title, ".csv")
}

// UnassignedFilename is the download name of the unassigned locations list.
func (e *Exporter) UnassignedFilename(r *models.Raffle) string {
	return e.Filename(i18n.FilePrefixUnassigned, r.Title, ".txt")
}

func (e *Exporter) date(r *models.Raffle) string {
	d := r.Date
	if d.IsZero() {
		d = e.now()
	}
	return e.tr.FormatDate(d)
}

// writePreamble writes the BOM, a title line, a date line and a blank line.
func (e *Exporter) writePreamble(w io.Writer, titleLabel string, r *models.Raffle) error {
	if _, err := w.Write(utf8BOM); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "%s\n%s\n\n", e.tr.T(titleLabel, r.Title), e.tr.T(i18n.LabelDate, e.date(r)))
	return err
}

// WriteWinnersCSV writes one row per award in draw order.
func (e *Exporter) WriteWinnersCSV(w io.Writer, r *models.Raffle) error {
	if len(r.Awards) == 0 {
		return ErrNothingToExport
	}
	if err := e.writePreamble(w, i18n.LabelRaffleTitle, r); err != nil {
		return err
	}

	cw := csv.NewWriter(w)
	if err := cw.Write([]string{e.tr.T(i18n.LabelLocation), e.tr.T(i18n.LabelWinner), e.tr.T(i18n.LabelWinnerLocation)}); err != nil {
		return err
	}
	for _, a := range r.Awards {
		if err := cw.Write([]string{a.Location.Name, a.Winner.Name, a.Winner.Location}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteWaitlistCSV writes the waitlist with its 1-based order.
func (e *Exporter) WriteWaitlistCSV(w io.Writer, r *models.Raffle) error {
	if len(r.Waitlist) == 0 {
		return ErrNothingToExport
	}
	if err := e.writePreamble(w, i18n.LabelWaitlistTitle, r); err != nil {
		return err
	}

	cw := csv.NewWriter(w)
	if err := cw.Write([]string{e.tr.T(i18n.LabelOrder), e.tr.T(i18n.LabelName), e.tr.T(i18n.LabelParticipantLocation)}); err != nil {
		return err
	}
	for i, p := range r.Waitlist {
		if err := cw.Write([]string{strconv.Itoa(i + 1), p.Name, p.Location}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteUnassignedTXT writes the names of the locations nobody won, one per
// line.
func (e *Exporter) WriteUnassignedTXT(w io.Writer, r *models.Raffle) error {
	return e.WriteLocationsTXT(w, r.UnassignedLocations())
}

// WriteLocationsTXT writes location names, one per line.
func (e *Exporter) WriteLocationsTXT(w io.Writer, locations []models.Location) error {
	if len(locations) == 0 {
		return ErrNothingToExport
	}
	names := make([]string, len(locations))
	for i, l := range locations {
		names[i] = l.Name
	}
	_, err := io.WriteString(w, strings.Join(names, "\n"))
	return err
}
