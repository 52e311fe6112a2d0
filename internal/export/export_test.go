package export

import (
	"bytes"
	"image/png"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"raffle/internal/i18n"
	"raffle/internal/models"
)

func sampleRaffle() *models.Raffle {
	alice := models.Participant{ID: "a", Name: "Alice", Location: "North"}
	bob := models.Participant{ID: "b", Name: "Bob, Jr."}
	carol := models.Participant{ID: "c", Name: "Carol"}
	stand1 := models.Location{ID: "s1", Name: "Stand 1"}
	stand2 := models.Location{ID: "s2", Name: "Stand 2"}
	return &models.Raffle{
		ID:           "r1",
		Title:        "Stands 2025",
		Date:         time.Date(2025, 11, 21, 10, 5, 0, 0, time.UTC),
		Participants: []models.Participant{alice, bob, carol},
		Locations:    []models.Location{stand1, stand2, {ID: "s3", Name: "Stand 3"}},
		Awards: []models.Award{
			{Winner: alice, Location: stand2},
			{Winner: bob, Location: stand1},
		},
		Waitlist: []models.Participant{carol},
	}
}

func TestSafeTitle(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Stands 2025", "stands_2025"},
		{"Fiesta del Chivito!", "fiesta_del_chivito_"},
		{"Año", "a_o"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, SafeTitle(tt.in))
		})
	}
}

func TestExporter_Filenames(t *testing.T) {
	en := New(i18n.MustNew("en"))
	es := New(i18n.MustNew("es"))
	r := sampleRaffle()

	assert.Equal(t, "winners_stands_2025.csv", en.WinnersFilename(r))
	assert.Equal(t, "waitlist_stands_2025.csv", en.WaitlistFilename(r))
	assert.Equal(t, "unassigned_stands_2025.txt", en.UnassignedFilename(r))
	assert.Equal(t, "ganadores_stands_2025.csv", es.WinnersFilename(r))

	r.Title = ""
	assert.Equal(t, "winners_raffle.csv", en.WinnersFilename(r))
	assert.Equal(t, "vacantes_sorteo.txt", es.UnassignedFilename(r))
}

func TestExporter_WriteWinnersCSV(t *testing.T) {
	e := New(i18n.MustNew("en"))

	var buf bytes.Buffer
	require.NoError(t, e.WriteWinnersCSV(&buf, sampleRaffle()))

	want := "\xef\xbb\xbf" +
		"Raffle title: Stands 2025\n" +
		"Date: Nov 21, 2025 10:05 AM\n" +
		"\n" +
		"Location,Winner,Winner location\n" +
		"Stand 2,Alice,North\n" +
		"Stand 1,\"Bob, Jr.\",\n"
	assert.Equal(t, want, buf.String())
}

func TestExporter_WriteWinnersCSVSpanish(t *testing.T) {
	e := New(i18n.MustNew("es"))

	var buf bytes.Buffer
	require.NoError(t, e.WriteWinnersCSV(&buf, sampleRaffle()))

	lines := strings.Split(strings.TrimPrefix(buf.String(), "\xef\xbb\xbf"), "\n")
	assert.Equal(t, "Título del Sorteo: Stands 2025", lines[0])
	assert.Equal(t, "Fecha: 21/11/2025, 10:05:00", lines[1])
	assert.Equal(t, "Ubicación,Ganador,Ubicación del Ganador", lines[3])
}

func TestExporter_WriteWaitlistCSV(t *testing.T) {
	e := New(i18n.MustNew("en"))

	var buf bytes.Buffer
	require.NoError(t, e.WriteWaitlistCSV(&buf, sampleRaffle()))

	want := "\xef\xbb\xbf" +
		"Waitlist for raffle: Stands 2025\n" +
		"Date: Nov 21, 2025 10:05 AM\n" +
		"\n" +
		"Order,Name,Participant location\n" +
		"1,Carol,\n"
	assert.Equal(t, want, buf.String())
}

func TestExporter_WriteUnassignedTXT(t *testing.T) {
	e := New(i18n.MustNew("en"))
	r := sampleRaffle()
	r.Locations = append(r.Locations, models.Location{ID: "s4", Name: "Stand 4"})

	var buf bytes.Buffer
	require.NoError(t, e.WriteUnassignedTXT(&buf, r))
	assert.Equal(t, "Stand 3\nStand 4", buf.String())
}

func TestExporter_NothingToExport(t *testing.T) {
	e := New(i18n.MustNew("en"))
	empty := &models.Raffle{Title: "Empty"}

	var buf bytes.Buffer
	assert.ErrorIs(t, e.WriteWinnersCSV(&buf, empty), ErrNothingToExport)
	assert.ErrorIs(t, e.WriteWaitlistCSV(&buf, empty), ErrNothingToExport)
	assert.ErrorIs(t, e.WriteUnassignedTXT(&buf, empty), ErrNothingToExport)
	_, err := e.RenderBoard(empty)
	assert.ErrorIs(t, err, ErrNothingToExport)
	assert.Zero(t, buf.Len())
}

func TestExporter_MissingDateUsesNow(t *testing.T) {
	e := New(i18n.MustNew("en"))
	e.now = func() time.Time { return time.Date(2026, 1, 2, 15, 4, 0, 0, time.UTC) }
	r := sampleRaffle()
	r.Date = time.Time{}

	var buf bytes.Buffer
	require.NoError(t, e.WriteWinnersCSV(&buf, r))
	assert.Contains(t, buf.String(), "Date: Jan 2, 2026 3:04 PM\n")
}

func TestExporter_RenderBoard(t *testing.T) {
	e := New(i18n.MustNew("en"))

	data, err := e.RenderBoard(sampleRaffle())
	require.NoError(t, err)

	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	style := DefaultBoardStyle
	assert.Equal(t, style.Width, img.Bounds().Dx())
	assert.Equal(t, style.HeaderH+2*style.RowHeight+style.FooterH, img.Bounds().Dy())
}

func TestExporter_RenderBoardCapsRows(t *testing.T) {
	e := New(i18n.MustNew("en"))
	r := sampleRaffle()
	for i := 0; i < 5; i++ {
		r.Awards = append(r.Awards, r.Awards[0])
	}
	style := DefaultBoardStyle
	style.MaxRows = 3

	data, err := e.renderBoard(r, style)
	require.NoError(t, err)
	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, style.HeaderH+4*style.RowHeight+style.FooterH, img.Bounds().Dy())
}

func TestQRCode(t *testing.T) {
	assert.Equal(t, "http://localhost:8080/raffles/abc%20def", ShareURL("http://localhost:8080/", "abc def"))

	data, err := QRCode("http://localhost:8080", "r1")
	require.NoError(t, err)
	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 256, img.Bounds().Dx())
}
