package export

import (
	"bytes"
	"fmt"
	"image/color"
	"strconv"
	"sync"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/gomono"

	"raffle/internal/i18n"
	"raffle/internal/models"
)

// BoardStyle defines the layout of the results board.
type BoardStyle struct {
	Width     int
	Padding   int
	HeaderH   int
	RowHeight int
	FooterH   int
	MaxRows   int
}

// DefaultBoardStyle is used by RenderBoard.
var DefaultBoardStyle = BoardStyle{
	Width:     800,
	Padding:   40,
	HeaderH:   130,
	RowHeight: 34,
	FooterH:   70,
	MaxRows:   200,
}

var parseFonts = sync.OnceValues(func() (map[string]*truetype.Font, error) {
	fonts := make(map[string]*truetype.Font, 2)
	for name, data := range map[string][]byte{"bold": gobold.TTF, "mono": gomono.TTF} {
		f, err := truetype.Parse(data)
		if err != nil {
			return nil, fmt.Errorf("parse %s font: %w", name, err)
		}
		fonts[name] = f
	}
	return fonts, nil
})

// loadFont returns a face of the named embedded font. Faces keep glyph caches
// and must not be shared between renders.
func loadFont(name string, size float64) (font.Face, error) {
	fonts, err := parseFonts()
	if err != nil {
		return nil, err
	}
	return truetype.NewFace(fonts[name], &truetype.Options{
		Size:       size,
		DPI:        72,
		Hinting:    font.HintingFull,
		SubPixelsX: 4,
		SubPixelsY: 4,
	}), nil
}

// RenderBoard draws the awards of r as a PNG image.
func (e *Exporter) RenderBoard(r *models.Raffle) ([]byte, error) {
	return e.renderBoard(r, DefaultBoardStyle)
}

func (e *Exporter) renderBoard(r *models.Raffle, style BoardStyle) ([]byte, error) {
	if len(r.Awards) == 0 {
		return nil, ErrNothingToExport
	}
	titleFace, err := loadFont("bold", 28)
	if err != nil {
		return nil, err
	}
	textFace, err := loadFont("mono", 16)
	if err != nil {
		return nil, err
	}
	rankFace, err := loadFont("bold", 16)
	if err != nil {
		return nil, err
	}

	rows := r.Awards
	hidden := 0
	if len(rows) > style.MaxRows {
		hidden = len(rows) - style.MaxRows
		rows = rows[:style.MaxRows]
	}
	height := style.HeaderH + len(rows)*style.RowHeight + style.FooterH
	if hidden > 0 {
		height += style.RowHeight
	}
	width := float64(style.Width)
	pad := float64(style.Padding)

	dc := gg.NewContext(style.Width, height)

	bg := gg.NewLinearGradient(0, 0, 0, float64(height))
	bg.AddColorStop(0, color.RGBA{R: 0x12, G: 0x1a, B: 0x3a, A: 0xff})
	bg.AddColorStop(1, color.RGBA{R: 0x05, G: 0x08, B: 0x18, A: 0xff})
	dc.SetFillStyle(bg)
	dc.DrawRectangle(0, 0, width, float64(height))
	dc.Fill()

	// Header
	dc.SetFontFace(titleFace)
	dc.SetRGB(1, 0.84, 0)
	dc.DrawStringAnchored(fitString(dc, r.Title, width-2*pad), width/2, 50, 0.5, 0.5)
	dc.SetFontFace(textFace)
	dc.SetRGB(0.8, 0.8, 0.9)
	dc.DrawStringAnchored(e.date(r), width/2, 88, 0.5, 0.5)

	dc.SetRGBA(0.6, 0.6, 0.7, 0.7)
	dc.SetLineWidth(1)
	dc.DrawLine(pad, float64(style.HeaderH)-14, width-pad, float64(style.HeaderH)-14)
	dc.Stroke()

	rankW := 50.0
	colW := (width - 2*pad - rankW) / 2
	y := float64(style.HeaderH)
	for i, a := range rows {
		if i%2 == 0 {
			dc.SetRGBA(0.5, 0.5, 0.6, 0.08)
			dc.DrawRectangle(pad/2, y, width-pad, float64(style.RowHeight))
			dc.Fill()
		}
		mid := y + float64(style.RowHeight)/2

		dc.SetFontFace(rankFace)
		dc.SetRGB(1, 0.84, 0)
		dc.DrawStringAnchored(strconv.Itoa(i+1), pad+rankW/2, mid, 0.5, 0.35)

		dc.SetFontFace(textFace)
		dc.SetRGB(0.85, 0.85, 1)
		dc.DrawStringAnchored(fitString(dc, a.Location.Name, colW-10), pad+rankW, mid, 0, 0.35)
		dc.SetRGB(1, 1, 1)
		dc.DrawStringAnchored(fitString(dc, a.Winner.Name, colW-10), pad+rankW+colW, mid, 0, 0.35)
		y += float64(style.RowHeight)
	}
	if hidden > 0 {
		dc.SetRGB(0.7, 0.7, 0.8)
		dc.DrawStringAnchored(fmt.Sprintf("+%d", hidden), width/2, y+float64(style.RowHeight)/2, 0.5, 0.35)
		y += float64(style.RowHeight)
	}

	dc.SetFontFace(rankFace)
	dc.SetRGB(1, 0.84, 0)
	dc.DrawStringAnchored(e.tr.T(i18n.LabelCongratulations), width/2, y+float64(style.FooterH)/2, 0.5, 0.5)

	var buf bytes.Buffer
	if err := dc.EncodePNG(&buf); err != nil {
		return nil, fmt.Errorf("encode board: %w", err)
	}
	return buf.Bytes(), nil
}

// fitString shortens s with an ellipsis until it is at most maxW wide.
func fitString(dc *gg.Context, s string, maxW float64) string {
	if w, _ := dc.MeasureString(s); w <= maxW {
		return s
	}
	runes := []rune(s)
	for len(runes) > 0 {
		runes = runes[:len(runes)-1]
		candidate := string(runes) + "…"
		if w, _ := dc.MeasureString(candidate); w <= maxW {
			return candidate
		}
	}
	return ""
}
