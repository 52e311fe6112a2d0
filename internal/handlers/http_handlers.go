package handlers

import (
	"bytes"
	stderrors "errors"
	"fmt"
	"html/template"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"raffle/internal/errors"
	"raffle/internal/export"
	"raffle/internal/history"
	"raffle/internal/hub"
	"raffle/internal/i18n"
	"raffle/internal/models"
	"raffle/internal/services"

	"github.com/dustin/go-humanize"
	"github.com/gin-gonic/gin"
	"github.com/google/logger"
	"github.com/google/uuid"
)

const (
	tenantCookie     = "tenant_id"
	tenantContextKey = "tenantID"
	tenantCookieAge  = 365 * 24 * 60 * 60
)

var (
	ErrFileTooLarge   = errors.InvalidInput(i18n.MsgFileTooLarge)
	ErrInvalidRequest = errors.InvalidInput(i18n.MsgInvalidRequest)
)

// Options configures an HTTPHandler.
type Options struct {
	BaseURL       string
	MaxUploadSize int64
}

// HTTPHandler holds the dependencies for the HTTP handlers, like the raffle service.
type HTTPHandler struct {
	service   *services.RaffleService
	history   *history.Store
	hub       *hub.Hub
	exporter  *export.Exporter
	tr        *i18n.Translator
	templates *template.Template
	opts      Options
}

// NewHTTPHandler creates a new HTTPHandler.
func NewHTTPHandler(service *services.RaffleService, h *history.Store, wsHub *hub.Hub, exporter *export.Exporter,
	tr *i18n.Translator, templates *template.Template, opts Options) *HTTPHandler {
	return &HTTPHandler{
		service:   service,
		history:   h,
		hub:       wsHub,
		exporter:  exporter,
		tr:        tr,
		templates: templates,
		opts:      opts,
	}
}

// renderPage is a helper to perform a two-step template rendering.
// It first executes the content template into a buffer, then executes the main
// layout template, passing the rendered content as a variable.
func (h *HTTPHandler) renderPage(c *gin.Context, pageData gin.H, contentTmpl string) {
	buf := new(bytes.Buffer)
	err := h.templates.ExecuteTemplate(buf, contentTmpl, pageData)
	if err != nil {
		logger.Errorf("Error executing content template %s: %v", contentTmpl, err)
		c.String(http.StatusInternalServerError, "Template rendering error")
		return
	}

	pageData["PageContent"] = template.HTML(buf.String())

	c.Header("Content-Type", "text/html; charset=utf-8")
	err = h.templates.ExecuteTemplate(c.Writer, "layout.html", pageData)
	if err != nil {
		logger.Errorf("Error executing layout template: %v", err)
		c.String(http.StatusInternalServerError, "Template rendering error")
	}
}

// RegisterPublicRoutes registers the routes that need no tenant.
func (h *HTTPHandler) RegisterPublicRoutes(router *gin.Engine) {
	router.GET("/healthz", h.Health)

	raffles := router.Group("/raffles/:id")
	raffles.GET("", h.GetRaffle)
	raffles.GET("/winners.csv", h.ExportWinnersCSV)
	raffles.GET("/waitlist.csv", h.ExportWaitlistCSV)
	raffles.GET("/unassigned.txt", h.ExportUnassignedTXT)
	raffles.GET("/board.png", h.ExportBoard)
	raffles.GET("/qr.png", h.ExportQRCode)
}

// RegisterTenantRoutes registers the routes bound to the caller's session.
func (h *HTTPHandler) RegisterTenantRoutes(group *gin.RouterGroup) {
	group.GET("/", h.ShowIndex)
	group.GET("/ws", h.ServeWs)

	api := group.Group("/api")
	api.GET("/state", h.GetState)
	api.POST("/participants", h.UploadParticipants)
	api.POST("/participants/duplicates", h.ResolveParticipantDuplicates)
	api.POST("/locations", h.UploadLocations)
	api.POST("/locations/duplicates", h.ResolveLocationDuplicates)
	api.PUT("/settings", h.UpdateSettings)
	api.POST("/draw", h.StartDraw)
	api.POST("/reset", h.Reset)
	api.GET("/unassigned.txt", h.ExportSessionUnassignedTXT)
	api.GET("/history", h.ListHistory)
	api.POST("/history/import", h.ImportHistory)
	api.DELETE("/history", h.ClearHistory)
	api.POST("/history/:id/load", h.LoadRaffle)
}

// TenantMiddleware identifies the browser by a cookie, issuing one on the
// first visit.
func (h *HTTPHandler) TenantMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID, err := c.Cookie(tenantCookie)
		if err != nil || uuid.Validate(tenantID) != nil {
			tenantID = uuid.NewString()
			c.SetSameSite(http.SameSiteLaxMode)
			c.SetCookie(tenantCookie, tenantID, tenantCookieAge, "/", "", false, true)
			logger.V(1).Infof("handlers: issued tenant %s", tenantID)
		}
		c.Set(tenantContextKey, tenantID)
		c.Next()
	}
}

func tenantID(c *gin.Context) string {
	return c.GetString(tenantContextKey)
}

// respondError converts err to a localized JSON error. Internal errors are
// logged and reported with a generic message.
func (h *HTTPHandler) respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch errors.KindOf(err) {
	case errors.ErrNotFound:
		status = http.StatusNotFound
	case errors.ErrValidation, errors.ErrInvalidInput:
		status = http.StatusBadRequest
	case errors.ErrConflict:
		status = http.StatusConflict
	}
	msg := i18n.MsgInternal
	var appErr *errors.Error
	if status != http.StatusInternalServerError && stderrors.As(err, &appErr) {
		msg = appErr.Message
	}
	if status == http.StatusInternalServerError {
		logger.Errorf("handlers: %s %s: %v", c.Request.Method, c.Request.URL.Path, err)
	} else {
		logger.V(1).Infof("handlers: %s %s: %v", c.Request.Method, c.Request.URL.Path, err)
	}
	c.AbortWithStatusJSON(status, gin.H{"error": h.tr.T(msg)})
}

// Health reports liveness along with the live session and websocket counts.
func (h *HTTPHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"sessions": h.service.SessionCount(),
		"clients":  h.hub.ClientCount(""),
	})
}

// ShowIndex handles the request for the raffle page.
func (h *HTTPHandler) ShowIndex(c *gin.Context) {
	state := h.service.State(tenantID(c))
	data := gin.H{
		"title":  state.Title,
		"Lang":   h.tr.Tag().String(),
		"State":  state,
		"Labels": h.pageLabels(),
	}
	h.renderPage(c, data, "index.html")
}

func (h *HTTPHandler) pageLabels() map[string]string {
	return map[string]string{
		"Location":        h.tr.T(i18n.LabelLocation),
		"Winner":          h.tr.T(i18n.LabelWinner),
		"WinnerLocation":  h.tr.T(i18n.LabelWinnerLocation),
		"Waitlist":        h.tr.T(i18n.LabelWaitlist),
		"Congratulations": h.tr.T(i18n.LabelCongratulations),
	}
}

// ServeWs attaches the caller to the live update hub.
func (h *HTTPHandler) ServeWs(c *gin.Context) {
	h.hub.ServeWs(c.Writer, c.Request, tenantID(c))
}

// GetState returns the caller's session.
func (h *HTTPHandler) GetState(c *gin.Context) {
	c.JSON(http.StatusOK, h.service.State(tenantID(c)))
}

// formFile returns the uploaded "file" field, enforcing the size limit.
func (h *HTTPHandler) formFile(c *gin.Context) (multipart.File, string, error) {
	// Allow some room for the multipart envelope around the file.
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.opts.MaxUploadSize+64<<10)
	header, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if stderrors.As(err, &tooLarge) {
			return nil, "", ErrFileTooLarge
		}
		return nil, "", errors.Wrap(err, errors.ErrInvalidInput, i18n.MsgFileMissing)
	}
	if header.Size > h.opts.MaxUploadSize {
		return nil, "", ErrFileTooLarge
	}
	file, err := header.Open()
	if err != nil {
		return nil, "", errors.Internal(err)
	}
	return file, header.Filename, nil
}

// UploadParticipants handles the participant file upload.
func (h *HTTPHandler) UploadParticipants(c *gin.Context) {
	file, filename, err := h.formFile(c)
	if err != nil {
		h.respondError(c, err)
		return
	}
	defer file.Close()

	state, err := h.service.LoadParticipants(tenantID(c), filename, file)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

// UploadLocations handles the location file upload.
func (h *HTTPHandler) UploadLocations(c *gin.Context) {
	file, filename, err := h.formFile(c)
	if err != nil {
		h.respondError(c, err)
		return
	}
	defer file.Close()

	state, err := h.service.LoadLocations(tenantID(c), filename, file)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

type duplicatesRequest struct {
	Action services.DuplicateAction `json:"action" binding:"required"`
}

// ResolveParticipantDuplicates keeps or removes duplicated participants.
func (h *HTTPHandler) ResolveParticipantDuplicates(c *gin.Context) {
	var req duplicatesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, errors.Wrap(err, errors.ErrInvalidInput, i18n.MsgInvalidRequest))
		return
	}
	state, err := h.service.ResolveParticipantDuplicates(tenantID(c), req.Action)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

// ResolveLocationDuplicates keeps or removes duplicated locations.
func (h *HTTPHandler) ResolveLocationDuplicates(c *gin.Context) {
	var req duplicatesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, errors.Wrap(err, errors.ErrInvalidInput, i18n.MsgInvalidRequest))
		return
	}
	state, err := h.service.ResolveLocationDuplicates(tenantID(c), req.Action)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

type settingsRequest struct {
	Title   *string `json:"title"`
	Winners *int    `json:"winners"`
}

// UpdateSettings changes the title and/or the number of winners.
func (h *HTTPHandler) UpdateSettings(c *gin.Context) {
	var req settingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, errors.Wrap(err, errors.ErrInvalidInput, i18n.MsgInvalidRequest))
		return
	}
	if req.Title == nil && req.Winners == nil {
		h.respondError(c, ErrInvalidRequest)
		return
	}

	tenant := tenantID(c)
	state := h.service.State(tenant)
	var err error
	if req.Title != nil {
		if state, err = h.service.SetTitle(tenant, *req.Title); err != nil {
			h.respondError(c, err)
			return
		}
	}
	if req.Winners != nil {
		if state, err = h.service.SetWinnerCount(tenant, *req.Winners); err != nil {
			h.respondError(c, err)
			return
		}
	}
	c.JSON(http.StatusOK, state)
}

// StartDraw starts the draw. Awards arrive over the websocket.
func (h *HTTPHandler) StartDraw(c *gin.Context) {
	state, err := h.service.StartDraw(tenantID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, state)
}

// Reset starts a new raffle.
func (h *HTTPHandler) Reset(c *gin.Context) {
	state, err := h.service.Reset(tenantID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

// historyItem is one row of the history list.
type historyItem struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Date         time.Time `json:"date"`
	Ago          string    `json:"ago"`
	Winners      int       `json:"winners"`
	Participants string    `json:"participants"`
	Waitlist     int       `json:"waitlist"`
}

// ListHistory returns a summary of every stored raffle, newest first.
func (h *HTTPHandler) ListHistory(c *gin.Context) {
	raffles, err := h.history.List(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	items := make([]historyItem, len(raffles))
	for i, r := range raffles {
		items[i] = historyItem{
			ID:           r.ID,
			Title:        r.Title,
			Date:         r.Date,
			Ago:          humanize.Time(r.Date),
			Winners:      len(r.Awards),
			Participants: humanize.Comma(int64(len(r.Participants))),
			Waitlist:     len(r.Waitlist),
		}
	}
	c.JSON(http.StatusOK, items)
}

// ImportHistory merges an uploaded history file into the stored history.
func (h *HTTPHandler) ImportHistory(c *gin.Context) {
	file, _, err := h.formFile(c)
	if err != nil {
		h.respondError(c, err)
		return
	}
	defer file.Close()

	n, err := h.service.ImportHistory(c.Request.Context(), file)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"imported": n})
}

// ClearHistory deletes every stored raffle.
func (h *HTTPHandler) ClearHistory(c *gin.Context) {
	if err := h.service.ClearHistory(c.Request.Context(), tenantID(c)); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// LoadRaffle copies a stored raffle into the caller's session.
func (h *HTTPHandler) LoadRaffle(c *gin.Context) {
	state, err := h.service.LoadRaffle(c.Request.Context(), tenantID(c), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

func (h *HTTPHandler) raffle(c *gin.Context) (*models.Raffle, bool) {
	r, err := h.history.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return nil, false
	}
	return r, true
}

// GetRaffle returns a stored raffle.
func (h *HTTPHandler) GetRaffle(c *gin.Context) {
	r, ok := h.raffle(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, r)
}

// attachment renders an export into memory first so a failure can still be
// reported as JSON.
func (h *HTTPHandler) attachment(c *gin.Context, contentType, filename string, write func(io.Writer) error) {
	var buf bytes.Buffer
	if err := write(&buf); err != nil {
		h.respondError(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, contentType, buf.Bytes())
}

// ExportWinnersCSV handles the request to download the winners as a CSV file.
func (h *HTTPHandler) ExportWinnersCSV(c *gin.Context) {
	r, ok := h.raffle(c)
	if !ok {
		return
	}
	h.attachment(c, "text/csv; charset=utf-8", h.exporter.WinnersFilename(r), func(w io.Writer) error {
		return h.exporter.WriteWinnersCSV(w, r)
	})
}

// ExportWaitlistCSV handles the request to download the waitlist as a CSV file.
func (h *HTTPHandler) ExportWaitlistCSV(c *gin.Context) {
	r, ok := h.raffle(c)
	if !ok {
		return
	}
	h.attachment(c, "text/csv; charset=utf-8", h.exporter.WaitlistFilename(r), func(w io.Writer) error {
		return h.exporter.WriteWaitlistCSV(w, r)
	})
}

// ExportUnassignedTXT handles the request to download the locations nobody won.
func (h *HTTPHandler) ExportUnassignedTXT(c *gin.Context) {
	r, ok := h.raffle(c)
	if !ok {
		return
	}
	h.attachment(c, "text/plain; charset=utf-8", h.exporter.UnassignedFilename(r), func(w io.Writer) error {
		return h.exporter.WriteUnassignedTXT(w, r)
	})
}

// ExportSessionUnassignedTXT handles the request to download the locations
// nobody won in the caller's finished draw.
func (h *HTTPHandler) ExportSessionUnassignedTXT(c *gin.Context) {
	tenant := tenantID(c)
	filename := h.exporter.UnassignedFilename(&models.Raffle{Title: h.service.State(tenant).Title})
	h.attachment(c, "text/plain; charset=utf-8", filename, func(w io.Writer) error {
		return h.exporter.WriteLocationsTXT(w, h.service.Unassigned(tenant))
	})
}

// ExportBoard returns the results board image.
func (h *HTTPHandler) ExportBoard(c *gin.Context) {
	r, ok := h.raffle(c)
	if !ok {
		return
	}
	data, err := h.exporter.RenderBoard(r)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.Data(http.StatusOK, "image/png", data)
}

// ExportQRCode returns a QR code linking to the raffle.
func (h *HTTPHandler) ExportQRCode(c *gin.Context) {
	r, ok := h.raffle(c)
	if !ok {
		return
	}
	data, err := export.QRCode(h.opts.BaseURL, r.ID)
	if err != nil {
		h.respondError(c, errors.Internal(err))
		return
	}
	c.Data(http.StatusOK, "image/png", data)
}
