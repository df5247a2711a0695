// Package handler provides the HTTP handlers of the weatherdash server.
package handler

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/weatherdash/weatherdash/internal/api/models"
	"github.com/weatherdash/weatherdash/internal/api/response"
	"github.com/weatherdash/weatherdash/internal/dashboard"
	"github.com/weatherdash/weatherdash/internal/location"
	"github.com/weatherdash/weatherdash/internal/worker"
)

const (
	maxRefreshBody = 1 << 10

	// Page reload intervals in seconds.
	pageReload        = 60
	pageReloadLoading = 5
)

//go:embed templates/dashboard.html
var templateFS embed.FS

var pageTemplate = template.Must(template.New("dashboard.html").Funcs(template.FuncMap{
	"glyph": glyph,
	"percent": func(v float64) string {
		return fmt.Sprintf("%.0f%%", v)
	},
	"deref": func(v *int) int {
		if v == nil {
			return 0
		}
		return *v
	},
}).ParseFS(templateFS, "templates/dashboard.html"))

// DashboardReader exposes the published dashboard state.
type DashboardReader interface {
	Snapshot() *dashboard.Snapshot
	Status() dashboard.Status
}

// Refresher runs explicit refreshes.
type Refresher interface {
	Run(ctx context.Context) *worker.RefreshResult
	RunAt(ctx context.Context, coords location.Coordinates) *worker.RefreshResult
}

// DashboardHandler serves the dashboard page and its JSON API.
type DashboardHandler struct {
	dashboard DashboardReader
	refresher Refresher
	validate  *validator.Validate
	logger    zerolog.Logger
}

// NewDashboardHandler creates a new DashboardHandler.
func NewDashboardHandler(dash DashboardReader, refresher Refresher, logger zerolog.Logger) *DashboardHandler {
	return &DashboardHandler{
		dashboard: dash,
		refresher: refresher,
		validate:  newValidator(),
		logger:    logger,
	}
}

type pageData struct {
	Title       string
	AutoRefresh int
	View        *dashboard.View
	SpanLinks   []toggleLink
	UnitLinks   []toggleLink
}

type toggleLink struct {
	Label  string
	Href   string
	Active bool
}

// Page handles GET / - the rendered dashboard.
func (h *DashboardHandler) Page(w http.ResponseWriter, r *http.Request) {
	opts, errs := h.viewOptions(r.URL.Query())
	if errs != nil {
		response.BadRequest(w, r, "invalid view options", errs)
		return
	}

	view := dashboard.BuildView(h.dashboard.Snapshot(), h.dashboard.Status(), opts)

	data := pageData{
		Title:       "Weather",
		AutoRefresh: pageReload,
		View:        view,
		SpanLinks: []toggleLink{
			{Label: "Today", Href: pageURL(view.Unit, dashboard.SpanToday), Active: view.Span == dashboard.SpanToday},
			{Label: "Week", Href: pageURL(view.Unit, dashboard.SpanWeek), Active: view.Span == dashboard.SpanWeek},
		},
		UnitLinks: []toggleLink{
			{Label: "°C", Href: pageURL(dashboard.UnitCelsius, view.Span), Active: view.Unit == dashboard.UnitCelsius},
			{Label: "°F", Href: pageURL(dashboard.UnitFahrenheit, view.Span), Active: view.Unit == dashboard.UnitFahrenheit},
		},
	}
	if view.Loading {
		data.AutoRefresh = pageReloadLoading
	}
	if view.Ready {
		data.Title = fmt.Sprintf("%d%s %s", view.Sidebar.Temperature, view.Sidebar.UnitSymbol, view.Sidebar.Condition)
	}

	var buf bytes.Buffer
	if err := pageTemplate.Execute(&buf, data); err != nil {
		h.logger.Error().Err(err).Msg("failed to render dashboard page")
		response.InternalError(w, r, "failed to render page")
		return
	}
	response.HTML(w, r, http.StatusOK, &buf)
}

// PageRefresh handles POST /refresh - the page's refresh button. It refreshes
// and redirects back to the page, which shows any failure.
func (h *DashboardHandler) PageRefresh(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRefreshBody)
	if err := r.ParseForm(); err != nil {
		response.BadRequest(w, r, "invalid form body", nil)
		return
	}
	opts, errs := h.viewOptions(r.PostForm)
	if errs != nil {
		response.BadRequest(w, r, "invalid view options", errs)
		return
	}

	result := h.refresher.Run(context.WithoutCancel(r.Context()))
	if result.Err != nil {
		h.logger.Warn().Err(result.Err).Msg("page refresh failed")
	}

	opts = opts.WithDefaults()
	http.Redirect(w, r, pageURL(opts.Unit, opts.Span), http.StatusSeeOther)
}

// GetDashboard handles GET /v1/dashboard - the view as JSON. Before the first
// snapshot the view has ready=false.
func (h *DashboardHandler) GetDashboard(w http.ResponseWriter, r *http.Request) {
	opts, errs := h.viewOptions(r.URL.Query())
	if errs != nil {
		response.BadRequest(w, r, "invalid view options", errs)
		return
	}

	response.JSON(w, r, http.StatusOK, dashboard.BuildView(h.dashboard.Snapshot(), h.dashboard.Status(), opts))
}

// Refresh handles POST /v1/dashboard/refresh - an explicit refresh, optionally
// moving the dashboard to the coordinates in the body.
func (h *DashboardHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	opts, errs := h.viewOptions(r.URL.Query())
	if errs != nil {
		response.BadRequest(w, r, "invalid view options", errs)
		return
	}

	var input models.RefreshRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRefreshBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&input); err != nil && !errors.Is(err, io.EOF) {
		response.BadRequest(w, r, "invalid JSON body", nil)
		return
	}
	if err := h.validate.Struct(input); err != nil {
		response.BadRequest(w, r, "invalid location", fieldErrors(err))
		return
	}
	if (input.Lat == nil) != (input.Lon == nil) {
		response.BadRequest(w, r, "invalid location", []models.FieldError{
			{Field: "lat", Message: "lat and lon must be set together", Code: "required_with"},
		})
		return
	}

	// The refresh outlives a disconnected client so its result is still published.
	ctx := context.WithoutCancel(r.Context())

	var result *worker.RefreshResult
	if input.HasLocation() {
		result = h.refresher.RunAt(ctx, location.Coordinates{Lat: *input.Lat, Lon: *input.Lon})
	} else {
		result = h.refresher.Run(ctx)
	}

	if result.Err != nil {
		if errors.Is(result.Err, location.ErrInvalidCoordinates) {
			response.BadRequest(w, r, result.Err.Error(), nil)
			return
		}
		response.RefreshFailed(w, r, string(dashboard.Classify(result.Err)), result.Err.Error())
		return
	}

	response.JSON(w, r, http.StatusOK, models.RefreshResponse{
		Seq:        result.Seq,
		Superseded: result.Superseded,
		DurationMs: result.Duration.Milliseconds(),
		View:       dashboard.BuildView(h.dashboard.Snapshot(), h.dashboard.Status(), opts),
	})
}

// viewOptions reads and validates the unit and span toggles.
func (h *DashboardHandler) viewOptions(values url.Values) (dashboard.ViewOptions, []models.FieldError) {
	opts := dashboard.ViewOptions{
		Unit: dashboard.Unit(strings.ToLower(values.Get("unit"))),
		Span: dashboard.Span(strings.ToLower(values.Get("span"))),
	}
	if err := h.validate.Struct(opts); err != nil {
		return opts, fieldErrors(err)
	}
	return opts, nil
}

func pageURL(unit dashboard.Unit, span dashboard.Span) string {
	q := url.Values{}
	q.Set("span", string(span))
	q.Set("unit", string(unit))
	return "/?" + q.Encode()
}

// glyph maps a condition icon name to a symbol for the page.
func glyph(icon string) string {
	switch {
	case icon == "clear-day":
		return "☀️"
	case icon == "clear-night":
		return "🌙"
	case strings.HasPrefix(icon, "mostly-clear"), icon == "partly-cloudy-day":
		return "🌤️"
	case icon == "partly-cloudy-night", icon == "overcast":
		return "☁️"
	case strings.HasPrefix(icon, "fog"):
		return "🌫️"
	case strings.HasPrefix(icon, "thunderstorm"):
		return "⛈️"
	case strings.Contains(icon, "snow"), icon == "sleet":
		return "🌨️"
	case strings.Contains(icon, "rain"), strings.HasPrefix(icon, "showers"), icon == "drizzle":
		return "🌧️"
	default:
		return "❔"
	}
}
