package http

import (
	"context"
	"html/template"
	"net/http"
	"slices"
	"time"

	"github.com/gin-contrib/sse"

	"spendly/internal/core"
	"spendly/internal/feed"
	"spendly/internal/gateway"
	"spendly/internal/log"
	"spendly/internal/session"
	"spendly/internal/view"
)

// Stream event names the dashboard script listens for.
const (
	eventView      = "view"
	eventFeedError = "feed-error"
	eventSignOut   = "signout"
	eventPing      = "ping"
)

type option struct {
	Value string
	Label string
}

var sortOptions = []option{
	{string(view.SortDateDesc), "Latest Date"},
	{string(view.SortDateAsc), "Oldest Date"},
	{string(view.SortAmountDesc), "Highest Amount"},
	{string(view.SortAmountAsc), "Lowest Amount"},
}

var chartOptions = []option{
	{string(view.ChartPie), "Pie"},
	{string(view.ChartDoughnut), "Doughnut"},
	{string(view.ChartBar), "Bar"},
	{string(view.ChartLine), "Line"},
}

// liveView is the part of the dashboard the stream keeps current.
type liveView struct {
	View  view.View
	Query template.URL
	Err   string
}

// expenseForm is the add/edit form. ID is set while editing.
type expenseForm struct {
	ID         string
	Amount     string
	Category   string
	Date       string
	Note       string
	Categories []string
	Query      template.URL
}

type dashboardPage struct {
	page
	Notice       *gateway.Notice
	Form         expenseForm
	Live         liveView
	Categories   []string
	SortOptions  []option
	ChartOptions []option
	ResetQuery   template.URL
}

func newExpenseForm(query template.URL) expenseForm {
	return expenseForm{Categories: core.Categories, Query: query}
}

// editForm prefills the form from the expense with id, if the snapshot has it.
func editForm(snap feed.Snapshot, id string, query template.URL) (expenseForm, bool) {
	for _, e := range snap.Expenses {
		if e.ID != id {
			continue
		}
		f := newExpenseForm(query)
		f.ID = e.ID
		f.Amount = e.Amount.String()
		f.Category = e.Category
		if e.Category != "" && !core.IsKnownCategory(e.Category) {
			f.Categories = append(slices.Clone(core.Categories), e.Category)
		}
		f.Date = core.DateString(e.Date)
		f.Note = e.Note
		return f, true
	}
	return expenseForm{}, false
}

// loadSnapshot reads the signed-in user's expenses once.
func (s *Server) loadSnapshot(r *http.Request) (feed.Snapshot, error) {
	ctx, cancel := context.WithTimeout(r.Context(), s.opts.LoadTimeout)
	defer cancel()
	snap, err := s.expenses.Load(ctx, sessionFrom(r.Context()).User.ID)
	if err != nil {
		log.FromContext(ctx).ErrorContext(ctx, "Failed to load expenses",
			log.FieldError, err, log.FieldOperation, log.OpRead)
	}
	return snap, err
}

func (s *Server) loadLiveView(r *http.Request, state view.State) (liveView, feed.Snapshot) {
	lv := liveView{Query: queryURL(state.Values())}
	snap, err := s.loadSnapshot(r)
	if err != nil {
		lv.View = view.Derive(nil, state)
		lv.Err = err.Error()
		return lv, snap
	}
	lv.View = view.Derive(snap.Expenses, state)
	return lv, snap
}

// handleDashboard renders the full dashboard. ?edit=<id> opens the form on
// that expense.
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	state := ParseViewState(r)
	live, snap := s.loadLiveView(r, state)

	form := newExpenseForm(live.Query)
	if id := r.URL.Query().Get("edit"); id != "" && live.Err == "" {
		if f, ok := editForm(snap, id, live.Query); ok {
			form = f
		}
	}

	s.writePage(w, r, http.StatusOK, "dashboard", dashboardPage{
		page:         s.basePage(r, "Dashboard"),
		Notice:       s.pendingNotice(sessionFrom(r.Context()).SID),
		Form:         form,
		Live:         live,
		Categories:   core.Categories,
		SortOptions:  sortOptions,
		ChartOptions: chartOptions,
		ResetQuery:   queryURL(state.Reset().Values()),
	})
}

// handleDashboardView renders the live region for the requested view state
// and records that state in the address bar.
func (s *Server) handleDashboardView(w http.ResponseWriter, r *http.Request) {
	state := ParseViewState(r)
	live, _ := s.loadLiveView(r, state)

	body, err := s.renderTemplate("live", live)
	if err != nil {
		log.FromContext(r.Context()).ErrorContext(r.Context(), "Template execution failed",
			log.FieldError, err, log.FieldOperation, log.OpRender)
		ErrorResponse(http.StatusInternalServerError, "Internal server error").Write(w)
		return
	}
	NewHTMXResponse().
		PushURL("/dashboard?" + string(live.Query)).
		BodyHTML(string(body)).
		Write(w)
}

// handleExpenseForm returns the expense form: empty, or prefilled for ?edit=<id>.
func (s *Server) handleExpenseForm(w http.ResponseWriter, r *http.Request) {
	form := newExpenseForm("")
	if id := r.URL.Query().Get("edit"); id != "" {
		snap, err := s.loadSnapshot(r)
		if err != nil {
			ErrorResponse(http.StatusInternalServerError, "Failed to load expense").Write(w)
			return
		}
		f, ok := editForm(snap, id, "")
		if !ok {
			NotFoundError("Expense not found").Write(w)
			return
		}
		form = f
	}
	s.writePage(w, r, http.StatusOK, "expense-form", form)
}

// handleStream pushes a freshly rendered view on every snapshot of the
// signed-in user's expenses. It follows the browser session: signing out
// anywhere ends the stream with a signout event.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r.Context())
	logger := log.FromContext(r.Context())
	state := ParseViewState(r)
	query := queryURL(state.Values())

	rc := http.NewResponseController(w)
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		logger.ErrorContext(r.Context(), "Streaming unsupported", log.FieldError, err)
		return
	}
	// The stream outlives any server write timeout.
	_ = rc.SetWriteDeadline(time.Time{})

	s.streamOpened()
	defer s.streamClosed()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	st := session.New(s.identity, sess.SID, sess.User)
	st.Init()
	defer st.Teardown()

	tracker := s.expenses.Track(ctx, st)
	defer tracker.Close()

	ping := time.NewTicker(s.opts.KeepAlive)
	defer ping.Stop()

	send := func(event, data string) bool {
		if err := sse.Encode(w, sse.Event{Event: event, Data: data}); err != nil {
			logger.DebugContext(ctx, "Stream write failed", log.FieldError, err)
			return false
		}
		return rc.Flush() == nil
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-ping.C:
			if !send(eventPing, "") {
				return
			}
		case u := <-tracker.Updates():
			switch {
			case u.User == nil:
				send(eventSignOut, "/login")
				return
			case u.Err != nil:
				logger.ErrorContext(ctx, "Expense feed failed", log.FieldError, u.Err, log.FieldOperation, log.OpWatch)
				body, err := s.renderTemplate("view-error", u.Err.Error())
				if err == nil {
					send(eventFeedError, string(body))
				}
				return
			default:
				body, err := s.renderTemplate("view", liveView{View: view.Derive(u.Snapshot.Expenses, state), Query: query})
				if err != nil {
					logger.ErrorContext(ctx, "Template execution failed", log.FieldError, err, log.FieldOperation, log.OpRender)
					return
				}
				if !send(eventView, string(body)) {
					return
				}
			}
		}
	}
}
