package http

import (
	"errors"
	"net/http"
	"net/url"
	"sync/atomic"

	"spendly/internal/gateway"
	"spendly/internal/log"
)

// mutationStatus maps a gateway outcome to the response status. htmx still
// shows the notice on error statuses but leaves the form as typed.
func mutationStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, gateway.ErrNotAuthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, gateway.ErrInvalidInput):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// parseExpenseForm reads the expense form or answers 400 itself.
func (s *Server) parseExpenseForm(w http.ResponseWriter, r *http.Request) (gateway.Fields, bool) {
	parser := NewRequestBodyParser(r)
	if err := parser.Parse(); err != nil {
		log.FromContext(r.Context()).WarnContext(r.Context(), "Failed to parse expense form", log.FieldError, err)
		if isHTMX(r) {
			NewHTMXResponse().
				Status(http.StatusBadRequest).
				TriggerNotification(gateway.NoticeError, gateway.MsgSaveFailed, gateway.DefaultNoticeDuration.Milliseconds()).
				Write(w)
		} else {
			BadRequestError("Invalid request format").Write(w)
		}
		return gateway.Fields{}, false
	}
	return parser.ExpenseFields(), true
}

func (s *Server) handleCreateExpense(w http.ResponseWriter, r *http.Request) {
	f, ok := s.parseExpenseForm(w, r)
	if !ok {
		return
	}
	res, err := s.gateway.Create(r.Context(), sessionFrom(r.Context()).User, f)
	s.respondMutation(w, r, res, err, "")
}

func (s *Server) handleUpdateExpense(w http.ResponseWriter, r *http.Request) {
	f, ok := s.parseExpenseForm(w, r)
	if !ok {
		return
	}
	id := r.PathValue("id")
	res, err := s.gateway.Update(r.Context(), sessionFrom(r.Context()).User, id, f)
	s.respondMutation(w, r, res, err, id)
}

func (s *Server) handleDeleteExpense(w http.ResponseWriter, r *http.Request) {
	res, err := s.gateway.Delete(r.Context(), sessionFrom(r.Context()).User, r.PathValue("id"))
	s.respondMutation(w, r, res, err, "")
}

// respondMutation reports a gateway result. htmx gets the notice through
// HX-Trigger, plus a fresh form when the old one should be cleared. A plain
// form post gets the notice on its session board and goes back to the
// dashboard, still editing editID if the update failed.
func (s *Server) respondMutation(w http.ResponseWriter, r *http.Request, res gateway.Result, err error, editID string) {
	status := mutationStatus(err)
	if err != nil {
		atomic.AddInt64(&s.metrics.mutationFails, 1)
		log.FromContext(r.Context()).WarnContext(r.Context(), "Expense mutation rejected",
			log.FieldError, err, "status", status)
	} else {
		atomic.AddInt64(&s.metrics.mutations, 1)
	}

	if isHTMX(r) {
		b := NewHTMXResponse().Status(status).TriggerResult(res)
		if err == nil && (res.ResetForm || res.ExitEdit) {
			body, rerr := s.renderTemplate("expense-form", newExpenseForm(""))
			if rerr != nil {
				log.FromContext(r.Context()).ErrorContext(r.Context(), "Template execution failed",
					log.FieldError, rerr, log.FieldOperation, log.OpRender)
			} else {
				b.BodyHTML(string(body))
			}
		}
		b.Write(w)
		return
	}

	if status == http.StatusUnauthorized {
		http.Redirect(w, r, "/login", http.StatusSeeOther)
		return
	}
	s.board(sessionFrom(r.Context()).SID).Post(res.Notice)

	q := ParseViewState(r).Values()
	if err != nil && editID != "" {
		q.Set("edit", editID)
	}
	http.Redirect(w, r, dashboardURL(q), http.StatusSeeOther)
}

// dashboardURL is where a plain form post returns to.
func dashboardURL(q url.Values) string {
	return "/dashboard?" + q.Encode()
}
