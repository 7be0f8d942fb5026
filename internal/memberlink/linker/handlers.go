package linker

import (
	"net/http"

	internalerrors "github.com/scalingmax/memberlink/internal/errors"
	"github.com/scalingmax/memberlink/internal/logging"
)

// Handlers serves the access and callback pages.
type Handlers struct {
	linker  *Linker
	siteURL string
}

// NewHandlers creates the page handlers. siteURL is the "back to site" link
// on error pages.
func NewHandlers(linker *Linker, siteURL string) *Handlers {
	return &Handlers{linker: linker, siteURL: siteURL}
}

// HandleAccess serves GET /chat-access?token=.
func (h *Handlers) HandleAccess(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	res, err := h.linker.Start(r.Context(), r.URL.Query().Get("token"))
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	if res.Rejoin {
		http.Redirect(w, r, res.RedirectURL, http.StatusFound)
		return
	}

	renderPage(w, r, http.StatusOK, "access", pageData{
		Title:   "Accès Discord",
		Email:   res.Subscriber.Email,
		LinkURL: res.AuthorizeURL,
	})
}

// HandleCallback serves GET /chat-callback, the OAuth redirect target.
func (h *Handlers) HandleCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	res, err := h.linker.Complete(r.Context(), CallbackParams{
		Code:  q.Get("code"),
		State: q.Get("state"),
		Error: q.Get("error"),
	})
	if err != nil {
		h.renderError(w, r, err)
		return
	}

	renderPage(w, r, http.StatusOK, "success", pageData{
		Title:    "Bienvenue !",
		Username: res.Username,
		LinkURL:  res.GuildURL,
	})
}

func (h *Handlers) renderError(w http.ResponseWriter, r *http.Request, err error) {
	status := internalerrors.HTTPStatus(err)
	event := logging.FromContext(r.Context()).Warn()
	if status >= http.StatusInternalServerError {
		event = logging.FromContext(r.Context()).Error()
	}
	event.Err(err).
		Str("state", string(internalerrors.StateOf(err))).
		Int("status", status).
		Str("path", r.URL.Path).
		Msg("Account link failed")

	page := errorPageFor(err)
	renderPage(w, r, status, "error", pageData{
		Title:   page.title,
		Message: page.message,
		LinkURL: h.siteURL,
	})
}
