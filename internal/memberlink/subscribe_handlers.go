package memberlink

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/scalingmax/memberlink/internal/logging"
	"github.com/scalingmax/memberlink/internal/memberlink/email"
	"github.com/scalingmax/memberlink/internal/memberlink/mlmetrics"
)

// SubscribeHandlers adds landing page opt-ins to the marketing list.
type SubscribeHandlers struct {
	contacts email.ContactList
}

type subscribeRequest struct {
	Email     string `json:"email"`
	FirstName string `json:"firstName"`
	Phone     string `json:"phone"`
	Source    string `json:"source"`
}

type subscribeResponse struct {
	Success bool   `json:"success"`
	ID      int64  `json:"id,omitempty"`
	Message string `json:"message,omitempty"`
}

// NewSubscribeHandlers wires the opt-in endpoint to a contact list.
func NewSubscribeHandlers(contacts email.ContactList) *SubscribeHandlers {
	return &SubscribeHandlers{contacts: contacts}
}

// HandleSubscribe handles POST /subscribe.
func (h *SubscribeHandlers) HandleSubscribe(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodOptions:
		w.WriteHeader(http.StatusOK)
		return
	case http.MethodPost:
	default:
		writeFormJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "Method not allowed"})
		return
	}

	logger := logging.FromContext(r.Context())

	var req subscribeRequest
	r.Body = http.MaxBytesReader(w, r.Body, formRequestBodyLimit)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeFormJSON(w, http.StatusBadRequest, errorResponse{Error: "Invalid request body"})
		return
	}

	addr := strings.TrimSpace(req.Email)
	if addr == "" {
		writeFormJSON(w, http.StatusBadRequest, errorResponse{Error: "Email requis"})
		return
	}

	res, err := h.contacts.Upsert(r.Context(), email.Contact{
		Email:     addr,
		FirstName: strings.TrimSpace(req.FirstName),
		Phone:     strings.TrimSpace(req.Phone),
		Source:    strings.TrimSpace(req.Source),
	})
	mlmetrics.ContactUpsertsTotal.WithLabelValues(mlmetrics.Result(err)).Inc()
	if err != nil {
		var cerr *email.ContactError
		if errors.As(err, &cerr) && cerr.Status >= 400 && cerr.Status < 600 {
			logger.Warn().Err(err).Msg("subscribe: contact rejected")
			msg := cerr.Message
			if msg == "" {
				msg = "Erreur Brevo"
			}
			writeFormJSON(w, cerr.Status, errorResponse{Error: msg})
			return
		}
		logger.Error().Err(err).Msg("subscribe: contact upsert failed")
		writeFormJSON(w, http.StatusInternalServerError, errorResponse{Error: "Erreur serveur"})
		return
	}

	if res.Existing {
		writeFormJSON(w, http.StatusOK, subscribeResponse{Success: true, Message: "Contact déjà existant"})
		return
	}
	writeFormJSON(w, http.StatusOK, subscribeResponse{Success: true, ID: res.ID})
}
