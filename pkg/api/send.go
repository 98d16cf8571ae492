package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/sipeed/wabridge/pkg/logger"
)

const (
	maxSendBody = 1 << 20

	errMissingFields = "Número e mensagem são obrigatórios."
	errSendFailed    = "Erro ao enviar mensagem."
	msgSent          = "Mensagem enviada com sucesso."
)

// flexString accepts a JSON string or number, so callers that post the
// phone number as a number are not rejected.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("expected string or number: %w", err)
	}
	*f = flexString(n.String())
	return nil
}

type sendRequest struct {
	Number  flexString `json:"number"`
	Message flexString `json:"message"`
	// Carteira is reserved: accepted, never validated or forwarded.
	Carteira json.RawMessage `json:"carteira,omitempty"`
}

type sendResponse struct {
	Success       bool   `json:"success"`
	Message       string `json:"message"`
	TelefoneEnvio string `json:"telefone_envio"`
}

type sendErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Details string `json:"details"`
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	reqID := uuid.NewString()

	var req sendRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSendBody)).Decode(&req); err != nil {
		logger.DebugCF("api", "Undecodable send request", map[string]interface{}{
			"request_id": reqID,
			"error":      err.Error(),
		})
		s.rejectSend(w)
		return
	}

	number, message := string(req.Number), string(req.Message)
	if number == "" || message == "" {
		s.rejectSend(w)
		return
	}
	if len(req.Carteira) > 0 && !bytes.Equal(req.Carteira, []byte("null")) {
		logger.DebugCF("api", "Ignoring reserved carteira field", map[string]interface{}{
			"request_id": reqID,
		})
	}

	if err := s.session.Send(r.Context(), number, message); err != nil {
		logger.ErrorCF("api", "Failed to send message", map[string]interface{}{
			"request_id": reqID,
			"number":     number,
			"error":      err.Error(),
		})
		s.countSend("error")
		writeJSON(w, http.StatusInternalServerError, sendErrorResponse{
			Success: false,
			Error:   errSendFailed,
			Details: err.Error(),
		})
		return
	}

	logger.InfoCF("api", "Message sent", map[string]interface{}{
		"request_id": reqID,
		"number":     number,
	})
	s.countSend("ok")
	writeJSON(w, http.StatusOK, sendResponse{
		Success:       true,
		Message:       msgSent,
		TelefoneEnvio: number,
	})
}

func (s *Server) rejectSend(w http.ResponseWriter) {
	s.countSend("invalid")
	writeJSON(w, http.StatusBadRequest, map[string]string{"error": errMissingFields})
}

func (s *Server) countSend(result string) {
	if s.metrics != nil {
		s.metrics.MessagesSent.WithLabelValues(result).Inc()
	}
}
