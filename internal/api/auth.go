package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/lanwake/internal/auth"
)

// ticketTTL is how long a websocket ticket is valid.
const ticketTTL = 60 * time.Second

// loginRequest is the request body for POST /auth/login.
type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// loginResponse is the response body for POST /auth/login.
type loginResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// ticketStore holds pending websocket tickets. Tickets are single-use and
// expire after ticketTTL.
type ticketStore struct {
	mu      sync.Mutex
	tickets map[string]ticketEntry
	now     func() time.Time
}

type ticketEntry struct {
	subject   string
	expiresAt time.Time
}

func newTicketStore() *ticketStore {
	return &ticketStore{
		tickets: make(map[string]ticketEntry),
		now:     time.Now,
	}
}

// issue creates a ticket for subject.
func (t *ticketStore) issue(subject string) string {
	ticket := uuid.NewString()
	t.mu.Lock()
	t.tickets[ticket] = ticketEntry{subject: subject, expiresAt: t.now().Add(ticketTTL)}
	t.mu.Unlock()
	return ticket
}

// consume removes the ticket and reports whether it was still valid.
func (t *ticketStore) consume(ticket string) (ticketEntry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.tickets[ticket]
	if !ok {
		return ticketEntry{}, false
	}
	delete(t.tickets, ticket)
	return entry, t.now().Before(entry.expiresAt)
}

// sweep drops expired tickets.
func (t *ticketStore) sweep() {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	for ticket, entry := range t.tickets {
		if now.After(entry.expiresAt) {
			delete(t.tickets, ticket)
		}
	}
}

func (t *ticketStore) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.tickets)
}

// handleLogin exchanges the operator's username and password for an
// access token. It runs behind the throttle, so it records the outcome
// with the rate limiter itself.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Username == "" || req.Password == "" {
		writeBadRequest(w, "username and password are required")
		return
	}

	addr := clientAddr(r)
	token, expires, err := s.verifier.Login(req.Username, req.Password)
	switch {
	case errors.Is(err, auth.ErrNotProvisioned):
		writeUnavailable(w, "controller is not provisioned")
		return
	case err != nil:
		s.limiter.RecordFailure(addr, s.clock.Now())
		s.logger.Warn("login failed", "remote", addr.String(), "username", req.Username)
		writeUnauthorized(w, "invalid credentials")
		return
	}

	s.limiter.RecordSuccess(addr, s.clock.Now())
	s.logger.Info("login succeeded", "remote", addr.String(), "username", req.Username)

	writeJSON(w, http.StatusOK, loginResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int(time.Until(expires).Round(time.Second).Seconds()),
	})
}

// handleWSTicket issues a single-use websocket ticket so the token never
// travels in a URL.
func (s *Server) handleWSTicket(w http.ResponseWriter, r *http.Request) {
	subject, _ := r.Context().Value(ctxKeySubject).(string) //nolint:errcheck // Set by authMiddleware
	ticket := s.tickets.issue(subject)

	writeJSON(w, http.StatusOK, map[string]any{
		"ticket":     ticket,
		"expires_in": int(ticketTTL.Seconds()),
	})
}

// cleanTicketsLoop sweeps expired tickets until the context is cancelled.
func (s *Server) cleanTicketsLoop(ctx context.Context) {
	ticker := time.NewTicker(ticketTTL)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tickets.sweep()
		}
	}
}
