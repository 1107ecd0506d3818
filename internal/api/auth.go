// Sessions: bcrypt password hashes, HS256 tokens carrying account, profile,
// and role. Tokens arrive either as the haven_session cookie or an
// Authorization bearer header; the websocket authenticates with the same
// token inside its first frame.
package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/havenworlds/haven-server/internal/account"
	"github.com/havenworlds/haven-server/internal/apperr"
	"github.com/havenworlds/haven-server/internal/persistence"
)

const (
	sessionCookie = "haven_session"
	sessionTTL    = 7 * 24 * time.Hour
)

type sessionClaims struct {
	ProfileID string       `json:"profileId"`
	Role      account.Role `json:"role"`
	jwt.RegisteredClaims
}

// session is the resolved identity attached to an authenticated request.
type session struct {
	AccountID string
	ProfileID string
	Role      account.Role
}

func (s *Server) issueToken(acc *account.Account, prof *account.Profile) (string, error) {
	claims := sessionClaims{
		ProfileID: prof.ID,
		Role:      acc.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   acc.ID,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(sessionTTL)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.Cfg.SessionSecret))
}

// parseToken validates a session token and returns its identity.
func (s *Server) parseToken(raw string) (*session, error) {
	var claims sessionClaims
	token, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(s.Cfg.SessionSecret), nil
	})
	if err != nil || !token.Valid {
		return nil, apperr.Auth(apperr.CodeUnauthenticated, "invalid or expired session").Wrap(err)
	}
	return &session{
		AccountID: claims.Subject,
		ProfileID: claims.ProfileID,
		Role:      claims.Role,
	}, nil
}

// sessionFrom resolves the request's session from cookie or bearer header.
func (s *Server) sessionFrom(r *http.Request) (*session, error) {
	if c, err := r.Cookie(sessionCookie); err == nil && c.Value != "" {
		return s.parseToken(c.Value)
	}
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return s.parseToken(strings.TrimPrefix(auth, "Bearer "))
	}
	return nil, apperr.Auth(apperr.CodeUnauthenticated, "no session")
}

type sessionHandler func(w http.ResponseWriter, r *http.Request, sess *session)

func (s *Server) requireSession(next sessionHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, err := s.sessionFrom(r)
		if err != nil {
			writeError(w, err)
			return
		}
		next(w, r, sess)
	}
}

func (s *Server) requireAdmin(next sessionHandler) http.HandlerFunc {
	return s.requireSession(func(w http.ResponseWriter, r *http.Request, sess *session) {
		if sess.Role != account.RoleAdministrator {
			writeError(w, apperr.Auth(apperr.CodeNotAdmin, "administrator role required"))
			return
		}
		next(w, r, sess)
	})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
		Username string `json:"username"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Email == "" || req.Password == "" || req.Username == "" {
		writeError(w, apperr.Validation(apperr.CodeMissingFields, "email, password, and username are required"))
		return
	}

	existing, err := persistence.AccountByEmail(s.Store.Conn(), req.Email)
	if err != nil {
		writeError(w, err)
		return
	}
	if existing != nil {
		writeError(w, apperr.Conflict(apperr.CodeCreateFailed, "email already registered"))
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		writeError(w, err)
		return
	}
	acc, prof, err := persistence.CreateAccount(s.Store.Conn(), req.Email, string(hash), req.Username)
	if err != nil {
		writeError(w, err)
		return
	}

	s.respondSession(w, acc, prof)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	acc, err := persistence.AccountByEmail(s.Store.Conn(), req.Email)
	if err != nil {
		writeError(w, err)
		return
	}
	if acc == nil || bcrypt.CompareHashAndPassword([]byte(acc.PasswordHash), []byte(req.Password)) != nil {
		writeError(w, apperr.Auth(apperr.CodeUnauthenticated, "invalid credentials"))
		return
	}
	prof, err := persistence.ProfileByAccount(s.Store.Conn(), acc.ID)
	if err != nil || prof == nil {
		writeError(w, apperr.Fatal(apperr.CodeCreateFailed, "account has no profile").Wrap(err))
		return
	}

	s.respondSession(w, acc, prof)
}

func (s *Server) respondSession(w http.ResponseWriter, acc *account.Account, prof *account.Profile) {
	token, err := s.issueToken(acc, prof)
	if err != nil {
		writeError(w, err)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   int(sessionTTL.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"token":   token,
		"account": acc,
		"profile": prof,
	})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request, sess *session) {
	acc, err := persistence.AccountByID(s.Store.Conn(), sess.AccountID)
	if err != nil {
		writeError(w, err)
		return
	}
	if acc == nil {
		writeError(w, apperr.Auth(apperr.CodeUnauthenticated, "account no longer exists"))
		return
	}
	prof, err := persistence.ProfileByAccount(s.Store.Conn(), acc.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"account": acc, "profile": prof})
}
