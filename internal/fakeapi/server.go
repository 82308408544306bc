// Package fakeapi runs an in-process OAuth2 token endpoint and a small
// protected API for tests and examples.
package fakeapi

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

// Paths served by Server.
const (
	TokenPath  = "/oauth/token"
	RevokePath = "/oauth/revoke"
	MePath     = "/api/me"
	EchoPath   = "/api/echo"
)

// Server is a fake authorization and resource server.
type Server struct {
	*httptest.Server

	secret []byte

	mu            sync.Mutex
	users         map[string]string
	expiresIn     int
	omitRefresh   bool
	omitExpiry    bool
	failLogin     bool
	failRenew     bool
	failLogout    bool
	refreshTokens map[string]string // refresh token -> username
	accessTokens  map[string]bool   // jti -> live
	calls         []string

	logins   int
	renewals int
	logouts  int
}

// New starts a Server that accepts the given username/password pairs.
func New(users map[string]string) *Server {
	s := &Server{
		secret:        []byte(uuid.NewString()),
		users:         users,
		expiresIn:     3600,
		refreshTokens: make(map[string]string),
		accessTokens:  make(map[string]bool),
	}

	r := mux.NewRouter()
	r.Use(s.record)
	r.HandleFunc(TokenPath, s.handleToken).Methods(http.MethodPost)
	r.HandleFunc(RevokePath, s.handleRevoke).Methods(http.MethodPost)
	r.HandleFunc(MePath, s.requireToken(s.handleMe)).Methods(http.MethodGet)
	r.HandleFunc(EchoPath, s.handleEcho)
	r.HandleFunc("/api/status/{code:[0-9]{3}}", s.handleStatus)

	s.Server = httptest.NewServer(r)
	return s
}

// SetExpiresIn sets the lifetime announced for new tokens.
func (s *Server) SetExpiresIn(seconds int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expiresIn = seconds
}

// OmitRefreshToken stops issuing refresh tokens.
func (s *Server) OmitRefreshToken(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.omitRefresh = v
}

// OmitExpiresIn drops expires_in from token responses.
func (s *Server) OmitExpiresIn(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.omitExpiry = v
}

// FailLogin makes password grants fail with 500.
func (s *Server) FailLogin(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failLogin = v
}

// FailRenew makes refresh-token grants fail with 400.
func (s *Server) FailRenew(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failRenew = v
}

// FailLogout makes revocation fail with 500.
func (s *Server) FailLogout(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failLogout = v
}

// InvalidateAccessTokens revokes every issued access token, so protected
// endpoints answer 401 until a new token is issued.
func (s *Server) InvalidateAccessTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accessTokens = make(map[string]bool)
}

// Counts returns how many logins, renewals and logouts succeeded.
func (s *Server) Counts() (logins, renewals, logouts int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logins, s.renewals, s.logouts
}

// Calls returns "METHOD /path" for every request received, in order.
func (s *Server) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func (s *Server) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.calls = append(s.calls, r.Method+" "+r.URL.Path)
		s.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var user string
	switch r.PostForm.Get("grant_type") {
	case "password":
		if s.failLogin {
			writeError(w, http.StatusInternalServerError, "server_error")
			return
		}
		username := r.PostForm.Get("username")
		pw, ok := s.users[username]
		if !ok || pw != r.PostForm.Get("password") {
			writeError(w, http.StatusUnauthorized, "invalid_grant")
			return
		}
		user = username
		s.logins++
	case "refresh_token":
		rt := r.PostForm.Get("refresh_token")
		owner, ok := s.refreshTokens[rt]
		if s.failRenew || !ok {
			writeError(w, http.StatusBadRequest, "invalid_grant")
			return
		}
		delete(s.refreshTokens, rt)
		user = owner
		s.renewals++
	default:
		writeError(w, http.StatusBadRequest, "unsupported_grant_type")
		return
	}

	resp, err := s.issueLocked(user)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) issueLocked(user string) (map[string]any, error) {
	jti := uuid.NewString()
	claims := jwt.RegisteredClaims{
		Subject:   user,
		ID:        jti,
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Duration(s.expiresIn) * time.Second)),
	}
	access, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return nil, err
	}
	s.accessTokens[jti] = true

	resp := map[string]any{
		"token_type":   "Bearer",
		"access_token": access,
		"scope":        "api",
	}
	if !s.omitExpiry {
		resp["expires_in"] = s.expiresIn
	}
	if !s.omitRefresh {
		rt := uuid.NewString()
		s.refreshTokens[rt] = user
		resp["refresh_token"] = rt
	}
	return resp, nil
}

func (s *Server) handleRevoke(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failLogout {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	delete(s.refreshTokens, r.PostForm.Get("refresh_token"))
	s.logouts++
	w.WriteHeader(http.StatusOK)
}

func (s *Server) requireToken(next func(http.ResponseWriter, *http.Request, *jwt.RegisteredClaims)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok {
			writeError(w, http.StatusUnauthorized, "missing_token")
			return
		}
		claims := &jwt.RegisteredClaims{}
		_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
			return s.secret, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid_token")
			return
		}
		s.mu.Lock()
		live := s.accessTokens[claims.ID]
		s.mu.Unlock()
		if !live {
			writeError(w, http.StatusUnauthorized, "invalid_token")
			return
		}
		next(w, r, claims)
	}
}

func (s *Server) handleMe(w http.ResponseWriter, _ *http.Request, claims *jwt.RegisteredClaims) {
	writeJSON(w, http.StatusOK, map[string]string{"user": claims.Subject})
}

// Echo is the body returned by EchoPath.
type Echo struct {
	Method  string              `json:"method"`
	Query   map[string][]string `json:"query"`
	Headers map[string]string   `json:"headers"`
	Body    string              `json:"body"`
}

func (s *Server) handleEcho(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	headers := make(map[string]string, len(r.Header))
	for k := range r.Header {
		headers[k] = r.Header.Get(k)
	}
	writeJSON(w, http.StatusOK, Echo{
		Method:  r.Method,
		Query:   r.URL.Query(),
		Headers: headers,
		Body:    string(body),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	code, _ := strconv.Atoi(mux.Vars(r)["code"])
	w.WriteHeader(code)
	fmt.Fprintf(w, "status %d", code)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}
