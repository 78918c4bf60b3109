package main

import (
	"encoding/json"
	"errors"
	"log"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"
)

const (
	qrSize              = 256
	defaultBoardLimit   = 10
	maxBoardLimit       = 100
	maxAdminRequestSize = 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true // Non-browser clients don't send Origin
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return u.Host == r.Host
	},
}

func extractIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("http encode error: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// SetupRoutes configures HTTP routes
func SetupRoutes(hub *Hub) http.Handler {
	router := httprouter.New()

	router.GET("/ws", hub.serveWS)
	router.GET("/healthz", hub.serveHealth)
	router.GET("/join.png", hub.serveJoinQR)
	router.GET("/api/leaderboard", hub.serveLeaderboard)
	router.POST("/admin/login", hub.serveAdminLogin)
	router.POST("/admin/end-round", hub.serveAdminEndRound)

	if dir := hub.cfg.ClientDir; dir != "" {
		fs := http.FileServer(http.Dir(dir))
		router.NotFound = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Cache-Control", "no-cache")
			fs.ServeHTTP(w, r)
		})
	}
	return router
}

func (h *Hub) serveWS(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	ip := extractIP(r)
	if !h.CanAccept(ip) {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("upgrade error: %v", err)
		return
	}

	h.TrackConnect(ip)

	client := NewClient(h, conn, ip)
	h.register <- client

	go client.WritePump()
	go client.ReadPump()
}

type healthResponse struct {
	Status  string     `json:"status"`
	Session *GameStats `json:"session"`
	Perf    *PerfStats `json:"perf,omitempty"`
	Conns   int        `json:"conns"`
	Clients int        `json:"clients"`
}

func (h *Hub) serveHealth(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	resp := healthResponse{Status: "ok", Conns: h.TotalConns(), Clients: h.ClientCount()}
	if g := h.sessions.Current(); g != nil {
		st := g.Stats()
		resp.Session = &st
	}
	if h.perf != nil {
		ps := h.perf.Stats()
		resp.Perf = &ps
	}
	writeJSON(w, http.StatusOK, resp)
}

// joinURL is the address players on other devices should open
func (h *Hub) joinURL(r *http.Request) string {
	if h.cfg.PublicURL != "" {
		return h.cfg.PublicURL
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	return scheme + "://" + r.Host + "/"
}

func (h *Hub) serveJoinQR(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	png, err := qrcode.Encode(h.joinURL(r), qrcode.Medium, qrSize)
	if err != nil {
		http.Error(w, "qr generation failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-cache")
	_, _ = w.Write(png)
}

type leaderboardResponse struct {
	Top    []ScoreRow `json:"top"`
	Recent []RoundRow `json:"recent"`
}

func (h *Hub) serveLeaderboard(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if h.db == nil {
		writeError(w, http.StatusServiceUnavailable, "history is disabled")
		return
	}
	limit := defaultBoardLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = clampInt(n, 1, maxBoardLimit)
	}

	top, err := h.db.TopScores(limit)
	if err != nil {
		log.Printf("leaderboard: %v", err)
		writeError(w, http.StatusInternalServerError, "database error")
		return
	}
	recent, err := h.db.RecentRounds(limit)
	if err != nil {
		log.Printf("leaderboard: %v", err)
		writeError(w, http.StatusInternalServerError, "database error")
		return
	}
	writeJSON(w, http.StatusOK, leaderboardResponse{Top: top, Recent: recent})
}

type loginRequest struct {
	Password string `json:"password"`
}

func (h *Hub) serveAdminLogin(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req loginRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxAdminRequestSize)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}
	token, err := h.admin.Login(req.Password, extractIP(r))
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"token": token})
	case errors.Is(err, ErrAdminDisabled):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrTooManyAttempts):
		writeError(w, http.StatusTooManyRequests, err.Error())
	default:
		writeError(w, http.StatusUnauthorized, err.Error())
	}
}

func (h *Hub) serveAdminEndRound(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || token == "" {
		writeError(w, http.StatusUnauthorized, "missing token")
		return
	}
	if err := h.admin.ValidateToken(token); err != nil {
		if errors.Is(err, ErrAdminDisabled) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusUnauthorized, "invalid token")
		return
	}

	err := h.sessions.EndRound("admin@" + extractIP(r))
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
	case errors.Is(err, ErrNoSession):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		writeError(w, http.StatusServiceUnavailable, err.Error())
	}
}
