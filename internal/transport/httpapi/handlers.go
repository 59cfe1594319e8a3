package httpapi

import (
	"net/http"
	"time"

	"bonecraft.ai/internal/protocol"
)

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req protocol.CredentialsReq
	if err := s.decode(w, r, protocol.SchemaCredentials, &req); err != nil {
		s.fail(w, "register", "", err)
		return
	}
	if err := s.accounts.Register(r.Context(), req.Username, req.Password); err != nil {
		s.fail(w, "register", req.Username, err)
		return
	}
	writeJSON(w, http.StatusOK, protocol.Response{Success: true, Message: "Account created! Login to play."})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req protocol.CredentialsReq
	if err := s.decode(w, r, protocol.SchemaCredentials, &req); err != nil {
		s.fail(w, "login", "", err)
		return
	}
	token, err := s.accounts.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		s.fail(w, "login", req.Username, err)
		return
	}
	cookie := &http.Cookie{
		Name:     SessionCookie,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	}
	if s.maxAge > 0 {
		cookie.MaxAge = int(s.maxAge / time.Second)
	}
	http.SetCookie(w, cookie)
	writeJSON(w, http.StatusOK, protocol.LoginResp{
		Response: protocol.Response{Success: true, Message: "Login successful."},
		Username: req.Username,
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if token := sessionToken(r); token != "" {
		s.accounts.Logout(token)
	}
	http.SetCookie(w, &http.Cookie{Name: SessionCookie, Value: "", Path: "/", MaxAge: -1, HttpOnly: true, Secure: s.secure})
	writeJSON(w, http.StatusOK, protocol.Response{Success: true, Message: "Logged out."})
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	resp := s.game.Player(r.Context(), userFrom(r.Context()))
	writeJSON(w, statusOf(resp.Response), resp)
}

func (s *Server) handleSynth(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r.Context())
	var req protocol.SynthReq
	if err := s.decode(w, r, protocol.SchemaSynth, &req); err != nil {
		s.fail(w, "synth", user, err)
		return
	}
	resp := s.game.Synthesize(r.Context(), user, req.RecipeName)
	writeJSON(w, statusOf(resp.Response), resp)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r.Context())
	var req protocol.ListReq
	if err := s.decode(w, r, protocol.SchemaList, &req); err != nil {
		s.fail(w, "list", user, err)
		return
	}
	resp := s.game.ListItem(r.Context(), user, req.Item, req.Price, req.Qty)
	writeJSON(w, statusOf(resp), resp)
}

func (s *Server) handleBuy(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r.Context())
	var req protocol.BuyReq
	if err := s.decode(w, r, protocol.SchemaBuy, &req); err != nil {
		s.fail(w, "buy", user, err)
		return
	}
	resp := s.game.BuyItem(r.Context(), user, req.ListingID)
	writeJSON(w, statusOf(resp.Response), resp)
}

func (s *Server) handleMarket(w http.ResponseWriter, r *http.Request) {
	resp := s.game.GetMarket(r.Context())
	writeJSON(w, statusOf(resp.Response), resp)
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	board, err := s.accounts.Leaderboard(r.Context())
	if err != nil {
		s.fail(w, "leaderboard", "", err)
		return
	}
	writeJSON(w, http.StatusOK, protocol.LeaderboardResp{Response: protocol.Response{Success: true}, Leaderboard: board})
}
