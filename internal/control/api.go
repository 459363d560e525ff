package control

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/matst80/botwarden/internal/notify"
	"github.com/matst80/botwarden/internal/obs"
	"github.com/matst80/botwarden/internal/scripts"
	"github.com/matst80/botwarden/internal/web"
)

// API exposes a Surface over HTTP.
type API struct {
	Surface       *Surface
	Version       string
	Notifications func() []notify.Notification
	// Shutdown is called in the background after POST /v1/shutdown has been answered.
	Shutdown func(ctx context.Context) error
}

func (a *API) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", a.Health)
	mux.HandleFunc("/v1/commands", a.Commands)
	mux.HandleFunc("/v1/logs", a.Logs)
	mux.HandleFunc("/v1/verification", a.Verification)
	mux.HandleFunc("/v1/verification/challenge", a.VerificationChallenge)
	mux.HandleFunc("/v1/verification/url", a.VerificationURL)
	mux.HandleFunc("/v1/verification/image", a.VerificationImage)
	mux.HandleFunc("/v1/scripts", a.Scripts)
	mux.HandleFunc("/v1/scripts/", a.ScriptByIndex)
	mux.HandleFunc("/v1/status", a.Status)
	mux.HandleFunc("/v1/shutdown", a.ShutdownDaemon)
	mux.HandleFunc("/dashboard", a.Dashboard)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return false
	}
	return true
}

func (a *API) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":      true,
		"pid":     os.Getpid(),
		"state":   a.Surface.Status().State,
		"version": a.Version,
	})
}

func (a *API) Commands(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req struct {
		Text string `json:"text"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"output": a.Surface.RunCommand(r.Context(), req.Text)})
}

func (a *API) Logs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{"lines": a.Surface.LogLines()})
	case http.MethodDelete:
		a.Surface.ClearLog()
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	case http.MethodPost:
		var req struct {
			Line string `json:"line"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		a.Surface.AppendLog(req.Line)
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	default:
		methodNotAllowed(w)
	}
}

func (a *API) Verification(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req struct {
		Answer string `json:"answer"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"accepted": a.Surface.SubmitVerificationResult(req.Answer)})
}

func (a *API) VerificationChallenge(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	v, ok := a.Surface.Challenge()
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (a *API) VerificationURL(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": a.Surface.ChallengeURL()})
}

func (a *API) VerificationImage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	img := a.Surface.ChallengeImage()
	if len(img) > 0 {
		w.Header().Set("Content-Type", http.DetectContentType(img))
	}
	w.Header().Set("Content-Length", strconv.Itoa(len(img)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(img)
}

func (a *API) Scripts(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{
			"count":   a.Surface.ScriptCount(),
			"scripts": a.Surface.ScriptList(),
		})
	case http.MethodPost:
		var req struct {
			Name string       `json:"name"`
			Kind scripts.Kind `json:"kind"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"created": a.Surface.CreateScript(req.Name, req.Kind)})
	default:
		methodNotAllowed(w)
	}
}

// ScriptByIndex serves /v1/scripts/{i} and /v1/scripts/{i}/{reload|enable|disable|open}.
func (a *API) ScriptByIndex(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/scripts/"), "/"), "/")
	if len(parts) == 0 || len(parts) > 2 {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	i, err := strconv.Atoi(parts[0])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid script index")
		return
	}
	action := ""
	if len(parts) == 2 {
		action = parts[1]
	}

	if action == "open" {
		path := a.Surface.OpenScript(i)
		if path == "" {
			writeError(w, http.StatusNotFound, "no script at index")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"path": path})
		return
	}

	var op func(int) bool
	switch {
	case action == "" && r.Method == http.MethodDelete:
		op = a.Surface.DeleteScript
	case action == "reload" && r.Method == http.MethodPost:
		op = a.Surface.ReloadScript
	case action == "enable" && r.Method == http.MethodPost:
		op = a.Surface.EnableScript
	case action == "disable" && r.Method == http.MethodPost:
		op = a.Surface.DisableScript
	case action == "" || action == "reload" || action == "enable" || action == "disable":
		methodNotAllowed(w)
		return
	default:
		writeError(w, http.StatusNotFound, "unknown script action")
		return
	}
	if !op(i) {
		writeError(w, http.StatusNotFound, "no script at index")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (a *API) Status(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	rep := a.Surface.Status()
	writeJSON(w, http.StatusOK, map[string]any{
		"text":   rep.Format(),
		"rate":   rep.Rate,
		"state":  rep.State,
		"uptime": rep.Uptime.String(),
	})
}

func (a *API) ShutdownDaemon(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	stopped := a.Surface.Stop()
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "stopped": stopped})
	if a.Shutdown == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.Shutdown(ctx); err != nil {
			obs.Error("control.shutdown", obs.Fields{"err": err})
		}
	}()
}

func (a *API) Dashboard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	data := a.Surface.Status().ToTemplateMap()
	data["Version"] = a.Version
	data["Logs"] = a.Surface.LogLines()
	if a.Notifications != nil {
		data["Notifications"] = a.Notifications()
	}
	var buf bytes.Buffer
	if err := web.Render(&buf, "dashboard", data); err != nil {
		buf.Reset()
		_ = web.Render(&buf, "base", map[string]any{"Message": "dashboard unavailable"})
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write(buf.Bytes())
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// TokenAuthMiddleware requires "Authorization: Bearer <token>" on every route
// except /health. An empty token disables the check.
func TokenAuthMiddleware(token string, next http.Handler) http.Handler {
	if token == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}
		auth := r.Header.Get("Authorization")
		const prefix = "Bearer "
		if !strings.HasPrefix(auth, prefix) ||
			subtle.ConstantTimeCompare([]byte(strings.TrimSpace(auth[len(prefix):])), []byte(token)) != 1 {
			obs.ErrorsTotal.WithLabelValues("auth_token").Inc()
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}
