package main

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matst80/botwarden/internal/command"
	"github.com/matst80/botwarden/internal/control"
	"github.com/matst80/botwarden/internal/logring"
	"github.com/matst80/botwarden/internal/scripts"
	"github.com/matst80/botwarden/internal/status"
	"github.com/matst80/botwarden/internal/verify"
)

type staticStatus struct{}

func (staticStatus) Report() status.Report {
	return status.Report{Version: "test", State: "running", Rate: 3}
}

func newDaemon(t *testing.T, token string) *httptest.Server {
	t.Helper()
	mgr, err := scripts.Open(t.TempDir())
	require.NoError(t, err)
	ring := logring.New(20)
	ring.Append("botd.start")
	d := command.NewDispatcher()
	require.NoError(t, command.RegisterDefaults(d, command.Defaults{Scripts: mgr}))
	api := &control.API{Version: "test", Surface: control.NewSurface(control.Deps{
		Commands: d,
		Logs:     ring,
		Verifier: verify.NewCoordinator(nil),
		Scripts:  mgr,
		Status:   staticStatus{},
		Stop:     func() bool { return true },
	})}
	mux := http.NewServeMux()
	api.RegisterRoutes(mux)
	srv := httptest.NewServer(control.TokenAuthMiddleware(token, mux))
	t.Cleanup(srv.Close)
	return srv
}

func runArgs(t *testing.T, c *client, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	err := run(context.Background(), c, &buf, args)
	return buf.String(), err
}

func TestStatusLogsAndCommands(t *testing.T) {
	srv := newDaemon(t, "")
	c := newClient(srv.URL+"/", "", time.Second)

	out, err := runArgs(t, c, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "message rate: 3/min")

	out, err = runArgs(t, c, "cmd", "help")
	require.NoError(t, err)
	assert.Contains(t, out, "list commands")

	out, err = runArgs(t, c, "logs")
	require.NoError(t, err)
	assert.Contains(t, out, "botd.start")

	_, err = runArgs(t, c, "logs", "clear")
	require.NoError(t, err)
	out, err = runArgs(t, c, "logs")
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestScriptsCommands(t *testing.T) {
	c := newClient(newDaemon(t, "").URL, "", time.Second)

	out, err := runArgs(t, c, "scripts", "create", "greet", "lua")
	require.NoError(t, err)
	assert.Equal(t, "created greet\n", out)

	_, err = runArgs(t, c, "scripts", "create", "greet", "lua")
	assert.Error(t, err, "name taken")
	_, err = runArgs(t, c, "scripts", "create", "x", "cobol")
	assert.Error(t, err)

	out, err = runArgs(t, c, "scripts")
	require.NoError(t, err)
	assert.Contains(t, out, "1 scripts")
	assert.Contains(t, out, "greet.lua enabled")

	_, err = runArgs(t, c, "scripts", "disable", "0")
	require.NoError(t, err)
	_, err = runArgs(t, c, "scripts", "delete", "3")
	var apiErr *apiError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
}

func TestSolveWithoutChallenge(t *testing.T) {
	c := newClient(newDaemon(t, "").URL, "", time.Second)
	out, err := runArgs(t, c, "solve")
	require.NoError(t, err)
	assert.Equal(t, "no pending verification\n", out)
}

func TestTokenIsSent(t *testing.T) {
	srv := newDaemon(t, "s3cret")

	_, err := runArgs(t, newClient(srv.URL, "", time.Second), "status")
	var apiErr *apiError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
	assert.Equal(t, "unauthorized", apiErr.Message)

	_, err = runArgs(t, newClient(srv.URL, "s3cret", time.Second), "status")
	assert.NoError(t, err)
}

func TestUnknownCommand(t *testing.T) {
	_, err := runArgs(t, newClient("http://127.0.0.1:0", "", time.Second), "reboot")
	assert.Error(t, err)
}

func TestAnswerModel(t *testing.T) {
	var m tea.Model = newAnswerModel("Login verification", []string{"kind: picture"})

	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	assert.Empty(t, m.(answerModel).answer, "empty input is not submitted")

	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(" ab12 ")})
	assert.Contains(t, m.View(), "ab12")
	m, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)
	assert.Equal(t, "ab12", m.(answerModel).answer)
	assert.False(t, m.(answerModel).canceled)

	m, _ = newAnswerModel("x", nil).Update(tea.KeyMsg{Type: tea.KeyEsc})
	assert.True(t, m.(answerModel).canceled)
}
