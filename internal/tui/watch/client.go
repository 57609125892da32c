package watch

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/hookworks/deploygate/internal/server"
)

// --- Message types ---

type runsMsg []server.RunView

type healthMsg struct {
	Status string `json:"status"`
}

type tickMsg time.Time

type errMsg error

// --- Commands ---

// fetchRuns queries the /runs endpoint.
func fetchRuns(apiURL string) tea.Msg {
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(apiURL + "/runs?limit=50")
	if err != nil {
		return errMsg(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errMsg(fmt.Errorf("runs endpoint answered %s", resp.Status))
	}

	var runs []server.RunView
	if err := json.NewDecoder(resp.Body).Decode(&runs); err != nil {
		return errMsg(err)
	}
	return runsMsg(runs)
}

// fetchHealth queries the /healthz endpoint.
func fetchHealth(apiURL string) tea.Msg {
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(apiURL + "/healthz")
	if err != nil {
		return errMsg(err)
	}
	defer resp.Body.Close()

	var h healthMsg
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return errMsg(err)
	}
	return h
}
