package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/dd0wney/cluso-collab/pkg/admin"
)

type stateMsg struct {
	state admin.State
	at    time.Time
}

type errMsg struct{ err error }

type tickMsg time.Time

// fetcher reads the admin snapshot of one peer
type fetcher struct {
	client *http.Client
	url    string
}

func newFetcher(base string, timeout time.Duration) *fetcher {
	return &fetcher{
		client: &http.Client{Timeout: timeout},
		url:    strings.TrimRight(base, "/") + "/admin/state",
	}
}

func (f *fetcher) fetch(ctx context.Context) (admin.State, error) {
	var state admin.State
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return state, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return state, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return state, fmt.Errorf("%s: %s", f.url, resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
		return state, fmt.Errorf("decode state: %w", err)
	}
	return state, nil
}

func (f *fetcher) cmd() tea.Cmd {
	return func() tea.Msg {
		state, err := f.fetch(context.Background())
		if err != nil {
			return errMsg{err}
		}
		return stateMsg{state: state, at: time.Now()}
	}
}

func tickCmd(every time.Duration) tea.Cmd {
	return tea.Tick(every, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}
