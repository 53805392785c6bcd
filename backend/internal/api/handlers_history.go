package api

import (
	"net/http"
	"slices"
	"strconv"

	"github.com/go-chi/chi/v5"

	"smart-tank-dashboard/backend/internal/api/types"
	"smart-tank-dashboard/backend/internal/device"
)

const (
	DefaultHistoryLimit = device.SampleHistoryCapacity
	MaxHistoryLimit     = 1000
)

// GetHistory returns a charted series, newest first. Without a recorder the session buffer is served.
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) error {
	channel := device.Channel(chi.URLParam(r, "channel"))
	if !channel.Valid() {
		return NewError(http.StatusNotFound, "Unknown channel '"+string(channel)+"'")
	}

	limit, err := parseLimit(r)
	if err != nil {
		return err
	}

	snap := h.session.Snapshot()
	resp := types.HistoryResponse{Channel: channel}

	if h.store != nil {
		samples, err := h.store.History(r.Context(), snap.DeviceName, channel, limit)
		if err != nil {
			return err
		}
		resp.Source = types.HistorySourceRecorder
		resp.Samples = samples
	} else {
		resp.Source = types.HistorySourceSession
		resp.Samples = newestFirst(snap.History[channel], limit)
	}

	if resp.Samples == nil {
		resp.Samples = []device.Sample{}
	}

	RespondJSON(w, r, http.StatusOK, resp)

	return nil
}

// GetStatuses returns device status messages, newest first.
func (h *Handler) GetStatuses(w http.ResponseWriter, r *http.Request) error {
	limit, err := parseLimit(r)
	if err != nil {
		return err
	}

	snap := h.session.Snapshot()
	resp := types.StatusesResponse{}

	if h.store != nil {
		statuses, err := h.store.Statuses(r.Context(), snap.DeviceName, limit)
		if err != nil {
			return err
		}
		resp.Source = types.HistorySourceRecorder
		resp.Statuses = statuses
	} else {
		resp.Source = types.HistorySourceSession
		resp.Statuses = newestFirst(snap.Statuses, limit)
	}

	if resp.Statuses == nil {
		resp.Statuses = []device.StatusMessage{}
	}

	RespondJSON(w, r, http.StatusOK, resp)

	return nil
}

func parseLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return DefaultHistoryLimit, nil
	}

	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 || limit > MaxHistoryLimit {
		return 0, NewValidationError(map[string]string{
			"limit": "Limit must be an integer between 1 and " + strconv.Itoa(MaxHistoryLimit),
		})
	}

	return limit, nil
}

// newestFirst reverses an oldest-first buffer copy and keeps at most limit entries.
func newestFirst[T any](items []T, limit int) []T {
	out := slices.Clone(items)
	slices.Reverse(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}
