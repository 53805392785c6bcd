package api

import (
	"net/http"

	"smart-tank-dashboard/backend/internal/api/types"
	"smart-tank-dashboard/backend/pkg/utils"
)

func (h *Handler) Ping(w http.ResponseWriter, r *http.Request) error {
	RespondJSON(w, r, http.StatusOK, types.PingResponse{
		Message: "Pong", Status: types.PingStatusOK, Version: utils.GetVersionShort(),
	})

	return nil
}

// Health answers 503 when the database or the broker connection is down.
// An offline device does not make the dashboard unhealthy.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) error {
	snap := h.session.Snapshot()
	resp := types.HealthResponse{
		Database:     true,
		MQTT:         snap.IsConnected,
		DeviceOnline: snap.IsDeviceOnline,
	}

	if h.store != nil {
		if err := h.store.Ping(r.Context()); err != nil {
			GetLogger(r.Context()).Error("database unreachable", utils.ErrAttr(err))
			resp.Database = false
		}
	}

	code := http.StatusOK
	if !resp.Database || !resp.MQTT {
		code = http.StatusServiceUnavailable
	}

	RespondJSON(w, r, code, resp)

	return nil
}
