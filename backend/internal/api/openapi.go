package api

import (
	"fmt"
	"net/http"
	"strconv"
	"sync"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3gen"

	"smart-tank-dashboard/backend/internal/api/types"
	"smart-tank-dashboard/backend/internal/device"
	"smart-tank-dashboard/backend/pkg/utils"
)

// OpenAPIVersion is the OpenAPI specification version of the served document.
const OpenAPIVersion = "3.0.3"

type operation struct {
	method      string
	path        string
	id          string
	summary     string
	tag         string
	params      []*openapi3.Parameter
	request     any
	responses   map[int]any
	description map[int]string
}

func jsonResponses(ok int, body any, errs ...int) map[int]any {
	r := map[int]any{ok: body}
	for _, code := range errs {
		r[code] = types.ErrorResponse{}
	}
	return r
}

func limitParam() *openapi3.Parameter {
	return openapi3.NewQueryParameter("limit").
		WithDescription("Maximum number of entries, 1 to " + strconv.Itoa(MaxHistoryLimit)).
		WithSchema(openapi3.NewIntegerSchema())
}

func operations() []operation {
	snap := device.Snapshot{}
	nameParam := openapi3.NewPathParameter("name").WithSchema(openapi3.NewStringSchema())
	channelParam := openapi3.NewPathParameter("channel").WithSchema(openapi3.NewStringSchema())

	return []operation{
		{method: http.MethodGet, path: "/api/ping", id: "ping", summary: "Liveness probe", tag: "core",
			responses: jsonResponses(http.StatusOK, types.PingResponse{})},
		{method: http.MethodGet, path: "/api/health", id: "health", summary: "Dependency health", tag: "core",
			responses: map[int]any{http.StatusOK: types.HealthResponse{}, http.StatusServiceUnavailable: types.HealthResponse{}}},
		{method: http.MethodGet, path: "/api/openapi.json", id: "openapi", summary: "This document", tag: "core",
			responses: map[int]any{http.StatusOK: nil}},

		{method: http.MethodGet, path: "/api/session", id: "getSession", summary: "Current session snapshot", tag: "session",
			responses: jsonResponses(http.StatusOK, snap)},
		{method: http.MethodPost, path: "/api/session/connect", id: "connect", summary: "Connect to the broker", tag: "session",
			request: types.ConnectRequest{}, responses: jsonResponses(http.StatusOK, snap, http.StatusBadRequest, http.StatusBadGateway)},
		{method: http.MethodPost, path: "/api/session/disconnect", id: "disconnect", summary: "Close the broker connection", tag: "session",
			responses: jsonResponses(http.StatusOK, snap)},

		{method: http.MethodPut, path: "/api/parameters/{name}", id: "putParameter", summary: "Write a device parameter", tag: "commands",
			params: []*openapi3.Parameter{nameParam}, request: types.ParameterRequest{},
			responses: jsonResponses(http.StatusAccepted, snap, http.StatusBadRequest, http.StatusNotFound, http.StatusConflict)},
		{method: http.MethodPut, path: "/api/calibration/{name}", id: "putCalibration", summary: "Write a calibration curve", tag: "commands",
			params: []*openapi3.Parameter{nameParam}, request: types.CalibrationRequest{},
			responses: jsonResponses(http.StatusAccepted, snap, http.StatusBadRequest, http.StatusNotFound, http.StatusConflict)},
		{method: http.MethodPut, path: "/api/mode", id: "putMode", summary: "Switch the operating mode", tag: "commands",
			request: types.ModeRequest{}, responses: jsonResponses(http.StatusAccepted, snap, http.StatusBadRequest, http.StatusConflict)},
		{method: http.MethodPut, path: "/api/heater-power", id: "putHeaterPower", summary: "Set the heater output in remote mode", tag: "commands",
			request: types.HeaterPowerRequest{}, responses: jsonResponses(http.StatusAccepted, snap, http.StatusBadRequest, http.StatusConflict)},

		{method: http.MethodGet, path: "/api/history/{channel}", id: "getHistory", summary: "Charted series, newest first", tag: "history",
			params:    []*openapi3.Parameter{channelParam, limitParam()},
			responses: jsonResponses(http.StatusOK, types.HistoryResponse{}, http.StatusBadRequest, http.StatusNotFound)},
		{method: http.MethodGet, path: "/api/statuses", id: "getStatuses", summary: "Device status messages, newest first", tag: "history",
			params:    []*openapi3.Parameter{limitParam()},
			responses: jsonResponses(http.StatusOK, types.StatusesResponse{}, http.StatusBadRequest)},

		{method: http.MethodGet, path: "/api/ws", id: "stream", summary: "Websocket pushing a snapshot on every change", tag: "session",
			responses:   map[int]any{http.StatusSwitchingProtocols: nil},
			description: map[int]string{http.StatusSwitchingProtocols: "Upgraded; every text frame is a session snapshot"}},
	}
}

// NewOpenAPIDocument describes the dashboard API. Schemas are derived from the Go response types.
func NewOpenAPIDocument() (*openapi3.T, error) {
	doc := &openapi3.T{
		OpenAPI: OpenAPIVersion,
		Info: &openapi3.Info{
			Title:       "Smart Tank Dashboard API",
			Version:     utils.GetVersionShort(),
			Description: "Control and telemetry of one smart tank controller over MQTT",
		},
		Paths: openapi3.NewPaths(),
	}

	for _, op := range operations() {
		o := &openapi3.Operation{
			OperationID: op.id,
			Summary:     op.summary,
			Tags:        []string{op.tag},
		}

		for _, p := range op.params {
			o.Parameters = append(o.Parameters, &openapi3.ParameterRef{Value: p})
		}

		if op.request != nil {
			ref, err := openapi3gen.NewSchemaRefForValue(op.request, nil)
			if err != nil {
				return nil, fmt.Errorf("request schema of %s: %w", op.id, err)
			}
			o.RequestBody = &openapi3.RequestBodyRef{
				Value: openapi3.NewRequestBody().WithRequired(op.method != http.MethodPost).WithJSONSchemaRef(ref),
			}
		}

		var opts []openapi3.NewResponsesOption
		for code, body := range op.responses {
			desc := op.description[code]
			if desc == "" {
				desc = http.StatusText(code)
			}
			resp := openapi3.NewResponse().WithDescription(desc)

			if body != nil {
				ref, err := openapi3gen.NewSchemaRefForValue(body, nil)
				if err != nil {
					return nil, fmt.Errorf("response schema of %s: %w", op.id, err)
				}
				resp = resp.WithJSONSchemaRef(ref)
			}

			opts = append(opts, openapi3.WithStatus(code, &openapi3.ResponseRef{Value: resp}))
		}
		o.Responses = openapi3.NewResponses(opts...)

		doc.AddOperation(op.path, op.method, o)
	}

	return doc, nil
}

var openAPIDoc = sync.OnceValues(NewOpenAPIDocument)

func (h *Handler) OpenAPI(w http.ResponseWriter, r *http.Request) error {
	doc, err := openAPIDoc()
	if err != nil {
		return fmt.Errorf("failed to build OpenAPI document: %w", err)
	}

	RespondJSON(w, r, http.StatusOK, doc)

	return nil
}
