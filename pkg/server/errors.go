package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ravi-parthasarathy/mosaik/pkg/fileio"
	"github.com/ravi-parthasarathy/mosaik/pkg/llm"
	"github.com/ravi-parthasarathy/mosaik/pkg/store"
	"github.com/ravi-parthasarathy/mosaik/pkg/workflow"
)

var (
	ErrInvalidJSON     = errors.New("invalid JSON")
	ErrInvalidKind     = errors.New("invalid node kind")
	ErrInvalidFileType = errors.New("file type must be txt or md")
	ErrNoConnection    = errors.New("no connection feeds this node")
	ErrNoRepository    = errors.New("workflow storage is not configured")
	ErrNoClients       = errors.New("model listing is not configured")
	ErrInternalFailure = errors.New("internal server error")
)

func errorToJSON(err error) string {
	b, _ := json.Marshal(map[string]string{"error": err.Error()})
	return string(b)
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, workflow.ErrNodeNotFound),
		errors.Is(err, store.ErrNotFound),
		errors.Is(err, ErrNoConnection):
		return http.StatusNotFound
	case errors.Is(err, workflow.ErrAlreadyExecuting):
		return http.StatusConflict
	case errors.Is(err, workflow.ErrSelfConnection),
		errors.Is(err, workflow.ErrNotModelNode),
		errors.Is(err, workflow.ErrEmptyPrompt),
		errors.Is(err, fileio.ErrExportTarget),
		errors.Is(err, fileio.ErrNoInput),
		errors.Is(err, store.ErrInvalidName),
		errors.Is(err, ErrInvalidJSON),
		errors.Is(err, ErrInvalidKind),
		errors.Is(err, ErrInvalidFileType),
		errors.Is(err, workflow.ErrUnknownProvider),
		errors.Is(err, workflow.ErrWrongKind):
		return http.StatusBadRequest
	case errors.Is(err, ErrNoRepository), errors.Is(err, ErrNoClients):
		return http.StatusNotImplemented
	}
	if _, ok := llm.AsLLMError(err); ok {
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}
