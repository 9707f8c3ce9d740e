//go:build swagger

package httpapi

import (
	"github.com/go-chi/chi/v5"
	"github.com/swaggo/swag"
	httpSwagger "github.com/swaggo/http-swagger"
)

type apiDoc struct{}

func (apiDoc) ReadDoc() string { return openAPIDoc }

func init() {
	swag.Register(swag.Name, apiDoc{})
}

// MountSwagger serves the Swagger UI under /swagger/.
func MountSwagger(r chi.Router) {
	r.Get("/swagger/*", httpSwagger.Handler(httpSwagger.URL("/swagger/doc.json")))
}

const openAPIDoc = `{
  "swagger": "2.0",
  "info": {"title": "llavad API", "version": "1.0", "description": "Local multimodal chat daemon for GGUF models."},
  "basePath": "/",
  "paths": {
    "/models": {"get": {"summary": "List catalog and sideloaded models", "produces": ["application/json"],
      "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ModelsResponse"}}}}},
    "/models/{id}/download": {"post": {"summary": "Start a model download",
      "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}],
      "responses": {"202": {"description": "Started", "schema": {"$ref": "#/definitions/DownloadJob"}},
        "404": {"description": "Unknown model"}, "409": {"description": "Download busy or present"},
        "412": {"description": "Insufficient RAM"}}}},
    "/downloads": {"get": {"summary": "List download jobs",
      "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/DownloadsResponse"}}}}},
    "/models/{id}/select": {"post": {"summary": "Select and load a model",
      "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}],
      "responses": {"200": {"description": "Loaded", "schema": {"$ref": "#/definitions/SelectResponse"}},
        "404": {"description": "Unknown model"}, "424": {"description": "Load error"},
        "503": {"description": "Engine unavailable"}}}},
    "/session/turns": {"post": {"summary": "Run one chat turn", "consumes": ["application/json"],
      "parameters": [{"name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/TurnRequest"}}],
      "responses": {"200": {"description": "Reply", "schema": {"$ref": "#/definitions/TurnResponse"}},
        "400": {"description": "Bad request"}, "409": {"description": "Turn in flight or reset pending"},
        "502": {"description": "Completion could not start"}}}},
    "/session/reset": {"post": {"summary": "Reset the conversation",
      "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/SessionResponse"}}}}},
    "/session": {"get": {"summary": "Conversation state",
      "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/SessionResponse"}}}}},
    "/events": {"get": {"summary": "Server-sent lifecycle events", "produces": ["text/event-stream"],
      "responses": {"200": {"description": "Stream"}}}},
    "/status": {"get": {"summary": "Manager snapshot and preflight checks",
      "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/StatusResponse"}}}}},
    "/healthz": {"get": {"summary": "Liveness", "responses": {"200": {"description": "ok"}}}},
    "/readyz": {"get": {"summary": "Readiness", "responses": {"200": {"description": "ready"}, "503": {"description": "loading"}}}}
  },
  "definitions": {
    "Model": {"type": "object", "properties": {"id": {"type": "string"}, "name": {"type": "string"},
      "file_name": {"type": "string"}, "path": {"type": "string"}, "source_uri": {"type": "string"},
      "min_ram_gib": {"type": "integer"}, "present": {"type": "boolean"}, "sideloaded": {"type": "boolean"},
      "size": {"type": "string"}, "download_progress": {"type": "number"}, "download_phase": {"type": "string"}}},
    "ModelsResponse": {"type": "object", "properties": {
      "models": {"type": "array", "items": {"$ref": "#/definitions/Model"}},
      "sideloaded": {"type": "array", "items": {"$ref": "#/definitions/Model"}}}},
    "DownloadJob": {"type": "object", "properties": {"id": {"type": "string"}, "model_id": {"type": "string"},
      "phase": {"type": "string"}, "progress": {"type": "number"}, "bytes_done": {"type": "integer"},
      "bytes_total": {"type": "integer"}, "error": {"type": "string"}, "started_at_unix": {"type": "integer"}}},
    "DownloadsResponse": {"type": "object", "properties": {"busy": {"type": "boolean"},
      "jobs": {"type": "array", "items": {"$ref": "#/definitions/DownloadJob"}}}},
    "SelectResponse": {"type": "object", "properties": {"model": {"type": "string"}, "state": {"type": "string"}}},
    "TurnRequest": {"type": "object", "required": ["text"], "properties": {"text": {"type": "string"},
      "image_base64": {"type": "string"}}},
    "Message": {"type": "object", "properties": {"id": {"type": "string"}, "seq": {"type": "integer"},
      "speaker": {"type": "string"}, "text": {"type": "string"}, "has_image": {"type": "boolean"},
      "diagnostic": {"type": "boolean"}, "created_at_ms": {"type": "integer"}}},
    "TurnResponse": {"type": "object", "properties": {"message": {"$ref": "#/definitions/Message"}, "phase": {"type": "string"}}},
    "SessionResponse": {"type": "object", "properties": {"phase": {"type": "string"},
      "messages": {"type": "array", "items": {"$ref": "#/definitions/Message"}},
      "has_image_context": {"type": "boolean"}, "transcript_bytes": {"type": "integer"}, "model": {"type": "string"}}},
    "PreflightCheck": {"type": "object", "properties": {"name": {"type": "string"}, "ok": {"type": "boolean"}, "detail": {"type": "string"}}},
    "StatusResponse": {"type": "object", "properties": {"state": {"type": "string"}, "model": {"type": "string"},
      "error": {"type": "string"}, "phase": {"type": "string"}, "loads_total": {"type": "integer"},
      "reloads_total": {"type": "integer"}, "uptime_seconds": {"type": "integer"}, "server_time_unix": {"type": "integer"},
      "checks": {"type": "array", "items": {"$ref": "#/definitions/PreflightCheck"}}}}
  }
}`
