// Package docs registers the OpenAPI description served at /swagger.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/": {
            "get": {
                "description": "Basic worker information and capabilities",
                "produces": ["application/json"],
                "tags": ["health"],
                "summary": "Worker information",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.WorkerInfoResponse"}}
                }
            }
        },
        "/health": {
            "get": {
                "description": "Worker status, camera states and the state of optional components (detector, NATS, store). Any failing component makes the worker \"degraded\".",
                "produces": ["application/json"],
                "tags": ["health"],
                "summary": "Health check",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.HealthResponse"}}
                }
            }
        },
        "/api/v1/cameras": {
            "get": {
                "description": "Ingestion state and frame counters of every configured camera",
                "produces": ["application/json"],
                "tags": ["cameras"],
                "summary": "List cameras",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.CameraListResponse"}}
                }
            }
        },
        "/api/v1/cameras/{id}": {
            "get": {
                "description": "Ingestion state and frame counters of one camera",
                "produces": ["application/json"],
                "tags": ["cameras"],
                "summary": "Get camera",
                "parameters": [
                    {"type": "string", "description": "Camera ID", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/models.CameraResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/api/v1/cameras/{id}/mjpeg": {
            "get": {
                "description": "MJPEG stream of the processed frames with boxes, track ids, the counting line and the counters drawn on",
                "produces": ["multipart/x-mixed-replace"],
                "tags": ["cameras"],
                "summary": "Overlay stream",
                "parameters": [
                    {"type": "string", "description": "Camera ID", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "file"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "503": {"description": "Service Unavailable", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/api/v1/counters": {
            "get": {
                "description": "In, out, actual out and occupancy of every camera",
                "produces": ["application/json"],
                "tags": ["counters"],
                "summary": "List counters",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.CounterListResponse"}}
                }
            }
        },
        "/api/v1/counters/{id}": {
            "get": {
                "description": "In, out, actual out and occupancy of one camera",
                "produces": ["application/json"],
                "tags": ["counters"],
                "summary": "Get counters",
                "parameters": [
                    {"type": "string", "description": "Camera ID", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/models.CountersResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/api/v1/counters/{id}/crossings": {
            "get": {
                "description": "Stored crossing events of one camera, newest first",
                "produces": ["application/json"],
                "tags": ["counters"],
                "summary": "Recent crossings",
                "parameters": [
                    {"type": "string", "description": "Camera ID", "name": "id", "in": "path", "required": true},
                    {"type": "integer", "default": 100, "description": "Maximum number of events", "name": "limit", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.CrossingListResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "503": {"description": "Service Unavailable", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/api/v1/pipeline": {
            "get": {
                "description": "Shared buffer occupancy, purges and dispatcher batch latency",
                "produces": ["application/json"],
                "tags": ["system"],
                "summary": "Pipeline stats",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.PipelineResponse"}}
                }
            }
        },
        "/api/v1/system": {
            "get": {
                "description": "Go runtime statistics of the worker process",
                "produces": ["application/json"],
                "tags": ["system"],
                "summary": "Get system stats",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.SystemResponse"}}
                }
            }
        }
    },
    "definitions": {
        "handlers.ErrorResponse": {
            "type": "object",
            "properties": {"error": {"type": "string", "example": "camera not found"}}
        },
        "handlers.WorkerInfoResponse": {
            "type": "object",
            "properties": {
                "worker_id": {"type": "string"},
                "status": {"type": "string"},
                "version": {"type": "string"},
                "capabilities": {"type": "array", "items": {"type": "string"}}
            }
        },
        "handlers.HealthResponse": {
            "type": "object",
            "properties": {
                "status": {"type": "string", "example": "healthy"},
                "worker_id": {"type": "string"},
                "uptime": {"type": "string"},
                "cameras": {"type": "object", "additionalProperties": {"type": "integer"}},
                "components": {"type": "object", "additionalProperties": {"type": "string"}}
            }
        },
        "handlers.CameraListResponse": {
            "type": "object",
            "properties": {
                "cameras": {"type": "array", "items": {"$ref": "#/definitions/models.CameraResponse"}},
                "count": {"type": "integer"}
            }
        },
        "handlers.CounterListResponse": {
            "type": "object",
            "properties": {
                "counters": {"type": "array", "items": {"$ref": "#/definitions/models.CountersResponse"}},
                "count": {"type": "integer"}
            }
        },
        "handlers.CrossingListResponse": {
            "type": "object",
            "properties": {
                "camera_id": {"type": "string"},
                "crossings": {"type": "array", "items": {"$ref": "#/definitions/models.CrossingEvent"}},
                "count": {"type": "integer"}
            }
        },
        "handlers.PipelineResponse": {
            "type": "object",
            "properties": {
                "buffer": {"type": "object"},
                "dispatcher": {"type": "object"},
                "timestamp": {"type": "integer"}
            }
        },
        "handlers.SystemResponse": {
            "type": "object",
            "properties": {
                "success": {"type": "boolean"},
                "stats": {"type": "object"},
                "timestamp": {"type": "integer"}
            }
        },
        "models.CameraResponse": {
            "type": "object",
            "properties": {
                "camera_id": {"type": "string"},
                "url": {"type": "string"},
                "state": {"type": "string", "enum": ["connecting", "active", "failed", "stopped"]},
                "frames_read": {"type": "integer"},
                "frames_decimated": {"type": "integer"},
                "frames_pushed": {"type": "integer"},
                "reconnects": {"type": "integer"},
                "last_error": {"type": "string"},
                "last_frame_time": {"type": "string"},
                "connected_since": {"type": "string"},
                "mjpeg_url": {"type": "string"}
            }
        },
        "models.CountersResponse": {
            "type": "object",
            "properties": {
                "camera_id": {"type": "string"},
                "count_in": {"type": "integer"},
                "count_out": {"type": "integer"},
                "actual_count_out": {"type": "integer"},
                "occupancy": {"type": "integer"},
                "active_tracks": {"type": "integer"},
                "line": {"type": "object"}
            }
        },
        "models.CrossingEvent": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "camera_id": {"type": "string"},
                "track_id": {"type": "integer"},
                "label": {"type": "string"},
                "direction": {"type": "string", "enum": ["in", "out"]},
                "counted": {"type": "boolean"},
                "occurred": {"type": "string"},
                "occupancy": {"type": "integer"}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{"http", "https"},
	Title:            "Kepler Line Counting API",
	Description:      "Multi-camera people counting worker: RTSP ingestion, batched gRPC detection and line-crossing occupancy counters.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
