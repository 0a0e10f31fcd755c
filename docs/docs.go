// Package docs registers the Swagger spec served at /swagger/index.html.
// It follows the swag annotations in cmd/api and internal/http; regenerate it
// with go generate after changing them.
package docs

//go:generate swag init -g cmd/api/main.go -d ../ -o . --parseInternal

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
        "/health": {
            "get": {
                "produces": ["application/json"],
                "tags": ["system"],
                "summary": "Health",
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "object", "additionalProperties": true}},
                    "503": {"description": "Service Unavailable", "schema": {"type": "object", "additionalProperties": true}}
                }
            }
        },
        "/live": {
            "get": {
                "tags": ["system"],
                "summary": "Liveness",
                "responses": {
                    "200": {"description": "OK"}
                }
            }
        },
        "/api/v1/login": {
            "post": {
                "security": [{"TelegramInitData": []}],
                "produces": ["application/json"],
                "tags": ["profile"],
                "summary": "Log in",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/middleware.Response"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/middleware.Response"}}
                }
            }
        },
        "/api/v1/profile": {
            "get": {
                "security": [{"TelegramInitData": []}],
                "produces": ["application/json"],
                "tags": ["profile"],
                "summary": "Get profile",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/middleware.Response"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/middleware.Response"}}
                }
            },
            "put": {
                "security": [{"TelegramInitData": []}],
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["profile"],
                "summary": "Save profile",
                "parameters": [
                    {"description": "Editable fields", "name": "profile", "in": "body", "required": true, "schema": {"$ref": "#/definitions/http.ProfileUpdate"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/middleware.Response"}},
                    "202": {"description": "Accepted", "schema": {"$ref": "#/definitions/middleware.Response"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/middleware.Response"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/middleware.Response"}},
                    "503": {"description": "Service Unavailable", "schema": {"$ref": "#/definitions/middleware.Response"}}
                }
            }
        },
        "/api/v1/profile/sync": {
            "post": {
                "security": [{"TelegramInitData": []}],
                "produces": ["application/json"],
                "tags": ["profile"],
                "summary": "Force sync",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/middleware.Response"}}
                }
            }
        },
        "/api/v1/bonus": {
            "post": {
                "security": [{"TelegramInitData": []}],
                "produces": ["application/json"],
                "tags": ["profile"],
                "summary": "Enforce founding member bonus",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/middleware.Response"}},
                    "503": {"description": "Service Unavailable", "schema": {"$ref": "#/definitions/middleware.Response"}}
                }
            }
        },
        "/api/v1/sessions": {
            "post": {
                "security": [{"TelegramInitData": []}],
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["sessions"],
                "summary": "Record session",
                "parameters": [
                    {"description": "Session", "name": "session", "in": "body", "required": true, "schema": {"$ref": "#/definitions/session.Input"}}
                ],
                "responses": {
                    "200": {"description": "Duplicate", "schema": {"$ref": "#/definitions/middleware.Response"}},
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/middleware.Response"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/middleware.Response"}},
                    "429": {"description": "Too Many Requests", "schema": {"$ref": "#/definitions/middleware.Response"}}
                }
            }
        },
        "/api/v1/sessions/limit": {
            "get": {
                "security": [{"TelegramInitData": []}],
                "produces": ["application/json"],
                "tags": ["sessions"],
                "summary": "Session limit",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/middleware.Response"}}
                }
            }
        },
        "/api/v1/sessions/{id}/answers": {
            "put": {
                "security": [{"TelegramInitData": []}],
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["sessions"],
                "summary": "Edit session answers",
                "parameters": [
                    {"type": "string", "description": "Session ID", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/middleware.Response"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/middleware.Response"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/middleware.Response"}}
                }
            }
        },
        "/api/v1/sessions/legacy": {
            "post": {
                "security": [{"TelegramInitData": []}],
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["sessions"],
                "summary": "Upload legacy sessions",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/middleware.Response"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/middleware.Response"}},
                    "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/middleware.Response"}},
                    "503": {"description": "Service Unavailable", "schema": {"$ref": "#/definitions/middleware.Response"}}
                }
            }
        },
        "/api/v1/admin/recovery/{handle}": {
            "get": {
                "security": [{"TelegramInitData": []}],
                "produces": ["application/json"],
                "tags": ["admin"],
                "summary": "Recover user",
                "parameters": [
                    {"type": "string", "description": "User handle", "name": "handle", "in": "path", "required": true},
                    {"type": "boolean", "default": true, "description": "Only compute the change", "name": "dry_run", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/middleware.Response"}},
                    "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/middleware.Response"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/middleware.Response"}}
                }
            }
        },
        "/api/v1/admin/recovery/batch": {
            "post": {
                "security": [{"TelegramInitData": []}],
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["admin"],
                "summary": "Batch recovery",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/middleware.Response"}},
                    "207": {"description": "Halted", "schema": {"$ref": "#/definitions/middleware.Response"}},
                    "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/middleware.Response"}}
                }
            }
        }
    },
    "definitions": {
        "middleware.Response": {
            "type": "object",
            "properties": {
                "success": {"type": "boolean"},
                "data": {},
                "error": {"$ref": "#/definitions/errors.AppError"},
                "source": {"type": "string", "enum": ["remote", "cache", "default", "optimistic"]},
                "request_id": {"type": "string"}
            }
        },
        "errors.AppError": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"},
                "details": {"type": "object", "additionalProperties": true},
                "timestamp": {"type": "string"}
            }
        },
        "http.ProfileUpdate": {
            "type": "object",
            "properties": {
                "display_name": {"type": "string"},
                "personal_info": {"type": "object"},
                "linked_accounts": {"type": "object"},
                "has_onboarded": {"type": "boolean"},
                "has_soul_seed_onboarded": {"type": "boolean"}
            }
        },
        "session.Input": {
            "type": "object",
            "properties": {
                "questions_answered": {"type": "integer"},
                "points_earned": {"type": "integer"},
                "human_score": {"type": "integer"},
                "answers": {"type": "array", "items": {"type": "object"}}
            }
        }
    },
    "securityDefinitions": {
        "TelegramInitData": {
            "type": "apiKey",
            "name": "X-Telegram-Init-Data",
            "in": "header"
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "Points API",
	Description:      "Profile, points and session API for the Telegram mini app.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
