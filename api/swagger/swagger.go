package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "FinTrack Auth API",
        "description": "Login, device sessions and token rotation for FinTrack clients",
        "version": "1.0.0"
    },
    "basePath": "/api",
    "schemes": [
        "http"
    ],
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    },
    "tags": [
        {"name": "Authentication", "description": "Login, refresh and password management"},
        {"name": "Sessions", "description": "Device sessions of the caller"},
        {"name": "Admin", "description": "Account lock overrides"}
    ],
    "paths": {
        "/auth/login": {
            "post": {
                "tags": ["Authentication"],
                "summary": "Authenticate user",
                "parameters": [
                    {"in": "body", "name": "payload", "required": true, "schema": {"$ref": "#/definitions/LoginRequest"}}
                ],
                "responses": {
                    "200": {"description": "Token pair", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "401": {"description": "Invalid credentials", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "403": {"description": "Permanently locked or disabled", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "423": {"description": "Temporarily locked; details carry remaining_seconds", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/auth/refresh": {
            "post": {
                "tags": ["Authentication"],
                "summary": "Rotate refresh token",
                "parameters": [
                    {"in": "body", "name": "payload", "required": true, "schema": {"$ref": "#/definitions/RefreshRequest"}}
                ],
                "responses": {
                    "200": {"description": "New token pair", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "401": {"description": "Refresh token invalid or reused", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/auth/logout": {
            "post": {
                "tags": ["Authentication"],
                "summary": "End current session",
                "security": [{"BearerAuth": []}],
                "responses": {"204": {"description": "Logged out"}}
            }
        },
        "/auth/me": {
            "get": {
                "tags": ["Authentication"],
                "summary": "Current user",
                "security": [{"BearerAuth": []}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/auth/change-password": {
            "post": {
                "tags": ["Authentication"],
                "summary": "Change password and end other sessions",
                "security": [{"BearerAuth": []}],
                "responses": {"204": {"description": "Changed"}, "403": {"description": "Old password mismatch"}}
            }
        },
        "/sessions": {
            "get": {
                "tags": ["Sessions"],
                "summary": "List sessions",
                "security": [{"BearerAuth": []}],
                "responses": {"200": {"description": "Sessions with the current one flagged", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/sessions/all": {
            "delete": {
                "tags": ["Sessions"],
                "summary": "Revoke all sessions",
                "security": [{"BearerAuth": []}],
                "parameters": [{"in": "query", "name": "except_current", "type": "boolean"}],
                "responses": {"204": {"description": "Revoked"}}
            }
        },
        "/sessions/{id}": {
            "delete": {
                "tags": ["Sessions"],
                "summary": "Revoke session",
                "security": [{"BearerAuth": []}],
                "parameters": [{"in": "path", "name": "id", "required": true, "type": "string"}],
                "responses": {"204": {"description": "Revoked"}, "404": {"description": "Session not found"}}
            }
        },
        "/sessions/{id}/wait-invalidation": {
            "get": {
                "tags": ["Sessions"],
                "summary": "Long-poll for session invalidation",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"in": "path", "name": "id", "required": true, "type": "string"},
                    {"in": "query", "name": "timeout", "type": "string"}
                ],
                "responses": {"200": {"description": "{invalidated: bool}", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/admin/users/{username}/unlock": {
            "post": {
                "tags": ["Admin"],
                "summary": "Unlock account",
                "security": [{"BearerAuth": []}],
                "parameters": [{"in": "path", "name": "username", "required": true, "type": "string"}],
                "responses": {"204": {"description": "Unlocked"}, "404": {"description": "User not found"}}
            }
        },
        "/admin/users/{username}/lock-status": {
            "get": {
                "tags": ["Admin"],
                "summary": "Account lock status",
                "security": [{"BearerAuth": []}],
                "parameters": [{"in": "path", "name": "username", "required": true, "type": "string"}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/admin/users/{username}/sessions": {
            "delete": {
                "tags": ["Admin"],
                "summary": "Revoke every session of a user",
                "security": [{"BearerAuth": []}],
                "parameters": [{"in": "path", "name": "username", "required": true, "type": "string"}],
                "responses": {"204": {"description": "Revoked"}}
            }
        }
    },
    "definitions": {
        "LoginRequest": {
            "type": "object",
            "required": ["username", "password"],
            "properties": {
                "username": {"type": "string"},
                "password": {"type": "string"},
                "device_id": {"type": "string"},
                "device_name": {"type": "string"}
            }
        },
        "RefreshRequest": {
            "type": "object",
            "required": ["refresh_token"],
            "properties": {
                "refresh_token": {"type": "string"}
            }
        },
        "APIError": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"},
                "status": {"type": "integer"},
                "details": {"type": "object"}
            }
        },
        "ResponseEnvelope": {
            "type": "object",
            "properties": {
                "data": {"type": "object"},
                "error": {"$ref": "#/definitions/APIError"},
                "meta": {"type": "object"}
            }
        }
    }
}`

type swaggerDoc struct{}

// ReadDoc returns the Swagger document.
func (s *swaggerDoc) ReadDoc() string {
	return docTemplate
}

func init() {
	swag.Register(swag.Name, &swaggerDoc{})
}
