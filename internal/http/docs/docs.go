// Package docs holds the OpenAPI 2.0 description of the interaction API,
// registered with swag and served by gin-swagger at /swagger/index.html.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/submissions": {
            "post": {
                "tags": ["Submissions"],
                "summary": "Start a map submission",
                "parameters": [
                    {"type": "string", "name": "X-User-ID", "in": "header", "required": true},
                    {"type": "string", "name": "X-User-Roles", "in": "header"},
                    {"type": "boolean", "name": "mod", "in": "query"},
                    {"name": "body", "in": "body", "required": true, "schema": {"type": "object"}}
                ],
                "responses": {
                    "201": {"description": "Draft"},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "429": {"description": "Too Many Requests", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/submissions/{id}": {
            "delete": {
                "tags": ["Submissions"],
                "summary": "Discard a draft",
                "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}],
                "responses": {
                    "204": {"description": "No Content"},
                    "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/submissions/{id}/details": {
            "put": {
                "tags": ["Submissions"],
                "summary": "Fill in map details",
                "parameters": [
                    {"type": "string", "name": "id", "in": "path", "required": true},
                    {"name": "body", "in": "body", "required": true, "schema": {"type": "object"}}
                ],
                "responses": {
                    "200": {"description": "Draft"},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/submissions/{id}/confirm": {
            "post": {
                "tags": ["Submissions"],
                "summary": "Confirm a draft",
                "parameters": [
                    {"type": "string", "name": "id", "in": "path", "required": true},
                    {"type": "string", "name": "Idempotency-Key", "in": "header"}
                ],
                "responses": {
                    "200": {"description": "Replayed"},
                    "201": {"description": "Playtest opened"},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/votes/{message_id}": {
            "post": {
                "tags": ["Playtests"],
                "summary": "Vote on a playtest",
                "parameters": [
                    {"type": "integer", "name": "message_id", "in": "path", "required": true},
                    {"name": "body", "in": "body", "required": true, "schema": {"type": "object"}}
                ],
                "responses": {
                    "200": {"description": "Vote result"},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/playtests/{thread_id}/votes": {
            "get": {
                "tags": ["Playtests"],
                "summary": "Vote summary of a playtest",
                "parameters": [
                    {"type": "integer", "name": "thread_id", "in": "path", "required": true},
                    {"type": "string", "name": "If-None-Match", "in": "header"}
                ],
                "responses": {
                    "200": {"description": "Vote summary"},
                    "304": {"description": "Not Modified"},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/playtests/{thread_id}/histogram": {
            "get": {
                "tags": ["Playtests"],
                "summary": "Vote histogram",
                "produces": ["image/png"],
                "parameters": [{"type": "integer", "name": "thread_id", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "PNG", "schema": {"type": "file"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/playtests/{thread_id}/mod-actions": {
            "post": {
                "tags": ["Playtests"],
                "summary": "Moderator action on a playtest",
                "parameters": [
                    {"type": "integer", "name": "thread_id", "in": "path", "required": true},
                    {"name": "body", "in": "body", "required": true, "schema": {"type": "object"}}
                ],
                "responses": {
                    "200": {"description": "Action result"},
                    "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/playtests/{thread_id}/creator-actions": {
            "post": {
                "tags": ["Playtests"],
                "summary": "Creator action on a playtest",
                "parameters": [
                    {"type": "integer", "name": "thread_id", "in": "path", "required": true},
                    {"name": "body", "in": "body", "required": true, "schema": {"type": "object"}}
                ],
                "responses": {
                    "200": {"description": "Action result"},
                    "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/change-requests": {
            "get": {
                "tags": ["ChangeRequests"],
                "summary": "List change requests",
                "parameters": [
                    {"type": "string", "name": "map_code", "in": "query"},
                    {"type": "boolean", "name": "open", "in": "query"},
                    {"type": "integer", "default": 1, "minimum": 1, "name": "page", "in": "query"},
                    {"type": "integer", "default": 20, "minimum": 1, "maximum": 100, "name": "page_size", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "Page of change requests"},
                    "304": {"description": "Not Modified"}
                }
            },
            "post": {
                "tags": ["ChangeRequests"],
                "summary": "Open a change request",
                "parameters": [{"name": "body", "in": "body", "required": true, "schema": {"type": "object"}}],
                "responses": {
                    "201": {"description": "Change request"},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "409": {"description": "Open requests exist and force was not set", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/change-requests/check": {
            "post": {
                "tags": ["ChangeRequests"],
                "summary": "Open requests on a map",
                "parameters": [{"name": "body", "in": "body", "required": true, "schema": {"type": "object"}}],
                "responses": {
                    "200": {"description": "Decision"},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/change-requests/{thread_id}/close": {
            "post": {
                "tags": ["ChangeRequests"],
                "summary": "Resolve a change request",
                "parameters": [{"type": "integer", "name": "thread_id", "in": "path", "required": true}],
                "responses": {
                    "204": {"description": "No Content"},
                    "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/interactions/{custom_id}": {
            "post": {
                "tags": ["Interactions"],
                "summary": "Handle a persistent control",
                "parameters": [
                    {"type": "string", "example": "FCRC-ABC01-1100000000000000000", "name": "custom_id", "in": "path", "required": true},
                    {"name": "body", "in": "body", "schema": {"type": "object"}}
                ],
                "responses": {
                    "200": {"description": "Interaction response"},
                    "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "404": {"description": "Unknown control", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/maps/{code}/creators": {
            "post": {
                "tags": ["Maps"],
                "summary": "Credit a creator",
                "parameters": [
                    {"type": "string", "name": "code", "in": "path", "required": true},
                    {"name": "body", "in": "body", "required": true, "schema": {"type": "object"}}
                ],
                "responses": {
                    "200": {"description": "Map"},
                    "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/maps/{code}/creators/{user_id}": {
            "delete": {
                "tags": ["Maps"],
                "summary": "Remove a creator",
                "parameters": [
                    {"type": "string", "name": "code", "in": "path", "required": true},
                    {"type": "integer", "name": "user_id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "Map"},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/autocomplete/{collection}": {
            "get": {
                "tags": ["Maps"],
                "summary": "Autocomplete choices",
                "parameters": [
                    {"type": "string", "name": "collection", "in": "path", "required": true},
                    {"type": "string", "name": "q", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "At most 25 choices"},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/members": {
            "post": {
                "tags": ["Members"],
                "summary": "Record a guild join",
                "parameters": [{"name": "body", "in": "body", "required": true, "schema": {"type": "object"}}],
                "responses": {
                    "200": {"description": "Join result"}
                }
            }
        },
        "/members/flags/{flag}": {
            "post": {
                "tags": ["Members"],
                "summary": "Toggle one of the caller's settings",
                "parameters": [{"type": "string", "name": "flag", "in": "path", "required": true, "enum": ["verification", "promotion"]}],
                "responses": {
                    "200": {"description": "Resulting flags"},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        }
    },
    "definitions": {
        "handlers.ErrorResponse": {
            "type": "object",
            "properties": {
                "request_id": {"type": "string", "example": "123e4567-e89b-12d3-a456-426614174000"},
                "code": {"type": "string", "example": "not_found"},
                "message": {"type": "string", "example": "playtest not found"}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it.
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "Genji bot interaction API",
	Description:      "Map submissions, playtest voting and change requests.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
