// Package docs registers the introspection API's swagger spec with
// swaggo/swag so gin-swagger can serve it. Hand-authored rather than
// generated by the swag CLI, since this build never shells out to
// codegen tools; kept in sync with the @-annotations in
// internal/api/handlers by hand.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "netengine Introspection API",
        "description": "Operator/debug REST surface over a running engine instance.",
        "version": "1.0"
    },
    "basePath": "{{.BasePath}}",
    "paths": {
        "/health": {
            "get": {
                "tags": ["system"],
                "summary": "Health check",
                "produces": ["application/json"],
                "security": [{"ApiKeyAuth": []}],
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/stats": {
            "get": {
                "tags": ["system"],
                "summary": "Engine statistics",
                "produces": ["application/json"],
                "security": [{"ApiKeyAuth": []}],
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/engine/hostcache": {
            "get": {
                "tags": ["resolver"],
                "summary": "List resolver host cache entries",
                "produces": ["application/json"],
                "security": [{"ApiKeyAuth": []}],
                "responses": {"200": {"description": "OK"}, "503": {"description": "host cache not configured"}}
            }
        },
        "/engine/hostcache/evict": {
            "post": {
                "tags": ["resolver"],
                "summary": "Evict least-recently-used host cache entries",
                "produces": ["application/json"],
                "security": [{"ApiKeyAuth": []}],
                "parameters": [{"name": "n", "in": "query", "type": "integer", "required": false}],
                "responses": {"200": {"description": "OK"}, "503": {"description": "host cache not configured"}}
            }
        },
        "/engine/sessions": {
            "get": {
                "tags": ["sessions"],
                "summary": "List session pool contents",
                "produces": ["application/json"],
                "security": [{"ApiKeyAuth": []}],
                "responses": {"200": {"description": "OK"}, "503": {"description": "session pool not configured"}}
            }
        },
        "/engine/netlog": {
            "get": {
                "tags": ["netlog"],
                "summary": "NetLog recording status",
                "produces": ["application/json"],
                "security": [{"ApiKeyAuth": []}],
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/engine/netlog/start": {
            "post": {
                "tags": ["netlog"],
                "summary": "Start NetLog recording",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "security": [{"ApiKeyAuth": []}],
                "responses": {"200": {"description": "OK"}, "400": {"description": "bad request"}}
            }
        },
        "/engine/netlog/stop": {
            "post": {
                "tags": ["netlog"],
                "summary": "Stop NetLog recording",
                "produces": ["application/json"],
                "security": [{"ApiKeyAuth": []}],
                "responses": {"200": {"description": "OK"}, "400": {"description": "bad request"}}
            }
        },
        "/engine/pins": {
            "get": {
                "tags": ["pins"],
                "summary": "List configured public-key pin sets",
                "produces": ["application/json"],
                "security": [{"ApiKeyAuth": []}],
                "responses": {"200": {"description": "OK"}, "503": {"description": "pin store not configured"}}
            }
        },
        "/engine/pins/{hostname}": {
            "get": {
                "tags": ["pins"],
                "summary": "Get one hostname's pin set",
                "produces": ["application/json"],
                "security": [{"ApiKeyAuth": []}],
                "parameters": [{"name": "hostname", "in": "path", "type": "string", "required": true}],
                "responses": {"200": {"description": "OK"}, "404": {"description": "no pin set for hostname"}, "503": {"description": "pin store not configured"}}
            }
        }
    },
    "securityDefinitions": {
        "ApiKeyAuth": {
            "type": "apiKey",
            "name": "X-API-Key",
            "in": "header"
        }
    }
}`

// SwaggerInfo holds exported Swagger information, consumed by
// gin-swagger's WrapHandler.
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "localhost:8080",
	BasePath:         "/api/v1",
	Schemes:          []string{},
	Title:            "netengine Introspection API",
	Description:      "Operator/debug REST surface over a running engine instance.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
