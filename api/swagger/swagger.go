package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "LessonLoop Scheduling API",
        "description": "Availability, booking and reschedule engine for one-to-one lessons",
        "version": "1.0.0"
    },
    "basePath": "/api/v1",
    "schemes": [
        "http"
    ],
    "tags": [
        {"name": "Availability", "description": "Slot computation and provider availability"},
        {"name": "Lessons", "description": "Lesson lifecycle and series management"},
        {"name": "Reschedules", "description": "Reschedule request workflow"}
    ],
    "paths": {
        "/health": {
            "get": {
                "summary": "Health check",
                "responses": {
                    "200": {"description": "OK"}
                }
            }
        },
        "/ready": {
            "get": {
                "summary": "Readiness check",
                "responses": {
                    "200": {"description": "Ready"}
                }
            }
        },
        "/availability/slots": {
            "get": {
                "tags": ["Availability"],
                "summary": "Bookable slots for a viewer-local date",
                "parameters": [
                    {"name": "date", "in": "query", "required": true, "type": "string"},
                    {"name": "duration", "in": "query", "required": true, "type": "integer"},
                    {"name": "zone", "in": "query", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/availability/profile": {
            "get": {
                "tags": ["Availability"],
                "summary": "Provider availability profile",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "put": {
                "tags": ["Availability"],
                "summary": "Replace zone and weekly windows",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/UpdateProfileRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/availability/blackouts": {
            "post": {
                "tags": ["Availability"],
                "summary": "Add blackout exception",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/BlackoutRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/availability/blackouts/{id}": {
            "delete": {
                "tags": ["Availability"],
                "summary": "Remove blackout exception",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "204": {"description": "No Content"}
                }
            }
        },
        "/lessons": {
            "get": {
                "tags": ["Lessons"],
                "summary": "List lessons",
                "parameters": [
                    {"name": "participantId", "in": "query", "type": "string"},
                    {"name": "status", "in": "query", "type": "string"},
                    {"name": "seriesId", "in": "query", "type": "string"},
                    {"name": "from", "in": "query", "type": "string"},
                    {"name": "to", "in": "query", "type": "string"},
                    {"name": "page", "in": "query", "type": "integer"},
                    {"name": "limit", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["Lessons"],
                "summary": "Book a lesson",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/BookLessonRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Slot taken", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/lessons/series": {
            "post": {
                "tags": ["Lessons"],
                "summary": "Create a recurring series",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CreateSeriesRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Slot taken", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/lessons/balance": {
            "get": {
                "tags": ["Lessons"],
                "summary": "Current lesson-credit balance",
                "parameters": [
                    {"name": "participantId", "in": "query", "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/lessons/export": {
            "get": {
                "tags": ["Lessons"],
                "summary": "Export timetable as CSV or PDF",
                "parameters": [
                    {"name": "format", "in": "query", "type": "string"},
                    {"name": "participantId", "in": "query", "type": "string"},
                    {"name": "from", "in": "query", "type": "string"},
                    {"name": "to", "in": "query", "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK"}
                }
            }
        },
        "/lessons/{id}": {
            "get": {
                "tags": ["Lessons"],
                "summary": "Lesson detail",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/lessons/{id}/cancel": {
            "post": {
                "tags": ["Lessons"],
                "summary": "Cancel a lesson",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CancelLessonRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/lessons/{id}/complete": {
            "post": {
                "tags": ["Lessons"],
                "summary": "Mark a lesson as held",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/lessons/{id}/following": {
            "post": {
                "tags": ["Lessons"],
                "summary": "Move this and all following series instances",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/EditFollowingRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/lessons/{id}/reschedule": {
            "get": {
                "tags": ["Reschedules"],
                "summary": "Get the pending reschedule request for a lesson",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "No pending request", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/reschedules": {
            "post": {
                "tags": ["Reschedules"],
                "summary": "Open a reschedule request",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CreateRescheduleRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/reschedules/{id}/approve": {
            "post": {
                "tags": ["Reschedules"],
                "summary": "Approve at one of the proposed slots",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/ApproveRescheduleRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Slot taken", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/reschedules/{id}/reject": {
            "post": {
                "tags": ["Reschedules"],
                "summary": "Reject a reschedule request",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        }
    },
    "definitions": {
        "UpdateProfileRequest": {
            "type": "object",
            "properties": {
                "zone": {"type": "string"},
                "windows": {
                    "type": "array",
                    "items": {"$ref": "#/definitions/WindowInput"}
                }
            },
            "required": ["zone"]
        },
        "WindowInput": {
            "type": "object",
            "properties": {
                "day_of_week": {"type": "integer"},
                "start_time": {"type": "string"},
                "end_time": {"type": "string"},
                "active": {"type": "boolean"}
            },
            "required": ["start_time", "end_time"]
        },
        "BlackoutRequest": {
            "type": "object",
            "properties": {
                "date": {"type": "string"},
                "start_time": {"type": "string"},
                "end_time": {"type": "string"},
                "notes": {"type": "string"}
            },
            "required": ["date", "start_time", "end_time"]
        },
        "BookLessonRequest": {
            "type": "object",
            "properties": {
                "participant_id": {"type": "string"},
                "date": {"type": "string"},
                "start_time": {"type": "string"},
                "duration_minutes": {"type": "integer"},
                "zone": {"type": "string"},
                "meeting_link": {"type": "string"}
            },
            "required": ["participant_id", "date", "start_time", "duration_minutes", "zone"]
        },
        "CreateSeriesRequest": {
            "type": "object",
            "properties": {
                "template": {"$ref": "#/definitions/BookLessonRequest"},
                "rule": {"$ref": "#/definitions/RecurrenceRule"},
                "force": {"type": "boolean"}
            },
            "required": ["template", "rule"]
        },
        "RecurrenceRule": {
            "type": "object",
            "properties": {
                "type": {"type": "string", "enum": ["WEEKLY", "SPECIFIC_DAYS", "EXPLICIT_DATES"]},
                "series_end_date": {"type": "string"},
                "day_set": {
                    "type": "array",
                    "items": {"type": "integer"}
                },
                "explicit_dates": {
                    "type": "array",
                    "items": {"type": "string"}
                }
            },
            "required": ["type"]
        },
        "CancelLessonRequest": {
            "type": "object",
            "properties": {
                "reason": {"type": "string"}
            },
            "required": ["reason"]
        },
        "EditFollowingRequest": {
            "type": "object",
            "properties": {
                "new_date": {"type": "string"},
                "new_time": {"type": "string"},
                "reason": {"type": "string"}
            },
            "required": ["new_date", "new_time", "reason"]
        },
        "CreateRescheduleRequest": {
            "type": "object",
            "properties": {
                "lesson_id": {"type": "string"},
                "proposed_slots": {
                    "type": "array",
                    "items": {"$ref": "#/definitions/ProposedSlot"}
                },
                "reason": {"type": "string"},
                "zone": {"type": "string"}
            },
            "required": ["lesson_id", "proposed_slots", "reason", "zone"]
        },
        "ProposedSlot": {
            "type": "object",
            "properties": {
                "date": {"type": "string"},
                "time": {"type": "string"}
            },
            "required": ["date", "time"]
        },
        "ApproveRescheduleRequest": {
            "type": "object",
            "properties": {
                "date": {"type": "string"},
                "time": {"type": "string"}
            },
            "required": ["date", "time"]
        },
        "Pagination": {
            "type": "object",
            "properties": {
                "page": {"type": "integer"},
                "page_size": {"type": "integer"},
                "total_items": {"type": "integer"},
                "total_pages": {"type": "integer"}
            }
        },
        "APIError": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"},
                "status": {"type": "integer"}
            }
        },
        "ResponseEnvelope": {
            "type": "object",
            "properties": {
                "data": {"type": "object"},
                "error": {"$ref": "#/definitions/APIError"},
                "pagination": {"$ref": "#/definitions/Pagination"},
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
