// Package handler implements the HTTP control API of the routing core.
//
// Every request runs its core calls on the hub's owner goroutine through a
// Dispatcher, so handlers never touch core state from the HTTP goroutine.
//
// # Routes
//
//	GET    /api/topology                      mode, endpoints, connection state
//	PUT    /api/topology/mode                 {"mode": "extend"}
//	PUT    /api/topology/active               {"endpoint": "secondary"}
//	GET    /api/entities                      active entities
//	POST   /api/entities                      {"kind": "sound_object"}
//	GET    /api/entities/{id}
//	DELETE /api/entities/{id}
//	PUT    /api/entities/{id}/address         {"address": 65}
//	PUT    /api/entities/{id}/coms            {"coms_mode": "rx"}
//	PUT    /api/entities/{id}/name            {"name": "Lead vocal"}
//	PUT    /api/entities/{id}/parameters/{p}  {"values": [0.5, 0.5]}
//	GET    /api/protocols/{protocol}/mutes    ?kind=sound_object
//	PUT    /api/protocols/{protocol}/mutes    {"ids": [1, 2], "muted": true}
//	GET    /api/project                       snapshot as JSON
//
// # Response Format
//
// Success responses return JSON data with 200 or 201. Error responses
// return JSON with {error, details}; domain sentinels map to 400, 404 and
// 502 (engine rejected).
package handler
