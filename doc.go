// Package bastion holds the core domain model of the Bastion chat-ops bot:
// campaign entities, the capability interfaces for the chat transport, the
// remote spreadsheet API, the streaming game-event source and the galaxy
// catalog, and the shared error taxonomy.
//
// The spreadsheets are the system of record. The local SQLite cache (package
// store) is a structured mirror that scanners (package scan) keep convergent
// with them. Chat commands (package dispatch) mutate the cache first and
// queue coalesced batch writes back to the sheets.
package bastion
