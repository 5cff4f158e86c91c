// Package realtime tracks live WebSocket connections per user, derives
// online/offline presence from them, and routes server-side emits to rooms.
//
// A Registry owns all connection state behind one mutex. Presence
// transitions are published on the Bus while that mutex is held, and
// Bus.Publish never blocks, so the mutate-then-emit step is atomic without
// waiting on I/O. Delivery to connections happens on the Bus consumer side
// and never blocks on a slow client.
package realtime
