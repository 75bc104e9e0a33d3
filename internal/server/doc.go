// Package server is the real-time edge of the service: the Hub that owns
// websocket channels and their room subscriptions, the event boundary that
// validates inbound frames and dispatches them to calls, signaling and chat,
// and the HTTP surface for conversations, call invites and the social
// dashboard.
package server
