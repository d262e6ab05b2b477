// Package server implements the GoChat broadcast hub.
//
// Clients connect over line-framed TCP or WebSocket, announce a display
// identity in response to the NICK token, and from then on every line they
// send is stamped and relayed to all other clients. Lines longer than the
// configured limit get the sender kicked. The last chat lines are replayed to
// newcomers.
//
// Hub holds the shared state and serves each connection; Server owns the
// listeners and their shutdown.
package server
