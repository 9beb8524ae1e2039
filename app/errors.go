package app

import "errors"

var (
	// ErrHandshakeTimeout means the engine never answered the UCI
	// handshake in time. Fatal to that connection; dispose and respawn.
	ErrHandshakeTimeout = errors.New("engine handshake timed out")

	// ErrProcessSpawn means the engine binary is missing or unsupported
	// on this platform. Fatal, no retry without remediation.
	ErrProcessSpawn = errors.New("failed to spawn engine process")

	// ErrWorkerDisconnected means an engine's output stream ended while
	// a search was still outstanding.
	ErrWorkerDisconnected = errors.New("engine worker disconnected")

	// ErrSuperseded means a newer analysis request replaced this one.
	// Not a failure; partial results are discarded.
	ErrSuperseded = errors.New("analysis superseded by a newer request")

	// ErrNoCandidates means the probability model produced no usable
	// candidate moves, so ease is undefined for the position.
	ErrNoCandidates = errors.New("no candidate moves")

	// ErrNotReady means an analysis command was issued before the
	// handshake completed or after dispose.
	ErrNotReady = errors.New("engine not ready")
)
