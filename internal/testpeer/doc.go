// Package testpeer provides in-process network peers for transport tests:
// a throwaway certificate authority, a TLS server that records and echoes
// what it receives, and UDP helpers for loopback and multicast traffic.
package testpeer
