// Package server exposes the translation pipeline over HTTP: multipart and
// raw uploads, a WebSocket streaming endpoint, history, health and Prometheus
// metrics, plus the embedded recording page.
package server
