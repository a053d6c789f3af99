package main

import (
	"bufio"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"boardserver/board"
	"boardserver/upload"
	"boardserver/wsframe"
)

// NetworkSurface owns the raw accept loop: one TCP
// listener that fans each connection out to either the hand-rolled
// WebSocket upgrade path or a static /images/<name> GET, closing
// anything else with a 400. The control-plane API (handlers.go, gin) runs
// on its own listener rather than sharing this one.
type NetworkSurface struct {
	hub    *board.Hub
	images *upload.Port
	log    *slog.Logger
}

// NewNetworkSurface wires a listener surface to the session hub and the
// image upload port's static-file GET.
func NewNetworkSurface(hub *board.Hub, images *upload.Port, log *slog.Logger) *NetworkSurface {
	return &NetworkSurface{hub: hub, images: images, log: log}
}

// Serve accepts connections on addr until the listener is closed.
func (ns *NetworkSurface) Serve(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("network: listen %s: %w", addr, err)
	}
	ns.log.Info("network surface listening", "addr", addr)

	for {
		conn, err := ln.Accept()
		if err != nil {
			return fmt.Errorf("network: accept: %w", err)
		}
		go ns.handleConn(conn)
	}
}

// handleConn reads the first request line and headers off conn to decide
// whether it's a WebSocket upgrade or a static image GET, then either
// upgrades it into a board.Connection or serves the file and closes.
func (ns *NetworkSurface) handleConn(conn net.Conn) {
	reader := bufio.NewReader(conn)
	requestLine, err := reader.ReadString('\n')
	if err != nil || requestLine == "" {
		conn.Close()
		return
	}
	requestLine = strings.TrimRight(requestLine, "\r\n")

	method, path, ok := parseRequestLine(requestLine)
	if !ok {
		writeHTTPError(conn, 400, "Bad Request")
		conn.Close()
		return
	}

	if method == "GET" && strings.HasPrefix(path, "/images/") {
		ns.serveStaticImage(conn, reader, path)
		return
	}

	headers, err := readHeaders(reader)
	if err != nil {
		writeHTTPError(conn, 400, "Bad Request")
		conn.Close()
		return
	}

	wsKey, isUpgrade := upgradeRequest(headers)
	if !isUpgrade || wsKey == "" {
		writeHTTPError(conn, 400, "Bad Request")
		conn.Close()
		return
	}

	ns.completeHandshake(conn, reader, wsKey)
}

func parseRequestLine(line string) (method, path string, ok bool) {
	parts := strings.Fields(line)
	if len(parts) < 2 {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// readHeaders reads header lines up to and including the blank line that
// terminates the header block.
func readHeaders(reader *bufio.Reader) (map[string]string, error) {
	headers := make(map[string]string)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return nil, err
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			return headers, nil
		}
		idx := strings.IndexByte(line, ':')
		if idx < 0 {
			continue
		}
		headers[strings.ToLower(strings.TrimSpace(line[:idx]))] = strings.TrimSpace(line[idx+1:])
	}
}

func upgradeRequest(headers map[string]string) (key string, ok bool) {
	upgrade := strings.ToLower(headers["upgrade"])
	if !strings.Contains(upgrade, "websocket") {
		return "", false
	}
	key, present := headers["sec-websocket-key"]
	return key, present
}

func (ns *NetworkSurface) completeHandshake(conn net.Conn, reader *bufio.Reader, wsKey string) {
	accept := wsframe.AcceptKey(wsKey)
	response := "HTTP/1.1 101 Switching Protocols\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Accept: " + accept + "\r\n" +
		"Access-Control-Allow-Origin: *\r\n\r\n"
	if _, err := conn.Write([]byte(response)); err != nil {
		conn.Close()
		return
	}

	c := board.NewConnection(uuid.New().String(), conn)
	ns.hub.Register(c)
	go c.WritePump(ns.log)
	ns.readLoop(c, reader)
}

// readLoop is the per-connection reader: it pulls frames off the socket
// and dispatches each to the hub until the peer disconnects or sends a
// malformed frame. reader is the same buffered reader the handshake was
// parsed from, so any bytes the client pipelined right after its upgrade
// request aren't lost.
func (ns *NetworkSurface) readLoop(c *board.Connection, reader *bufio.Reader) {
	defer func() {
		ns.hub.Unregister(c)
		c.Close()
	}()

	for {
		payload, err := wsframe.ReadFrame(reader)
		if err == wsframe.ErrIgnoreFrame {
			continue
		}
		if err != nil {
			return
		}
		ns.hub.Dispatch(c, payload)
	}
}

func (ns *NetworkSurface) serveStaticImage(conn net.Conn, reader *bufio.Reader, path string) {
	defer conn.Close()
	// Drain the remaining request headers so writeHTTPResponse isn't
	// racing a half-read client request.
	if _, err := readHeaders(reader); err != nil {
		return
	}

	name := strings.TrimPrefix(path, "/images/")
	if strings.Contains(name, "..") || strings.ContainsAny(name, "/\\") {
		writeHTTPError(conn, 403, "Forbidden")
		return
	}

	rec := newRawResponseWriter(conn)
	req, err := http.NewRequest(http.MethodGet, path, nil)
	if err != nil {
		writeHTTPError(conn, 400, "Bad Request")
		return
	}
	ns.images.ServeImage(rec, req, name)
}

func writeHTTPError(conn net.Conn, status int, text string) {
	resp := fmt.Sprintf("HTTP/1.1 %d %s\r\nContent-Length: 0\r\nConnection: close\r\n\r\n", status, text)
	conn.Write([]byte(resp))
}
