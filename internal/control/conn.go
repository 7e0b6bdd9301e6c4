package control

import (
	"bufio"
	"encoding/json"
	"net"

	"github.com/odacrun/odac/internal/config"
	"github.com/odacrun/odac/internal/util"
)

func (s *Server) handleConn(conn net.Conn, checkRemote bool) {
	defer conn.Close()

	if checkRemote {
		host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
		if err != nil {
			host = conn.RemoteAddr().String()
		}
		if !s.allowed(host) {
			s.logger.Warn("control: rejected remote address", "addr", host)
			return
		}
	}

	id, err := util.RandomHex(4)
	if err != nil {
		id = "00000000"
	}

	var req Request
	if err := json.NewDecoder(bufio.NewReader(conn)).Decode(&req); err != nil {
		s.writeResponse(conn, id, false, "invalid request")
		return
	}

	if req.Action == "" {
		s.writeResponse(conn, id, false, "missing action")
		return
	}

	if !s.checkAuth(req.Auth) {
		s.writeResponse(conn, id, false, errUnauthorized.Error())
		return
	}

	handler, ok := s.handlerFor(req.Action)
	if !ok {
		s.writeResponse(conn, id, false, errUnknownAction.Error())
		return
	}

	progress := func(process, status, message string) {
		s.writeProgress(conn, id, process, status, message)
	}

	result, err := handler(progress, req.Data)
	if err != nil {
		s.writeResponse(conn, id, false, err.Error())
		return
	}
	s.writeResponse(conn, id, true, result)
}

func (s *Server) checkAuth(token string) bool {
	if token == "" {
		return false
	}
	var current string
	s.store.ViewServer(func(server config.ServerModule) {
		current = server.AuthToken
	})
	return token == current
}

func (s *Server) writeProgress(conn net.Conn, id, process, status, message string) {
	frame := Progress{ID: id, Process: process, Status: status, Message: message}
	raw, err := json.Marshal(frame)
	if err != nil {
		return
	}
	_, _ = conn.Write(append(raw, '\r', '\n'))
}

func (s *Server) writeResponse(conn net.Conn, id string, result bool, message any) {
	frame := Response{ID: id, Result: result, Message: message}
	raw, err := json.Marshal(frame)
	if err != nil {
		raw = []byte(`{"id":"` + id + `","result":false,"message":"internal encoding error"}`)
	}
	_, _ = conn.Write(raw)
}
