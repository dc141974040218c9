package server

import (
	"bufio"
	"encoding/json"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/muurk/wise/internal/bridge"
	"github.com/muurk/wise/internal/httpmsg"
	"github.com/muurk/wise/internal/logging"
)

// route answers every request except a GET /ws upgrade.
func (s *Server) route(br *bufio.Reader, req *httpmsg.Request) *httpmsg.Response {
	if req.Method != httpmsg.MethodGet && req.Method != httpmsg.MethodPost {
		return httpmsg.Error(400)
	}

	switch {
	case req.Path == "/stty":
		return s.handleStty(br, req)
	case req.Path == "/token" && req.Method == httpmsg.MethodGet:
		return s.handleToken()
	case (req.Path == "/" || req.Path == "/index.html") && req.Method == httpmsg.MethodGet:
		return s.handleIndex(req)
	default:
		return httpmsg.Error(404)
	}
}

// handleStty applies a POSTed partial update and answers with the
// resulting configuration. GET only describes it.
func (s *Server) handleStty(br *bufio.Reader, req *httpmsg.Request) *httpmsg.Response {
	var update bridge.Update
	if req.Method == httpmsg.MethodPost {
		body, err := httpmsg.ReadBody(br, req, s.config.MaxBodySize)
		if err != nil {
			return httpmsg.Text(400, err.Error())
		}
		if update, err = bridge.ParseUpdate(body); err != nil {
			return httpmsg.Text(400, err.Error())
		}
	}

	cfg, err := s.bridge.Stty(update)
	if err != nil {
		if errors.Is(err, bridge.ErrInvalidOption) {
			return httpmsg.Text(400, err.Error())
		}
		logging.Error("Failed to reconfigure UART", zap.Error(err))
		return httpmsg.Text(500, err.Error())
	}

	body, err := json.Marshal(cfg)
	if err != nil {
		return httpmsg.Error(500)
	}
	return httpmsg.JSON(200, body)
}

func (s *Server) handleToken() *httpmsg.Response {
	body, err := json.Marshal(struct {
		Token string `json:"token"`
	}{s.bridge.Token()})
	if err != nil {
		return httpmsg.Error(500)
	}
	return httpmsg.JSON(200, body)
}

// handleIndex serves the pre-compressed terminal page.
func (s *Server) handleIndex(req *httpmsg.Request) *httpmsg.Response {
	if !acceptsGzip(req.Header("Accept-Encoding")) {
		return httpmsg.Error(406)
	}
	resp := httpmsg.NewResponse(200,
		httpmsg.Header{Name: "Content-Type", Value: httpmsg.ContentTypeHTML},
		httpmsg.Header{Name: "Content-Encoding", Value: "gzip"},
	)
	resp.Body = s.index
	return resp
}

// acceptsGzip reports whether an Accept-Encoding value lists gzip without
// refusing it with q=0.
func acceptsGzip(header string) bool {
	for _, part := range strings.Split(header, ",") {
		coding, params, _ := strings.Cut(strings.TrimSpace(part), ";")
		coding = strings.ToLower(strings.TrimSpace(coding))
		if coding != "gzip" && coding != "*" {
			continue
		}
		q := strings.ReplaceAll(strings.ToLower(params), " ", "")
		if q == "q=0" || q == "q=0.0" || q == "q=0.00" || q == "q=0.000" {
			return false
		}
		return true
	}
	return false
}
