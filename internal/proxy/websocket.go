// Package proxy exposes a live DevTools websocket for a running session so
// external tooling can watch or drive the browser while jobs execute.
package proxy

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/headfull/chrome-api/internal/browser"
	"github.com/headfull/chrome-api/internal/session"
	"github.com/headfull/chrome-api/pkg/models"
)

const dialTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Server proxies debug websocket connections to session browsers.
type Server struct {
	sessionMgr *session.Manager
	launcher   *browser.Launcher
}

// NewServer creates the proxy.
func NewServer(sessionMgr *session.Manager, launcher *browser.Launcher) *Server {
	return &Server{sessionMgr: sessionMgr, launcher: launcher}
}

// HandleDebugConnection upgrades the request and pipes frames between the
// client and the session's page target.
func (s *Server) HandleDebugConnection(w http.ResponseWriter, r *http.Request, sessionID string) {
	sess, err := s.sessionMgr.GetSession(sessionID)
	if err != nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	if sess.Status != models.SessionRunning {
		http.Error(w, "session is not running", http.StatusBadRequest)
		return
	}

	proc, ok := s.launcher.Lookup(sessionID)
	if !ok {
		http.Error(w, "no browser process for session", http.StatusConflict)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), dialTimeout)
	defer cancel()

	targetURL, err := browser.PageTargetURL(ctx, proc.Port)
	if err != nil {
		http.Error(w, "no debuggable page target", http.StatusBadGateway)
		return
	}

	clientConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logrus.WithError(err).Warn("debug upgrade failed")
		return
	}
	defer clientConn.Close()

	chromeConn, _, err := websocket.DefaultDialer.DialContext(ctx, targetURL, nil)
	if err != nil {
		logrus.WithError(err).WithField("session", sessionID).Warn("devtools dial failed")
		clientConn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "devtools unreachable"))
		return
	}
	defer chromeConn.Close()

	log := logrus.WithField("session", sessionID)
	log.Info("debug client connected")

	errChan := make(chan error, 2)
	go func() { errChan <- pipe(clientConn, chromeConn) }()
	go func() { errChan <- pipe(chromeConn, clientConn) }()

	if err := <-errChan; err != nil && err != io.EOF {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
			log.WithError(err).Debug("debug proxy closed")
		}
	}
	log.Info("debug client disconnected")
}

func pipe(src, dst *websocket.Conn) error {
	for {
		messageType, message, err := src.ReadMessage()
		if err != nil {
			return err
		}
		if err := dst.WriteMessage(messageType, message); err != nil {
			return err
		}
	}
}
