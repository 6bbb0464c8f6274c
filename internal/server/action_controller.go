package server

import (
	"net"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/acm19/picbatch/internal/actionlog"
	"github.com/acm19/picbatch/internal/logger"
)

type actionRequest struct {
	Action string `json:"action"`
}

// fallbackLocalIP is reported when no non-loopback IPv4 address is found.
const fallbackLocalIP = "127.0.0.1"

type actionController struct {
	actions actionlog.Notifier
}

func newActionController(actions actionlog.Notifier) *actionController {
	return &actionController{actions: actions}
}

// LogAction records a client-side action with the caller's address.
func (a *actionController) LogAction(c *gin.Context) {
	if c.Request.Method != http.MethodPost {
		c.Header("Allow", http.MethodPost)
		c.JSON(http.StatusMethodNotAllowed, gin.H{"error": "Method " + c.Request.Method + " Not Allowed"})
		return
	}

	var req actionRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Action == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "action is required"})
		return
	}

	ip := clientOrigin(c.Request)
	logger.Info("Action logged", "action", req.Action, "ip", ip)
	c.JSON(http.StatusOK, gin.H{"message": "Action logged", "ip": ip})
}

// clientOrigin is the first X-Forwarded-For entry, else the remote host, else "unknown".
func clientOrigin(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	if r.RemoteAddr != "" {
		if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && host != "" {
			return host
		}
		return r.RemoteAddr
	}
	return actionlog.UnknownOrigin
}

// LogIP reports the caller's and the server's addresses. Clients call it once when
// they load, so it also records the page_load action.
func (a *actionController) LogIP(c *gin.Context) {
	clientIP := clientOrigin(c.Request)
	localIP := actionlog.LocalIPv4()
	if localIP == actionlog.UnknownOrigin {
		localIP = fallbackLocalIP
	}
	logger.Info("Client connected", "client_ip", clientIP, "local_ip", localIP)
	if a.actions != nil {
		a.actions.Log(c.Request.Context(), actionlog.ActionPageLoad)
	}
	c.JSON(http.StatusOK, gin.H{"clientIp": clientIP, "localIp": localIP})
}
