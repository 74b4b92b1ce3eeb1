package api

import (
	"net/http"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
)

// Health reports readiness for the chat gateway. The browser bridge being
// unreachable degrades the service rather than failing it: API-class
// adapters still work.
func (s *Server) Health(c *gin.Context) {
	ctx := c.Request.Context()

	st := s.driver.Health(ctx)
	body := gin.H{
		"status":          "healthy",
		"browser_running": st.Running,
		"cdp_reachable":   st.Reachable,
		"disk_free_mb":    diskFreeMB(s.driver.ArtifactDir()),
		"uptime_s":        int64(time.Since(s.startedAt).Seconds()),
		"active_runs":     s.manager.Active(),
		"sessions":        s.store.Len(),
		"tab_leases":      len(s.registry.Leases()),
	}
	if !st.Reachable || !st.Running {
		body["status"] = "degraded"
		c.JSON(http.StatusOK, body)
		return
	}
	c.JSON(http.StatusOK, body)
}

func diskFreeMB(path string) int64 {
	var fs syscall.Statfs_t
	if err := syscall.Statfs(path, &fs); err != nil {
		return -1
	}
	return int64(fs.Bavail) * fs.Bsize / (1 << 20)
}
