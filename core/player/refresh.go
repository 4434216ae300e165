package player

import (
	"os"
	"strconv"
	"strings"

	"vsmp/core/epd"
	"vsmp/logger"
)

// The ticks-since-full-refresh counter is transient controller state kept in
// a best-effort side file, deliberately outside the durable PlaybackState:
// losing it across a crash just forces an early full refresh, which only
// costs a slower update.

func (c *Controller) selectRefreshMode() epd.RefreshMode {
	if c.cfg.RefreshMode == epd.RefreshFull {
		return epd.RefreshFull
	}
	if c.readRefreshCounter()+1 >= c.cfg.FullRefreshEvery {
		logger.Debug("forcing full refresh to shed ghosting",
			logger.Int("every", c.cfg.FullRefreshEvery))
		return epd.RefreshFull
	}
	return epd.RefreshPartial
}

func (c *Controller) recordRefresh(mode epd.RefreshMode) {
	next := 0
	if mode == epd.RefreshPartial {
		next = c.readRefreshCounter() + 1
	}
	if err := os.WriteFile(c.cfg.RefreshCounterFile(), []byte(strconv.Itoa(next)), 0644); err != nil {
		logger.Debug("refresh counter write failed", logger.ErrorField(err))
	}
}

func (c *Controller) readRefreshCounter() int {
	data, err := os.ReadFile(c.cfg.RefreshCounterFile())
	if err != nil {
		return 0
	}
	n, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || n < 0 {
		return 0
	}
	return n
}
