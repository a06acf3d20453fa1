package config

import (
	"strings"
)

func (c *Config) normalize() error {
	c.Camera.Kind = strings.ToLower(strings.TrimSpace(c.Camera.Kind))
	c.Camera.ShmName = strings.TrimSpace(c.Camera.ShmName)
	if c.Camera.ShmName != "" && !strings.HasPrefix(c.Camera.ShmName, "/") {
		c.Camera.ShmName = "/" + c.Camera.ShmName
	}

	var err error
	if c.Camera.ReplayDir, err = expandPath(strings.TrimSpace(c.Camera.ReplayDir)); err != nil {
		return err
	}
	if c.Recording.Dir, err = expandPath(strings.TrimSpace(c.Recording.Dir)); err != nil {
		return err
	}

	c.Web.Listen = strings.TrimSpace(c.Web.Listen)
	stun := c.Web.STUNServers[:0]
	for _, s := range c.Web.STUNServers {
		if s = strings.TrimSpace(s); s != "" {
			stun = append(stun, s)
		}
	}
	c.Web.STUNServers = stun

	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	c.Logging.Color = strings.ToLower(strings.TrimSpace(c.Logging.Color))
	if c.Logging.Color == "" {
		c.Logging.Color = defaultLogColor
	}
	return nil
}
