package middleware

import (
	"net/url"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// CORSConfig defines CORS configuration options.
type CORSConfig struct {
	AllowOrigins     []string
	AllowMethods     []string
	AllowHeaders     []string
	AllowCredentials bool
	MaxAge           time.Duration
}

// DefaultCORSConfig allows local admin tools only. The admin API listens on
// loopback by default, so browser pages served from localhost are the callers.
func DefaultCORSConfig() CORSConfig {
	return CORSConfig{
		AllowOrigins: []string{"http://localhost", "http://127.0.0.1"},
		AllowMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders: []string{
			"Content-Type",
			"Content-Length",
			"Accept",
			"Origin",
			"Cache-Control",
		},
		MaxAge: time.Hour,
	}
}

// CORS creates a CORS middleware with the provided configuration.
// Origins listed without a port match any port on that host.
func CORS(cfg CORSConfig) gin.HandlerFunc {
	c := cors.Config{
		AllowMethods:     cfg.AllowMethods,
		AllowHeaders:     cfg.AllowHeaders,
		AllowCredentials: cfg.AllowCredentials,
		MaxAge:           cfg.MaxAge,
	}
	for _, o := range cfg.AllowOrigins {
		if o == "*" {
			c.AllowAllOrigins = true
			c.AllowCredentials = false
			return cors.New(c)
		}
	}

	c.AllowOrigins = cfg.AllowOrigins
	c.AllowWildcard = true
	for _, o := range cfg.AllowOrigins {
		if !hasPort(o) {
			c.AllowOrigins = append(c.AllowOrigins, o+":*")
		}
	}
	return cors.New(c)
}

// hasPort reports whether an origin such as http://host:8080 names a port
func hasPort(origin string) bool {
	u, err := url.Parse(origin)
	return err == nil && u.Port() != ""
}
