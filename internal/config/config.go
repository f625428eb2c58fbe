package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	HTTPAddr        string
	DBDSN           string
	JWTIssuer       string
	JWTSecret       string
	JWTTTL          time.Duration
	InternalToken   string
	WebSocketOrigin string
	FeedWSURL       string
	FeedAPIKey      string
	ZeroSpread      bool
	Symbols         []string
	PositionPush    time.Duration
	CapitalPush     time.Duration
	AlertCooldown   time.Duration
	WSQueueSize     int
}

func Load() (Config, error) {
	var c Config
	var missing []string
	c.HTTPAddr = os.Getenv("HTTP_ADDR")
	if c.HTTPAddr == "" {
		missing = append(missing, "HTTP_ADDR")
	}
	c.DBDSN = os.Getenv("DB_DSN")
	if c.DBDSN == "" {
		missing = append(missing, "DB_DSN")
	}
	c.JWTIssuer = os.Getenv("JWT_ISSUER")
	if c.JWTIssuer == "" {
		missing = append(missing, "JWT_ISSUER")
	}
	c.JWTSecret = os.Getenv("JWT_SECRET")
	if c.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}
	jwtTTL := os.Getenv("JWT_TTL")
	if jwtTTL == "" {
		c.JWTTTL = 24 * time.Hour
	} else {
		d, err := time.ParseDuration(jwtTTL)
		if err != nil {
			return c, err
		}
		c.JWTTTL = d
	}
	c.InternalToken = os.Getenv("INTERNAL_API_TOKEN")
	if c.InternalToken == "" {
		missing = append(missing, "INTERNAL_API_TOKEN")
	}
	c.WebSocketOrigin = os.Getenv("WS_ORIGIN")
	if c.WebSocketOrigin == "" {
		missing = append(missing, "WS_ORIGIN")
	}
	c.FeedWSURL = os.Getenv("FEED_WS_URL")
	if c.FeedWSURL == "" {
		missing = append(missing, "FEED_WS_URL")
	}
	c.FeedAPIKey = os.Getenv("FEED_API_KEY")
	zeroSpread := os.Getenv("ZERO_SPREAD")
	if zeroSpread == "" {
		c.ZeroSpread = true
	} else {
		b, err := strconv.ParseBool(zeroSpread)
		if err != nil {
			return c, err
		}
		c.ZeroSpread = b
	}
	if raw := strings.TrimSpace(os.Getenv("SYMBOLS")); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			s = strings.ToUpper(strings.TrimSpace(s))
			if s != "" {
				c.Symbols = append(c.Symbols, s)
			}
		}
	}
	var err error
	if c.PositionPush, err = optionalDuration("POSITION_PUSH_EVERY", 100*time.Millisecond); err != nil {
		return c, err
	}
	if c.CapitalPush, err = optionalDuration("CAPITAL_PUSH_EVERY", 2*time.Second); err != nil {
		return c, err
	}
	if c.AlertCooldown, err = optionalDuration("MARGIN_ALERT_COOLDOWN", 5*time.Second); err != nil {
		return c, err
	}
	queueSize := os.Getenv("WS_QUEUE_SIZE")
	if queueSize == "" {
		c.WSQueueSize = 64
	} else {
		n, err := strconv.Atoi(queueSize)
		if err != nil || n <= 0 {
			return c, errors.New("invalid WS_QUEUE_SIZE")
		}
		c.WSQueueSize = n
	}
	if len(missing) > 0 {
		return c, errors.New("missing required env: " + strings.Join(missing, ","))
	}
	return c, nil
}

func optionalDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	return time.ParseDuration(raw)
}
