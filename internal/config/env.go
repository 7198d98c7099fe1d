package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// GetEnv returns the value of k or d when unset or empty.
func GetEnv(k, d string) string {
	if v := env(k); v != "" {
		return v
	}
	return d
}

var env = os.Getenv

func splitComma(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// parseSeconds accepts either a Go duration ("90s", "5m") or a bare number of
// seconds ("300", "1.5").
func parseSeconds(v string) (time.Duration, error) {
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(f * float64(time.Second)), nil
	}
	return time.ParseDuration(v)
}

func durationEnv(k string, d time.Duration) time.Duration {
	v := env(k)
	if v == "" {
		return d
	}
	if out, err := parseSeconds(v); err == nil {
		return out
	}
	return d
}

func metricsAddr(v string, port int) string {
	switch {
	case v == "":
		return ":" + strconv.Itoa(port)
	case strings.Contains(v, ":"):
		return v
	default:
		return ":" + v
	}
}
