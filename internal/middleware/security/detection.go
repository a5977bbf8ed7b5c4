// Package security holds the web server's header policy, client address
// resolution and probe detection.
package security

import (
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync/atomic"

	"spendly/internal/log"
)

// DetectionMetrics tracks security detection events
type DetectionMetrics struct {
	SuspiciousRequests int64
}

// Detector flags probing traffic and resolves client addresses behind proxies.
type Detector struct {
	metrics        *DetectionMetrics
	trustedProxies []*net.IPNet
	logger         *log.Logger
}

var (
	suspiciousPatterns = []string{
		"../", "..\\", ".env", "wp-admin", "phpmyadmin",
		"admin.php", "config.php", ".git", ".ssh",
		"eval(", "javascript:", "<script", "union select",
		"etc/passwd", "cmd.exe",
	}
	suspiciousAgents = []string{
		"sqlmap", "nmap", "nikto", "gobuster", "dirb", "masscan",
	}
	unusualMethods = []string{"TRACE", "TRACK", "DEBUG", "CONNECT"}
)

// NewDetector trusts loopback and private ranges as proxies.
func NewDetector(logger *log.Logger) *Detector {
	return &Detector{
		metrics: &DetectionMetrics{},
		trustedProxies: []*net.IPNet{
			parseCIDR("127.0.0.0/8"),
			parseCIDR("10.0.0.0/8"),
			parseCIDR("172.16.0.0/12"),
			parseCIDR("192.168.0.0/16"),
			parseCIDR("::1/128"),
		},
		logger: logger.WithComponent(log.ComponentSecurity),
	}
}

func parseCIDR(cidr string) *net.IPNet {
	_, network, err := net.ParseCIDR(cidr)
	if err != nil {
		panic(fmt.Sprintf("failed to parse trusted proxy CIDR %s: %v", cidr, err))
	}
	return network
}

// DetectSuspiciousRequest reports whether r looks like a scanner or an
// injection probe.
func (d *Detector) DetectSuspiciousRequest(r *http.Request) bool {
	suspicious := false

	path := strings.ToLower(r.URL.Path)
	query := strings.ToLower(r.URL.RawQuery)
	for _, pattern := range suspiciousPatterns {
		if strings.Contains(path, pattern) || strings.Contains(query, pattern) {
			suspicious = true
			break
		}
	}

	userAgent := strings.ToLower(r.Header.Get("User-Agent"))
	for _, agent := range suspiciousAgents {
		if strings.Contains(userAgent, agent) {
			suspicious = true
			break
		}
	}

	for _, method := range unusualMethods {
		if r.Method == method {
			suspicious = true
			break
		}
	}

	if len(r.URL.String()) > 2048 {
		suspicious = true
	}

	if xff := r.Header.Get("X-Forwarded-For"); strings.Count(xff, ",") > 5 {
		suspicious = true
	}

	if suspicious {
		atomic.AddInt64(&d.metrics.SuspiciousRequests, 1)
	}
	return suspicious
}

// Middleware logs suspicious requests and lets them through; the handlers
// behind it validate their own input.
func (d *Detector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if d.DetectSuspiciousRequest(r) {
			d.logger.WarnContext(r.Context(), "Suspicious request",
				log.FieldClientIP, d.ExtractClientIP(r),
				log.FieldMethod, r.Method,
				log.FieldPath, r.URL.Path,
				log.FieldUserAgent, r.Header.Get("User-Agent"))
		}
		next.ServeHTTP(w, r)
	})
}

// ExtractClientIP returns the caller's address, honouring X-Forwarded-For and
// X-Real-IP only when the direct peer is a trusted proxy.
func (d *Detector) ExtractClientIP(r *http.Request) string {
	directIP, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		directIP = r.RemoteAddr
	}

	parsedDirectIP := net.ParseIP(directIP)
	if parsedDirectIP == nil || !d.isTrustedProxy(parsedDirectIP) {
		return directIP
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if clientIP := strings.TrimSpace(first); net.ParseIP(clientIP) != nil {
			return clientIP
		}
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); net.ParseIP(xri) != nil {
		return xri
	}
	return directIP
}

func (d *Detector) isTrustedProxy(ip net.IP) bool {
	for _, network := range d.trustedProxies {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

// GetMetrics returns current security metrics
func (d *Detector) GetMetrics() DetectionMetrics {
	return DetectionMetrics{
		SuspiciousRequests: atomic.LoadInt64(&d.metrics.SuspiciousRequests),
	}
}

// AddTrustedProxy adds a trusted proxy network. Call before serving.
func (d *Detector) AddTrustedProxy(cidr string) error {
	_, network, err := net.ParseCIDR(cidr)
	if err != nil {
		return fmt.Errorf("invalid CIDR %s: %w", cidr, err)
	}
	d.trustedProxies = append(d.trustedProxies, network)
	return nil
}
