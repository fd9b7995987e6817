package clientip

import (
	"net"
	"net/http"
	"strings"
)

// ClientHeader lets a local UI identify itself so several tabs behind the same
// address get separate rate-limit buckets.
const ClientHeader = "X-Chat-Client"

// ClientKey returns the X-Chat-Client header when present, else the remote IP
// taken from r.RemoteAddr (no proxy headers).
func ClientKey(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get(ClientHeader)); id != "" {
		return "client:" + id
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return strings.TrimSpace(r.RemoteAddr)
	}
	return strings.TrimSpace(host)
}
