// Package discovery announces a relay on the local network over mDNS and
// finds announced relays.
package discovery

import (
	"context"
	"fmt"
	"net"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/grandcat/zeroconf"
	"go.uber.org/zap"

	"github.com/michaelbrown/codeshare/internal/logging"
)

const (
	// Service is the DNS-SD service type of a codeshare relay.
	Service = "_codeshare._tcp"
	domain  = "local."
)

// Announcement is a registered mDNS service.
type Announcement struct {
	server *zeroconf.Server
	logger *zap.Logger
}

// InstanceName returns instance, or a name derived from the hostname.
func InstanceName(instance string) string {
	if instance != "" {
		return instance
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}
	return fmt.Sprintf("codeshare-%s", host)
}

// Announce registers the relay listening on port.
func Announce(instance string, port int, logger *zap.Logger) (*Announcement, error) {
	logger = logging.OrNop(logger).Named("discovery")
	name := InstanceName(instance)

	server, err := zeroconf.Register(name, Service, domain, port, []string{"path=/", "txtv=1"}, nil)
	if err != nil {
		return nil, fmt.Errorf("registering mDNS service: %w", err)
	}
	logger.Info("mDNS service registered", zap.String("instance", name), zap.Int("port", port))
	return &Announcement{server: server, logger: logger}, nil
}

// Shutdown withdraws the announcement.
func (a *Announcement) Shutdown() {
	a.server.Shutdown()
	a.logger.Debug("mDNS service withdrawn")
}

// Relay is a relay found on the network.
type Relay struct {
	Instance string
	URL      string
}

// Browse collects relays announced within timeout.
func Browse(ctx context.Context, timeout time.Duration, logger *zap.Logger) ([]Relay, error) {
	logger = logging.OrNop(logger).Named("discovery")

	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("initializing mDNS resolver: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	found := make(chan []Relay, 1)
	go func(results <-chan *zeroconf.ServiceEntry) {
		seen := map[string]Relay{}
		for entry := range results {
			if r, ok := relayFromEntry(entry); ok {
				logger.Debug("mDNS discovered relay", zap.String("instance", r.Instance), zap.String("url", r.URL))
				seen[r.Instance] = r
			}
		}
		found <- sortRelays(seen)
	}(entries)

	if err := resolver.Browse(ctx, Service, domain, entries); err != nil {
		return nil, fmt.Errorf("browsing for mDNS services: %w", err)
	}
	<-ctx.Done()

	// The resolver closes entries once the context is done.
	return <-found, nil
}

func relayFromEntry(entry *zeroconf.ServiceEntry) (Relay, bool) {
	if entry == nil || entry.Port == 0 {
		return Relay{}, false
	}

	var host string
	switch {
	case len(entry.AddrIPv4) > 0:
		host = entry.AddrIPv4[0].String()
	case len(entry.AddrIPv6) > 0:
		host = entry.AddrIPv6[0].String()
	case entry.HostName != "":
		host = strings.TrimSuffix(entry.HostName, ".")
	default:
		return Relay{}, false
	}

	path := ""
	for _, txt := range entry.Text {
		if v, ok := strings.CutPrefix(txt, "path="); ok && v != "/" {
			path = "/" + strings.Trim(v, "/")
		}
	}

	return Relay{
		Instance: entry.Instance,
		URL:      "http://" + net.JoinHostPort(host, strconv.Itoa(entry.Port)) + path,
	}, true
}

func sortRelays(m map[string]Relay) []Relay {
	out := make([]Relay, 0, len(m))
	for _, r := range m {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Instance < out[j].Instance })
	return out
}
