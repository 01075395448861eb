// Package lanannounce advertises a running dashboard over multicast DNS so
// field laptops on the same network can find it without knowing its address.
package lanannounce

import (
	"context"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/mdns"
)

// ServiceType is the DNS-SD type the dashboard registers under.
const ServiceType = "_waterways._tcp"

// Options describe what gets announced. Zero values fall back to the OS
// hostname and every up, non-loopback IPv4 address.
type Options struct {
	Instance string
	HostName string // fully qualified, with trailing dot
	IPs      []net.IP
	Port     int
	Info     []string
}

// Service builds the zone for opts.
func Service(opts Options) (*mdns.MDNSService, error) {
	if opts.Port <= 0 || opts.Port > 65535 {
		return nil, fmt.Errorf("invalid port %d", opts.Port)
	}
	instance := opts.Instance
	if instance == "" {
		host, err := os.Hostname()
		if err != nil {
			return nil, fmt.Errorf("could not get hostname: %w", err)
		}
		instance = host
	}
	ips := opts.IPs
	if len(ips) == 0 {
		ips = localIPv4()
	}
	info := opts.Info
	if len(info) == 0 {
		info = []string{"Waterway dashboard", "path=/"}
	}
	service, err := mdns.NewMDNSService(instance, ServiceType, "", opts.HostName, opts.Port, ips, info)
	if err != nil {
		return nil, fmt.Errorf("failed to create mDNS service: %w", err)
	}
	return service, nil
}

// Announce serves the zone until ctx ends.
func Announce(ctx context.Context, opts Options, logf func(string, ...any)) error {
	service, err := Service(opts)
	if err != nil {
		return err
	}
	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return fmt.Errorf("failed to start mDNS server: %w", err)
	}
	if logf != nil {
		logf("[mdns] announcing %s.%s on port %d", service.Instance, ServiceType, opts.Port)
	}
	go func() {
		<-ctx.Done()
		_ = server.Shutdown()
	}()
	return nil
}

// Browse lists dashboards answering within timeout as host:port strings.
func Browse(timeout time.Duration) ([]string, error) {
	entries := make(chan *mdns.ServiceEntry, 16)
	done := make(chan []string, 1)
	go func() { done <- collect(entries) }()

	params := mdns.DefaultParams(ServiceType)
	params.Entries = entries
	params.Timeout = timeout
	params.DisableIPv6 = true
	err := mdns.Query(params)
	close(entries)
	found := <-done
	if err != nil {
		return found, fmt.Errorf("mdns query: %w", err)
	}
	return found, nil
}

// collect drains entries into unique host:port strings in arrival order.
// Responders answer once per interface and again on retries.
func collect(entries <-chan *mdns.ServiceEntry) []string {
	var found []string
	seen := make(map[string]struct{})
	for e := range entries {
		addr := entryAddr(e)
		if addr == "" {
			continue
		}
		if _, dup := seen[addr]; dup {
			continue
		}
		seen[addr] = struct{}{}
		found = append(found, addr)
	}
	return found
}

func entryAddr(e *mdns.ServiceEntry) string {
	if e == nil || e.AddrV4 == nil || e.Port == 0 {
		return ""
	}
	if !strings.Contains(e.Name, ServiceType) {
		return ""
	}
	return fmt.Sprintf("%s:%d", e.AddrV4, e.Port)
}

func localIPv4() []net.IP {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil
	}
	var out []net.IP
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, _ := iface.Addrs()
		for _, a := range addrs {
			if ipnet, ok := a.(*net.IPNet); ok && ipnet.IP.To4() != nil {
				out = append(out, ipnet.IP.To4())
			}
		}
	}
	return out
}
