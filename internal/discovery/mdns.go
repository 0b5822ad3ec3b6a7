// ABOUTME: mDNS advertisement so LAN clients can find the coordinator
package discovery

import (
	"fmt"
	"net"
	"os"

	"github.com/hashicorp/mdns"
	"github.com/rs/zerolog"

	blog "github.com/beatsync/beatsync-go/internal/log"
)

const serviceType = "_beatsync._tcp"

// Advertiser announces the coordinator on the local network. The server only
// ever advertises; clients browse on their own.
type Advertiser struct {
	server *mdns.Server
	log    zerolog.Logger
}

// Advertise starts announcing the service on port.
func Advertise(port int) (*Advertiser, error) {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "beatsync"
	}
	ips, err := localIPs()
	if err != nil {
		return nil, fmt.Errorf("list local ips: %w", err)
	}

	service, err := mdns.NewMDNSService(host, serviceType, "", "", port, ips, []string{"path=/ws"})
	if err != nil {
		return nil, fmt.Errorf("create mdns service: %w", err)
	}
	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return nil, fmt.Errorf("start mdns server: %w", err)
	}

	log := blog.WithComponent("discovery")
	log.Info().Str("service", serviceType).Int("port", port).Msg("advertising via mdns")
	return &Advertiser{server: server, log: log}, nil
}

// Stop withdraws the advertisement.
func (a *Advertiser) Stop() {
	if err := a.server.Shutdown(); err != nil {
		a.log.Debug().Err(err).Msg("mdns shutdown")
	}
}

// localIPs returns the non-loopback IPv4 addresses of up interfaces.
func localIPs() ([]net.IP, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	var ips []net.IP
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok && !ipnet.IP.IsLoopback() && ipnet.IP.To4() != nil {
				ips = append(ips, ipnet.IP)
			}
		}
	}
	if len(ips) == 0 {
		return nil, fmt.Errorf("no usable network interfaces")
	}
	return ips, nil
}
