package detect

import (
	"net"
	"strings"
)

// Datacenter and hosting-provider ranges commonly fronting VPN exits. This
// is a best-effort heuristic, not provider attribution; operators extend the
// list through configuration.
var defaultVPNCIDRs = []string{
	// AWS
	"3.0.0.0/8", "13.0.0.0/8", "18.0.0.0/8", "34.0.0.0/8", "35.0.0.0/8",
	"52.0.0.0/8", "54.0.0.0/8",
	// Google Cloud
	"34.64.0.0/10", "35.184.0.0/13", "104.154.0.0/15", "104.196.0.0/14",
	// Azure
	"13.64.0.0/11", "20.0.0.0/8", "40.64.0.0/10", "52.224.0.0/11",
	// DigitalOcean
	"64.225.0.0/16", "104.131.0.0/16", "134.209.0.0/16", "138.68.0.0/16",
	"139.59.0.0/16", "142.93.0.0/16", "157.245.0.0/16", "159.65.0.0/16",
	"165.227.0.0/16", "167.99.0.0/16", "178.128.0.0/16", "188.166.0.0/16",
	// Hetzner
	"5.9.0.0/16", "78.46.0.0/15", "88.99.0.0/16", "95.216.0.0/14",
	"135.181.0.0/16", "136.243.0.0/16", "138.201.0.0/16", "144.76.0.0/16",
	"148.251.0.0/16", "176.9.0.0/16", "178.63.0.0/16",
	// OVH
	"51.38.0.0/16", "51.68.0.0/16", "51.75.0.0/16", "51.77.0.0/16",
	"51.83.0.0/16", "51.89.0.0/16", "51.91.0.0/16", "54.36.0.0/16",
	"54.37.0.0/16", "54.38.0.0/16", "145.239.0.0/16", "147.135.0.0/16",
	"151.80.0.0/16", "164.132.0.0/16", "176.31.0.0/16", "188.165.0.0/16",
	"192.99.0.0/16", "193.70.0.0/16",
	// Vultr / Linode
	"45.32.0.0/16", "45.63.0.0/16", "45.76.0.0/16", "45.77.0.0/16",
	"45.33.0.0/16", "45.56.0.0/16", "45.79.0.0/16", "139.162.0.0/16",
	"172.104.0.0/15",
}

// VPNDetector matches the presented IP against known datacenter/VPN ranges.
type VPNDetector struct {
	nets []*net.IPNet
}

// NewVPNDetector builds a detector over the default ranges plus any
// operator-supplied CIDRs. Invalid entries are skipped.
func NewVPNDetector(extraCIDRs []string) *VPNDetector {
	all := make([]string, 0, len(defaultVPNCIDRs)+len(extraCIDRs))
	all = append(all, defaultVPNCIDRs...)
	all = append(all, extraCIDRs...)

	nets := make([]*net.IPNet, 0, len(all))
	for _, c := range all {
		if _, n, err := net.ParseCIDR(strings.TrimSpace(c)); err == nil {
			nets = append(nets, n)
		}
	}
	return &VPNDetector{nets: nets}
}

// Detect implements the Detector signature.
func (d *VPNDetector) Detect(in Input) []ActivityTag {
	if in.IP == "" {
		return nil
	}
	ip := net.ParseIP(in.IP)
	if ip == nil {
		return nil
	}
	for _, n := range d.nets {
		if n.Contains(ip) {
			return []ActivityTag{TagVPN}
		}
	}
	return nil
}
