package netrec

import (
	"context"
	"fmt"
	"net"
	"strings"

	"github.com/miekg/dns"
	"gopkg.in/yaml.v3"

	"github.com/roosthq/roost/pkg/faults"
	"github.com/roosthq/roost/pkg/types"
)

// SyncDNS regenerates the name-resolution artifact, one host-record
// line per merged record, validates it, replaces it atomically, and
// reloads the resolver
func (r *Reconciler) SyncDNS(ctx context.Context) error {
	records := r.Records()
	if err := ValidateRecords(records); err != nil {
		return err
	}

	var b strings.Builder
	b.WriteString(fmtHeader("name resolution records"))
	for _, rec := range records {
		fmt.Fprintf(&b, "host-record=%s,%s\n", rec.Key, rec.Value)
	}

	return r.writeAndReload(ctx, "dns", r.dns, b.String())
}

// ValidateRecords checks every merged record parses as a legal A
// record before anything is written. The resolver refusing to load a
// bad artifact would take name resolution down for the whole host.
func ValidateRecords(records []types.DerivedRecord) error {
	for _, rec := range records {
		if net.ParseIP(rec.Value) == nil {
			return faults.Operation(rec.Key, "dns-validate",
				fmt.Errorf("record %q has invalid address %q", rec.Key, rec.Value))
		}
		rr := fmt.Sprintf("%s. 300 IN A %s", rec.Key, rec.Value)
		if _, err := dns.NewRR(rr); err != nil {
			return faults.Operation(rec.Key, "dns-validate",
				fmt.Errorf("record %q does not parse: %w", rec.Key, err))
		}
	}
	return nil
}

// SyncFirewall renders the merged rule set as an nftables include
// file and reloads the packet filter
func (r *Reconciler) SyncFirewall(ctx context.Context) error {
	rules := r.FirewallRules()
	if err := ValidateRules(rules); err != nil {
		return err
	}

	var b strings.Builder
	b.WriteString(fmtHeader("packet filter rules"))
	for _, rule := range rules {
		b.WriteString(renderRule(rule) + "\n")
	}

	return r.writeAndReload(ctx, "firewall", r.fw, b.String())
}

func renderRule(rule types.FirewallRule) string {
	parts := []string{"add rule inet filter", rule.Chain}
	if rule.Source != "" {
		parts = append(parts, "ip saddr", rule.Source)
	}
	if rule.Dest != "" {
		parts = append(parts, "ip daddr", rule.Dest)
	}
	parts = append(parts, rule.Protocol)
	if rule.Port > 0 {
		parts = append(parts, "dport", fmt.Sprintf("%d", rule.Port))
	}
	parts = append(parts, rule.Action)
	return strings.Join(parts, " ")
}

// ValidateRules rejects structurally impossible rules before writing
func ValidateRules(rules []types.FirewallRule) error {
	for _, rule := range rules {
		if rule.Protocol == "icmp" && rule.Port != 0 {
			return faults.Operation(rule.Key(), "firewall-validate",
				fmt.Errorf("icmp rule cannot carry a port"))
		}
		if rule.Chain == "" || rule.Action == "" {
			return faults.Operation(rule.Key(), "firewall-validate",
				fmt.Errorf("rule missing chain or action"))
		}
	}
	return nil
}

// routesDoc mirrors the reverse proxy's dynamic configuration shape
type routesDoc struct {
	HTTP struct {
		Routers  map[string]routeRouter  `yaml:"routers"`
		Services map[string]routeService `yaml:"services"`
	} `yaml:"http"`
}

type routeRouter struct {
	Rule    string `yaml:"rule"`
	Service string `yaml:"service"`
}

type routeService struct {
	LoadBalancer struct {
		Servers []routeServer `yaml:"servers"`
	} `yaml:"loadBalancer"`
}

type routeServer struct {
	URL string `yaml:"url"`
}

// SyncRoutes regenerates the reverse-proxy dynamic-routing file: one
// router per declared service hostname, forwarding to the guest that
// hosts it
func (r *Reconciler) SyncRoutes(ctx context.Context) error {
	var doc routesDoc
	doc.HTTP.Routers = make(map[string]routeRouter)
	doc.HTTP.Services = make(map[string]routeService)

	for _, g := range r.store.Guests() {
		addr := guestAddr(g)
		for _, svc := range g.Services {
			port := svc.Port
			if port == 0 {
				port = 80
			}
			name := strings.ReplaceAll(svc.Hostname, ".", "-")
			doc.HTTP.Routers[name] = routeRouter{
				Rule:    fmt.Sprintf("Host(`%s`)", svc.Hostname),
				Service: name,
			}
			var s routeService
			s.LoadBalancer.Servers = []routeServer{
				{URL: fmt.Sprintf("http://%s:%d", addr, port)},
			}
			doc.HTTP.Services[name] = s
		}
	}

	data, err := yaml.Marshal(&doc)
	if err != nil {
		return faults.Operation(r.routes.Path, "routes-render", err)
	}

	// round-trip to guarantee the proxy can parse what we wrote
	var check routesDoc
	if err := yaml.Unmarshal(data, &check); err != nil {
		return faults.Operation(r.routes.Path, "routes-validate", err)
	}

	return r.writeAndReload(ctx, "routes", r.routes, string(data))
}
