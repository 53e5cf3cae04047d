// Package broker implements the reference relay broker: the untrusted
// forwarding server the client core assumes but never defines the
// internals of. It exists only to exercise the AMBIENT & DOMAIN STACK
// components the client core's examples carry, and never touches
// plaintext or E2E key material.
package broker

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/hashicorp/consul/api"
)

// serviceName is the Consul service name this broker registers under.
const serviceName = "duskwire-relay"

// Discovery registers this broker replica with Consul so other replicas
// (or an operator) can find healthy instances.
type Discovery struct {
	client    *api.Client
	serviceID string
	port      int
}

// NewDiscovery dials Consul at addr and prepares a registration for this
// replica, identified by serviceID, listening on portStr.
func NewDiscovery(addr, serviceID, portStr string) (*Discovery, error) {
	cfg := api.DefaultConfig()
	cfg.Address = addr

	client, err := api.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("broker: connecting to consul: %w", err)
	}

	port, err := strconv.Atoi(portStr)
	if err != nil {
		log.Printf("broker: invalid port %q, defaulting to 8080: %v", portStr, err)
		port = 8080
	}

	return &Discovery{client: client, serviceID: serviceID, port: port}, nil
}

// Register advertises this replica in Consul with an HTTP health check.
func (d *Discovery) Register() error {
	hostname, err := os.Hostname()
	if err != nil {
		log.Printf("broker: failed to get hostname, using localhost: %v", err)
		hostname = "localhost"
	}

	reg := &api.AgentServiceRegistration{
		ID:      d.serviceID,
		Name:    serviceName,
		Port:    d.port,
		Address: hostname,
		Tags:    []string{"relay", "websocket"},
		Check: &api.AgentServiceCheck{
			HTTP:                           fmt.Sprintf("http://%s:%d/healthz", hostname, d.port),
			Interval:                       "10s",
			Timeout:                        "3s",
			DeregisterCriticalServiceAfter: "30s",
		},
	}

	if err := d.client.Agent().ServiceRegister(reg); err != nil {
		return fmt.Errorf("broker: registering with consul: %w", err)
	}
	log.Printf("broker: registered with consul as %s", d.serviceID)
	return nil
}

// Deregister removes this replica's registration.
func (d *Discovery) Deregister() error {
	if err := d.client.Agent().ServiceDeregister(d.serviceID); err != nil {
		return fmt.Errorf("broker: deregistering from consul: %w", err)
	}
	log.Printf("broker: deregistered from consul: %s", d.serviceID)
	return nil
}

// HealthyReplicas lists the service IDs of currently healthy broker
// replicas, used to size the untrusted-relay fleet in admin tooling.
func (d *Discovery) HealthyReplicas() ([]string, error) {
	services, _, err := d.client.Health().Service(serviceName, "", true, nil)
	if err != nil {
		return nil, fmt.Errorf("broker: querying consul health: %w", err)
	}

	out := make([]string, 0, len(services))
	for _, svc := range services {
		out = append(out, svc.Service.ID)
	}
	return out, nil
}

// WatchReplicas blocks on Consul's long-poll health endpoint, invoking
// callback whenever the set of healthy replicas changes.
func (d *Discovery) WatchReplicas(callback func([]string)) {
	var lastIndex uint64
	for {
		services, meta, err := d.client.Health().Service(serviceName, "", true, &api.QueryOptions{
			WaitIndex: lastIndex,
			WaitTime:  5 * time.Minute,
		})
		if err != nil {
			log.Printf("broker: error watching consul: %v", err)
			time.Sleep(5 * time.Second)
			continue
		}
		if meta.LastIndex == lastIndex {
			continue
		}
		lastIndex = meta.LastIndex

		out := make([]string, 0, len(services))
		for _, svc := range services {
			out = append(out, svc.Service.ID)
		}
		callback(out)
	}
}
