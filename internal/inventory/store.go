package inventory

import (
	"errors"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/i0mja/dell-infra-sync-sub004/internal/fsatomic"
)

// ErrNotFound is returned when an inventory object does not exist.
var ErrNotFound = errors.New("not in inventory")

// Store keeps the console's read models: devices, clusters, credential set
// references and outlet mappings. Everything lives in memory and is
// persisted as one JSON file per collection; the executor refreshes health
// and outlet state through the API, operators edit the rest.
type Store struct {
	log zerolog.Logger
	dir string

	mu       sync.RWMutex
	devices  map[string]Device
	clusters map[string]Cluster
	credsets map[string]CredentialSet
	outlets  map[string]OutletMapping
}

func NewStore(dir string, log zerolog.Logger) (*Store, error) {
	s := &Store{
		log:      log.With().Str("component", "inventory").Logger(),
		dir:      dir,
		devices:  map[string]Device{},
		clusters: map[string]Cluster{},
		credsets: map[string]CredentialSet{},
		outlets:  map[string]OutletMapping{},
	}
	if err := s.loadAll(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) path(name string) string { return filepath.Join(s.dir, name+".json") }

func (s *Store) loadAll() error {
	loads := []struct {
		name string
		into any
	}{
		{"devices", &s.devices},
		{"clusters", &s.clusters},
		{"credential_sets", &s.credsets},
		{"outlets", &s.outlets},
	}
	for _, l := range loads {
		if _, err := fsatomic.LoadJSON(s.path(l.name), l.into); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) persist(name string, v any) error {
	path := s.path(name)
	return fsatomic.WithLock(path, func() error {
		return fsatomic.SaveJSON(path, v, 0o600)
	})
}

// Devices returns all devices sorted by hostname.
func (s *Store) Devices() []Device {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Device, 0, len(s.devices))
	for _, d := range s.devices {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Hostname < out[j].Hostname })
	return out
}

func (s *Store) Device(id string) (Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.devices[id]
	if !ok {
		return Device{}, ErrNotFound
	}
	return d, nil
}

// UpsertDevice inserts or replaces a device row and persists the collection.
// The write lock is held across the save; inventory writes are rare enough
// that simplicity wins over unlocking early.
func (s *Store) UpsertDevice(d Device) error {
	if d.ID == "" {
		return errors.New("device id required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	d.LastSeen = time.Now().UTC()
	s.devices[d.ID] = d
	return s.persist("devices", s.devices)
}

// ClusterDevices returns the devices mapped to a cluster.
func (s *Store) ClusterDevices(clusterID string) []Device {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Device
	for _, d := range s.devices {
		if d.ClusterID == clusterID {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Hostname < out[j].Hostname })
	return out
}

func (s *Store) Clusters() []Cluster {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Cluster, 0, len(s.clusters))
	for _, c := range s.clusters {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Store) Cluster(id string) (Cluster, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.clusters[id]
	if !ok {
		return Cluster{}, ErrNotFound
	}
	return c, nil
}

func (s *Store) UpsertCluster(c Cluster) error {
	if c.ID == "" {
		return errors.New("cluster id required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c.UpdatedAt = time.Now().UTC()
	s.clusters[c.ID] = c
	return s.persist("clusters", s.clusters)
}

// SetClusterHealth records the host counts the executor observed on its
// last vCenter sweep. Operator-entered fields are left alone.
func (s *Store) SetClusterHealth(id string, totalHosts, healthyHosts int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clusters[id]
	if !ok {
		return ErrNotFound
	}
	c.TotalHosts = totalHosts
	c.HealthyHosts = healthyHosts
	c.UpdatedAt = time.Now().UTC()
	s.clusters[id] = c
	return s.persist("clusters", s.clusters)
}

// CredentialSets returns every credential set reference ordered by priority,
// lowest number first. That order is what discovery scans pass through to
// the executor.
func (s *Store) CredentialSets() []CredentialSet {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]CredentialSet, 0, len(s.credsets))
	for _, cs := range s.credsets {
		out = append(out, cs)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].Name < out[j].Name
	})
	return out
}

func (s *Store) UpsertCredentialSet(cs CredentialSet) error {
	if cs.ID == "" {
		return errors.New("credential set id required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.credsets[cs.ID] = cs
	return s.persist("credential_sets", s.credsets)
}

// OutletsForDevice returns the outlet mappings feeding a device, feed A
// first.
func (s *Store) OutletsForDevice(deviceID string) []OutletMapping {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []OutletMapping
	for _, o := range s.outlets {
		if o.DeviceID == deviceID {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Feed != out[j].Feed {
			return out[i].Feed < out[j].Feed
		}
		return out[i].Outlet < out[j].Outlet
	})
	return out
}

func (s *Store) Outlet(id string) (OutletMapping, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.outlets[id]
	if !ok {
		return OutletMapping{}, ErrNotFound
	}
	return o, nil
}

func (s *Store) UpsertOutlet(o OutletMapping) error {
	if o.ID == "" || o.DeviceID == "" {
		return errors.New("outlet id and device id required")
	}
	if o.Feed != FeedA && o.Feed != FeedB {
		return errors.New("outlet feed must be A or B")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if o.State == "" {
		o.State = OutletStateUnknown
	}
	o.UpdatedAt = time.Now().UTC()
	s.outlets[o.ID] = o
	return s.persist("outlets", s.outlets)
}

// SetOutletState records the state the executor observed after an action
// settled.
func (s *Store) SetOutletState(id string, state OutletState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.outlets[id]
	if !ok {
		return ErrNotFound
	}
	o.State = state
	o.UpdatedAt = time.Now().UTC()
	s.outlets[id] = o
	return s.persist("outlets", s.outlets)
}
