package musiccast

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Topology is the static description of how devices are wired together:
// which local input carries which remote device's output, which zones are
// dedicated to a physical location, and which non-MusicCast devices exist
// at the far end of a feed. It replaces nothing at runtime — discovery
// still decides which MusicCast devices are alive — but source resolution
// cannot work without it.
type Topology struct {
	Devices []DeviceTopology `yaml:"devices"`
}

// DeviceTopology is one device's wiring entry.
type DeviceTopology struct {
	// ID is the vendor device id for MusicCast devices, or any unique
	// label for non-MusicCast hardware.
	ID string `yaml:"id"`

	// MusicCast marks devices reachable over the vendor protocol.
	MusicCast bool `yaml:"musiccast"`

	// Sources lists the source ids a non-MusicCast device offers. Ignored
	// for MusicCast devices, whose sources come from the capability tree.
	Sources []string `yaml:"sources,omitempty"`

	// AmplifiedZones names zones dedicated to a physical location. Source
	// resolution never powers these on as a side effect.
	AmplifiedZones []string `yaml:"amplified_zones,omitempty"`

	// Feeds wires local inputs to remote zones.
	Feeds []FeedWiring `yaml:"feeds,omitempty"`
}

// FeedWiring wires one local input to a remote device's zone.
type FeedWiring struct {
	Input        string `yaml:"input"`
	RemoteDevice string `yaml:"remote_device"`
	RemoteZone   string `yaml:"remote_zone"`
}

// LoadTopology reads and validates a topology file.
func LoadTopology(path string) (*Topology, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading topology file: %w", ErrConfig, err)
	}

	var topo Topology
	if err := yaml.Unmarshal(data, &topo); err != nil {
		return nil, fmt.Errorf("%w: parsing topology file: %w", ErrConfig, err)
	}

	if err := topo.Validate(); err != nil {
		return nil, err
	}
	return &topo, nil
}

// Validate checks id uniqueness, that every feed's remote end is a
// declared device, and that feed wiring is acyclic. Source resolution
// locks devices along the feed chain, so a wiring loop would deadlock
// two actors against each other.
func (t *Topology) Validate() error {
	seen := make(map[string]bool, len(t.Devices))
	for _, dev := range t.Devices {
		if dev.ID == "" {
			return fmt.Errorf("%w: topology device without id", ErrConfig)
		}
		if seen[dev.ID] {
			return fmt.Errorf("%w: duplicate topology device id %q", ErrConfig, dev.ID)
		}
		seen[dev.ID] = true
	}
	edges := make(map[string][]string, len(t.Devices))
	for _, dev := range t.Devices {
		for _, feed := range dev.Feeds {
			if feed.Input == "" || feed.RemoteDevice == "" || feed.RemoteZone == "" {
				return fmt.Errorf("%w: incomplete feed wiring on device %q", ErrConfig, dev.ID)
			}
			if feed.RemoteDevice == dev.ID {
				return fmt.Errorf("%w: feed %s on device %q references itself", ErrConfig, feed.Input, dev.ID)
			}
			if !seen[feed.RemoteDevice] {
				return fmt.Errorf("%w: feed %s on device %q references unknown device %q",
					ErrConfig, feed.Input, dev.ID, feed.RemoteDevice)
			}
			edges[dev.ID] = append(edges[dev.ID], feed.RemoteDevice)
		}
	}
	return t.checkAcyclic(edges)
}

// checkAcyclic walks the feed graph depth-first rejecting any cycle.
func (t *Topology) checkAcyclic(edges map[string][]string) error {
	const (
		visiting = 1
		done     = 2
	)
	marks := make(map[string]int, len(t.Devices))
	var walk func(id string) error
	walk = func(id string) error {
		switch marks[id] {
		case visiting:
			return fmt.Errorf("%w: feed wiring forms a cycle through device %q", ErrConfig, id)
		case done:
			return nil
		}
		marks[id] = visiting
		for _, next := range edges[id] {
			if err := walk(next); err != nil {
				return err
			}
		}
		marks[id] = done
		return nil
	}
	for _, dev := range t.Devices {
		if err := walk(dev.ID); err != nil {
			return err
		}
	}
	return nil
}

// Device returns the entry for id, or nil.
func (t *Topology) Device(id string) *DeviceTopology {
	if t == nil {
		return nil
	}
	for i := range t.Devices {
		if t.Devices[i].ID == id {
			return &t.Devices[i]
		}
	}
	return nil
}

// FeedFor returns the wiring for a local input on a device, or nil.
func (t *Topology) FeedFor(deviceID, inputID string) *FeedWiring {
	dev := t.Device(deviceID)
	if dev == nil {
		return nil
	}
	for i := range dev.Feeds {
		if dev.Feeds[i].Input == inputID {
			return &dev.Feeds[i]
		}
	}
	return nil
}

// Amplified reports whether zoneID on deviceID is dedicated to a physical
// location.
func (t *Topology) Amplified(deviceID, zoneID string) bool {
	dev := t.Device(deviceID)
	if dev == nil {
		return false
	}
	for _, z := range dev.AmplifiedZones {
		if z == zoneID {
			return true
		}
	}
	return false
}
