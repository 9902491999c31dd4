// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package supervisor

import (
	"sort"
	"sync"
)

// ProcessDefinition is a static catalog entry.
type ProcessDefinition struct {
	Name        string `json:"name"`
	Command     string `json:"command"`
	Description string `json:"description"`
	AutoRestart bool   `json:"auto_restart"`
	Singleton   bool   `json:"singleton"`
	RequiresDB  bool   `json:"requires_db"`
	// Priority orders package starts; low values start first and stop last.
	Priority uint8 `json:"priority"`
	// HangCheck enables CPU activity based hang detection.
	HangCheck bool `json:"hang_check"`
	// Roster marks daemons started by a package start without extra args.
	Roster bool `json:"roster"`
}

// DefaultCatalog returns the ZoneMinder daemon roster.
func DefaultCatalog() []ProcessDefinition {
	return []ProcessDefinition{
		{Name: "zmc", Command: "zmc", Description: "Capture daemon", AutoRestart: true, RequiresDB: true, Priority: 10, HangCheck: true},
		{Name: "zma", Command: "zma", Description: "Analysis daemon (legacy)", AutoRestart: true, RequiresDB: true, Priority: 20, HangCheck: true},
		{Name: "zmfilter.pl", Command: "zmfilter.pl", Description: "Event filter processor", AutoRestart: true, RequiresDB: true, Priority: 30, Roster: true},
		{Name: "zmaudit.pl", Command: "zmaudit.pl", Description: "Event store auditor", AutoRestart: true, Singleton: true, RequiresDB: true, Priority: 40, Roster: true},
		{Name: "zmtrigger.pl", Command: "zmtrigger.pl", Description: "External trigger listener", AutoRestart: true, Singleton: true, RequiresDB: true, Priority: 50},
		{Name: "zmx10.pl", Command: "zmx10.pl", Description: "X10 device controller", AutoRestart: true, Singleton: true, RequiresDB: true, Priority: 60},
		{Name: "zmwatch.pl", Command: "zmwatch.pl", Description: "Capture watchdog", AutoRestart: true, Singleton: true, RequiresDB: true, Priority: 70, Roster: true},
		{Name: "zmupdate.pl", Command: "zmupdate.pl", Description: "Update checker", AutoRestart: true, Singleton: true, RequiresDB: true, Priority: 80, Roster: true},
		{Name: "zmstats.pl", Command: "zmstats.pl", Description: "Statistics collector", AutoRestart: true, Singleton: true, RequiresDB: true, Priority: 90, Roster: true},
		{Name: "zmtrack.pl", Command: "zmtrack.pl", Description: "PTZ motion tracker", AutoRestart: true, RequiresDB: true, Priority: 100},
		{Name: "zmcontrol.pl", Command: "zmcontrol.pl", Description: "PTZ control server", AutoRestart: true, RequiresDB: true, Priority: 100},
		{Name: "zmtelemetry.pl", Command: "zmtelemetry.pl", Description: "Telemetry reporter", AutoRestart: true, Singleton: true, RequiresDB: true, Priority: 110, Roster: true},
		{Name: "zmeventnotification.pl", Command: "zmeventnotification.pl", Description: "Event notification server", AutoRestart: true, Singleton: true, RequiresDB: true, Priority: 120},
	}
}

// Catalog is a concurrency-safe set of definitions keyed by name.
type Catalog struct {
	mu   sync.RWMutex
	defs map[string]ProcessDefinition
}

// NewCatalog builds a catalog from defs. Later duplicates win.
func NewCatalog(defs []ProcessDefinition) *Catalog {
	c := &Catalog{defs: make(map[string]ProcessDefinition, len(defs))}
	for _, d := range defs {
		c.defs[d.Name] = d
	}
	return c
}

// Lookup returns the definition for name.
func (c *Catalog) Lookup(name string) (ProcessDefinition, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.defs[name]
	return d, ok
}

// Put adds or replaces a definition.
func (c *Catalog) Put(def ProcessDefinition) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.defs[def.Name] = def
}

// Remove deletes a definition.
func (c *Catalog) Remove(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.defs, name)
}

// Definitions returns all definitions ordered by priority, then name.
func (c *Catalog) Definitions() []ProcessDefinition {
	c.mu.RLock()
	out := make([]ProcessDefinition, 0, len(c.defs))
	for _, d := range c.defs {
		out = append(out, d)
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].Name < out[j].Name
	})
	return out
}
