package config

import (
	"fmt"
	"os"
	"strings"

	"stationbook/internal/models"
	"stationbook/internal/timewindow"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// StationGroupConfig describes stations of one type inside a room.
// Either Stations (explicit ids) or Count (ids generated as <TYPE><NN>) is set.
type StationGroupConfig struct {
	Type         string   `yaml:"type"`
	PricePerHour float64  `yaml:"price_per_hour"`
	Count        int      `yaml:"count,omitempty"`
	Stations     []string `yaml:"stations,omitempty"`
}

// RoomConfig represents a room with its station groups.
type RoomConfig struct {
	Name   string               `yaml:"name"`
	Groups []StationGroupConfig `yaml:"groups"`
}

// VenueConfig represents a single venue configuration.
type VenueConfig struct {
	ID          string       `yaml:"id"`
	Name        string       `yaml:"name"`
	OwnerID     string       `yaml:"owner_id"`
	Address     string       `yaml:"address"`
	OpeningTime string       `yaml:"opening_time"` // "10:00 AM"
	ClosingTime string       `yaml:"closing_time"` // "11:00 PM"
	Timezone    string       `yaml:"timezone,omitempty"`
	StaffChatID int64        `yaml:"staff_chat_id,omitempty"`
	IsActive    *bool        `yaml:"is_active,omitempty"`
	Rooms       []RoomConfig `yaml:"rooms"`
}

// VenueDefaultsConfig holds values applied to venues that omit them.
type VenueDefaultsConfig struct {
	OpeningTime string `yaml:"opening_time"`
	ClosingTime string `yaml:"closing_time"`
	Timezone    string `yaml:"timezone"`
}

// VenuesConfig is the root of venues.yaml.
type VenuesConfig struct {
	Venues   []VenueConfig       `yaml:"venues"`
	Defaults VenueDefaultsConfig `yaml:"defaults"`
}

// LoadVenuesConfig loads and validates the venue inventory from YAML.
func LoadVenuesConfig(path string) (*VenuesConfig, error) {
	if path == "" {
		path = "configs/venues.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read venues config: %w", err)
	}

	return ParseVenuesConfig(data)
}

// ParseVenuesConfig parses, defaults and validates raw YAML.
func ParseVenuesConfig(data []byte) (*VenuesConfig, error) {
	var cfg VenuesConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse venues config: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate venues config: %w", err)
	}

	return &cfg, nil
}

// Validate checks the configuration for errors.
func (c *VenuesConfig) Validate() error {
	if len(c.Venues) == 0 {
		return fmt.Errorf("no venues defined")
	}

	ids := make(map[string]bool)
	for i, v := range c.Venues {
		if v.ID == "" {
			return fmt.Errorf("venue[%d]: id is required", i)
		}
		if ids[v.ID] {
			return fmt.Errorf("venue[%d]: duplicate id '%s'", i, v.ID)
		}
		ids[v.ID] = true

		if v.Name == "" {
			return fmt.Errorf("venue[%d]: name is required", i)
		}
		if v.OwnerID == "" {
			return fmt.Errorf("venue[%d]: owner_id is required", i)
		}
		if _, err := timewindow.OpeningWindow(v.OpeningTime, v.ClosingTime); err != nil {
			return fmt.Errorf("venue[%d]: %v", i, err)
		}
		if len(v.Rooms) == 0 {
			return fmt.Errorf("venue[%d]: at least one room is required", i)
		}

		rooms := make(map[string]bool)
		stations := make(map[string]bool)
		for j, r := range v.Rooms {
			prefix := fmt.Sprintf("venue[%d].rooms[%d]", i, j)
			if r.Name == "" {
				return fmt.Errorf("%s: name is required", prefix)
			}
			if rooms[r.Name] {
				return fmt.Errorf("%s: duplicate room '%s'", prefix, r.Name)
			}
			rooms[r.Name] = true

			if len(r.Groups) == 0 {
				return fmt.Errorf("%s: at least one station group is required", prefix)
			}
			types := make(map[string]bool)
			for k, g := range r.Groups {
				gp := fmt.Sprintf("%s.groups[%d]", prefix, k)
				if g.Type == "" {
					return fmt.Errorf("%s: type is required", gp)
				}
				if types[g.Type] {
					return fmt.Errorf("%s: duplicate type '%s'", gp, g.Type)
				}
				types[g.Type] = true
				if g.PricePerHour < 0 {
					return fmt.Errorf("%s: price_per_hour cannot be negative", gp)
				}
				if len(g.Stations) == 0 {
					return fmt.Errorf("%s: stations or count is required", gp)
				}
				for _, id := range g.Stations {
					if stations[id] {
						return fmt.Errorf("%s: duplicate station id '%s'", gp, id)
					}
					stations[id] = true
				}
			}
		}
	}

	return nil
}

// applyDefaults fills venue-level defaults and materializes counted groups into station ids.
func (c *VenuesConfig) applyDefaults() {
	for i := range c.Venues {
		v := &c.Venues[i]
		if v.OpeningTime == "" {
			v.OpeningTime = c.Defaults.OpeningTime
		}
		if v.ClosingTime == "" {
			v.ClosingTime = c.Defaults.ClosingTime
		}
		if v.Timezone == "" {
			v.Timezone = c.Defaults.Timezone
		}
		if v.IsActive == nil {
			active := true
			v.IsActive = &active
		}

		next := make(map[string]int)
		for j := range v.Rooms {
			for k := range v.Rooms[j].Groups {
				g := &v.Rooms[j].Groups[k]
				if len(g.Stations) > 0 || g.Count <= 0 {
					continue
				}
				prefix := strings.ToUpper(strings.ReplaceAll(g.Type, " ", ""))
				for n := 0; n < g.Count; n++ {
					next[prefix]++
					g.Stations = append(g.Stations, fmt.Sprintf("%s%02d", prefix, next[prefix]))
				}
			}
		}
	}
}

// GetVenueByID returns venue config by id.
func (c *VenuesConfig) GetVenueByID(id string) *VenueConfig {
	for i := range c.Venues {
		if c.Venues[i].ID == id {
			return &c.Venues[i]
		}
	}
	return nil
}

// ToModels converts the configuration into inventory snapshots.
func (c *VenuesConfig) ToModels() []models.Venue {
	out := make([]models.Venue, 0, len(c.Venues))
	for _, v := range c.Venues {
		venue := models.Venue{
			ID:          v.ID,
			Name:        v.Name,
			OwnerID:     v.OwnerID,
			Address:     v.Address,
			OpeningTime: v.OpeningTime,
			ClosingTime: v.ClosingTime,
			Timezone:    v.Timezone,
			StaffChatID: v.StaffChatID,
			IsActive:    v.IsActive == nil || *v.IsActive,
		}
		for _, r := range v.Rooms {
			room := models.Room{Name: r.Name}
			for _, g := range r.Groups {
				room.Groups = append(room.Groups, models.StationGroup{
					Type:         g.Type,
					Count:        len(g.Stations),
					PricePerHour: decimal.NewFromFloat(g.PricePerHour),
					StationIDs:   append([]string(nil), g.Stations...),
				})
			}
			venue.Rooms = append(venue.Rooms, room)
		}
		out = append(out, venue)
	}
	return out
}

// String returns a summary of the configuration.
func (c *VenuesConfig) String() string {
	stations := 0
	for _, v := range c.Venues {
		for _, r := range v.Rooms {
			for _, g := range r.Groups {
				stations += len(g.Stations)
			}
		}
	}
	return fmt.Sprintf("VenuesConfig: %d venues, %d stations", len(c.Venues), stations)
}
