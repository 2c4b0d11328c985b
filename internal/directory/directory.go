// Package directory resolves city names to the OpenAQ locations that cover them.
package directory

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/i474232898/air-quality-aggregation/internal/airquality"
)

var ErrCityNotFound = errors.New("city not found")

// Location is one monitoring station of a city.
type Location struct {
	ID   airquality.LocationID `json:"id"`
	Name string                `json:"name,omitempty"`
}

// City is a directory entry.
type City struct {
	Name      string     `json:"name"`
	Country   string     `json:"country"`
	Locations []Location `json:"locations"`
}

// Request builds the aggregation request for the city.
func (c City) Request() airquality.AggregateRequest {
	ids := make([]airquality.LocationID, 0, len(c.Locations))
	for _, l := range c.Locations {
		ids = append(ids, l.ID)
	}
	return airquality.AggregateRequest{City: c.Name, Country: c.Country, LocationIDs: ids}
}

type document struct {
	Cities []City `json:"cities"`
}

// Directory is a read-mostly set of cities keyed by lower-cased name.
type Directory struct {
	mu     sync.RWMutex
	cities map[string]City
}

// New returns a directory holding cities. Later entries replace earlier ones
// with the same name.
func New(cities ...City) *Directory {
	d := &Directory{cities: make(map[string]City, len(cities))}
	d.Replace(cities)
	return d
}

// Load reads a JSON document of the form {"cities":[...]}.
func Load(r io.Reader) (*Directory, error) {
	var doc document
	dec := json.NewDecoder(r)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode city directory: %w", err)
	}
	for i, c := range doc.Cities {
		if strings.TrimSpace(c.Name) == "" || strings.TrimSpace(c.Country) == "" {
			return nil, fmt.Errorf("city directory entry %d: name and country are required", i)
		}
	}
	return New(doc.Cities...), nil
}

// LoadFile reads the directory from path. An empty path yields an empty directory.
func LoadFile(path string) (*Directory, error) {
	if path == "" {
		return New(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open city directory: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// Replace swaps the directory contents.
func (d *Directory) Replace(cities []City) {
	m := make(map[string]City, len(cities))
	for _, c := range cities {
		c.Name = strings.TrimSpace(c.Name)
		c.Country = strings.TrimSpace(c.Country)
		m[strings.ToLower(c.Name)] = c
	}
	d.mu.Lock()
	d.cities = m
	d.mu.Unlock()
}

// Lookup finds a city by name, ignoring case and surrounding whitespace.
func (d *Directory) Lookup(name string) (City, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.cities[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return City{}, fmt.Errorf("%w: %s", ErrCityNotFound, name)
	}
	return c, nil
}

// List returns all cities ordered by name.
func (d *Directory) List() []City {
	d.mu.RLock()
	out := make([]City, 0, len(d.cities))
	for _, c := range d.cities {
		out = append(out, c)
	}
	d.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.cities)
}
