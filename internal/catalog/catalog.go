// Package catalog is the pricing source for purchasable services. Entries are
// loaded once from a YAML file and are read-only afterwards.
package catalog

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"agentdesk/internal/apperr"
	"agentdesk/internal/models"
	"agentdesk/internal/money"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v2"
)

type entry struct {
	ID             string `yaml:"id"`
	Name           string `yaml:"name"`
	Category       string `yaml:"category"`
	Price          string `yaml:"price"`
	CommissionRate string `yaml:"commission_rate"`
	Active         bool   `yaml:"active"`
	Instant        bool   `yaml:"instant"`
	ProviderURL    string `yaml:"provider_url"`
}

type file struct {
	Services []entry `yaml:"services"`
}

type Catalog struct {
	byID  map[string]models.Service
	order []string
}

// LoadFile reads a catalog file. Relative paths resolve against the working
// directory.
func LoadFile(path string) (*Catalog, error) {
	if !filepath.IsAbs(path) {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
		path = filepath.Join(wd, path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("unable to read %s: %w", path, err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Catalog, error) {
	var doc file
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("unable to parse catalog: %w", err)
	}
	services := make([]models.Service, 0, len(doc.Services))
	for i, e := range doc.Services {
		svc, err := e.service()
		if err != nil {
			return nil, fmt.Errorf("service at index %d: %w", i, err)
		}
		services = append(services, svc)
	}
	return New(services...)
}

func (e entry) service() (models.Service, error) {
	if e.ID == "" {
		return models.Service{}, fmt.Errorf("missing id")
	}
	if e.Category == "" {
		return models.Service{}, fmt.Errorf("%s: missing category", e.ID)
	}
	price := decimal.Zero
	if e.Price != "" && e.Price != "0" {
		parsed, err := money.Parse(e.Price)
		if err != nil {
			return models.Service{}, fmt.Errorf("%s: price: %w", e.ID, err)
		}
		price = parsed
	}
	rate, err := money.ParseRate(e.CommissionRate)
	if err != nil {
		return models.Service{}, fmt.Errorf("%s: commission_rate: %w", e.ID, err)
	}
	name := e.Name
	if name == "" {
		name = e.ID
	}
	return models.Service{
		ID:             e.ID,
		Name:           name,
		Category:       e.Category,
		Price:          price,
		CommissionRate: rate,
		Active:         e.Active,
		Instant:        e.Instant,
		ProviderURL:    e.ProviderURL,
	}, nil
}

// New builds a catalog from already-parsed services. Duplicate ids are an
// error.
func New(services ...models.Service) (*Catalog, error) {
	c := &Catalog{byID: make(map[string]models.Service, len(services))}
	for _, svc := range services {
		if _, ok := c.byID[svc.ID]; ok {
			return nil, fmt.Errorf("duplicate service id %q", svc.ID)
		}
		c.byID[svc.ID] = svc
		c.order = append(c.order, svc.ID)
	}
	sort.Strings(c.order)
	return c, nil
}

// Lookup returns the service whether or not it is active; callers decide what
// an inactive service means.
func (c *Catalog) Lookup(serviceID string) (models.Service, error) {
	svc, ok := c.byID[serviceID]
	if !ok {
		return models.Service{}, apperr.E(apperr.NotFound, "catalog.Lookup", "service "+serviceID+" not found")
	}
	return svc, nil
}

func (c *Catalog) Services() []models.Service {
	out := make([]models.Service, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.byID[id])
	}
	return out
}

func (c *Catalog) Active() []models.Service {
	out := make([]models.Service, 0, len(c.order))
	for _, id := range c.order {
		if svc := c.byID[id]; svc.Active {
			out = append(out, svc)
		}
	}
	return out
}
