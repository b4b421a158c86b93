package catalog

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"bustracker/internal/proximity"
)

// FileSource reads the catalog from a YAML file:
//
//	routes:
//	  - id: "500D"
//	    stops:
//	      - id: Silk Board
//	        sequence: 1
//	        location: {latitude: 12.9177, longitude: 77.6238}
type FileSource struct {
	Path string
}

type fileCatalog struct {
	Routes []fileRoute `yaml:"routes"`
}

type fileRoute struct {
	ID    string           `yaml:"id"`
	Stops []proximity.Stop `yaml:"stops"`
}

func (f FileSource) LoadRoutes(_ context.Context) (map[string][]proximity.Stop, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, err
	}
	return parseFileCatalog(data)
}

func parseFileCatalog(data []byte) (map[string][]proximity.Stop, error) {
	var fc fileCatalog
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse catalog yaml: %w", err)
	}
	routes := make(map[string][]proximity.Stop, len(fc.Routes))
	for i, r := range fc.Routes {
		if r.ID == "" {
			return nil, fmt.Errorf("route #%d has no id", i+1)
		}
		if _, dup := routes[r.ID]; dup {
			return nil, fmt.Errorf("route %q defined twice", r.ID)
		}
		for j, s := range r.Stops {
			if s.ID == "" {
				return nil, fmt.Errorf("route %q: stop #%d has no id", r.ID, j+1)
			}
		}
		routes[r.ID] = r.Stops
	}
	return routes, nil
}
