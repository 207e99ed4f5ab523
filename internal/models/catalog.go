package models

import (
	"errors"
	"fmt"
	"strings"
)

// LayerDescriptor is one entry of the layer catalog.
type LayerDescriptor struct {
	Name       string    `yaml:"name"`
	Path       string    `yaml:"path"`
	Fields     []string  `yaml:"fields"`
	Categories []Utility `yaml:"categories"`
}

// In reports whether the layer is tagged with u.
func (l LayerDescriptor) In(u Utility) bool {
	return containsUtility(l.Categories, u)
}

// OutputName is the file/table name used for the layer's exports.
func (l LayerDescriptor) OutputName() string {
	return strings.ReplaceAll(strings.TrimSpace(l.Name), " ", "_")
}

// MandatoryFields are kept on every exported layer in addition to its projection.
// Geometry is always carried and is not listed here.
var MandatoryFields = []string{"OBJECTID"}

// Project matches the layer's field list against the fields a source actually has,
// ignoring case. It returns the source spellings to keep, mandatory fields first, and
// the configured fields the source lacks.
func (l LayerDescriptor) Project(available []string) (keep, missing []string) {
	bySpelling := make(map[string]string, len(available))
	for _, a := range available {
		bySpelling[strings.ToLower(a)] = a
	}
	seen := make(map[string]bool)
	add := func(f string) bool {
		src, ok := bySpelling[strings.ToLower(f)]
		if !ok {
			return false
		}
		if !seen[strings.ToLower(src)] {
			seen[strings.ToLower(src)] = true
			keep = append(keep, src)
		}
		return true
	}
	for _, f := range MandatoryFields {
		add(f)
	}
	for _, f := range l.Fields {
		if !add(f) {
			missing = append(missing, f)
		}
	}
	return keep, missing
}

// Catalog is the static registry of extractable layers, in export order.
type Catalog struct {
	layers []LayerDescriptor
	byName map[string]int
}

// NewCatalog validates layers and builds a catalog from them.
func NewCatalog(layers []LayerDescriptor) (*Catalog, error) {
	c := &Catalog{byName: make(map[string]int, len(layers))}
	var errs []error
	for _, l := range layers {
		l.Name = strings.TrimSpace(l.Name)
		if l.Name == "" {
			errs = append(errs, errors.New("catalog: layer with empty name"))
			continue
		}
		if strings.TrimSpace(l.Path) == "" {
			errs = append(errs, fmt.Errorf("catalog: layer %q has no path", l.Name))
		}
		if len(l.Categories) == 0 {
			errs = append(errs, fmt.Errorf("catalog: layer %q has no category", l.Name))
		}
		cats := make([]Utility, 0, len(l.Categories))
		for _, u := range l.Categories {
			u = normalizeCategory(u)
			if !isCategory(u) {
				errs = append(errs, fmt.Errorf("catalog: layer %q has invalid category %q", l.Name, u))
				continue
			}
			if !containsUtility(cats, u) {
				cats = append(cats, u)
			}
		}
		l.Categories = cats
		key := strings.ToLower(l.Name)
		if _, dup := c.byName[key]; dup {
			errs = append(errs, fmt.Errorf("catalog: duplicate layer %q", l.Name))
			continue
		}
		c.byName[key] = len(c.layers)
		c.layers = append(c.layers, l)
	}
	if len(c.layers) == 0 && len(errs) == 0 {
		errs = append(errs, errors.New("catalog: no layers defined"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return c, nil
}

// Layers returns every catalog layer in catalog order.
func (c *Catalog) Layers() []LayerDescriptor {
	out := make([]LayerDescriptor, len(c.layers))
	copy(out, c.layers)
	return out
}

// Lookup finds a layer by name, ignoring case.
func (c *Catalog) Lookup(name string) (LayerDescriptor, bool) {
	i, ok := c.byName[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return LayerDescriptor{}, false
	}
	return c.layers[i], true
}

// InCategory returns the layers tagged with u.
func (c *Catalog) InCategory(u Utility) []LayerDescriptor {
	var out []LayerDescriptor
	for _, l := range c.layers {
		if l.In(u) {
			out = append(out, l)
		}
	}
	return out
}

// Select returns the working layer set for the requested utilities: every layer for
// the wildcard or an empty selection, otherwise the union of the requested categories,
// deduplicated and in catalog order.
func (c *Catalog) Select(utilities []Utility) []LayerDescriptor {
	if len(utilities) == 0 || containsUtility(utilities, UtilityAll) {
		return c.Layers()
	}
	seen := make(map[string]bool)
	var out []LayerDescriptor
	for _, l := range c.layers {
		if seen[l.Name] || !l.inAny(utilities) {
			continue
		}
		seen[l.Name] = true
		out = append(out, l)
	}
	return out
}

func (l LayerDescriptor) inAny(utilities []Utility) bool {
	for _, u := range utilities {
		if l.In(u) {
			return true
		}
	}
	return false
}

func normalizeCategory(u Utility) Utility {
	if canon, ok := utilityAliases[strings.ToLower(strings.TrimSpace(string(u)))]; ok {
		return canon
	}
	return u
}

func isCategory(u Utility) bool {
	for _, c := range Categories {
		if c == u {
			return true
		}
	}
	return false
}

// DefaultLayers is the utility layer catalog used when the settings document does not
// define one.
func DefaultLayers() []LayerDescriptor {
	return []LayerDescriptor{
		{Name: "Curb Stop", Categories: []Utility{UtilityWater}, Path: "/layers/curb_stop", Fields: []string{"FacilityID", "Diameter", "InstallYear", "LifeCycleStatus"}},
		{Name: "System Valve", Categories: []Utility{UtilityWater}, Path: "/layers/system_valve", Fields: []string{"FacilityID", "Diameter", "ValveType", "WaterType", "LifeCycleStatus"}},
		{Name: "Fire Hydrant", Categories: []Utility{UtilityWater}, Path: "/layers/fire_hydrant", Fields: []string{"FacilityID", "LifeCycleStatus", "WaterType"}},
		{Name: "Water Main", Categories: []Utility{UtilityWater}, Path: "/layers/water_main", Fields: []string{"FacilityID", "LifeCycleStatus", "Material", "Diameter", "WaterType"}},
		{Name: "Water Lateral", Categories: []Utility{UtilityWater}, Path: "/layers/water_lateral", Fields: []string{"FacilityID", "LifeCycleStatus", "Material", "Size", "Type", "WaterType"}},
		{Name: "Sanitary Clean Out", Categories: []Utility{UtilitySanitary}, Path: "/layers/sanitary_clean_out", Fields: []string{"FacilityID", "LifeCycleStatus", "TopElev"}},
		{Name: "Sanitary Gravity Main", Categories: []Utility{UtilitySanitary}, Path: "/layers/sanitary_gravity_main", Fields: []string{"FacilityID", "LifeCycleStatus", "Material", "Diameter", "InstallYear"}},
		{Name: "Sanitary Force Main", Categories: []Utility{UtilitySanitary}, Path: "/layers/sanitary_force_main", Fields: []string{"FacilityID", "LifeCycleStatus", "Material", "Size", "InstallYear"}},
		{Name: "Sanitary Lateral Line", Categories: []Utility{UtilitySanitary}, Path: "/layers/sanitary_lateral_line", Fields: []string{"FacilityID", "Material", "Diameter", "InstallYear", "LifeCycleStatus"}},
		{Name: "Sanitary Manhole", Categories: []Utility{UtilitySanitary}, Path: "/layers/sanitary_manhole", Fields: []string{"FacilityID", "LifeCycleStatus", "InstallYear", "TopElev"}},
		{Name: "Sanitary Valve", Categories: []Utility{UtilitySanitary}, Path: "/layers/sanitary_valve", Fields: []string{"FacilityID", "LifeCycleStatus"}},
		{Name: "Sanitary Lift Station", Categories: []Utility{UtilitySanitary}, Path: "/layers/sanitary_lift_station", Fields: []string{"FacilityID"}},
		{Name: "Storm Mains", Categories: []Utility{UtilityStorm}, Path: "/layers/storm_mains", Fields: []string{"FacilityID", "Material", "Measurement1", "InstallDate", "LifeCycleStatus"}},
		{Name: "Storm Inlets", Categories: []Utility{UtilityStorm}, Path: "/layers/storm_inlets", Fields: []string{"FacilityID", "LifeCycleStatus", "Type", "InstallDate"}},
		{Name: "Storm Forcemains", Categories: []Utility{UtilityStorm}, Path: "/layers/storm_forcemains", Fields: []string{"FacilityID", "Material", "Measurement1", "InstallDate", "LifeCycleStatus"}},
		{Name: "Storm Lift Station", Categories: []Utility{UtilityStorm}, Path: "/layers/storm_lift_station", Fields: []string{"FacilityID", "LifeCycleStatus"}},
		{Name: "Storm Manholes", Categories: []Utility{UtilityStorm}, Path: "/layers/storm_manholes", Fields: []string{"FacilityID", "LifeCycleStatus", "Type"}},
		{Name: "Storm Outlets", Categories: []Utility{UtilityStorm}, Path: "/layers/storm_outlets", Fields: []string{"FacilityID", "Type", "Sump", "LifeCycleStatus"}},
	}
}
