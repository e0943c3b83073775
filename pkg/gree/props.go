package gree

import (
	"fmt"
	"strings"
)

// Property is the wire key of a device property.
type Property string

// Key returns the wire key.
func (p Property) Key() string { return string(p) }

// schema describes the property set of one device variant.
type schema struct {
	name       string
	properties []Property
	// companions are sent along with a dirty property even when they are
	// not dirty themselves.
	companions map[Property][]Property
	// sensor is the temperature reading used to detect old firmware.
	sensor Property
	// names maps the lower case semantic name to its property.
	names map[string]Property
}

func newSchema(name string, named []namedProperty) *schema {
	s := &schema{
		name:  name,
		names: make(map[string]Property, len(named)),
	}
	for _, n := range named {
		s.properties = append(s.properties, n.prop)
		s.names[n.name] = n.prop
	}
	return s
}

type namedProperty struct {
	name string
	prop Property
}

// lookup resolves a semantic name such as "power" or a wire key such as
// "Pow".
func (s *schema) lookup(name string) (Property, error) {
	if p, ok := s.names[strings.ToLower(name)]; ok {
		return p, nil
	}
	for _, p := range s.properties {
		if string(p) == name {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: %q is not a %s property", ErrInvalidProperty, name, s.name)
}

// Names returns the semantic property names of the variant.
func (s *schema) Names() []string {
	names := make([]string, 0, len(s.names))
	for name := range s.names {
		names = append(names, name)
	}
	return names
}

// LookupProperty resolves a semantic name or wire key for the device
// variant.
func (d *Device) LookupProperty(name string) (Property, error) {
	return d.schema.lookup(name)
}

// PropertyNames returns the semantic names the variant understands.
func (d *Device) PropertyNames() []string {
	return d.schema.Names()
}

// KnownProperties returns the properties polled by UpdateState.
func (d *Device) KnownProperties() []Property {
	return append([]Property(nil), d.schema.properties...)
}
