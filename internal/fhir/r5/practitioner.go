package r5

import "strings"

// Practitioner represents a FHIR R5 Practitioner resource.
type Practitioner struct {
	ResourceType string       `json:"resourceType"`
	ID           string       `json:"id,omitempty"`
	Meta         *Meta        `json:"meta,omitempty"`
	Identifier   []Identifier `json:"identifier,omitempty"`
	Active       *bool        `json:"active,omitempty"`
	Name         []HumanName  `json:"name,omitempty"`
}

// GetNPI returns the practitioner's NPI.
func (p *Practitioner) GetNPI() string {
	for _, id := range p.Identifier {
		if id.System == SystemNPI {
			return id.Value
		}
	}
	return ""
}

// GetOfficialName returns the practitioner's official name, falling back
// to the first one.
func (p *Practitioner) GetOfficialName() *HumanName {
	for i := range p.Name {
		if p.Name[i].Use == "official" {
			return &p.Name[i]
		}
	}
	if len(p.Name) > 0 {
		return &p.Name[0]
	}
	return nil
}

// GetFullName renders the official name: text if present, else
// prefixes, given names, family and suffixes.
func (p *Practitioner) GetFullName() string {
	name := p.GetOfficialName()
	if name == nil {
		return ""
	}
	if t := strings.TrimSpace(name.Text); t != "" {
		return t
	}
	parts := make([]string, 0, len(name.Prefix)+len(name.Given)+1)
	parts = append(parts, name.Prefix...)
	parts = append(parts, name.Given...)
	if name.Family != "" {
		parts = append(parts, name.Family)
	}
	full := strings.Join(parts, " ")
	for _, suffix := range name.Suffix {
		full += ", " + suffix
	}
	return strings.TrimSpace(full)
}

// IsActive reports whether the record is usable. A missing flag counts as active.
func (p *Practitioner) IsActive() bool {
	return p.Active == nil || *p.Active
}
