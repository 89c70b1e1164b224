// Package metadata stores the Session that owns a clone inside the clone's
// libvirt domain, using libvirt's custom XML metadata. A domain carrying this
// metadata was created by marionette and may be deleted by `marionette
// prune` once no session holds its lock.
package metadata

import (
	"encoding/xml"
	"fmt"

	"github.com/digitalocean/go-libvirt"
	"gopkg.in/yaml.v3"

	"github.com/jbweber/marionette/api/v1alpha1"
)

const (
	// MetadataNamespace is the XML namespace for marionette metadata.
	MetadataNamespace = "http://marionette.cofront.xyz/v1alpha1"

	// MetadataKey is the element prefix used in the domain XML.
	MetadataKey = "marionette"
)

// Client is the part of the libvirt API used here. *libvirt.Libvirt
// satisfies it.
type Client interface {
	DomainSetMetadata(Dom libvirt.Domain, Type int32, Metadata libvirt.OptString, Key libvirt.OptString, Uri libvirt.OptString, Flags libvirt.DomainModificationImpact) error
	DomainGetMetadata(Dom libvirt.Domain, Type int32, Uri libvirt.OptString, Flags libvirt.DomainModificationImpact) (string, error)
}

// sessionMetadata is the XML element stored in the domain. The Session is
// kept as YAML text so it stays readable in `virsh dumpxml`.
type sessionMetadata struct {
	XMLName     xml.Name `xml:"session"`
	Xmlns       string   `xml:"xmlns,attr"`
	SessionYAML string   `xml:",chardata"`
}

// Store saves s in the domain's persistent metadata, replacing any earlier
// value.
func Store(l Client, domain libvirt.Domain, s *v1alpha1.Session) error {
	yamlData, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal session to YAML: %w", err)
	}

	xmlData, err := xml.MarshalIndent(sessionMetadata{
		Xmlns:       MetadataNamespace,
		SessionYAML: "\n" + string(yamlData),
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal metadata to XML: %w", err)
	}

	err = l.DomainSetMetadata(
		domain,
		int32(libvirt.DomainMetadataElement),
		libvirt.OptString{string(xmlData)},
		libvirt.OptString{MetadataKey},
		libvirt.OptString{MetadataNamespace},
		libvirt.DomainAffectConfig,
	)
	if err != nil {
		return fmt.Errorf("failed to set libvirt domain metadata: %w", err)
	}
	return nil
}

// Load reads the Session stored in the domain's metadata.
func Load(l Client, domain libvirt.Domain) (*v1alpha1.Session, error) {
	xmlStr, err := l.DomainGetMetadata(
		domain,
		int32(libvirt.DomainMetadataElement),
		libvirt.OptString{MetadataNamespace},
		libvirt.DomainAffectConfig,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get libvirt domain metadata: %w", err)
	}

	var md sessionMetadata
	if err := xml.Unmarshal([]byte(xmlStr), &md); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metadata XML: %w", err)
	}

	var s v1alpha1.Session
	if err := yaml.Unmarshal([]byte(md.SessionYAML), &s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session from YAML: %w", err)
	}
	if s.Kind != "" && s.Kind != v1alpha1.SessionKind {
		return nil, fmt.Errorf("unexpected kind %q in domain metadata", s.Kind)
	}
	return &s, nil
}

// Exists reports whether the domain carries marionette metadata.
func Exists(l Client, domain libvirt.Domain) bool {
	_, err := l.DomainGetMetadata(
		domain,
		int32(libvirt.DomainMetadataElement),
		libvirt.OptString{MetadataNamespace},
		libvirt.DomainAffectConfig,
	)
	return err == nil
}
