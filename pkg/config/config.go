// Package config defines the CFDP entity MIB (Management Information
// Base): the per-entity options table, loadable from YAML.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/karatinsa/cfdp-go/pkg/pdu"
)

// EntityConfig is the MIB's recognised options table.
type EntityConfig struct {
	EntityID             uint64        `yaml:"entityId"`
	EntityIDLength       uint8         `yaml:"entityIdLength"`
	SequenceNumberLength uint8         `yaml:"sequenceNumberLength"`
	MaxFileSegmentLength uint32        `yaml:"maxFileSegmentLength"`
	DefaultMode          string        `yaml:"defaultTransmissionMode"` // "acknowledged" | "unacknowledged"
	DefaultChecksumType  string        `yaml:"defaultChecksumType"`     // "modular" | "crc32" | "crc32c" | "null"
	InactivityTimeout    time.Duration `yaml:"inactivityTimeout"`
	AckTimeout           time.Duration `yaml:"ackTimeout"`
	NakTimeout           time.Duration `yaml:"nakTimeout"`
	MaxAckRetries        int           `yaml:"maxAckRetries"`
	MaxNakRetries        int           `yaml:"maxNakRetries"`
	FilestoreRoot        string        `yaml:"filestoreRoot"`
	UseCRC               bool          `yaml:"useCrc"`
	RemoteEntities       []RemoteEntityConfig `yaml:"remoteEntities"`
}

// RemoteEntityConfig is a per-peer MIB override.
type RemoteEntityConfig struct {
	EntityID             uint64 `yaml:"entityId"`
	MaxFileSegmentLength uint32 `yaml:"maxFileSegmentLength"`
	TransmissionMode     string `yaml:"transmissionMode"`
	ChecksumType         string `yaml:"checksumType"`
}

// Defaults returns sane values for a minimal entity: entity/sequence id
// widths of 4 octets, a 512-byte max segment, Unacknowledged/CRC32 by
// default, and conservative retry ceilings.
func Defaults() EntityConfig {
	return EntityConfig{
		EntityIDLength:       4,
		SequenceNumberLength: 4,
		MaxFileSegmentLength: 512,
		DefaultMode:          "unacknowledged",
		DefaultChecksumType:  "crc32",
		InactivityTimeout:    60 * time.Second,
		AckTimeout:           10 * time.Second,
		NakTimeout:           10 * time.Second,
		MaxAckRetries:        3,
		MaxNakRetries:        3,
		FilestoreRoot:        ".",
	}
}

// Load reads an EntityConfig from a YAML file, layering it over Defaults().
func Load(path string) (EntityConfig, error) {
	cfg := Defaults()

	f, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if cfg.EntityIDLength == 0 {
		cfg.EntityIDLength = 4
	}
	if cfg.SequenceNumberLength == 0 {
		cfg.SequenceNumberLength = 4
	}
	if cfg.MaxFileSegmentLength == 0 {
		cfg.MaxFileSegmentLength = 512
	}

	return cfg, nil
}

// ModeFromString parses the YAML-friendly mode name used by
// DefaultMode/RemoteEntityConfig.TransmissionMode.
func ModeFromString(s string) pdu.TransmissionMode {
	if s == "acknowledged" {
		return pdu.ModeAcknowledged
	}
	return pdu.ModeUnacknowledged
}

// ChecksumFromString parses the YAML-friendly checksum type name used by
// DefaultChecksumType/RemoteEntityConfig.ChecksumType.
func ChecksumFromString(s string) pdu.ChecksumType {
	switch s {
	case "modular":
		return pdu.ChecksumModular
	case "crc32c":
		return pdu.ChecksumCRC32C
	case "null":
		return pdu.ChecksumNull
	default:
		return pdu.ChecksumCRC32
	}
}

// RemoteEntity looks up a per-peer override by entity id.
func (c EntityConfig) RemoteEntity(id uint64) (RemoteEntityConfig, bool) {
	for _, r := range c.RemoteEntities {
		if r.EntityID == id {
			return r, true
		}
	}
	return RemoteEntityConfig{}, false
}
