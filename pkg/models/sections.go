package models

import (
	"fmt"

	"github.com/go-viper/mapstructure/v2"
)

// Config section names understood by the overlay. Unknown names are
// rejected at the API boundary rather than stored opaquely.
const (
	SectionBluetooth = "bluetooth"
	SectionDisplay   = "display"
	SectionSecurity  = "security"
	SectionLoRa      = "lora"
	SectionPosition  = "position"
)

// ConfigSection is a schema-typed configuration section. Sections are
// decoded from generic draft maps so that "unset" vs "absent" is decided
// by the overlay diff, not by duck-typed field sniffing.
type ConfigSection interface {
	SectionName() string
	Validate() error
}

type BluetoothConfig struct {
	Enabled  bool   `mapstructure:"enabled" json:"enabled"`
	Mode     string `mapstructure:"mode" json:"mode,omitempty"`
	FixedPin uint32 `mapstructure:"fixedPin" json:"fixedPin,omitempty"`
}

func (BluetoothConfig) SectionName() string { return SectionBluetooth }

func (c BluetoothConfig) Validate() error {
	if c.FixedPin != 0 && (c.FixedPin < 100000 || c.FixedPin > 999999) {
		return fmt.Errorf("bluetooth: fixed pin must be six digits, got %d", c.FixedPin)
	}
	return nil
}

type DisplayConfig struct {
	ScreenOnSecs    uint32 `mapstructure:"screenOnSecs" json:"screenOnSecs,omitempty"`
	Units           string `mapstructure:"units" json:"units,omitempty"`
	FlipScreen      bool   `mapstructure:"flipScreen" json:"flipScreen,omitempty"`
	HeadingBold     bool   `mapstructure:"headingBold" json:"headingBold,omitempty"`
	CompassNorthTop bool   `mapstructure:"compassNorthTop" json:"compassNorthTop,omitempty"`
}

func (DisplayConfig) SectionName() string { return SectionDisplay }
func (DisplayConfig) Validate() error     { return nil }

type SecurityConfig struct {
	PublicKey     []byte `mapstructure:"publicKey" json:"publicKey,omitempty"`
	PrivateKey    []byte `mapstructure:"privateKey" json:"privateKey,omitempty"`
	IsManaged     bool   `mapstructure:"isManaged" json:"isManaged,omitempty"`
	SerialEnabled bool   `mapstructure:"serialEnabled" json:"serialEnabled,omitempty"`
}

func (SecurityConfig) SectionName() string { return SectionSecurity }

func (c SecurityConfig) Validate() error {
	if len(c.PublicKey) != 0 && len(c.PublicKey) != 32 {
		return fmt.Errorf("security: public key must be 32 bytes, got %d", len(c.PublicKey))
	}
	return nil
}

type LoRaConfig struct {
	Region            string `mapstructure:"region" json:"region,omitempty"`
	ModemPreset       string `mapstructure:"modemPreset" json:"modemPreset,omitempty"`
	HopLimit          uint32 `mapstructure:"hopLimit" json:"hopLimit,omitempty"`
	TxEnabled         bool   `mapstructure:"txEnabled" json:"txEnabled"`
	ChannelNum        uint32 `mapstructure:"channelNum" json:"channelNum,omitempty"`
	SX126xRxBoost     bool   `mapstructure:"sx126xRxBoost" json:"sx126xRxBoost,omitempty"`
	OverrideDutyCycle bool   `mapstructure:"overrideDutyCycle" json:"overrideDutyCycle,omitempty"`
}

func (LoRaConfig) SectionName() string { return SectionLoRa }

func (c LoRaConfig) Validate() error {
	if c.HopLimit > 7 {
		return fmt.Errorf("lora: hop limit must be 0-7, got %d", c.HopLimit)
	}
	return nil
}

type PositionConfig struct {
	BroadcastSecs uint32 `mapstructure:"broadcastSecs" json:"broadcastSecs,omitempty"`
	SmartEnabled  bool   `mapstructure:"smartEnabled" json:"smartEnabled,omitempty"`
	FixedPosition bool   `mapstructure:"fixedPosition" json:"fixedPosition,omitempty"`
	GpsUpdateSecs uint32 `mapstructure:"gpsUpdateSecs" json:"gpsUpdateSecs,omitempty"`
	PositionFlags uint32 `mapstructure:"positionFlags" json:"positionFlags,omitempty"`
}

func (PositionConfig) SectionName() string { return SectionPosition }
func (PositionConfig) Validate() error     { return nil }

var sectionFactories = map[string]func() ConfigSection{
	SectionBluetooth: func() ConfigSection { return &BluetoothConfig{} },
	SectionDisplay:   func() ConfigSection { return &DisplayConfig{} },
	SectionSecurity:  func() ConfigSection { return &SecurityConfig{} },
	SectionLoRa:      func() ConfigSection { return &LoRaConfig{} },
	SectionPosition:  func() ConfigSection { return &PositionConfig{} },
}

// KnownSection reports whether name is a recognized config section.
func KnownSection(name string) bool {
	_, ok := sectionFactories[name]
	return ok
}

// DecodeSection decodes and validates a generic draft map against the
// schema for the named section.
func DecodeSection(name string, raw map[string]any) (ConfigSection, error) {
	factory, ok := sectionFactories[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSection, name)
	}
	section := factory()
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:      section,
		ErrorUnused: true,
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(raw); err != nil {
		return nil, fmt.Errorf("decoding %s config: %w", name, err)
	}
	if err := section.Validate(); err != nil {
		return nil, err
	}
	return section, nil
}
