// Package imagegen implements the progressive image generation pipeline:
// backend adapters, the job poller, the fallback selector, the progressive
// orchestrator and the generation queue.
//
// quality.go holds the quality labels and the static per-backend profile table.
package imagegen

import (
	"fmt"
	"os"
	"strings"

	"github.com/jacobedelsonuw/visionboard-ai/core"

	"gopkg.in/yaml.v3"
)

// Quality is a named point on the speed/fidelity curve.
type Quality int

const (
	QualityLow Quality = iota
	QualityMedium
	QualityHigh
	QualityEnhancedHigh
)

// PreviewQuality is the level expected to return fast; the poller uses its
// short cadence for it.
const PreviewQuality = QualityLow

var qualityNames = [...]string{"LOW", "MEDIUM", "HIGH", "ENHANCED_HIGH"}

// String returns the configuration label, e.g. "ENHANCED_HIGH".
func (q Quality) String() string {
	if q < 0 || int(q) >= len(qualityNames) {
		return fmt.Sprintf("Quality(%d)", int(q))
	}
	return qualityNames[q]
}

// MarshalText implements encoding.TextMarshaler so qualities serialize as labels.
func (q Quality) MarshalText() ([]byte, error) {
	return []byte(q.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (q *Quality) UnmarshalText(text []byte) error {
	parsed, err := ParseQuality(string(text))
	if err != nil {
		return err
	}
	*q = parsed
	return nil
}

// ParseQuality parses a label case-insensitively.
func ParseQuality(s string) (Quality, error) {
	label := strings.ToUpper(strings.TrimSpace(s))
	for i, name := range qualityNames {
		if name == label {
			return Quality(i), nil
		}
	}
	return 0, fmt.Errorf("imagegen: unknown quality %q", s)
}

// ParseSequence parses an ordered list of labels. Order is preserved as
// given; the orchestrator attempts levels strictly in this order.
func ParseSequence(labels []string) ([]Quality, error) {
	if len(labels) == 0 {
		return nil, fmt.Errorf("imagegen: quality sequence cannot be empty")
	}
	seq := make([]Quality, 0, len(labels))
	for _, l := range labels {
		q, err := ParseQuality(l)
		if err != nil {
			return nil, err
		}
		seq = append(seq, q)
	}
	return seq, nil
}

// Profile carries the generation parameters for one backend at one quality.
// Diffusion backends use the numeric fields; the hosted image API uses Size,
// ImageQuality and Style.
type Profile struct {
	Quality      Quality `yaml:"-" json:"quality"`
	Width        int     `yaml:"width" json:"width"`
	Height       int     `yaml:"height" json:"height"`
	Steps        int     `yaml:"steps" json:"steps"`
	Guidance     float64 `yaml:"guidance" json:"guidance"`
	Sampler      string  `yaml:"sampler,omitempty" json:"sampler,omitempty"`
	Size         string  `yaml:"size,omitempty" json:"size,omitempty"`
	ImageQuality string  `yaml:"image_quality,omitempty" json:"image_quality,omitempty"`
	Style        string  `yaml:"style,omitempty" json:"style,omitempty"`
}

// ProfileTable maps backend name to quality to profile. It is built at
// startup and only read afterwards.
type ProfileTable map[string]map[Quality]Profile

// DefaultSampler is the local diffusion sampler used at every quality.
const DefaultSampler = "DPM++ 2M Karras"

// DefaultProfiles returns the built-in table.
func DefaultProfiles() ProfileTable {
	square := func(q Quality, px, steps int, guidance float64) Profile {
		return Profile{Quality: q, Width: px, Height: px, Steps: steps, Guidance: guidance}
	}
	withSampler := func(p Profile) Profile {
		p.Sampler = DefaultSampler
		return p
	}
	hosted := func(q Quality, quality string) Profile {
		return Profile{Quality: q, Width: 1024, Height: 1024, Size: "1024x1024", ImageQuality: quality, Style: "vivid"}
	}

	return ProfileTable{
		core.BackendReplicate: {
			QualityLow:          square(QualityLow, 256, 3, 2),
			QualityMedium:       square(QualityMedium, 384, 8, 4),
			QualityHigh:         square(QualityHigh, 512, 15, 6),
			QualityEnhancedHigh: square(QualityEnhancedHigh, 768, 25, 7.5),
		},
		core.BackendLocalSD: {
			QualityLow:          withSampler(square(QualityLow, 256, 5, 3)),
			QualityMedium:       withSampler(square(QualityMedium, 384, 15, 5)),
			QualityHigh:         withSampler(square(QualityHigh, 512, 25, 7.5)),
			QualityEnhancedHigh: withSampler(square(QualityEnhancedHigh, 768, 30, 8)),
		},
		core.BackendOpenAI: {
			QualityLow:          hosted(QualityLow, "standard"),
			QualityMedium:       hosted(QualityMedium, "standard"),
			QualityHigh:         hosted(QualityHigh, "hd"),
			QualityEnhancedHigh: hosted(QualityEnhancedHigh, "hd"),
		},
	}
}

// Lookup returns the profile for backend at q.
func (t ProfileTable) Lookup(backend string, q Quality) (Profile, bool) {
	levels, ok := t[backend]
	if !ok {
		return Profile{}, false
	}
	p, ok := levels[q]
	return p, ok
}

// profileFile is the YAML layout accepted by LoadProfiles:
//
//	LOCAL_SD:
//	  LOW: {width: 320, height: 320, steps: 6, guidance: 3}
//	REPLICATE:
//	  ENHANCED_HIGH: {width: 1024, height: 1024, steps: 30, guidance: 7.5}
type profileFile map[string]map[string]Profile

// LoadProfiles returns DefaultProfiles overlaid with the entries in the YAML
// file at path. Entries replace whole profiles; unspecified backends and
// levels keep their defaults. An empty path returns the defaults.
func LoadProfiles(path string) (ProfileTable, error) {
	table := DefaultProfiles()
	if path == "" {
		return table, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("imagegen: failed to read profiles file: %w", err)
	}

	var overrides profileFile
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return nil, fmt.Errorf("imagegen: failed to parse profiles file: %w", err)
	}

	for backend, levels := range overrides {
		name := strings.ToUpper(backend)
		if _, known := table[name]; !known {
			return nil, fmt.Errorf("imagegen: profiles file names unknown backend %q", backend)
		}
		for label, p := range levels {
			q, err := ParseQuality(label)
			if err != nil {
				return nil, err
			}
			if p.Width <= 0 || p.Height <= 0 {
				return nil, fmt.Errorf("imagegen: profile %s/%s needs positive width and height", name, q)
			}
			if name == core.BackendLocalSD && p.Sampler == "" {
				p.Sampler = DefaultSampler
			}
			if name == core.BackendOpenAI && p.Size == "" {
				p.Size = fmt.Sprintf("%dx%d", p.Width, p.Height)
			}
			p.Quality = q
			table[name][q] = p
		}
	}
	return table, nil
}
