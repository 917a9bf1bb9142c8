// Package profile supplies the per-user risk assessment the companion is
// briefed with before a conversation starts.
package profile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrNotFound is returned by a Store that has no profile for a user.
var ErrNotFound = errors.New("profile: not found")

type Feature struct {
	Feature    string  `yaml:"feature"`
	Importance float64 `yaml:"importance,omitempty"`
}

// Profile is the latest risk assessment of one user.
type Profile struct {
	Prediction  string         `yaml:"prediction"`
	Confidence  float64        `yaml:"confidence"`
	TopFeatures []Feature      `yaml:"top_features"`
	LLMAnalysis string         `yaml:"llm_analysis"`
	FormData    map[string]any `yaml:"form_data"`
}

type Store interface {
	Profile(ctx context.Context, userID string) (*Profile, error)
}

// FileStore serves profiles from a YAML document of the form
//
//	profiles:
//	  default_user:
//	    prediction: High Risk
//	    confidence: 0.87
type FileStore struct {
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

type fileDocument struct {
	Profiles map[string]*Profile `yaml:"profiles"`
}

// Profile re-reads the file on every call so edits made between sessions are
// picked up.
func (s *FileStore) Profile(_ context.Context, userID string) (*Profile, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("profile: open %q: %w", s.path, err)
	}
	defer f.Close()

	profiles, err := decodeProfiles(f)
	if err != nil {
		return nil, fmt.Errorf("profile: parse %q: %w", s.path, err)
	}
	p, ok := profiles[userID]
	if !ok || p == nil {
		return nil, ErrNotFound
	}
	return p, nil
}

func decodeProfiles(r io.Reader) (map[string]*Profile, error) {
	var doc fileDocument
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	return doc.Profiles, nil
}

// featureContext turns a model feature name into something a person can
// read: encoder prefixes are dropped and one-hot names become
// "category: value".
func featureContext(name string, form map[string]any) string {
	clean := strings.ReplaceAll(name, "encoder__", "")
	clean = strings.ReplaceAll(clean, "remainder__", "")

	if i := strings.LastIndex(clean, "_"); i >= 0 {
		return clean[:i] + ": " + clean[i+1:]
	}
	if v, ok := form[clean]; ok {
		return fmt.Sprintf("%s: %v", clean, v)
	}
	return clean
}

func formValue(form map[string]any, key, fallback string) string {
	if v, ok := form[key]; ok && v != nil {
		return fmt.Sprint(v)
	}
	return fallback
}

// Summary formats p as the briefing block placed at the top of the system
// instruction.
func (p *Profile) Summary() string {
	features := make([]string, 0, len(p.TopFeatures))
	for _, f := range p.TopFeatures {
		features = append(features, featureContext(f.Feature, p.FormData))
	}

	prediction := p.Prediction
	if prediction == "" {
		prediction = "Unknown"
	}

	var sb strings.Builder
	sb.WriteString("USER PROFILE ANALYSIS:\n")
	fmt.Fprintf(&sb, "- Name: %s\n", formValue(p.FormData, "Name", "Friend"))
	fmt.Fprintf(&sb, "- Age: %s\n", formValue(p.FormData, "Age", "Unknown"))
	fmt.Fprintf(&sb, "- Risk Level: %s (Confidence: %.2f%%)\n", prediction, p.Confidence*100)
	fmt.Fprintf(&sb, "- Key Factors: %s\n", strings.Join(features, ", "))
	fmt.Fprintf(&sb, "- Clinical Summary: %s\n", p.LLMAnalysis)
	return sb.String()
}
