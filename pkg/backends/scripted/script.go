// Package scripted is a session.Session driven by a YAML script. It backs the CLI hosts and
// lets the whole widget run without a real assistant service.
package scripted

import (
	_ "embed"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/go-go-golems/convocore/pkg/session"
)

//go:embed default.yaml
var defaultScript []byte

// Script is the decoded YAML document.
type Script struct {
	Model             string             `yaml:"model"`
	InitDelay         time.Duration      `yaml:"init-delay"`
	Latency           time.Duration      `yaml:"latency"`
	InitLimitations   *Limitations       `yaml:"init-limitations"`
	Limit             int                `yaml:"limit"`
	SupportsHistory   bool               `yaml:"supports-history"`
	SupportsStreaming bool               `yaml:"supports-streaming"`
	Triggers          []Trigger          `yaml:"triggers"`
	Default           []session.Fragment `yaml:"default"`
}

type Limitations struct {
	Reason string `yaml:"reason"`
}

// Trigger answers a message whose trimmed text equals Match (case-insensitive), or whose
// selected option equals OptionID.
type Trigger struct {
	Match     string             `yaml:"match"`
	OptionID  string             `yaml:"option-id"`
	Fragments []session.Fragment `yaml:"fragments"`
	Fail      string             `yaml:"fail"`
}

// Parse decodes and validates a script.
func Parse(b []byte) (*Script, error) {
	var s Script
	if err := yaml.Unmarshal(b, &s); err != nil {
		return nil, errors.Wrap(err, "scripted: decode script")
	}
	if err := s.validate(); err != nil {
		return nil, err
	}
	if s.Model == "" {
		s.Model = "scripted"
	}
	return &s, nil
}

// Load reads a script from path. An empty path loads the built-in script.
func Load(path string) (*Script, error) {
	if strings.TrimSpace(path) == "" {
		return Parse(defaultScript)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "scripted: read %s", path)
	}
	s, err := Parse(b)
	if err != nil {
		return nil, errors.Wrapf(err, "scripted: %s", path)
	}
	return s, nil
}

func (s *Script) validate() error {
	if s.InitDelay < 0 || s.Latency < 0 {
		return errors.New("scripted: negative delay")
	}
	if s.Limit < 0 {
		return errors.New("scripted: negative limit")
	}
	for i, t := range s.Triggers {
		if strings.TrimSpace(t.Match) == "" && t.OptionID == "" {
			return errors.Errorf("scripted: trigger %d has neither match nor option-id", i)
		}
		if err := validateFragments(t.Fragments); err != nil {
			return errors.Wrapf(err, "scripted: trigger %d", i)
		}
	}
	return errors.Wrap(validateFragments(s.Default), "scripted: default")
}

func validateFragments(fs []session.Fragment) error {
	for i, f := range fs {
		switch f.Type {
		case session.FragmentText, session.FragmentOptions, session.FragmentPause:
		case session.FragmentCommand:
			if f.Command == "" {
				return errors.Errorf("fragment %d: command fragment without command", i)
			}
		default:
			return errors.Errorf("fragment %d: unknown type %q", i, f.Type)
		}
	}
	return nil
}

func (s *Script) lookup(text, optionID string) (Trigger, bool) {
	if optionID != "" {
		for _, t := range s.Triggers {
			if t.OptionID == optionID {
				return t, true
			}
		}
	}
	needle := strings.ToLower(strings.TrimSpace(text))
	for _, t := range s.Triggers {
		if t.Match != "" && strings.ToLower(strings.TrimSpace(t.Match)) == needle {
			return t, true
		}
	}
	return Trigger{}, false
}
