package controller

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Compose is the subset of a compose file the reconciler acts on.
type Compose struct {
	Services map[string]Service `yaml:"services"`
	Networks map[string]Network `yaml:"networks"`
	Volumes  map[string]Volume  `yaml:"volumes"`
}

type Service struct {
	Image         string   `yaml:"image"`
	ContainerName string   `yaml:"container_name"`
	Environment   []string `yaml:"environment"`
	Ports         []string `yaml:"ports"`
	Volumes       []string `yaml:"volumes"`
	Networks      []string `yaml:"networks"`
}

type Network struct {
	Name     string `yaml:"name,omitempty"`
	Driver   string `yaml:"driver,omitempty"`
	External bool   `yaml:"external,omitempty"`
}

type Volume struct {
	Name     string `yaml:"name,omitempty"`
	Driver   string `yaml:"driver,omitempty"`
	External bool   `yaml:"external,omitempty"`
}

// ParseComposeFile reads a compose file and rejects services without an image.
func ParseComposeFile(filePath string) (*Compose, error) {
	yamlFile, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read compose file %s: %w", filePath, err)
	}

	var composeConfig Compose
	if err := yaml.Unmarshal(yamlFile, &composeConfig); err != nil {
		return nil, fmt.Errorf("failed to unmarshal compose file: %w", err)
	}
	if len(composeConfig.Services) == 0 {
		return nil, errors.New("compose file defines no services")
	}
	for name, svc := range composeConfig.Services {
		if svc.Image == "" {
			return nil, fmt.Errorf("service %s has no image", name)
		}
	}
	return &composeConfig, nil
}
