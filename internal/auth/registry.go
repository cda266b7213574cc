package auth

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// registryFile is the YAML shape of a static service registry:
//
//	services:
//	  - service_name: nex-web-backend
//	    service_type: web-backend
//	    api_key: nex-web-backend-key
//	    rate_limit: 1000
type registryFile struct {
	Services []RegistrationSpec `yaml:"services"`
}

// LoadRegistry reads a static registry file and returns its entries.
func LoadRegistry(path string) ([]RegistrationSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read registry: %w", err)
	}
	var file registryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse registry: %w", err)
	}
	for i, spec := range file.Services {
		if spec.ServiceName == "" || spec.APIKey == "" {
			return nil, fmt.Errorf("registry entry %d: service_name and api_key are required", i)
		}
	}
	return file.Services, nil
}

// Seed registers each spec, skipping duplicates so a restart against the
// same file is harmless.
func (s *Service) Seed(specs []RegistrationSpec) error {
	for _, spec := range specs {
		if _, err := s.Register(spec); err != nil {
			if errors.Is(err, ErrConflict) {
				continue
			}
			return fmt.Errorf("seed %s: %w", spec.ServiceName, err)
		}
	}
	return nil
}
