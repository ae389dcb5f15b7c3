package launch

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Driver names understood by the process layer.
const (
	DriverDocker = "docker"
	DriverExec   = "exec"
	DriverNoop   = "noop"
)

var (
	ErrLaunchConfigNotFound = errors.New("launch config not found")
	ErrInvalidLaunchConfig  = errors.New("invalid launch config")
)

// Config describes how to launch the backing process of a service type.
type Config struct {
	Driver string `yaml:"driver" json:"driver"`
	// Image is the container image, used by the docker driver.
	Image string `yaml:"image" json:"image"`
	// Exec is the executable path, used by the exec driver.
	Exec         string            `yaml:"exec" json:"exec"`
	Args         []string          `yaml:"args" json:"args"`
	Env          map[string]string `yaml:"env" json:"env"`
	ExposedPorts []string          `yaml:"exposed_ports" json:"exposed_ports"`
	// Network overrides the globally configured container network.
	Network string `yaml:"network" json:"network"`
}

func (c *Config) validate() error {
	switch c.Driver {
	case DriverDocker:
		if c.Image == "" {
			return fmt.Errorf("%w: docker driver requires an image", ErrInvalidLaunchConfig)
		}
	case DriverExec:
		if c.Exec == "" {
			return fmt.Errorf("%w: exec driver requires an executable", ErrInvalidLaunchConfig)
		}
	case DriverNoop:
	default:
		return fmt.Errorf("%w: unknown driver %q", ErrInvalidLaunchConfig, c.Driver)
	}
	return nil
}

// Loader returns the launch configuration for a service type.
type Loader interface {
	Load(serviceType string) (*Config, error)
}

var extensions = []string{".yaml", ".yml", ".json"}

// FileLoader reads launch configs from <Dir>/<type>.{yaml,yml,json}. JSON files are parsed as
// YAML, which accepts them unchanged.
type FileLoader struct {
	Dir           string
	DefaultDriver string
}

func NewFileLoader(dir, defaultDriver string) *FileLoader {
	return &FileLoader{
		Dir:           dir,
		DefaultDriver: defaultDriver,
	}
}

func (l *FileLoader) Load(serviceType string) (*Config, error) {
	if serviceType == "" || filepath.Base(serviceType) != serviceType {
		return nil, fmt.Errorf("%w: invalid service type %q", ErrInvalidLaunchConfig, serviceType)
	}

	for _, ext := range extensions {
		path := filepath.Join(l.Dir, serviceType+ext)
		raw, err := os.ReadFile(path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		} else if err != nil {
			return nil, err
		}
		return l.decode(path, raw)
	}
	return nil, fmt.Errorf("%w: %s in %s", ErrLaunchConfigNotFound, serviceType, l.Dir)
}

// Drivers returns the drivers used by the valid launch configs in Dir, including the default
// driver. A missing directory is not an error.
func (l *FileLoader) Drivers() (map[string]bool, error) {
	drivers := map[string]bool{l.DefaultDriver: true}
	files, err := os.ReadDir(l.Dir)
	if errors.Is(err, os.ErrNotExist) {
		return drivers, nil
	} else if err != nil {
		return nil, err
	}
	for _, f := range files {
		if f.IsDir() || !slices.Contains(extensions, filepath.Ext(f.Name())) {
			continue
		}
		path := filepath.Join(l.Dir, f.Name())
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		config, err := l.decode(path, raw)
		if err != nil {
			log.Warn().Err(err).Msg("skipping invalid launch config")
			continue
		}
		drivers[config.Driver] = true
	}
	return drivers, nil
}

func (l *FileLoader) decode(path string, raw []byte) (*Config, error) {
	var config Config
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&config); err != nil {
		return nil, fmt.Errorf("%w: %s: %s", ErrInvalidLaunchConfig, path, err)
	}
	if config.Driver == "" {
		config.Driver = l.DefaultDriver
	}
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &config, nil
}

// StaticLoader serves launch configs from memory.
type StaticLoader map[string]*Config

func (l StaticLoader) Load(serviceType string) (*Config, error) {
	config, ok := l[serviceType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLaunchConfigNotFound, serviceType)
	}
	if err := config.validate(); err != nil {
		return nil, err
	}
	c := *config
	return &c, nil
}
