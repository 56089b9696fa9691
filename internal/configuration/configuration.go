package configuration

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v2"
)

var ErrUnsupportedFormat = errors.New("configuration: unsupported file format")

func Default() Configuration {
	return Configuration{
		SerialConfiguration: SerialConfiguration{
			MaxLineLength:        4096,
			SendQueueSize:        64,
			PresencePollInterval: 2 * time.Second,
			MaxConsecutiveFaults: 5,
			WriteTimeout:         2 * time.Second,
		},
		SessionConfiguration: SessionConfiguration{
			ResetRegistryOnDisconnect: true,
			ReconnectDelay:            time.Second,
			StartupDelay:              time.Second,
			LivenessInterval:          time.Minute,
			LivenessTimeout:           2 * time.Minute,
		},
		MqttConfiguration: MqttConfiguration{
			Address:   "localhost",
			Port:      1883,
			RootTopic: "smac",
		},
		WebSocketConfiguration: WebSocketConfiguration{
			Address: "localhost:8080",
		},
		ConsoleConfiguration: ConsoleConfiguration{
			Enabled: true,
		},
		LogLevel: 2,
	}
}

type configurationService struct {
	filename string
	mu       sync.RWMutex
	config   Configuration
}

// Init loads filename on top of Default(). A missing file is not an error.
func Init(filename string) (ConfigurationService, error) {
	ret := &configurationService{
		filename: filename,
		config:   Default(),
	}

	if err := ret.load(); err != nil {
		return nil, err
	}

	return ret, nil
}

func (s *configurationService) GetConfiguration() Configuration {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.config
}

func (s *configurationService) Update(updatedConfig Configuration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := marshal(s.filename, updatedConfig)
	if err != nil {
		return err
	}

	if err := os.WriteFile(s.filename, data, 0644); err != nil {
		return fmt.Errorf("configuration: write %s: %w", s.filename, err)
	}

	s.config = updatedConfig

	return nil
}

// RememberPort saves port as the serial port name when RememberPort is
// set and no port is configured. updated reports whether the file changed.
func RememberPort(svc ConfigurationService, port string) (updated bool, err error) {
	cfg := svc.GetConfiguration()
	if !cfg.SerialConfiguration.RememberPort || cfg.SerialConfiguration.PortName != "" || port == "" {
		return false, nil
	}

	cfg.SerialConfiguration.PortName = port
	if err := svc.Update(cfg); err != nil {
		return false, err
	}

	return true, nil
}

func (s *configurationService) load() error {
	data, err := os.ReadFile(s.filename)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("configuration: read %s: %w", s.filename, err)
	}

	cfg := Default()
	if err := unmarshal(s.filename, data, &cfg); err != nil {
		return err
	}

	s.config = cfg

	return nil
}

func format(filename string) string {
	return strings.ToLower(filepath.Ext(filename))
}

func unmarshal(filename string, data []byte, cfg *Configuration) error {
	switch format(filename) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("configuration: parse %s: %w", filename, err)
		}
	case ".toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return fmt.Errorf("configuration: parse %s: %w", filename, err)
		}
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, filename)
	}

	return nil
}

func marshal(filename string, cfg Configuration) ([]byte, error) {
	switch format(filename) {
	case ".yaml", ".yml":
		return yaml.Marshal(cfg)
	case ".toml":
		buf := bytes.Buffer{}
		if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filename)
	}
}
