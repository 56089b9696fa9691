package configuration

import "time"

// SerialConfiguration holds the tunables of the link. Line settings
// (115200-8-N-1, no flow control) are fixed by the transport.
type SerialConfiguration struct {
	PortName             string        `yaml:"portName" toml:"port_name"` // empty = ask the operator
	MaxLineLength        int           `yaml:"maxLineLength" toml:"max_line_length"`
	SendQueueSize        int           `yaml:"sendQueueSize" toml:"send_queue_size"`
	PresencePollInterval time.Duration `yaml:"presencePollInterval" toml:"presence_poll_interval"`
	MaxConsecutiveFaults int           `yaml:"maxConsecutiveFaults" toml:"max_consecutive_faults"`
	WriteTimeout         time.Duration `yaml:"writeTimeout" toml:"write_timeout"`
	// RememberPort stores the port picked at the prompt as PortName.
	RememberPort bool `yaml:"rememberPort" toml:"remember_port"`
}

type SessionConfiguration struct {
	ResetRegistryOnDisconnect bool          `yaml:"resetRegistryOnDisconnect" toml:"reset_registry_on_disconnect"`
	ReconnectDelay            time.Duration `yaml:"reconnectDelay" toml:"reconnect_delay"`
	StartupDelay              time.Duration `yaml:"startupDelay" toml:"startup_delay"`
	LivenessInterval          time.Duration `yaml:"livenessInterval" toml:"liveness_interval"`
	LivenessTimeout           time.Duration `yaml:"livenessTimeout" toml:"liveness_timeout"`
}

type MqttConfiguration struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	Address   string `yaml:"address" toml:"address"`
	Port      uint16 `yaml:"port" toml:"port"`
	RootTopic string `yaml:"rootTopic" toml:"root_topic"`
	Username  string `yaml:"username" toml:"username"`
	Password  string `yaml:"password" toml:"password"`
}

type WebSocketConfiguration struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Address string `yaml:"address" toml:"address"`
}

type ConsoleConfiguration struct {
	Enabled bool `yaml:"enabled" toml:"enabled"`
}

type Configuration struct {
	SerialConfiguration    SerialConfiguration    `yaml:"serial" toml:"serial"`
	SessionConfiguration   SessionConfiguration   `yaml:"session" toml:"session"`
	MqttConfiguration      MqttConfiguration      `yaml:"mqtt" toml:"mqtt"`
	WebSocketConfiguration WebSocketConfiguration `yaml:"websocket" toml:"websocket"`
	ConsoleConfiguration   ConsoleConfiguration   `yaml:"console" toml:"console"`
	LogLevel               int                    `yaml:"logLevel" toml:"log_level"` // info=0, warn=1, error=2, debug=3
}
