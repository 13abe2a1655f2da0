package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "emulator":
		return emulatorTemplate, nil
	case "instaxctl":
		return instaxctlTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const emulatorTemplate = `model = "square"
state_file = "local/state.yaml"
log_level = "info"

[storage]
root = "local/prints"

[http]
addr = ":8080"
cors_origins = ["http://localhost:3000"]
# bearer token for mutating routes; empty leaves the panel open
token = ""

[bridge]
# serial | tcp | none
mode = "tcp"
listen = ":7070"
device = "/dev/ttyACM0"
baud = 115200
read_timeout = "100ms"
reconnect_delay = "250ms"

[mqtt]
enabled = false
broker = "tcp://localhost:1883"
client_id = "instaxemu"
topic_prefix = "instax"
device = "emulator"
qos = 1
retained = false
include_data = false
`

const instaxctlTemplate = `# tcp address of a bridge peer, or a serial device when transport = "serial"
transport = "tcp"
address = "127.0.0.1:7070"
baud = 115200
model = "square"

start_settle = "100ms"
chunk_pacing = "75ms"
end_settle = "100ms"
execute_settle = "1s"
response_timeout = "5s"
`
