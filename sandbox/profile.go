package sandbox

import (
	"fmt"
	"os"

	"github.com/elastic/go-ucfg/yaml"
	goyaml "github.com/goccy/go-yaml"
	"github.com/google/shlex"
)

// Profile customizes the sandbox wrapper beyond the per-exercise options.
// All fields are optional; a missing profile file means defaults.
type Profile struct {
	HostName   string   `yaml:"hostName"`
	PrivateBin []string `yaml:"privateBin"`
	ReadOnly   []string `yaml:"readOnly"`
	// Debug relaxes confinement for sandbox debugging. Never enable in
	// production.
	Debug bool `yaml:"debug"`
}

// ReadProfile loads a sandbox profile file. A missing file is not an
// error; it returns a nil profile.
func ReadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var p Profile
	if err := goyaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse sandbox profile %s: %w", path, err)
	}
	return &p, nil
}

type environmentsConf struct {
	Environments map[string]struct {
		Activate string `config:"activate"`
	} `config:"environments"`
}

// ReadEnvironmentsConf loads per-environment activation command overrides.
// A missing file is not an error; it returns a nil map.
func ReadEnvironmentsConf(path string) (map[string][]string, error) {
	conf, err := yaml.NewConfigWithFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var ec environmentsConf
	if err := conf.Unpack(&ec); err != nil {
		return nil, fmt.Errorf("parse environments config %s: %w", path, err)
	}
	out := make(map[string][]string, len(ec.Environments))
	for name, e := range ec.Environments {
		if e.Activate == "" {
			continue
		}
		cmd, err := shlex.Split(e.Activate)
		if err != nil {
			return nil, fmt.Errorf("environment %q activate command: %w", name, err)
		}
		out[name] = cmd
	}
	return out, nil
}
