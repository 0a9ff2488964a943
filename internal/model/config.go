package model

import (
	"io"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/encoding/yaml"

	_ "embed"
)

// Enum helpers (optional).
const (
	ServiceModeManual = "manual"
	ServiceModeTimer  = "timer"

	AuthTypeNone        = "none"
	AuthTypeStaticToken = "static_token"

	LogStderr  = "stderr"
	LogStdout  = "stdout"
	LogDiscard = "discard"
)

//go:embed config.cue
var cueSource []byte

var (
	cueCtx *cue.Context
	schema cue.Value
)

func init() {
	if len(cueSource) == 0 {
		panic("variable cueSource is empty")
	}
	cueCtx = cuecontext.New()
	compiled := cueCtx.CompileBytes(cueSource)
	if compiled.Err() != nil {
		panic(compiled.Err())
	}

	if err := compiled.Validate(); err != nil {
		panic(err)
	}

	schema = compiled.LookupPath(cue.ParsePath("#Config"))
	if schema.Err() != nil {
		panic(schema.Err())
	}
	if err := schema.Validate(); err != nil {
		panic(err)
	}
}

type Config struct {
	Version  int       `json:"version"` // fixed 0 for now
	Service  Service   `json:"service"`
	Remote   Remote    `json:"remote"`
	Tracking *Tracking `json:"tracking,omitempty"`
	Viewer   *Viewer   `json:"viewer,omitempty"`
}

// Service run mode: one-shot manual or timer driven.
type Service struct {
	Mode     string  `json:"mode"`               // "manual" | "timer"
	Schedule *string `json:"schedule,omitempty"` // required when Mode == "timer"
	Verbose  *bool   `json:"verbose,omitempty"`
	Log      *string `json:"log,omitempty"` // "stderr"|"stdout"|"discard"|path
}

// Remote analysis service endpoint.
type Remote struct {
	URL     string  `json:"url"`
	Auth    Auth    `json:"auth"`              // discriminated union by Auth.Type
	Timeout *string `json:"timeout,omitempty"` // e.g. "30s"
}

// Auth is a tagged union: Type "none" or "static_token".
type Auth struct {
	Type  string `json:"type"`            // "none" | "static_token"
	Token string `json:"token,omitempty"` // required when Type == "static_token"
}

// Tracking loop cadence overrides.
type Tracking struct {
	PollInterval *string `json:"pollInterval,omitempty"` // e.g. "2s"
	StepDelay    *string `json:"stepDelay,omitempty"`    // e.g. "100ms"
}

// Viewer is the optional read-only HTTP surface.
type Viewer struct {
	Enabled *bool   `json:"enabled,omitempty"`
	Listen  *string `json:"listen,omitempty"` // e.g. ":8215"
}

// DefaultConfig is written on first run when no config file exists.
// The remote endpoint is a placeholder the user must edit; the token
// reference keeps credentials out of the file itself.
func DefaultConfig() Config {
	return Config{
		Version: 0,
		Service: Service{Mode: ServiceModeManual},
		Remote: Remote{
			URL:  "http://localhost:8080",
			Auth: Auth{Type: AuthTypeNone},
		},
	}
}

// LoadConfig validates YAML from r against CUE schema and decodes to
// Config. Validation failures come back as *ConfigError carrying one
// detail per offending field.
func LoadConfig(r io.Reader) (*Config, error) {
	yamlFile, err := yaml.Extract("config.yaml", r)
	if err != nil {
		return nil, err
	}
	yamlValue := cueCtx.BuildFile(yamlFile)

	unified := schema.Unify(yamlValue)
	if err := unified.Validate(
		cue.All(),          // all constraints
		cue.Concrete(true), // no incomplete values
	); err != nil {
		return nil, &ConfigError{details: humanize(err, unified), err: err}
	}

	var out Config
	if err := unified.Decode(&out); err != nil {
		return nil, err
	}

	return &out, nil
}
