package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/arloliu/go-secs/secs2"
	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"

	"github.com/semiconlab/gemequip/gem"
)

// FileConfig is the YAML configuration of the daemon.
type FileConfig struct {
	MDLN    string `yaml:"mdln"`
	SOFTREV string `yaml:"softrev"`

	Connection ConnectionConfig `yaml:"connection"`
	Reports    ReportsConfig    `yaml:"reports"`
	Delivery   DeliveryConfig   `yaml:"delivery"`
	Events     EventsConfig     `yaml:"events"`
	Control    ControlConfig    `yaml:"control"`

	Variables []VariableConfig `yaml:"variables"`
	Alarms    []AlarmConfig    `yaml:"alarms"`

	Log LogConfig `yaml:"log"`
}

// ConnectionConfig describes the HSMS endpoint.
type ConnectionConfig struct {
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	Passive          bool          `yaml:"passive"`
	SessionID        uint16        `yaml:"session_id"`
	T3               time.Duration `yaml:"t3"`
	T5               time.Duration `yaml:"t5"`
	T6               time.Duration `yaml:"t6"`
	T7               time.Duration `yaml:"t7"`
	T8               time.Duration `yaml:"t8"`
	LinktestInterval time.Duration `yaml:"linktest_interval"`
}

// ReportsConfig bounds the host-configurable report table.
type ReportsConfig struct {
	MaxReports            int           `yaml:"max_reports"`
	MaxVariablesPerReport int           `yaml:"max_variables_per_report"`
	MinReportID           uint32        `yaml:"min_report_id"`
	MaxReportID           uint32        `yaml:"max_report_id"`
	DefaultReportID       uint32        `yaml:"default_report_id"`
	DefaultVariables      []uint32      `yaml:"default_variables"`
	SnapshotTTL           time.Duration `yaml:"snapshot_ttl"`
}

// DeliveryConfig bounds outbound report/alarm delivery.
type DeliveryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	Backoff     time.Duration `yaml:"backoff"`
	QueueSize   int           `yaml:"queue_size"`
}

// EventsConfig lists the published collection events.
type EventsConfig struct {
	Collection    []uint32 `yaml:"collection"`
	System        []uint32 `yaml:"system"`
	Communicating uint32   `yaml:"communicating"`
}

// ControlConfig selects the initial control state.
type ControlConfig struct {
	InitialState string `yaml:"initial_state"`
	OnlineMode   string `yaml:"online_mode"`
}

// VariableConfig declares one status/data variable. Type selects the
// SECS-II item type of Value: ascii, u4, i4, f8 or bool.
type VariableConfig struct {
	ID    uint32 `yaml:"id"`
	Name  string `yaml:"name"`
	Unit  string `yaml:"unit"`
	Type  string `yaml:"type"`
	Value string `yaml:"value"`
}

// AlarmConfig declares one equipment alarm.
type AlarmConfig struct {
	ID        uint32 `yaml:"id"`
	Text      string `yaml:"text"`
	Category  uint8  `yaml:"category"`
	Mandatory bool   `yaml:"mandatory"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	File       string `yaml:"file"`
	Debug      bool   `yaml:"debug"`
	Console    bool   `yaml:"console"`
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"`
	Compress   bool   `yaml:"compress"`
}

// loadConfig reads and validates the YAML configuration file.
func loadConfig(path string) (*FileConfig, error) {
	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg FileConfig
	if err := yaml.Unmarshal(contents, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if cfg.Connection.Host == "" {
		cfg.Connection.Host = "0.0.0.0"
	}
	if cfg.Connection.Port == 0 {
		cfg.Connection.Port = 5000
	}
	return &cfg, nil
}

// item converts the declared value into its SECS-II item.
func (v VariableConfig) item() (secs2.Item, error) {
	switch v.Type {
	case "", "ascii":
		return secs2.A(v.Value), nil
	case "u4":
		n, err := cast.ToUint64E(v.Value)
		if err != nil {
			return nil, fmt.Errorf("variable %d: %w", v.ID, err)
		}
		return secs2.U4(n), nil
	case "i4":
		n, err := cast.ToInt64E(v.Value)
		if err != nil {
			return nil, fmt.Errorf("variable %d: %w", v.ID, err)
		}
		return secs2.I4(n), nil
	case "f8":
		f, err := cast.ToFloat64E(v.Value)
		if err != nil {
			return nil, fmt.Errorf("variable %d: %w", v.ID, err)
		}
		return secs2.F8(f), nil
	case "bool":
		b, err := cast.ToBoolE(v.Value)
		if err != nil {
			return nil, fmt.Errorf("variable %d: %w", v.ID, err)
		}
		return secs2.BOOLEAN(b), nil
	default:
		return nil, fmt.Errorf("variable %d: unsupported type %q", v.ID, v.Type)
	}
}

// buildVariableTable registers every declared variable.
func (c *FileConfig) buildVariableTable() (*gem.VariableTable, error) {
	table := gem.NewVariableTable()
	for _, vc := range c.Variables {
		value, err := vc.item()
		if err != nil {
			return nil, err
		}
		v, err := gem.NewVariable(vc.ID, vc.Name, vc.Unit, gem.WithValue(value))
		if err != nil {
			return nil, fmt.Errorf("variable %d: %w", vc.ID, err)
		}
		if err := table.Register(v); err != nil {
			return nil, err
		}
	}
	return table, nil
}

func (c *FileConfig) alarmDefinitions() []gem.AlarmDefinition {
	defs := make([]gem.AlarmDefinition, 0, len(c.Alarms))
	for _, ac := range c.Alarms {
		defs = append(defs, gem.AlarmDefinition{
			ID:        ac.ID,
			Text:      ac.Text,
			Category:  ac.Category,
			Mandatory: ac.Mandatory,
		})
	}
	return defs
}

func (c *ControlConfig) initialState() gem.ControlState {
	switch c.InitialState {
	case "equipment_offline":
		return gem.ControlStateEquipmentOffline
	case "host_offline":
		return gem.ControlStateHostOffline
	case "online":
		return gem.ControlStateOnline
	default:
		return gem.ControlStateAttemptOnline
	}
}

func (c *ControlConfig) onlineMode() gem.OnlineControlMode {
	if c.OnlineMode == "local" {
		return gem.OnlineModeLocal
	}
	return gem.OnlineModeRemote
}
