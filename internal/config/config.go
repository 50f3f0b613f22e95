// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/relabs-tech/laser_tracker/internal/estimator"
	"github.com/relabs-tech/laser_tracker/internal/loop"
	"github.com/relabs-tech/laser_tracker/internal/pid"
	"github.com/relabs-tech/laser_tracker/internal/protocol"
	"github.com/relabs-tech/laser_tracker/internal/serialport"
	"github.com/relabs-tech/laser_tracker/internal/vision"
)

// DefaultPath is the config file the binaries look for in the working
// directory.
const DefaultPath = "tracker_config.txt"

// Config holds all application configuration values.
type Config struct {
	// MQTT
	MQTTBroker             string
	MQTTClientIDTracker    string
	MQTTClientIDPerception string
	MQTTClientIDConsole    string
	MQTTClientIDWeb        string
	MQTTClientIDDisplay    string

	// Topics
	TopicCandidates string
	TopicTelemetry  string

	// Perception: "mqtt" reads TopicCandidates, "orbit" generates frames in process
	PerceptionSource string

	// Serial
	SerialPort      string
	SerialPortAxis2 string // split layout only; empty shares SerialPort
	SerialBaudRate  int
	SerialDataBits  int
	SerialStopBits  int
	SerialParity    string

	// Command protocol
	FrameLayout       string // "combined" or "split"
	DeviceID          byte
	Axis1DeviceID     byte
	Axis2DeviceID     byte
	Axis1Reverse      bool
	Axis2Reverse      bool
	StepsPerDegree    float64
	SendMinIntervalMS int

	// Sensor
	SensorWidth  int
	SensorHeight int

	// PID
	PIDKp           float64
	PIDKi           float64
	PIDKd           float64
	PIDMaxIntegral  float64
	PIDMaxAngle     float64
	PIDMinDtMS      float64
	PIDBandMetric   string
	PIDLargeAbove   float64
	PIDMediumAbove  float64
	PIDLarge        pid.Gains
	PIDMedium       pid.Gains
	PIDSmall        pid.Gains
	PIDClampOutput  bool
	PIDIntegralLeak float64
	PIDLeakDeadband float64

	// Estimator
	SmoothingAlpha  float64
	StaleAfterTicks int

	// Marker gates
	MarkerMinAspect    float64
	MarkerMaxAspect    float64
	MarkerMinMagnitude float64
	BlackThreshold     float64
	BrightThreshold    float64

	// Distance estimate; FOCAL_LENGTH_PX=0 disables it
	MarkerWidthMM  float64
	MarkerHeightMM float64
	FocalLengthPx  float64
	DistanceMinMM  float64
	DistanceMaxMM  float64

	// Loop
	LoopIntervalMS int
	FrameTimeoutMS int
	StartupCheck   bool
	StopButtonPin  string // GPIO name, empty disables
	RecordDBPath   string // SQLite tick log, empty disables
	LogEveryNTicks int

	// Web Server
	WebServerPort int

	// Display
	DisplayI2CBus         string
	DisplayI2CAddr        uint16
	DisplayUpdateInterval int // milliseconds
}

// Package-level singleton, set once by InitGlobal and read through Get.
var (
	globalConfig *Config
	configOnce   sync.Once
	configMu     sync.RWMutex
)

// Default returns the bench configuration. A config file only has to list
// the keys it changes.
func Default() *Config {
	p := pid.DefaultConfig()
	f := vision.DefaultFilterConfig()
	d := vision.DefaultPinholeConfig()
	return &Config{
		MQTTBroker:             "tcp://localhost:1883",
		MQTTClientIDTracker:    "laser-tracker",
		MQTTClientIDPerception: "laser-tracker-perception",
		MQTTClientIDConsole:    "laser-tracker-console",
		MQTTClientIDWeb:        "laser-tracker-web",
		MQTTClientIDDisplay:    "laser-tracker-display",

		TopicCandidates: "tracker/candidates",
		TopicTelemetry:  "tracker/telemetry",

		PerceptionSource: "mqtt",

		SerialPort:     "/dev/ttyAMA0",
		SerialBaudRate: 115200,
		SerialDataBits: 8,
		SerialStopBits: 1,
		SerialParity:   "N",

		FrameLayout:       "combined",
		DeviceID:          protocol.DefaultDeviceID,
		Axis1DeviceID:     0x01,
		Axis2DeviceID:     0x02,
		Axis1Reverse:      true,
		Axis2Reverse:      false,
		StepsPerDegree:    protocol.DefaultStepsPerDegree,
		SendMinIntervalMS: 20,

		SensorWidth:  p.SensorWidth,
		SensorHeight: p.SensorHeight,

		PIDKp:           p.Base.P,
		PIDKi:           p.Base.I,
		PIDKd:           p.Base.D,
		PIDMaxIntegral:  p.MaxIntegral,
		PIDMaxAngle:     p.MaxAngle,
		PIDMinDtMS:      float64(p.MinDt) / float64(time.Millisecond),
		PIDBandMetric:   p.Schedule.Metric.String(),
		PIDLargeAbove:   p.Schedule.LargeAbove,
		PIDMediumAbove:  p.Schedule.MediumAbove,
		PIDLarge:        p.Schedule.Large,
		PIDMedium:       p.Schedule.Medium,
		PIDSmall:        p.Schedule.Small,
		PIDClampOutput:  p.ClampOutput,
		PIDIntegralLeak: p.IntegralLeak,
		PIDLeakDeadband: p.LeakDeadband,

		SmoothingAlpha:  estimator.DefaultAlpha,
		StaleAfterTicks: 50,

		MarkerMinAspect:    f.MinAspect,
		MarkerMaxAspect:    f.MaxAspect,
		MarkerMinMagnitude: f.MinMagnitude,
		BlackThreshold:     f.BlackThreshold,
		BrightThreshold:    f.BrightThreshold,

		MarkerWidthMM:  d.MarkerWidthMM,
		MarkerHeightMM: d.MarkerHeightMM,
		FocalLengthPx:  d.FocalLengthPx,
		DistanceMinMM:  d.MinMM,
		DistanceMaxMM:  d.MaxMM,

		LoopIntervalMS: 10,
		FrameTimeoutMS: 100,
		LogEveryNTicks: 100,

		WebServerPort: 8080,

		DisplayI2CBus:         "",
		DisplayI2CAddr:        0x3C,
		DisplayUpdateInterval: 250,
	}
}

// Load reads the configuration file on top of Default.
func Load(configPath string) (*Config, error) {
	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()
	return Parse(file)
}

// Parse reads KEY=VALUE lines from r on top of Default. Blank lines and
// lines starting with # are ignored.
func Parse(r io.Reader) (*Config, error) {
	cfg := Default()
	scanner := bufio.NewScanner(r)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return nil, fmt.Errorf("invalid config line %d: %q", lineNum, line)
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		if err := cfg.setValue(key, value); err != nil {
			return nil, fmt.Errorf("config line %d: %w", lineNum, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func parseInt(key, value string, dst *int) error {
	v, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	*dst = v
	return nil
}

func parseFloat(key, value string, dst *float64) error {
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	*dst = v
	return nil
}

func parseBool(key, value string, dst *bool) error {
	v, err := strconv.ParseBool(value)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	*dst = v
	return nil
}

func parseByte(key, value string, dst *byte) error {
	v, err := strconv.ParseUint(value, 0, 8)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	*dst = byte(v)
	return nil
}

// setValue sets a config value based on the key.
func (c *Config) setValue(key, value string) error {
	switch key {
	// MQTT
	case "MQTT_BROKER":
		c.MQTTBroker = value
	case "MQTT_CLIENT_ID_TRACKER":
		c.MQTTClientIDTracker = value
	case "MQTT_CLIENT_ID_PERCEPTION":
		c.MQTTClientIDPerception = value
	case "MQTT_CLIENT_ID_CONSOLE":
		c.MQTTClientIDConsole = value
	case "MQTT_CLIENT_ID_WEB":
		c.MQTTClientIDWeb = value
	case "MQTT_CLIENT_ID_DISPLAY":
		c.MQTTClientIDDisplay = value

	// Topics
	case "TOPIC_CANDIDATES":
		c.TopicCandidates = value
	case "TOPIC_TELEMETRY":
		c.TopicTelemetry = value

	case "PERCEPTION_SOURCE":
		v := strings.ToLower(value)
		if v != "mqtt" && v != "orbit" {
			return fmt.Errorf("PERCEPTION_SOURCE must be mqtt or orbit, got %q", value)
		}
		c.PerceptionSource = v

	// Serial
	case "SERIAL_PORT":
		c.SerialPort = value
	case "SERIAL_PORT_AXIS2":
		c.SerialPortAxis2 = value
	case "SERIAL_BAUD_RATE":
		return parseInt(key, value, &c.SerialBaudRate)
	case "SERIAL_DATA_BITS":
		return parseInt(key, value, &c.SerialDataBits)
	case "SERIAL_STOP_BITS":
		return parseInt(key, value, &c.SerialStopBits)
	case "SERIAL_PARITY":
		c.SerialParity = value

	// Command protocol
	case "FRAME_LAYOUT":
		if _, err := protocol.ParseLayout(value); err != nil {
			return err
		}
		c.FrameLayout = strings.ToLower(value)
	case "DEVICE_ID":
		return parseByte(key, value, &c.DeviceID)
	case "AXIS1_DEVICE_ID":
		return parseByte(key, value, &c.Axis1DeviceID)
	case "AXIS2_DEVICE_ID":
		return parseByte(key, value, &c.Axis2DeviceID)
	case "AXIS1_REVERSE":
		return parseBool(key, value, &c.Axis1Reverse)
	case "AXIS2_REVERSE":
		return parseBool(key, value, &c.Axis2Reverse)
	case "STEPS_PER_DEGREE":
		return parseFloat(key, value, &c.StepsPerDegree)
	case "SEND_MIN_INTERVAL_MS":
		return parseInt(key, value, &c.SendMinIntervalMS)

	// Sensor
	case "SENSOR_WIDTH":
		return parseInt(key, value, &c.SensorWidth)
	case "SENSOR_HEIGHT":
		return parseInt(key, value, &c.SensorHeight)

	// PID
	case "PID_KP":
		return parseFloat(key, value, &c.PIDKp)
	case "PID_KI":
		return parseFloat(key, value, &c.PIDKi)
	case "PID_KD":
		return parseFloat(key, value, &c.PIDKd)
	case "PID_MAX_INTEGRAL":
		return parseFloat(key, value, &c.PIDMaxIntegral)
	case "PID_MAX_ANGLE":
		return parseFloat(key, value, &c.PIDMaxAngle)
	case "PID_MIN_DT_MS":
		return parseFloat(key, value, &c.PIDMinDtMS)
	case "PID_SCHEDULE":
		// Presets; individual PID_BAND_* keys after this line override them.
		var s pid.Schedule
		switch strings.ToLower(value) {
		case "single":
			s = pid.DefaultConfig().Schedule
		case "dual":
			s = pid.DualAxisSchedule()
		default:
			return fmt.Errorf("PID_SCHEDULE must be single or dual, got %q", value)
		}
		c.PIDBandMetric = s.Metric.String()
		c.PIDLargeAbove, c.PIDMediumAbove = s.LargeAbove, s.MediumAbove
		c.PIDLarge, c.PIDMedium, c.PIDSmall = s.Large, s.Medium, s.Small
	case "PID_BAND_METRIC":
		if _, err := pid.ParseMetric(value); err != nil {
			return err
		}
		c.PIDBandMetric = value
	case "PID_BAND_LARGE_ABOVE":
		return parseFloat(key, value, &c.PIDLargeAbove)
	case "PID_BAND_MEDIUM_ABOVE":
		return parseFloat(key, value, &c.PIDMediumAbove)
	case "PID_BAND_LARGE_P":
		return parseFloat(key, value, &c.PIDLarge.P)
	case "PID_BAND_LARGE_I":
		return parseFloat(key, value, &c.PIDLarge.I)
	case "PID_BAND_LARGE_D":
		return parseFloat(key, value, &c.PIDLarge.D)
	case "PID_BAND_MEDIUM_P":
		return parseFloat(key, value, &c.PIDMedium.P)
	case "PID_BAND_MEDIUM_I":
		return parseFloat(key, value, &c.PIDMedium.I)
	case "PID_BAND_MEDIUM_D":
		return parseFloat(key, value, &c.PIDMedium.D)
	case "PID_BAND_SMALL_P":
		return parseFloat(key, value, &c.PIDSmall.P)
	case "PID_BAND_SMALL_I":
		return parseFloat(key, value, &c.PIDSmall.I)
	case "PID_BAND_SMALL_D":
		return parseFloat(key, value, &c.PIDSmall.D)
	case "PID_CLAMP_OUTPUT":
		return parseBool(key, value, &c.PIDClampOutput)
	case "PID_INTEGRAL_LEAK":
		return parseFloat(key, value, &c.PIDIntegralLeak)
	case "PID_LEAK_DEADBAND":
		return parseFloat(key, value, &c.PIDLeakDeadband)

	// Estimator
	case "SMOOTHING_ALPHA":
		return parseFloat(key, value, &c.SmoothingAlpha)
	case "STALE_AFTER_TICKS":
		return parseInt(key, value, &c.StaleAfterTicks)

	// Marker gates
	case "MARKER_MIN_ASPECT":
		return parseFloat(key, value, &c.MarkerMinAspect)
	case "MARKER_MAX_ASPECT":
		return parseFloat(key, value, &c.MarkerMaxAspect)
	case "MARKER_MIN_MAGNITUDE":
		return parseFloat(key, value, &c.MarkerMinMagnitude)
	case "BLACK_THRESHOLD":
		return parseFloat(key, value, &c.BlackThreshold)
	case "BRIGHT_THRESHOLD":
		return parseFloat(key, value, &c.BrightThreshold)

	// Distance
	case "MARKER_WIDTH_MM":
		return parseFloat(key, value, &c.MarkerWidthMM)
	case "MARKER_HEIGHT_MM":
		return parseFloat(key, value, &c.MarkerHeightMM)
	case "FOCAL_LENGTH_PX":
		return parseFloat(key, value, &c.FocalLengthPx)
	case "DISTANCE_MIN_MM":
		return parseFloat(key, value, &c.DistanceMinMM)
	case "DISTANCE_MAX_MM":
		return parseFloat(key, value, &c.DistanceMaxMM)

	// Loop
	case "LOOP_INTERVAL_MS":
		return parseInt(key, value, &c.LoopIntervalMS)
	case "FRAME_TIMEOUT_MS":
		return parseInt(key, value, &c.FrameTimeoutMS)
	case "STARTUP_CHECK":
		return parseBool(key, value, &c.StartupCheck)
	case "STOP_BUTTON_PIN":
		c.StopButtonPin = value
	case "RECORD_DB_PATH":
		c.RecordDBPath = value
	case "LOG_EVERY_N_TICKS":
		return parseInt(key, value, &c.LogEveryNTicks)

	// Web Server
	case "WEB_SERVER_PORT":
		return parseInt(key, value, &c.WebServerPort)

	// Display
	case "DISPLAY_I2C_BUS":
		c.DisplayI2CBus = value
	case "DISPLAY_I2C_ADDR":
		addr, err := strconv.ParseUint(value, 0, 16)
		if err != nil {
			return fmt.Errorf("invalid DISPLAY_I2C_ADDR %q: %w", value, err)
		}
		c.DisplayI2CAddr = uint16(addr)
	case "DISPLAY_UPDATE_INTERVAL":
		return parseInt(key, value, &c.DisplayUpdateInterval)

	default:
		return fmt.Errorf("unknown config key: %q", key)
	}

	return nil
}

// validate checks required fields and cross-field constraints. Package
// level tuning (PID bands, alpha) is validated by the package constructors
// through the converters below.
func (c *Config) validate() error {
	if c.MQTTBroker == "" {
		return fmt.Errorf("MQTT_BROKER is required")
	}
	if c.SerialPort == "" {
		return fmt.Errorf("SERIAL_PORT is required")
	}
	if c.SensorWidth < 2 || c.SensorHeight < 2 {
		return fmt.Errorf("SENSOR_WIDTH and SENSOR_HEIGHT must be >= 2, got %dx%d", c.SensorWidth, c.SensorHeight)
	}
	if c.StepsPerDegree <= 0 {
		return fmt.Errorf("STEPS_PER_DEGREE must be > 0")
	}
	if c.SendMinIntervalMS < 0 || c.LoopIntervalMS < 0 {
		return fmt.Errorf("SEND_MIN_INTERVAL_MS and LOOP_INTERVAL_MS must be >= 0")
	}
	if c.FrameTimeoutMS <= 0 {
		return fmt.Errorf("FRAME_TIMEOUT_MS must be > 0")
	}
	if !(c.SmoothingAlpha > 0 && c.SmoothingAlpha <= 1) {
		return fmt.Errorf("SMOOTHING_ALPHA must be in (0, 1], got %v", c.SmoothingAlpha)
	}
	if c.MarkerMinAspect > 0 && c.MarkerMaxAspect > 0 && c.MarkerMinAspect > c.MarkerMaxAspect {
		return fmt.Errorf("MARKER_MIN_ASPECT %v exceeds MARKER_MAX_ASPECT %v", c.MarkerMinAspect, c.MarkerMaxAspect)
	}
	if c.DistanceMinMM > 0 && c.DistanceMaxMM > 0 && c.DistanceMinMM > c.DistanceMaxMM {
		return fmt.Errorf("DISTANCE_MIN_MM %v exceeds DISTANCE_MAX_MM %v", c.DistanceMinMM, c.DistanceMaxMM)
	}
	if _, err := c.PIDConfig(); err != nil {
		return err
	}
	return nil
}

// FilterConfig returns the marker gates.
func (c *Config) FilterConfig() vision.FilterConfig {
	return vision.FilterConfig{
		MinAspect:       c.MarkerMinAspect,
		MaxAspect:       c.MarkerMaxAspect,
		MinMagnitude:    c.MarkerMinMagnitude,
		BlackThreshold:  c.BlackThreshold,
		BrightThreshold: c.BrightThreshold,
	}
}

// PinholeConfig returns the distance estimate settings, or nil when the
// focal length is unset.
func (c *Config) PinholeConfig() *vision.PinholeConfig {
	if c.FocalLengthPx <= 0 {
		return nil
	}
	return &vision.PinholeConfig{
		MarkerWidthMM:  c.MarkerWidthMM,
		MarkerHeightMM: c.MarkerHeightMM,
		FocalLengthPx:  c.FocalLengthPx,
		MinMM:          c.DistanceMinMM,
		MaxMM:          c.DistanceMaxMM,
		SensorWidth:    c.SensorWidth,
		SensorHeight:   c.SensorHeight,
	}
}

// EstimatorAlpha returns the smoothing weight.
func (c *Config) EstimatorAlpha() float64 {
	return c.SmoothingAlpha
}

// PIDConfig assembles and validates the controller tuning.
func (c *Config) PIDConfig() (pid.Config, error) {
	metric, err := pid.ParseMetric(c.PIDBandMetric)
	if err != nil {
		return pid.Config{}, err
	}
	p := pid.Config{
		Base: pid.Gains{P: c.PIDKp, I: c.PIDKi, D: c.PIDKd},
		Schedule: pid.Schedule{
			Metric:      metric,
			LargeAbove:  c.PIDLargeAbove,
			MediumAbove: c.PIDMediumAbove,
			Large:       c.PIDLarge,
			Medium:      c.PIDMedium,
			Small:       c.PIDSmall,
		},
		MaxIntegral:  c.PIDMaxIntegral,
		MaxAngle:     c.PIDMaxAngle,
		SensorWidth:  c.SensorWidth,
		SensorHeight: c.SensorHeight,
		MinDt:        time.Duration(c.PIDMinDtMS * float64(time.Millisecond)),
		ClampOutput:  c.PIDClampOutput,
		IntegralLeak: c.PIDIntegralLeak,
		LeakDeadband: c.PIDLeakDeadband,
	}
	if err := p.Validate(); err != nil {
		return pid.Config{}, err
	}
	return p, nil
}

// TransmitterConfig returns the command protocol settings.
func (c *Config) TransmitterConfig() (protocol.Config, error) {
	layout, err := protocol.ParseLayout(c.FrameLayout)
	if err != nil {
		return protocol.Config{}, err
	}
	return protocol.Config{
		Layout:         layout,
		DeviceID:       c.DeviceID,
		Axis1ID:        c.Axis1DeviceID,
		Axis2ID:        c.Axis2DeviceID,
		Reverse1:       c.Axis1Reverse,
		Reverse2:       c.Axis2Reverse,
		StepsPerDegree: c.StepsPerDegree,
		MinInterval:    time.Duration(c.SendMinIntervalMS) * time.Millisecond,
	}, nil
}

// SerialOptions returns the primary UART settings.
func (c *Config) SerialOptions() serialport.Options {
	return serialport.Options{
		PortName: c.SerialPort,
		BaudRate: c.SerialBaudRate,
		DataBits: c.SerialDataBits,
		StopBits: c.SerialStopBits,
		Parity:   c.SerialParity,
	}
}

// Axis2SerialOptions returns the second UART for the split layout, or false
// when axis 2 shares the primary port.
func (c *Config) Axis2SerialOptions() (serialport.Options, bool) {
	if c.SerialPortAxis2 == "" {
		return serialport.Options{}, false
	}
	o := c.SerialOptions()
	o.PortName = c.SerialPortAxis2
	return o, true
}

// LoopConfig returns the driver settings.
func (c *Config) LoopConfig() loop.Config {
	l := loop.DefaultConfig()
	l.Interval = time.Duration(c.LoopIntervalMS) * time.Millisecond
	l.StaleAfter = c.StaleAfterTicks
	l.StartupCheck = c.StartupCheck
	l.Pinhole = c.PinholeConfig()
	return l
}

// FrameTimeout is how long the loop waits for a frame before skipping a tick.
func (c *Config) FrameTimeout() time.Duration {
	return time.Duration(c.FrameTimeoutMS) * time.Millisecond
}

// InitGlobal initializes the global configuration from file. Only the first
// call loads; later calls return nil.
func InitGlobal(configPath string) error {
	var err error
	configOnce.Do(func() {
		configMu.Lock()
		defer configMu.Unlock()
		globalConfig, err = Load(configPath)
	})
	return err
}

// Get returns the global configuration instance, or nil before InitGlobal.
func Get() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}
