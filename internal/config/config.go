package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	ListenAddr        string
	AcceptTimeout     time.Duration
	ReadTimeout       time.Duration
	MaxFrameBytes     uint32
	ECGDeviceIDs      []uint32
	SamplingRate      int
	DisplaySeconds    int
	WindowSeconds     int
	AutoRangeInterval time.Duration
	HousekeepingEvery time.Duration

	NotchFilter    bool
	NotchHz        float64
	NotchQ         float64
	HighPassFilter bool
	HighPassHz     float64
	LowPassFilter  bool
	LowPassHz      float64
	FilterOrder    int
	FilterWarmup   int

	AutoStartStreaming  bool
	RecordingDeviceID   uint32
	MaxRecordingSamples int
	ExportDir           string
	DBPath              string

	HTTPAddr     string
	LogFile      string
	LogToConsole bool

	MQTTEnabled     bool
	MQTTBroker      string
	MQTTClientID    string
	MQTTUsername    string
	MQTTPassword    string
	MQTTTopicPrefix string

	KafkaEnabled bool
	KafkaBrokers string
	EventsTopic  string
}

func LoadConfig() *Config {
	err := godotenv.Load() // Looks for ".env" in the current directory
	if err != nil {
		log.Println("No .env file found, using environment variables or default values")
	}

	return &Config{
		ListenAddr:        getEnv("LISTEN_ADDR", ":5000"),
		AcceptTimeout:     getDuration("ACCEPT_TIMEOUT", time.Second),
		ReadTimeout:       getDuration("READ_TIMEOUT", 0),
		MaxFrameBytes:     uint32(getInt("MAX_FRAME_BYTES", 32<<20)),
		ECGDeviceIDs:      getIDs("ECG_DEVICE_IDS", []uint32{1, 2}),
		SamplingRate:      getInt("SAMPLING_RATE", 250),
		DisplaySeconds:    getInt("DISPLAY_SECONDS", 10),
		WindowSeconds:     getInt("WINDOW_SECONDS", 3),
		AutoRangeInterval: getDuration("AUTO_RANGE_INTERVAL", 2*time.Second),
		HousekeepingEvery: getDuration("HOUSEKEEPING_INTERVAL", time.Minute),

		NotchFilter:    getBool("NOTCH_FILTER", true),
		NotchHz:        getFloat("NOTCH_HZ", 60),
		NotchQ:         getFloat("NOTCH_Q", 60),
		HighPassFilter: getBool("HIGH_PASS_FILTER", true),
		HighPassHz:     getFloat("HIGH_PASS_HZ", 0.5),
		LowPassFilter:  getBool("LOW_PASS_FILTER", true),
		LowPassHz:      getFloat("LOW_PASS_HZ", 20),
		FilterOrder:    getInt("FILTER_ORDER", 4),
		FilterWarmup:   getInt("FILTER_WARMUP", 30),

		AutoStartStreaming:  getBool("AUTO_START_STREAMING", true),
		RecordingDeviceID:   uint32(getInt("RECORDING_DEVICE_ID", 1)),
		MaxRecordingSamples: getInt("MAX_RECORDING_SAMPLES", 250*60*60),
		ExportDir:           getEnv("EXPORT_DIR", "./recordings"),
		DBPath:              getEnv("DB_PATH", "telemetry.db"),

		HTTPAddr:     getEnv("HTTP_ADDR", ":8090"),
		LogFile:      getEnv("LOG_FILE", "./logs/telemetry.log"),
		LogToConsole: getBool("LOG_TO_CONSOLE", false),

		MQTTEnabled:     getBool("MQTT_ENABLED", false),
		MQTTBroker:      getEnv("MQTT_BROKER_URL", "tcp://localhost:1883"),
		MQTTClientID:    getEnv("MQTT_CLIENT_ID", "telemetry_hub"),
		MQTTUsername:    getEnv("MQTT_USERNAME", ""),
		MQTTPassword:    getEnv("MQTT_PASSWORD", ""),
		MQTTTopicPrefix: getEnv("MQTT_TOPIC_PREFIX", "telemetry"),

		KafkaEnabled: getBool("KAFKA_ENABLED", false),
		KafkaBrokers: getEnv("KAFKA_BROKERS", "localhost:9092"),
		EventsTopic:  getEnv("EVENTS_TOPIC", "telemetry-events"),
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	return strings.EqualFold(strings.TrimSpace(value), "true")
}

func getInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		log.Printf("Invalid %s=%q, using default %d: %v", key, value, fallback, err)
		return fallback
	}
	return n
}

func getFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		log.Printf("Invalid %s=%q, using default %v: %v", key, value, fallback, err)
		return fallback
	}
	return f
}

func getDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		log.Printf("Invalid %s=%q, using default %v: %v", key, value, fallback, err)
		return fallback
	}
	return d
}

// getIDs parses a comma separated list of device ids.
func getIDs(key string, fallback []uint32) []uint32 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var ids []uint32
	for _, field := range strings.Split(value, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		id, err := strconv.ParseUint(field, 10, 32)
		if err != nil || id == 0 {
			log.Printf("Ignoring invalid device id %q in %s", field, key)
			continue
		}
		ids = append(ids, uint32(id))
	}
	if len(ids) == 0 {
		return fallback
	}
	return ids
}

// SimConfig configures the device simulator.
type SimConfig struct {
	Target       string
	DeviceIDs    []uint32
	SamplingRate int
	Batch        int
	HeartRate    float64
	Noise        float64
	Gain         float64
	SpO2         bool
	SpO2Base     float64
	Patients     bool
	Seed         int64
}

func LoadSimConfig() *SimConfig {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or default values")
	}

	return &SimConfig{
		Target:       getEnv("SIM_TARGET", "localhost:5000"),
		DeviceIDs:    getIDs("ECG_DEVICE_IDS", []uint32{1, 2}),
		SamplingRate: getInt("SAMPLING_RATE", 250),
		Batch:        getInt("SIM_BATCH", 25),
		HeartRate:    getFloat("SIM_HEART_RATE", 72),
		Noise:        getFloat("SIM_NOISE", 0.02),
		Gain:         getFloat("SIM_GAIN", 1000),
		SpO2:         getBool("SIM_SPO2", true),
		SpO2Base:     getFloat("SIM_SPO2_BASE", 97),
		Patients:     getBool("SIM_PATIENTS", true),
		Seed:         int64(getInt("SIM_SEED", 0)),
	}
}
