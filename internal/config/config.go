// Package config provides layered configuration loading for ElfRadio.
package config

import (
	"fmt"
	"time"
)

// Config is one immutable snapshot of every configuration section.
type Config struct {
	General            GeneralConfig      `yaml:"general" json:"general"`
	Network            NetworkConfig      `yaml:"network" json:"network"`
	Logging            LoggingConfig      `yaml:"logging" json:"logging"`
	Scheduler          SchedulerConfig    `yaml:"scheduler" json:"scheduler"`
	Hardware           HardwareConfig     `yaml:"hardware" json:"hardware"`
	AISettings         AISettings         `yaml:"ai_settings" json:"ai_settings"`
	AuxServiceSettings AuxServiceSettings `yaml:"aux_service_settings" json:"aux_service_settings"`
	Timing             TimingConfig       `yaml:"timing" json:"timing"`
	RadioEtiquette     RadioEtiquette     `yaml:"radio_etiquette" json:"radio_etiquette"`
	Security           SecurityConfig     `yaml:"security" json:"security"`
	SignalTone         SignalToneConfig   `yaml:"signal_tone" json:"signal_tone"`
	SSTV               SSTVSettings       `yaml:"sstv_settings" json:"sstv_settings"`
}

type GeneralConfig struct {
	AppName            string `yaml:"app_name" json:"app_name"`
	TasksBaseDirectory string `yaml:"tasks_base_directory" json:"tasks_base_directory"`
	DatabasePath       string `yaml:"database_path" json:"database_path"`
}

type NetworkConfig struct {
	ListenAddress         string   `yaml:"listen_address" json:"listen_address"`
	ConnectivityCheckURLs []string `yaml:"connectivity_check_urls" json:"connectivity_check_urls"`
	CheckIntervalS        int      `yaml:"check_interval_s" json:"check_interval_s"`
	CheckTimeoutS         int      `yaml:"check_timeout_s" json:"check_timeout_s"`
}

type LoggingConfig struct {
	Level string `yaml:"log_level" json:"log_level"`
}

type SchedulerConfig struct {
	DevicePollIntervalS int `yaml:"device_poll_interval_s" json:"device_poll_interval_s"`
}

// HardwareConfig describes the attached radio hardware.
type HardwareConfig struct {
	SerialPort           string `yaml:"serial_port" json:"serial_port"`
	PTTSignal            string `yaml:"ptt_signal" json:"ptt_signal"`
	AudioBackend         string `yaml:"audio_backend" json:"audio_backend"` // portaudio, file
	InputDevice          string `yaml:"input_device" json:"input_device"`
	OutputDevice         string `yaml:"output_device" json:"output_device"`
	InputSampleRate      int    `yaml:"input_sample_rate" json:"input_sample_rate"`
	OutputSampleRate     int    `yaml:"output_sample_rate" json:"output_sample_rate"`
	SDRDevice            string `yaml:"sdr_device" json:"sdr_device"`
	EnableRxTxSeparation bool   `yaml:"enable_rx_tx_separation" json:"enable_rx_tx_separation"`
	AcquireTimeoutMs     int    `yaml:"acquire_timeout_ms" json:"acquire_timeout_ms"`
	VADFrameMs           int    `yaml:"vad_frame_ms" json:"vad_frame_ms"`
	VADThreshold         int    `yaml:"vad_threshold" json:"vad_threshold"`
}

// AISettings configures the chat model.
type AISettings struct {
	Provider        string  `yaml:"provider" json:"provider"`
	APIKey          string  `yaml:"api_key" json:"api_key"`
	BaseURL         string  `yaml:"base_url" json:"base_url"`
	Model           string  `yaml:"model" json:"model"`
	Temperature     float64 `yaml:"temperature" json:"temperature"`
	MaxTokens       int     `yaml:"max_tokens" json:"max_tokens"`
	SystemPrompt    string  `yaml:"system_prompt" json:"system_prompt"`
	RequestTimeoutS int     `yaml:"request_timeout_s" json:"request_timeout_s"`
	RetryBackoffMs  int     `yaml:"retry_backoff_ms" json:"retry_backoff_ms"`
	AutoReply       bool    `yaml:"auto_reply" json:"auto_reply"`
}

// AuxServiceSettings configures speech and translation providers.
type AuxServiceSettings struct {
	STTProvider       string `yaml:"stt_provider" json:"stt_provider"`
	TTSProvider       string `yaml:"tts_provider" json:"tts_provider"`
	TranslateProvider string `yaml:"translate_provider" json:"translate_provider"`
	TargetLanguage    string `yaml:"target_language" json:"target_language"`
	SourceLanguage    string `yaml:"source_language" json:"source_language"`
	TTSVoice          string `yaml:"tts_voice" json:"tts_voice"`

	GoogleAPIKey       string `yaml:"google_api_key" json:"google_api_key"`
	AliyunAccessKeyID  string `yaml:"aliyun_access_key_id" json:"aliyun_access_key_id"`
	AliyunAccessSecret string `yaml:"aliyun_access_key_secret" json:"aliyun_access_key_secret"`
	StepFunAPIKey      string `yaml:"stepfun_api_key" json:"stepfun_api_key"`
	OpenAIAPIKey       string `yaml:"openai_api_key" json:"openai_api_key"`
	OpenAIBaseURL      string `yaml:"openai_base_url" json:"openai_base_url"`
}

// TimingConfig holds radio etiquette timing limits.
type TimingConfig struct {
	PTTPreDelayMs    int `yaml:"ptt_pre_delay_ms" json:"ptt_pre_delay_ms"`
	PTTPostDelayMs   int `yaml:"ptt_post_delay_ms" json:"ptt_post_delay_ms"`
	TxHoldTimerS     int `yaml:"tx_hold_timer_s" json:"tx_hold_timer_s"`
	TxIntervalS      int `yaml:"tx_interval_s" json:"tx_interval_s"`
	MaxTxDurationS   int `yaml:"max_tx_duration_s" json:"max_tx_duration_s"`
	MaxSSTVDurationS int `yaml:"max_sstv_duration_s" json:"max_sstv_duration_s"`
}

type RadioEtiquette struct {
	Nickname              string `yaml:"nickname" json:"nickname"`
	Callsign              string `yaml:"callsign" json:"callsign"`
	AddressingIntervalMin int    `yaml:"addressing_interval_min" json:"addressing_interval_min"`
}

type SecurityConfig struct {
	APIToken      string `yaml:"api_token" json:"api_token"`
	EndTaskPhrase string `yaml:"end_task_phrase" json:"end_task_phrase"`
}

type SignalToneConfig struct {
	Enabled    bool  `yaml:"enabled" json:"enabled"`
	StartFreqs []int `yaml:"start_freqs" json:"start_freqs"`
	EndFreqs   []int `yaml:"end_freqs" json:"end_freqs"`
	DurationMs int   `yaml:"duration_ms" json:"duration_ms"`
}

type SSTVSettings struct {
	Mode string `yaml:"mode" json:"mode"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		General: GeneralConfig{
			AppName:            "ElfRadio",
			TasksBaseDirectory: "./elfradio_tasks",
		},
		Network: NetworkConfig{
			ListenAddress: "0.0.0.0:5900",
			ConnectivityCheckURLs: []string{
				"http://detectportal.firefox.com/success.txt",
				"http://captive.apple.com/hotspot-detect.html",
				"http://connectivitycheck.gstatic.com/generate_204",
				"https://www.baidu.com/favicon.ico",
			},
			CheckIntervalS: 60,
			CheckTimeoutS:  5,
		},
		Logging:   LoggingConfig{Level: "info"},
		Scheduler: SchedulerConfig{DevicePollIntervalS: 5},
		Hardware: HardwareConfig{
			PTTSignal:        "rts",
			AudioBackend:     AudioBackendPortAudio,
			InputSampleRate:  16000,
			OutputSampleRate: 16000,
			AcquireTimeoutMs: 2000,
			VADFrameMs:       30,
			VADThreshold:     500,
		},
		AISettings: AISettings{
			Provider:        "openai",
			Model:           "gpt-4o-mini",
			Temperature:     0.7,
			MaxTokens:       1024,
			SystemPrompt:    "You are a courteous amateur radio operator. Reply briefly.",
			RequestTimeoutS: 30,
			RetryBackoffMs:  500,
		},
		AuxServiceSettings: AuxServiceSettings{
			STTProvider:       "openai",
			TTSProvider:       "openai",
			TranslateProvider: "google",
			TargetLanguage:    "en",
		},
		Timing: TimingConfig{
			PTTPreDelayMs:    100,
			PTTPostDelayMs:   100,
			TxHoldTimerS:     5,
			TxIntervalS:      60,
			MaxTxDurationS:   180,
			MaxSSTVDurationS: 180,
		},
		RadioEtiquette: RadioEtiquette{
			Nickname:              "ElfRadio Operator",
			AddressingIntervalMin: 10,
		},
		Security: SecurityConfig{EndTaskPhrase: "STOP TASK NOW"},
		SignalTone: SignalToneConfig{
			StartFreqs: []int{1000, 1500},
			EndFreqs:   []int{1500, 1000},
			DurationMs: 100,
		},
		SSTV: SSTVSettings{Mode: "Martin M1"},
	}
}

// Audio backends. The file backend archives transmit audio to the task
// directory and captures nothing.
const (
	AudioBackendPortAudio = "portaudio"
	AudioBackendFile      = "file"
)

var knownProviders = map[string]bool{"openai": true, "google": true, "aliyun": true, "stepfun": true}

// Validate checks the snapshot for values the engine cannot run with.
func (c *Config) Validate() error {
	t := c.Timing
	if t.PTTPreDelayMs < 0 || t.PTTPostDelayMs < 0 || t.TxHoldTimerS < 0 || t.TxIntervalS < 0 {
		return fmt.Errorf("timing values must not be negative")
	}
	if t.MaxTxDurationS <= 0 {
		return fmt.Errorf("timing.max_tx_duration_s must be positive")
	}
	switch c.Hardware.AudioBackend {
	case AudioBackendPortAudio, AudioBackendFile:
	default:
		return fmt.Errorf("hardware.audio_backend must be portaudio or file, got %q", c.Hardware.AudioBackend)
	}
	if c.Hardware.AcquireTimeoutMs <= 0 {
		return fmt.Errorf("hardware.acquire_timeout_ms must be positive")
	}
	if c.Hardware.PTTSignal != "rts" && c.Hardware.PTTSignal != "dtr" {
		return fmt.Errorf("hardware.ptt_signal must be rts or dtr, got %q", c.Hardware.PTTSignal)
	}
	for name, p := range map[string]string{
		"ai_settings.provider":                    c.AISettings.Provider,
		"aux_service_settings.stt_provider":       c.AuxServiceSettings.STTProvider,
		"aux_service_settings.tts_provider":       c.AuxServiceSettings.TTSProvider,
		"aux_service_settings.translate_provider": c.AuxServiceSettings.TranslateProvider,
	} {
		if !knownProviders[p] {
			return fmt.Errorf("%s: unknown provider %q", name, p)
		}
	}
	if c.AuxServiceSettings.STTProvider == "aliyun" || c.AuxServiceSettings.TTSProvider == "aliyun" {
		return fmt.Errorf("aliyun supports translation only")
	}
	if c.AISettings.Provider == "aliyun" {
		return fmt.Errorf("aliyun does not provide chat")
	}
	if c.AuxServiceSettings.STTProvider == "stepfun" {
		return fmt.Errorf("stepfun does not provide speech-to-text")
	}
	if c.AuxServiceSettings.TranslateProvider == "stepfun" {
		return fmt.Errorf("stepfun does not provide translation")
	}
	return nil
}

// RequestTimeout returns the per-call AI timeout.
func (c *Config) RequestTimeout() time.Duration {
	if c.AISettings.RequestTimeoutS <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.AISettings.RequestTimeoutS) * time.Second
}

// maskedValue replaces secrets in Masked output.
const maskedValue = "********"

// Masked returns a copy with secrets replaced for display.
func (c *Config) Masked() *Config {
	cp := *c
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return maskedValue
	}
	cp.AISettings.APIKey = mask(cp.AISettings.APIKey)
	cp.AuxServiceSettings.GoogleAPIKey = mask(cp.AuxServiceSettings.GoogleAPIKey)
	cp.AuxServiceSettings.AliyunAccessKeyID = mask(cp.AuxServiceSettings.AliyunAccessKeyID)
	cp.AuxServiceSettings.AliyunAccessSecret = mask(cp.AuxServiceSettings.AliyunAccessSecret)
	cp.AuxServiceSettings.StepFunAPIKey = mask(cp.AuxServiceSettings.StepFunAPIKey)
	cp.AuxServiceSettings.OpenAIAPIKey = mask(cp.AuxServiceSettings.OpenAIAPIKey)
	cp.Security.APIToken = mask(cp.Security.APIToken)
	return &cp
}
